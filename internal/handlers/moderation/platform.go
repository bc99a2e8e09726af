package handlers

import (
	"context"
	"time"

	"github.com/iamwavecut/ngwarden/internal/db"
)

// Platform is the set of chat verbs the moderation pipeline needs.
// RemoveMember with a zero rejoinAfter removes the user permanently.
type Platform interface {
	RemoveMember(ctx context.Context, chatID, userID int64, rejoinAfter time.Duration) error
	RestrictMember(ctx context.Context, chatID, userID int64, perms Permissions) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendReply(ctx context.Context, chatID int64, text string) error
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type Permissions struct {
	CanSendMessages       bool
	CanSendMedia          bool
	CanSendPolls          bool
	CanSendOther          bool
	CanAddWebPagePreviews bool
	CanChangeInfo         bool
	CanInviteUsers        bool
	CanPinMessages        bool
}

// MutePermissions keeps only the right to invite users.
func MutePermissions() Permissions {
	return Permissions{CanInviteUsers: true}
}

type (
	Sender struct {
		ID    int64
		Name  string
		IsBot bool
	}

	// Event is an inbound group message as seen by the pipeline.
	Event struct {
		ChatID    int64
		MessageID int
		Sender    Sender
		Text      string
		Caption   string
	}
)

// Content returns the text to inspect, falling back to the caption.
func (e Event) Content() string {
	if e.Text != "" {
		return e.Text
	}
	return e.Caption
}

type (
	AdminChecker interface {
		IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	}

	Auditor interface {
		Record(ctx context.Context, rec db.AuditRecord) error
	}
)
