package db

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type (
	GlobalBan struct {
		UserID   int64     `json:"user_id"`
		Banned   bool      `json:"banned"`
		Reason   string    `json:"reason"`
		AdminID  int64     `json:"admin_id"`
		BannedAt time.Time `json:"banned_at"`
	}

	Blacklist struct {
		ChatID   int64    `json:"chat_id"`
		Triggers []string `json:"triggers"`
		Action   Action   `json:"action"`
		Reason   string   `json:"reason"`
	}

	BlacklistedChat struct {
		ChatID  int64     `json:"chat_id"`
		Reason  string    `json:"reason"`
		AdminID int64     `json:"admin_id"`
		AddedAt time.Time `json:"added_at"`
	}

	Warn struct {
		ChatID  int64    `json:"chat_id"`
		UserID  int64    `json:"user_id"`
		Count   int      `json:"count"`
		Reasons []string `json:"reasons"`
	}

	WarnSettings struct {
		ChatID int64  `json:"chat_id"`
		Limit  int    `json:"limit"`
		Mode   Action `json:"mode"`
	}

	ApprovedUser struct {
		UserID int64  `json:"user_id"`
		Name   string `json:"name"`
	}

	Approval struct {
		ChatID int64          `json:"chat_id"`
		Users  []ApprovedUser `json:"users"`
	}

	AuditRecord struct {
		ID        string    `json:"id"`
		ChatID    int64     `json:"chat_id"`
		UserID    int64     `json:"user_id"`
		Trigger   string    `json:"trigger,omitempty"`
		Action    string    `json:"action"`
		Escalated bool      `json:"escalated,omitempty"`
		WarnCount int       `json:"warn_count,omitempty"`
		At        time.Time `json:"at"`
	}
)

const (
	CollectionGlobalBans   = "gbans"
	CollectionBlacklists   = "blacklists"
	CollectionChatBlocks   = "blchats"
	CollectionWarns        = "warns"
	CollectionWarnSettings = "warn_settings"
	CollectionApprovals    = "approvals"
	CollectionAudit        = "audit"

	DefaultWarnLimit       = 3
	DefaultWarnMode        = ActionMute
	DefaultBlacklistAction = ActionWarn
	DefaultBlacklistReason = "Automated blacklisted word: {trigger}"
)

// Action is the closed set of sanctions the pipeline can apply.
type Action int

const (
	ActionWarn Action = iota + 1
	ActionMute
	ActionKick
	ActionBan
)

func (a Action) String() string {
	switch a {
	case ActionWarn:
		return "warn"
	case ActionMute:
		return "mute"
	case ActionKick:
		return "kick"
	case ActionBan:
		return "ban"
	}
	return "unknown(" + strconv.Itoa(int(a)) + ")"
}

func (a Action) Valid() bool {
	return a >= ActionWarn && a <= ActionBan
}

// ValidWarnMode reports whether a can be used as an escalation target.
func (a Action) ValidWarnMode() bool {
	return a == ActionMute || a == ActionKick || a == ActionBan
}

func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warn":
		return ActionWarn, nil
	case "mute":
		return ActionMute, nil
	case "kick":
		return ActionKick, nil
	case "ban":
		return ActionBan, nil
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("cannot marshal action %d", int(a))
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Key helpers for the record collections.

func UserKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func ChatKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

func ChatUserKey(chatID, userID int64) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)
}

func DefaultBlacklist(chatID int64) *Blacklist {
	return &Blacklist{
		ChatID:   chatID,
		Triggers: []string{},
		Action:   DefaultBlacklistAction,
		Reason:   DefaultBlacklistReason,
	}
}

// ReasonFor renders the blacklist reason template for a matched trigger.
func (b *Blacklist) ReasonFor(trigger string) string {
	reason := b.Reason
	if reason == "" {
		reason = DefaultBlacklistReason
	}
	return strings.ReplaceAll(reason, "{trigger}", trigger)
}

func (a *Approval) Has(userID int64) bool {
	for _, u := range a.Users {
		if u.UserID == userID {
			return true
		}
	}
	return false
}
