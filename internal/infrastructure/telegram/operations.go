package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"

	"github.com/iamwavecut/ngwarden/internal/admincache"
	errs "github.com/iamwavecut/ngwarden/internal/errors"
	moderation "github.com/iamwavecut/ngwarden/internal/handlers/moderation"
)

// Operations implements the moderation platform verbs and the admin fetch on
// top of the Bot API.
type Operations struct {
	bot *api.BotAPI
}

func NewOperations(bot *api.BotAPI) *Operations {
	return &Operations{bot: bot}
}

var (
	_ moderation.Platform     = (*Operations)(nil)
	_ moderation.ChatPlatform = (*Operations)(nil)
	_ admincache.Fetcher      = (*Operations)(nil)
)

var permissionDeniedMessages = []string{
	"not enough rights",
	"chat_admin_required",
	"user_admin_invalid",
	"can't remove chat owner",
	"user is an administrator",
	"have no rights",
	"bot is not a member",
	"bot was kicked",
	"message can't be deleted",
}

var notFoundMessages = []string{
	"message to delete not found",
	"user not found",
	"participant_id_invalid",
}

// RemoveMember bans the user; a positive rejoinAfter lifts the ban after that
// long, which the platform treats as a kick.
func (o *Operations) RemoveMember(ctx context.Context, chatID, userID int64, rejoinAfter time.Duration) error {
	config := api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
	}
	if rejoinAfter > 0 {
		config.UntilDate = time.Now().Add(rejoinAfter).Unix()
	}
	return o.request(ctx, "remove member", config)
}

func (o *Operations) RestrictMember(ctx context.Context, chatID, userID int64, perms moderation.Permissions) error {
	config := api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		Permissions: chatPermissions(perms),

		UseIndependentChatPermissions: true,
	}
	return o.request(ctx, "restrict member", config)
}

func (o *Operations) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return o.request(ctx, "delete message", api.NewDeleteMessage(chatID, messageID))
}

func (o *Operations) SendReply(ctx context.Context, chatID int64, text string) error {
	msg := api.NewMessage(chatID, text)
	msg.LinkPreviewOptions.IsDisabled = true
	return o.send(ctx, "send reply", msg)
}

func (o *Operations) SendMessage(ctx context.Context, chatID int64, text string) error {
	msg := api.NewMessage(chatID, text)
	msg.LinkPreviewOptions.IsDisabled = true
	return o.send(ctx, "send message", msg)
}

func (o *Operations) LeaveChat(ctx context.Context, chatID int64) error {
	return o.request(ctx, "leave chat", api.LeaveChatConfig{ChatConfig: api.ChatConfig{ChatID: chatID}})
}

func (o *Operations) FetchAdmins(ctx context.Context, chatID int64) ([]admincache.Admin, error) {
	type result struct {
		members []api.ChatMember
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		members, err := o.bot.GetChatAdministrators(api.ChatAdministratorsConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
		})
		ch <- result{members: members, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, classify("fetch admins", ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, classify("fetch admins", res.err)
		}
		return adminsFromMembers(res.members), nil
	}
}

func (o *Operations) request(ctx context.Context, op string, c api.Chattable) error {
	ch := make(chan error, 1)
	go func() {
		ch <- tool.Err(o.bot.Request(c))
	}()
	select {
	case <-ctx.Done():
		return classify(op, ctx.Err())
	case err := <-ch:
		return classify(op, err)
	}
}

func (o *Operations) send(ctx context.Context, op string, c api.Chattable) error {
	ch := make(chan error, 1)
	go func() {
		ch <- tool.Err(o.bot.Send(c))
	}()
	select {
	case <-ctx.Done():
		return classify(op, ctx.Err())
	case err := <-ch:
		return classify(op, err)
	}
}

// classify maps a Bot API failure onto the moderation error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %w", errs.ErrUpstreamUnavailable, op, err)
	}
	msg := strings.ToLower(err.Error())
	for _, m := range permissionDeniedMessages {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %s: %v", errs.ErrPermissionDenied, op, err)
		}
	}
	for _, m := range notFoundMessages {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %s: %v", errs.ErrNotFound, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", errs.ErrUpstreamUnavailable, op, err)
}

func chatPermissions(p moderation.Permissions) *api.ChatPermissions {
	return &api.ChatPermissions{
		CanSendMessages:       p.CanSendMessages,
		CanSendAudios:         p.CanSendMedia,
		CanSendDocuments:      p.CanSendMedia,
		CanSendPhotos:         p.CanSendMedia,
		CanSendVideos:         p.CanSendMedia,
		CanSendVideoNotes:     p.CanSendMedia,
		CanSendVoiceNotes:     p.CanSendMedia,
		CanSendPolls:          p.CanSendPolls,
		CanSendOtherMessages:  p.CanSendOther,
		CanAddWebPagePreviews: p.CanAddWebPagePreviews,
		CanChangeInfo:         p.CanChangeInfo,
		CanInviteUsers:        p.CanInviteUsers,
		CanPinMessages:        p.CanPinMessages,
		CanManageTopics:       false,
	}
}

func adminsFromMembers(members []api.ChatMember) []admincache.Admin {
	admins := make([]admincache.Admin, 0, len(members))
	for _, m := range members {
		if m.User == nil {
			continue
		}
		admins = append(admins, admincache.Admin{
			UserID:      m.User.ID,
			Name:        DisplayName(m.User),
			IsAnonymous: m.IsAnonymous,
		})
	}
	return admins
}

// DisplayName renders "First Last" falling back to the username.
func DisplayName(u *api.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName + " " + u.LastName))
	if name == "" && u.UserName != "" {
		name = "@" + u.UserName
	}
	return name
}
