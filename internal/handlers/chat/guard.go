package handlers

import (
	"context"
	"sync"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/bot"
	moderation "github.com/iamwavecut/ngwarden/internal/handlers/moderation"
)

const maxLastVerdicts = 1000

type (
	chatWatcher interface {
		Watch(ctx context.Context, chatID int64) (bool, error)
	}

	gbanWatcher interface {
		Watch(ctx context.Context, ev moderation.Event) (bool, error)
	}

	enforcer interface {
		Enforce(ctx context.Context, ev moderation.Event) (*moderation.Verdict, error)
	}

	cacheInvalidator interface {
		Invalidate(chatID int64)
	}
)

// Guard leaves blacklisted chats, runs the global ban watcher and the
// blacklist pipeline over group messages and keeps the admin cache honest on
// membership changes.
type Guard struct {
	chats    chatWatcher
	watcher  gbanWatcher
	enforcer enforcer
	admins   cacheInvalidator

	resultsMu    sync.Mutex
	lastVerdicts map[verdictKey]*moderation.Verdict
	verdictOrder []verdictKey
}

type verdictKey struct {
	chatID    int64
	messageID int
}

func NewGuard(chats chatWatcher, watcher gbanWatcher, enforcer enforcer, admins cacheInvalidator) *Guard {
	return &Guard{
		chats:        chats,
		watcher:      watcher,
		enforcer:     enforcer,
		admins:       admins,
		lastVerdicts: make(map[verdictKey]*moderation.Verdict),
		verdictOrder: make([]verdictKey, 0, maxLastVerdicts),
	}
}

func (g *Guard) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	switch {
	case u.ChatMember != nil:
		if adminStatusChanged(u.ChatMember) {
			g.admins.Invalidate(u.ChatMember.Chat.ID)
		}
		return true, nil
	case u.MyChatMember != nil:
		g.admins.Invalidate(u.MyChatMember.Chat.ID)
		if joined(u.MyChatMember) {
			if left, err := g.leaveBlacklisted(ctx, u.MyChatMember.Chat.ID); left {
				return false, err
			}
		}
		return true, nil
	}

	msg := u.Message
	if msg == nil {
		msg = u.EditedMessage
	}
	if msg == nil || chat == nil || !(chat.IsGroup() || chat.IsSuperGroup()) {
		return true, nil
	}

	if left, err := g.leaveBlacklisted(ctx, chat.ID); left {
		return false, err
	}

	ev := EventFromMessage(msg)
	entry := g.getLogEntry().WithFields(log.Fields{
		"chat_id": ev.ChatID,
		"user_id": ev.Sender.ID,
	})

	removed, err := g.watcher.Watch(ctx, ev)
	if err != nil {
		entry.WithError(err).Warn("global ban check failed")
	}
	if removed {
		return false, nil
	}

	verdict, err := g.enforcer.Enforce(ctx, ev)
	if verdict != nil {
		g.storeLastVerdict(verdictKey{chatID: ev.ChatID, messageID: ev.MessageID}, verdict)
	}
	if err != nil {
		return true, errors.WithMessage(err, "enforce blacklist")
	}
	if verdict != nil && verdict.Sanctioned() {
		return false, nil
	}
	return true, nil
}

func (g *Guard) leaveBlacklisted(ctx context.Context, chatID int64) (bool, error) {
	if g.chats == nil {
		return false, nil
	}
	left, err := g.chats.Watch(ctx, chatID)
	if err != nil {
		return left, errors.WithMessage(err, "chat blacklist")
	}
	return left, nil
}

// LastVerdict returns what the pipeline decided for a recent message.
func (g *Guard) LastVerdict(chatID int64, messageID int) *moderation.Verdict {
	g.resultsMu.Lock()
	defer g.resultsMu.Unlock()
	return g.lastVerdicts[verdictKey{chatID: chatID, messageID: messageID}]
}

func (g *Guard) storeLastVerdict(key verdictKey, verdict *moderation.Verdict) {
	g.resultsMu.Lock()
	defer g.resultsMu.Unlock()
	if _, ok := g.lastVerdicts[key]; !ok {
		if len(g.verdictOrder) >= maxLastVerdicts {
			oldest := g.verdictOrder[0]
			g.verdictOrder = g.verdictOrder[1:]
			delete(g.lastVerdicts, oldest)
		}
		g.verdictOrder = append(g.verdictOrder, key)
	}
	g.lastVerdicts[key] = verdict
}

func (g *Guard) getLogEntry() *log.Entry {
	return log.WithField("object", "Guard")
}

// EventFromMessage maps a message to the pipeline's event. Messages sent on
// behalf of a chat carry no member identity.
func EventFromMessage(msg *api.Message) moderation.Event {
	ev := moderation.Event{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
		Caption:   msg.Caption,
	}
	if msg.From != nil && msg.SenderChat == nil {
		ev.Sender = moderation.Sender{
			ID:    msg.From.ID,
			Name:  bot.GetFullName(msg.From),
			IsBot: msg.From.IsBot,
		}
	}
	return ev
}

// joined reports the bot being added to a chat.
func joined(update *api.ChatMemberUpdated) bool {
	out := func(m api.ChatMember) bool { return m.HasLeft() || m.WasKicked() }
	return out(update.OldChatMember) && !out(update.NewChatMember)
}

// adminStatusChanged reports updates that touch an administrator, rights
// edits included.
func adminStatusChanged(update *api.ChatMemberUpdated) bool {
	wasAdmin := update.OldChatMember.IsAdministrator() || update.OldChatMember.IsCreator()
	isAdmin := update.NewChatMember.IsAdministrator() || update.NewChatMember.IsCreator()
	return wasAdmin || isAdmin
}
