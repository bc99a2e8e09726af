package bot

import (
	"context"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	UpdateTimeout = 5 * time.Minute
)

type UpdateProcessor struct {
	enabled            []string
	registeredHandlers map[string]Handler
	updateHandlers     []Handler
	now                func() time.Time
}

// NewUpdateProcessor runs the enabled handlers, in the given order, once they
// are registered.
func NewUpdateProcessor(enabled []string) *UpdateProcessor {
	return &UpdateProcessor{
		enabled:            enabled,
		registeredHandlers: map[string]Handler{},
		now:                time.Now,
	}
}

func (up *UpdateProcessor) RegisterUpdateHandler(title string, handler Handler) {
	up.registeredHandlers[title] = handler
	up.updateHandlers = up.updateHandlers[:0]
	for _, handlerName := range up.enabled {
		h, ok := up.registeredHandlers[handlerName]
		if !ok || h == nil {
			continue
		}
		up.updateHandlers = append(up.updateHandlers, h)
	}
}

// WarnMissing logs enabled handler names nothing was registered for.
func (up *UpdateProcessor) WarnMissing() {
	for _, handlerName := range up.enabled {
		if _, ok := up.registeredHandlers[handlerName]; !ok {
			log.Warnf("no registered handler: %s", handlerName)
		}
	}
}

func (up *UpdateProcessor) Process(ctx context.Context, u *api.Update) error {
	if u == nil {
		return errors.New("update is nil")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	updateTime := UpdateTime(u, up.now)
	if age := up.now().Sub(updateTime); age > UpdateTimeout {
		log.WithFields(log.Fields{
			"update_time": updateTime,
			"age":         age,
		}).Debug("Skipping outdated update")
		return nil
	}

	chat := u.FromChat()
	if chat == nil {
		switch {
		case u.MyChatMember != nil:
			chat = &u.MyChatMember.Chat
		case u.ChatMember != nil:
			chat = &u.ChatMember.Chat
		}
	}

	user := u.SentFrom()
	if user == nil {
		switch {
		case u.MyChatMember != nil:
			user = &u.MyChatMember.From
		case u.ChatMember != nil:
			user = &u.ChatMember.From
		}
	}

	for _, handler := range up.updateHandlers {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		proceed, err := handler.Handle(ctx, u, chat, user)
		if err != nil {
			return errors.WithMessage(err, "handling error")
		}
		if !proceed {
			log.Trace("not proceeding")
			return nil
		}
	}
	return nil
}

// UpdateTime is the message date for message-like updates and now otherwise.
func UpdateTime(u *api.Update, now func() time.Time) time.Time {
	switch {
	case u.Message != nil:
		return time.Unix(int64(u.Message.Date), 0)
	case u.EditedMessage != nil:
		return time.Unix(int64(u.EditedMessage.Date), 0)
	case u.ChannelPost != nil:
		return time.Unix(int64(u.ChannelPost.Date), 0)
	case u.EditedChannelPost != nil:
		return time.Unix(int64(u.EditedChannelPost.Date), 0)
	case u.ChatMember != nil:
		return time.Unix(int64(u.ChatMember.Date), 0)
	}
	return now()
}

func GetUpdatesChans(ctx context.Context, bot *api.BotAPI, config api.UpdateConfig) (api.UpdatesChannel, chan error) {
	ch := make(chan api.Update, bot.Buffer)
	chErr := make(chan error, 1)

	go func() {
		defer close(ch)
		defer close(chErr)
		for {
			select {
			case <-ctx.Done():
				chErr <- ctx.Err()
				return
			default:
				updates, err := bot.GetUpdates(config)
				if err != nil {
					chErr <- err
					return
				}

				for _, update := range updates {
					if update.UpdateID >= config.Offset {
						config.Offset = update.UpdateID + 1
						select {
						case ch <- update:
						case <-ctx.Done():
							chErr <- ctx.Err()
							return
						}
					}
				}
			}
		}
	}()

	return ch, chErr
}

func GetUN(user *api.User) string {
	if user == nil {
		return ""
	}
	userName := user.UserName
	if len(userName) == 0 {
		userName = user.FirstName + " " + user.LastName
		userName = strings.TrimSpace(userName)
	}
	return userName
}

func GetFullName(user *api.User) string {
	if user == nil {
		return ""
	}
	fullName := user.FirstName + " " + user.LastName
	fullName = strings.TrimSpace(fullName)
	if len(fullName) == 0 {
		fullName = user.UserName
	}
	return fullName
}
