package bot

import (
	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngwarden/internal/db"
)

type service struct {
	bot   *api.BotAPI
	store db.Store
}

func NewService(bot *api.BotAPI, store db.Store) Service {
	return &service{
		bot:   bot,
		store: store,
	}
}

func (s *service) GetBot() *api.BotAPI {
	return s.bot
}

func (s *service) Self() api.User {
	if s.bot == nil {
		return api.User{}
	}
	return s.bot.Self
}

func (s *service) GetStore() db.Store {
	return s.store
}
