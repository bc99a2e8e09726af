package handlers

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/db"
	errs "github.com/iamwavecut/ngwarden/internal/errors"
)

// WarnLedger counts warnings per chat member. Every read-modify-write of a
// (chat, user) entry runs under that key's lock.
type WarnLedger struct {
	warns    db.Records[db.Warn]
	settings db.Records[db.WarnSettings]
	locks    *keyedMutex

	defaultLimit int
	defaultMode  db.Action
}

func NewWarnLedger(store db.Store, defaultLimit int, defaultMode db.Action) *WarnLedger {
	if defaultLimit < 1 {
		defaultLimit = db.DefaultWarnLimit
	}
	if !defaultMode.ValidWarnMode() {
		defaultMode = db.DefaultWarnMode
	}
	return &WarnLedger{
		warns:        db.NewRecords[db.Warn](store.Collection(db.CollectionWarns)),
		settings:     db.NewRecords[db.WarnSettings](store.Collection(db.CollectionWarnSettings)),
		locks:        newKeyedMutex(),
		defaultLimit: defaultLimit,
		defaultMode:  defaultMode,
	}
}

// WarnOutcome is the ledger state right after one warning.
type WarnOutcome struct {
	Reason string
	Count  int
	Limit  int
	Mode   db.Action
	// Crossed is set for the one warning that reached the limit; the entry
	// is already cleared when it is returned.
	Crossed bool
}

// WarnUser adds one warning and returns the reason with the new count.
func (l *WarnLedger) WarnUser(ctx context.Context, chatID, userID int64, reason string) (string, int, error) {
	key := db.ChatUserKey(chatID, userID)
	unlock := l.locks.Lock(key)
	defer unlock()

	warn, err := l.increment(ctx, key, chatID, userID, reason)
	if err != nil {
		return "", 0, err
	}
	if err := l.warns.Put(ctx, key, warn); err != nil {
		return "", 0, fmt.Errorf("put warns %s: %w", key, err)
	}
	return reason, warn.Count, nil
}

// Warn adds one warning and decides escalation in the same critical section:
// when the count reaches the chat's limit the entry is cleared, so concurrent
// violations observe exactly one crossing.
func (l *WarnLedger) Warn(ctx context.Context, chatID, userID int64, reason string) (*WarnOutcome, error) {
	settings, err := l.Settings(ctx, chatID)
	if err != nil {
		return nil, err
	}

	key := db.ChatUserKey(chatID, userID)
	unlock := l.locks.Lock(key)
	defer unlock()

	warn, err := l.increment(ctx, key, chatID, userID, reason)
	if err != nil {
		return nil, err
	}
	outcome := &WarnOutcome{
		Reason: reason,
		Count:  warn.Count,
		Limit:  settings.Limit,
		Mode:   settings.Mode,
	}
	if warn.Count < settings.Limit {
		if err := l.warns.Put(ctx, key, warn); err != nil {
			return nil, fmt.Errorf("put warns %s: %w", key, err)
		}
		return outcome, nil
	}
	if _, err := l.warns.Delete(ctx, key); err != nil {
		return nil, fmt.Errorf("clear warns %s: %w", key, err)
	}
	outcome.Crossed = true
	log.WithFields(log.Fields{
		"object":  "WarnLedger",
		"chat_id": chatID,
		"user_id": userID,
		"count":   warn.Count,
	}).Info("warn limit reached")
	return outcome, nil
}

// increment must be called with the key's lock held.
func (l *WarnLedger) increment(ctx context.Context, key string, chatID, userID int64, reason string) (*db.Warn, error) {
	warn, err := l.warns.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get warns %s: %w", key, err)
	}
	if warn == nil {
		warn = &db.Warn{ChatID: chatID, UserID: userID}
	}
	warn.Count++
	warn.Reasons = append(warn.Reasons, reason)

	log.WithFields(log.Fields{
		"object":  "WarnLedger",
		"chat_id": chatID,
		"user_id": userID,
		"count":   warn.Count,
	}).Debug("user warned")
	return warn, nil
}

// Get returns nil when the user has no warnings.
func (l *WarnLedger) Get(ctx context.Context, chatID, userID int64) (*db.Warn, error) {
	key := db.ChatUserKey(chatID, userID)
	warn, err := l.warns.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get warns %s: %w", key, err)
	}
	return warn, nil
}

func (l *WarnLedger) Reset(ctx context.Context, chatID, userID int64) (bool, error) {
	key := db.ChatUserKey(chatID, userID)
	unlock := l.locks.Lock(key)
	defer unlock()

	removed, err := l.warns.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("reset warns %s: %w", key, err)
	}
	return removed, nil
}

func (l *WarnLedger) Settings(ctx context.Context, chatID int64) (*db.WarnSettings, error) {
	settings, err := l.settings.Get(ctx, db.ChatKey(chatID))
	if err != nil {
		return nil, fmt.Errorf("get warn settings %d: %w", chatID, err)
	}
	if settings == nil {
		return &db.WarnSettings{ChatID: chatID, Limit: l.defaultLimit, Mode: l.defaultMode}, nil
	}
	return settings, nil
}

func (l *WarnLedger) SetLimit(ctx context.Context, chatID int64, limit int) error {
	if limit < 1 {
		return fmt.Errorf("%w: warn limit must be positive, got %d", errs.ErrInvalidInput, limit)
	}
	return l.modifySettings(ctx, chatID, func(s *db.WarnSettings) {
		s.Limit = limit
	})
}

func (l *WarnLedger) SetMode(ctx context.Context, chatID int64, mode db.Action) error {
	if !mode.ValidWarnMode() {
		return fmt.Errorf("%w: warn mode must be mute, kick or ban, got %s", errs.ErrInvalidInput, mode)
	}
	return l.modifySettings(ctx, chatID, func(s *db.WarnSettings) {
		s.Mode = mode
	})
}

func (l *WarnLedger) modifySettings(ctx context.Context, chatID int64, fn func(s *db.WarnSettings)) error {
	unlock := l.locks.Lock("settings:" + db.ChatKey(chatID))
	defer unlock()

	settings, err := l.Settings(ctx, chatID)
	if err != nil {
		return err
	}
	fn(settings)
	if err := l.settings.Put(ctx, db.ChatKey(chatID), settings); err != nil {
		return fmt.Errorf("put warn settings %d: %w", chatID, err)
	}
	return nil
}
