package handlers

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/db"
	errs "github.com/iamwavecut/ngwarden/internal/errors"
)

// Blacklists holds per-chat trigger lists. Triggers are stored lower-cased,
// unique and in the order they were added.
type Blacklists struct {
	records db.Records[db.Blacklist]
	locks   *keyedMutex
}

func NewBlacklists(store db.Store) *Blacklists {
	return &Blacklists{
		records: db.NewRecords[db.Blacklist](store.Collection(db.CollectionBlacklists)),
		locks:   newKeyedMutex(),
	}
}

// Get returns the chat's blacklist, or the default one when none is stored.
func (b *Blacklists) Get(ctx context.Context, chatID int64) (*db.Blacklist, error) {
	bl, err := b.records.Get(ctx, db.ChatKey(chatID))
	if err != nil {
		return nil, fmt.Errorf("get blacklist %d: %w", chatID, err)
	}
	if bl == nil {
		return db.DefaultBlacklist(chatID), nil
	}
	return bl, nil
}

// AddTriggers appends the triggers not yet present and returns them.
func (b *Blacklists) AddTriggers(ctx context.Context, chatID int64, triggers ...string) ([]string, error) {
	var added []string
	err := b.modify(ctx, chatID, func(bl *db.Blacklist) error {
		present := make(map[string]struct{}, len(bl.Triggers))
		for _, t := range bl.Triggers {
			present[t] = struct{}{}
		}
		for _, t := range triggers {
			t = NormalizeTrigger(t)
			if t == "" {
				continue
			}
			if _, ok := present[t]; ok {
				continue
			}
			present[t] = struct{}{}
			bl.Triggers = append(bl.Triggers, t)
			added = append(added, t)
		}
		return nil
	})
	return added, err
}

// RemoveTriggers drops the given triggers and returns those that were present.
func (b *Blacklists) RemoveTriggers(ctx context.Context, chatID int64, triggers ...string) ([]string, error) {
	var removed []string
	err := b.modify(ctx, chatID, func(bl *db.Blacklist) error {
		drop := make(map[string]struct{}, len(triggers))
		for _, t := range triggers {
			drop[NormalizeTrigger(t)] = struct{}{}
		}
		kept := bl.Triggers[:0]
		for _, t := range bl.Triggers {
			if _, ok := drop[t]; ok {
				removed = append(removed, t)
				continue
			}
			kept = append(kept, t)
		}
		bl.Triggers = kept
		return nil
	})
	return removed, err
}

func (b *Blacklists) SetAction(ctx context.Context, chatID int64, action db.Action) error {
	if !action.Valid() {
		return fmt.Errorf("%w: blacklist action %d", errs.ErrInvalidInput, int(action))
	}
	return b.modify(ctx, chatID, func(bl *db.Blacklist) error {
		bl.Action = action
		return nil
	})
}

// SetReason sets the reason template; an empty reason restores the default.
func (b *Blacklists) SetReason(ctx context.Context, chatID int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = db.DefaultBlacklistReason
	}
	return b.modify(ctx, chatID, func(bl *db.Blacklist) error {
		bl.Reason = reason
		return nil
	})
}

func (b *Blacklists) modify(ctx context.Context, chatID int64, fn func(bl *db.Blacklist) error) error {
	unlock := b.locks.Lock(db.ChatKey(chatID))
	defer unlock()

	bl, err := b.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if err := fn(bl); err != nil {
		return err
	}
	if err := b.records.Put(ctx, db.ChatKey(chatID), bl); err != nil {
		return fmt.Errorf("put blacklist %d: %w", chatID, err)
	}
	log.WithFields(log.Fields{
		"object":   "Blacklists",
		"chat_id":  chatID,
		"triggers": len(bl.Triggers),
		"action":   bl.Action.String(),
	}).Debug("blacklist updated")
	return nil
}

func NormalizeTrigger(trigger string) string {
	return strings.ToLower(strings.TrimSpace(trigger))
}

// MatchTrigger returns the first trigger, in list order, that occurs in text
// as a whole word. Comparison is case-insensitive.
func MatchTrigger(text string, triggers []string) (string, bool) {
	if text == "" {
		return "", false
	}
	lowered := strings.ToLower(text)
	for _, trigger := range triggers {
		if trigger == "" {
			continue
		}
		if containsWord(lowered, strings.ToLower(trigger)) {
			return trigger, true
		}
	}
	return "", false
}

func containsWord(s, word string) bool {
	offset := 0
	for offset <= len(s)-len(word) {
		i := strings.Index(s[offset:], word)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(word)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		offset = start + size
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
