package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/db"
)

const DefaultGbanResync = time.Hour

// GlobalBans is the cross-chat ban registry. Every mutation holds one
// registry-wide lock and keeps the materialized banned set in step with the
// store.
type GlobalBans struct {
	records db.Records[db.GlobalBan]
	resync  time.Duration
	now     func() time.Time

	mu sync.Mutex

	knownBanned map[int64]struct{}
	mapMutex    sync.RWMutex

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
}

func NewGlobalBans(store db.Store, resync time.Duration) *GlobalBans {
	if resync <= 0 {
		resync = DefaultGbanResync
	}
	return &GlobalBans{
		records:     db.NewRecords[db.GlobalBan](store.Collection(db.CollectionGlobalBans)),
		resync:      resync,
		now:         time.Now,
		knownBanned: map[int64]struct{}{},
	}
}

// Start loads the banned set and keeps resyncing it in the background.
func (s *GlobalBans) Start(ctx context.Context) error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.started {
		return nil
	}

	if err := s.Reload(ctx); err != nil {
		return fmt.Errorf("load global bans: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runCancel = cancel

	s.workersWg.Add(1)
	go func() {
		defer s.workersWg.Done()
		ticker := time.NewTicker(s.resync)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := s.Reload(runCtx); err != nil && !errorsIsCanceled(err) {
					s.getLogEntry().WithError(err).Error("failed to resync global bans")
				}
			}
		}
	}()

	s.started = true
	return nil
}

func (s *GlobalBans) Stop(ctx context.Context) error {
	s.runMutex.Lock()
	if !s.started {
		s.runMutex.Unlock()
		return nil
	}
	s.started = false
	cancel := s.runCancel
	s.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Reload replaces the materialized set with the store's contents.
func (s *GlobalBans) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.records.All(ctx)
	if err != nil {
		return err
	}
	snapshot := make(map[int64]struct{}, len(all))
	for _, ban := range all {
		if ban.Banned {
			snapshot[ban.UserID] = struct{}{}
		}
	}
	s.mapMutex.Lock()
	s.knownBanned = snapshot
	s.mapMutex.Unlock()
	s.getLogEntry().WithField("count", len(snapshot)).Debug("global bans loaded")
	return nil
}

func (s *GlobalBans) IsKnownBanned(userID int64) bool {
	s.mapMutex.RLock()
	defer s.mapMutex.RUnlock()
	_, banned := s.knownBanned[userID]
	return banned
}

// IsBanned consults the store, correcting the materialized set if it drifted.
func (s *GlobalBans) IsBanned(ctx context.Context, userID int64) (bool, error) {
	ban, err := s.records.Get(ctx, db.UserKey(userID))
	if err != nil {
		return false, fmt.Errorf("get global ban %d: %w", userID, err)
	}
	banned := ban != nil && ban.Banned
	if banned != s.IsKnownBanned(userID) {
		s.resyncOne(ctx, userID)
	}
	return banned, nil
}

func (s *GlobalBans) resyncOne(ctx context.Context, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ban, err := s.records.Get(ctx, db.UserKey(userID))
	if err != nil {
		return
	}
	s.setKnown(userID, ban != nil && ban.Banned)
}

func (s *GlobalBans) Get(ctx context.Context, userID int64) (*db.GlobalBan, error) {
	ban, err := s.records.Get(ctx, db.UserKey(userID))
	if err != nil {
		return nil, fmt.Errorf("get global ban %d: %w", userID, err)
	}
	return ban, nil
}

// Ban records or replaces the ban for userID. updated is true when a ban
// already existed and only its reason and author were rewritten.
func (s *GlobalBans) Ban(ctx context.Context, userID int64, reason string, adminID int64) (updated bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := db.UserKey(userID)
	existing, err := s.records.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get global ban %d: %w", userID, err)
	}
	ban := &db.GlobalBan{
		UserID:   userID,
		Banned:   true,
		Reason:   reason,
		AdminID:  adminID,
		BannedAt: s.now().UTC(),
	}
	if existing != nil && existing.Banned {
		ban.BannedAt = existing.BannedAt
		updated = true
	}
	if err := s.records.Put(ctx, key, ban); err != nil {
		return false, fmt.Errorf("put global ban %d: %w", userID, err)
	}
	s.setKnown(userID, true)

	s.getLogEntry().WithFields(log.Fields{
		"user_id":  userID,
		"admin_id": adminID,
		"updated":  updated,
	}).Info("global ban recorded")
	return updated, nil
}

// Unban removes the ban; an absent ban is a successful no-op.
func (s *GlobalBans) Unban(ctx context.Context, userID int64) (removed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err = s.records.Delete(ctx, db.UserKey(userID))
	if err != nil {
		return false, fmt.Errorf("delete global ban %d: %w", userID, err)
	}
	s.setKnown(userID, false)
	if removed {
		s.getLogEntry().WithField("user_id", userID).Info("global ban lifted")
	}
	return removed, nil
}

func (s *GlobalBans) Count(ctx context.Context) (int, error) {
	all, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// List returns active bans ordered by user id.
func (s *GlobalBans) List(ctx context.Context) ([]*db.GlobalBan, error) {
	all, err := s.records.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list global bans: %w", err)
	}
	res := make([]*db.GlobalBan, 0, len(all))
	for _, ban := range all {
		if ban.Banned {
			res = append(res, ban)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UserID < res[j].UserID })
	return res, nil
}

// setKnown must be called with s.mu held.
func (s *GlobalBans) setKnown(userID int64, banned bool) {
	s.mapMutex.Lock()
	defer s.mapMutex.Unlock()
	if banned {
		s.knownBanned[userID] = struct{}{}
		return
	}
	delete(s.knownBanned, userID)
}

func (s *GlobalBans) getLogEntry() *log.Entry {
	return log.WithField("object", "GlobalBans")
}

func errorsIsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
