package admincache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	errs "github.com/iamwavecut/ngwarden/internal/errors"
	"github.com/iamwavecut/ngwarden/internal/observability"
)

const (
	DefaultTTL      = 30 * time.Minute
	DefaultCooldown = 10 * time.Minute
)

type (
	Admin struct {
		UserID      int64
		Name        string
		IsAnonymous bool
	}

	// Entry is an immutable snapshot of a chat's administrators.
	Entry struct {
		ChatID    int64
		Admins    []Admin
		FetchedAt time.Time
		ids       map[int64]struct{}
	}

	Fetcher interface {
		FetchAdmins(ctx context.Context, chatID int64) ([]Admin, error)
	}

	Options struct {
		TTL        time.Duration
		Cooldown   time.Duration
		IsOperator func(userID int64) bool
		Now        func() time.Time
	}

	Cache struct {
		fetcher    Fetcher
		ttl        time.Duration
		cooldown   time.Duration
		isOperator func(userID int64) bool
		now        func() time.Time

		entries *xsync.MapOf[int64, *Entry]
		group   singleflight.Group

		cooldownMu sync.Mutex
		cooldowns  map[int64]time.Time
	}
)

func New(fetcher Fetcher, opts Options) *Cache {
	c := &Cache{
		fetcher:    fetcher,
		ttl:        opts.TTL,
		cooldown:   opts.Cooldown,
		isOperator: opts.IsOperator,
		now:        opts.Now,
		entries:    xsync.NewMapOf[int64, *Entry](),
		cooldowns:  map[int64]time.Time{},
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.cooldown <= 0 {
		c.cooldown = DefaultCooldown
	}
	if c.isOperator == nil {
		c.isOperator = func(int64) bool { return false }
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func newEntry(chatID int64, admins []Admin, fetchedAt time.Time) *Entry {
	e := &Entry{
		ChatID:    chatID,
		Admins:    append([]Admin(nil), admins...),
		FetchedAt: fetchedAt,
		ids:       make(map[int64]struct{}, len(admins)),
	}
	for _, a := range admins {
		e.ids[a.UserID] = struct{}{}
	}
	return e
}

func (e *Entry) Has(userID int64) bool {
	if e == nil {
		return false
	}
	_, ok := e.ids[userID]
	return ok
}

func (c *Cache) fresh(e *Entry) bool {
	return e != nil && c.now().Sub(e.FetchedAt) < c.ttl
}

// Lookup returns the cached admin set while it is fresher than the TTL and
// refreshes it synchronously otherwise. On refresh failure the error wraps
// ErrUpstreamUnavailable and the previous entry, if any, is returned along
// with it; that entry is stale and must not be treated as authoritative.
func (c *Cache) Lookup(ctx context.Context, chatID int64) (*Entry, error) {
	if e, ok := c.entries.Load(chatID); ok && c.fresh(e) {
		observability.RecordAdminCache("hit")
		return e, nil
	}
	observability.RecordAdminCache("miss")
	return c.refresh(ctx, chatID)
}

// IsAdmin answers only from a fresh entry; any error means the admin status
// could not be confirmed either way.
func (c *Cache) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	e, err := c.Lookup(ctx, chatID)
	if err != nil {
		return false, err
	}
	return e.Has(userID), nil
}

func (c *Cache) Invalidate(chatID int64) {
	c.entries.Delete(chatID)
	c.getLogEntry().WithField("chat_id", chatID).Debug("admin cache invalidated")
}

// ManualReload refreshes the chat's admins on request. Non-operators may do
// so once per cooldown window per chat. The window is reserved before the
// refresh and released again if the refresh fails.
func (c *Cache) ManualReload(ctx context.Context, chatID, requesterID int64) (*Entry, error) {
	reserved, release, err := c.reserveReload(chatID, requesterID)
	if err != nil {
		return nil, err
	}

	e, err := c.refresh(ctx, chatID)
	if err != nil {
		release()
		return e, err
	}
	c.getLogEntry().WithFields(log.Fields{
		"chat_id":      chatID,
		"requester_id": requesterID,
		"until":        reserved,
	}).Debug("admin cache reloaded")
	return e, nil
}

func (c *Cache) reserveReload(chatID, requesterID int64) (time.Time, func(), error) {
	c.cooldownMu.Lock()
	defer c.cooldownMu.Unlock()

	now := c.now()
	prev, had := c.cooldowns[chatID]
	if had && now.Before(prev) && !c.isOperator(requesterID) {
		return time.Time{}, nil, fmt.Errorf("%w: admin cache reload for chat %d blocked until %s", errs.ErrRateLimited, chatID, prev.Format(time.RFC3339))
	}
	until := now.Add(c.cooldown)
	c.cooldowns[chatID] = until

	release := func() {
		c.cooldownMu.Lock()
		defer c.cooldownMu.Unlock()
		if current, ok := c.cooldowns[chatID]; !ok || !current.Equal(until) {
			return
		}
		if had {
			c.cooldowns[chatID] = prev
		} else {
			delete(c.cooldowns, chatID)
		}
	}
	return until, release, nil
}

func (c *Cache) refresh(ctx context.Context, chatID int64) (*Entry, error) {
	v, err, _ := c.group.Do(strconv.FormatInt(chatID, 10), func() (interface{}, error) {
		admins, err := c.fetcher.FetchAdmins(ctx, chatID)
		if err != nil {
			return nil, err
		}
		e := newEntry(chatID, admins, c.now())
		c.entries.Store(chatID, e)
		return e, nil
	})
	if err != nil {
		observability.RecordAdminCache("refresh_failed")
		c.getLogEntry().WithFields(log.Fields{
			"chat_id": chatID,
			"error":   err.Error(),
		}).Warn("admin cache refresh failed")
		stale, _ := c.entries.Load(chatID)
		if !errors.Is(err, errs.ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: fetch admins: %v", errs.ErrUpstreamUnavailable, err)
		}
		return stale, err
	}
	return v.(*Entry), nil
}

func (c *Cache) getLogEntry() *log.Entry {
	return log.WithField("object", "AdminCache")
}
