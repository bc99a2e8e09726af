package admincache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iamwavecut/tool"

	errs "github.com/iamwavecut/ngwarden/internal/errors"
)

type stubFetcher struct {
	mu     sync.Mutex
	admins map[int64][]Admin
	err    error
	calls  atomic.Int32
	block  chan struct{}
}

func (f *stubFetcher) FetchAdmins(ctx context.Context, chatID int64) ([]Admin, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.admins[chatID], nil
}

func (f *stubFetcher) set(chatID int64, admins []Admin, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if admins != nil {
		f.admins[chatID] = admins
	}
	f.err = err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(f Fetcher, operators ...int64) (*Cache, *clock) {
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(f, Options{
		TTL:      30 * time.Minute,
		Cooldown: 10 * time.Minute,
		Now:      clk.Now,
		IsOperator: func(userID int64) bool {
			return tool.In(userID, operators...)
		},
	}), clk
}

func TestLookupServesFreshEntryWithoutRefetch(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{admins: map[int64][]Admin{-1: {{UserID: 10}}}}
	c, clk := newTestCache(f)

	if _, err := c.Lookup(context.Background(), -1); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	clk.Advance(29 * time.Minute)
	e, err := c.Lookup(context.Background(), -1)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !e.Has(10) || e.Has(11) {
		t.Fatalf("unexpected admins: %+v", e.Admins)
	}
	if got := f.calls.Load(); got != 1 {
		t.Fatalf("expected one fetch, got %d", got)
	}

	clk.Advance(2 * time.Minute)
	if _, err := c.Lookup(context.Background(), -1); err != nil {
		t.Fatalf("lookup after ttl: %v", err)
	}
	if got := f.calls.Load(); got != 2 {
		t.Fatalf("expected refetch after ttl, got %d fetches", got)
	}
}

func TestStaleEntryNotAuthoritativeOnRefreshFailure(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{admins: map[int64][]Admin{-1: {{UserID: 10}}}}
	c, clk := newTestCache(f)
	if _, err := c.Lookup(context.Background(), -1); err != nil {
		t.Fatalf("lookup: %v", err)
	}

	clk.Advance(31 * time.Minute)
	f.set(-1, nil, errors.New("timeout"))

	stale, err := c.Lookup(context.Background(), -1)
	if !errors.Is(err, errs.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}
	if stale == nil || !stale.Has(10) {
		t.Fatalf("expected previous entry to be returned alongside the error")
	}

	isAdmin, err := c.IsAdmin(context.Background(), -1, 10)
	if err == nil || isAdmin {
		t.Fatalf("stale entry must not confirm admin status: admin=%v err=%v", isAdmin, err)
	}

	f.set(-1, []Admin{{UserID: 11}}, nil)
	e, err := c.Lookup(context.Background(), -1)
	if err != nil {
		t.Fatalf("lookup after recovery: %v", err)
	}
	if e.Has(10) || !e.Has(11) {
		t.Fatalf("expected refreshed admins, got %+v", e.Admins)
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{admins: map[int64][]Admin{-1: {{UserID: 10}}}}
	c, _ := newTestCache(f)
	if _, err := c.Lookup(context.Background(), -1); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	c.Invalidate(-1)
	if _, err := c.Lookup(context.Background(), -1); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got := f.calls.Load(); got != 2 {
		t.Fatalf("expected refetch after invalidate, got %d", got)
	}
}

func TestManualReloadCooldown(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{admins: map[int64][]Admin{-1: {{UserID: 10}}}}
	c, clk := newTestCache(f, 99)

	if _, err := c.ManualReload(context.Background(), -1, 10); err != nil {
		t.Fatalf("first reload: %v", err)
	}
	if _, err := c.ManualReload(context.Background(), -1, 10); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if _, err := c.ManualReload(context.Background(), -1, 11); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("cooldown is per chat, not per requester: %v", err)
	}

	if _, err := c.ManualReload(context.Background(), -1, 99); err != nil {
		t.Fatalf("operator reload should bypass cooldown: %v", err)
	}

	clk.Advance(9 * time.Minute)
	if _, err := c.ManualReload(context.Background(), -1, 10); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("operator reload should restart the cooldown, got %v", err)
	}

	clk.Advance(11 * time.Minute)
	if _, err := c.ManualReload(context.Background(), -1, 10); err != nil {
		t.Fatalf("reload after cooldown: %v", err)
	}
	if _, err := c.ManualReload(context.Background(), -2, 10); err != nil {
		t.Fatalf("cooldown is per chat: %v", err)
	}
}

func TestConcurrentManualReloadsReserveCooldown(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{
		admins: map[int64][]Admin{-1: {{UserID: 10}}},
		block:  make(chan struct{}),
	}
	c, _ := newTestCache(f)

	const n = 8
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := c.ManualReload(context.Background(), -1, int64(100+i))
			results <- err
		}(i)
	}

	limited := 0
	for i := 0; i < n-1; i++ {
		err := <-results
		if !errors.Is(err, errs.ErrRateLimited) {
			t.Fatalf("expected rate limited while a reload is in flight, got %v", err)
		}
		limited++
	}
	close(f.block)
	if err := <-results; err != nil {
		t.Fatalf("winning reload: %v", err)
	}
	if limited != n-1 || f.calls.Load() != 1 {
		t.Fatalf("limited=%d fetches=%d", limited, f.calls.Load())
	}
}

func TestFailedManualReloadReleasesCooldown(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{admins: map[int64][]Admin{}}
	f.set(-1, nil, errors.New("boom"))
	c, _ := newTestCache(f)

	if _, err := c.ManualReload(context.Background(), -1, 10); !errors.Is(err, errs.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	f.set(-1, []Admin{{UserID: 10}}, nil)
	if _, err := c.ManualReload(context.Background(), -1, 10); err != nil {
		t.Fatalf("failed reload must not consume the cooldown: %v", err)
	}
}

func TestConcurrentLookupsShareOneFetch(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{
		admins: map[int64][]Admin{-1: {{UserID: 10}}},
		block:  make(chan struct{}),
	}
	c, _ := newTestCache(f)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Lookup(context.Background(), -1); err != nil {
				t.Errorf("lookup: %v", err)
			}
		}()
	}
	for f.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(f.block)
	wg.Wait()

	if got := f.calls.Load(); got != 1 {
		t.Fatalf("expected collapsed refresh, got %d fetches", got)
	}
}
