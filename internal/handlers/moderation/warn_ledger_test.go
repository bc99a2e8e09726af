package handlers

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/iamwavecut/ngwarden/internal/db"
	"github.com/iamwavecut/ngwarden/internal/db/memory"
	errs "github.com/iamwavecut/ngwarden/internal/errors"
)

func TestWarnUserConcurrentIncrementsAreLinearizable(t *testing.T) {
	t.Parallel()

	const n = 64
	ctx := context.Background()
	ledger := NewWarnLedger(memory.NewStore(), 3, db.ActionMute)

	counts := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, count, err := ledger.WarnUser(ctx, -1, 7, "spam")
			if err != nil {
				t.Errorf("warn: %v", err)
				return
			}
			counts[i] = count
		}(i)
	}
	wg.Wait()

	sort.Ints(counts)
	for i, c := range counts {
		if c != i+1 {
			t.Fatalf("observed counts %v, want 1..%d each exactly once", counts, n)
		}
	}

	warn, err := ledger.Get(ctx, -1, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if warn.Count != n || len(warn.Reasons) != n {
		t.Fatalf("final warn = %d with %d reasons, want %d", warn.Count, len(warn.Reasons), n)
	}
}

func TestWarnCrossesLimitOncePerRound(t *testing.T) {
	t.Parallel()

	const n = 9
	ctx := context.Background()
	ledger := NewWarnLedger(memory.NewStore(), 3, db.ActionKick)

	var (
		mu      sync.Mutex
		crossed int
		wg      sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := ledger.Warn(ctx, -1, 7, "spam")
			if err != nil {
				t.Errorf("warn: %v", err)
				return
			}
			if outcome.Crossed {
				if outcome.Count != 3 || outcome.Mode != db.ActionKick {
					t.Errorf("unexpected crossing: %+v", outcome)
				}
				mu.Lock()
				crossed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if crossed != n/3 {
		t.Fatalf("crossings = %d, want %d", crossed, n/3)
	}
	if warn, err := ledger.Get(ctx, -1, 7); err != nil || warn != nil {
		t.Fatalf("expected ledger cleared after the last crossing, got %+v %v", warn, err)
	}
}

func TestWarnUserKeysAreIndependent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := NewWarnLedger(memory.NewStore(), 3, db.ActionMute)

	if _, c, _ := ledger.WarnUser(ctx, -1, 7, "a"); c != 1 {
		t.Fatalf("count = %d, want 1", c)
	}
	if _, c, _ := ledger.WarnUser(ctx, -2, 7, "b"); c != 1 {
		t.Fatalf("other chat count = %d, want 1", c)
	}
	reason, c, err := ledger.WarnUser(ctx, -1, 7, "c")
	if err != nil || c != 2 || reason != "c" {
		t.Fatalf("WarnUser = %q %d %v", reason, c, err)
	}

	removed, err := ledger.Reset(ctx, -1, 7)
	if err != nil || !removed {
		t.Fatalf("reset = %v %v", removed, err)
	}
	removed, err = ledger.Reset(ctx, -1, 7)
	if err != nil || removed {
		t.Fatalf("second reset = %v %v", removed, err)
	}
	if warn, _ := ledger.Get(ctx, -1, 7); warn != nil {
		t.Fatalf("expected no warns after reset, got %+v", warn)
	}
}

func TestWarnSettingsDefaultsAndValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := NewWarnLedger(memory.NewStore(), 0, 0)

	settings, err := ledger.Settings(ctx, -1)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if settings.Limit != 3 || settings.Mode != db.ActionMute {
		t.Fatalf("defaults = %d/%s, want 3/mute", settings.Limit, settings.Mode)
	}

	if err := ledger.SetLimit(ctx, -1, 0); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero limit, got %v", err)
	}
	if err := ledger.SetMode(ctx, -1, db.ActionWarn); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("expected invalid input for warn mode, got %v", err)
	}
	if err := ledger.SetLimit(ctx, -1, 5); err != nil {
		t.Fatalf("set limit: %v", err)
	}
	if err := ledger.SetMode(ctx, -1, db.ActionBan); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	settings, _ = ledger.Settings(ctx, -1)
	if settings.Limit != 5 || settings.Mode != db.ActionBan {
		t.Fatalf("settings = %d/%s, want 5/ban", settings.Limit, settings.Mode)
	}
}
