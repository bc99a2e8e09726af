package handlers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/iamwavecut/ngwarden/internal/db"
	"github.com/iamwavecut/ngwarden/internal/db/memory"
	errs "github.com/iamwavecut/ngwarden/internal/errors"
)

func newWatcherFixture(t *testing.T) (*GlobalBans, *fakePlatform, *recordingAuditor, *GbanWatcher) {
	t.Helper()
	bans := NewGlobalBans(memory.NewStore(), time.Hour)
	platform := &fakePlatform{}
	auditor := &recordingAuditor{}
	w := NewGbanWatcher(bans, platform, auditor, opsChat, time.Second)
	w.deleteStep = time.Millisecond
	return bans, platform, auditor, w
}

func TestGbanWatcherRemovesBannedUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bans, platform, auditor, w := newWatcherFixture(t)
	if _, err := bans.Ban(ctx, testUser, "spam waves", 1); err != nil {
		t.Fatalf("ban: %v", err)
	}

	acted, err := w.Watch(ctx, message("hello", 3))
	if err != nil || !acted {
		t.Fatalf("watch = %v %v", acted, err)
	}
	removes := platform.find("remove")
	if len(removes) != 1 || removes[0].RejoinAfter != 0 {
		t.Fatalf("expected permanent removal, got %+v", removes)
	}
	if len(platform.find("delete")) != 1 {
		t.Fatalf("expected message deletion")
	}
	records := auditor.all()
	if len(records) != 1 || records[0].Action != "gban" {
		t.Fatalf("unexpected audit: %+v", records)
	}
}

func TestGbanWatcherIgnoresUnknownUsers(t *testing.T) {
	t.Parallel()

	_, platform, _, w := newWatcherFixture(t)
	acted, err := w.Watch(context.Background(), message("hello", 3))
	if err != nil || acted {
		t.Fatalf("watch = %v %v", acted, err)
	}
	if len(platform.verbs()) != 0 {
		t.Fatalf("no platform calls expected, got %v", platform.verbs())
	}
}

func TestGbanWatcherReverifiesAgainstRegistry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bans, platform, _, w := newWatcherFixture(t)
	if _, err := bans.Ban(ctx, testUser, "r", 1); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if err := bans.records.Put(ctx, db.UserKey(testUser), &db.GlobalBan{UserID: testUser, Banned: false}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	acted, err := w.Watch(ctx, message("hello", 3))
	if err != nil || acted {
		t.Fatalf("watch = %v %v", acted, err)
	}
	if len(platform.verbs()) != 0 {
		t.Fatalf("stale set must not trigger removal, got %v", platform.verbs())
	}
	if bans.IsKnownBanned(testUser) {
		t.Fatalf("expected stale entry dropped")
	}
}

func TestGbanWatcherSkipsWithoutRights(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bans, platform, auditor, w := newWatcherFixture(t)
	if _, err := bans.Ban(ctx, testUser, "r", 1); err != nil {
		t.Fatalf("ban: %v", err)
	}
	platform.removeErr = fmt.Errorf("%w: user is an administrator of the chat", errs.ErrPermissionDenied)

	acted, err := w.Watch(ctx, message("hello", 3))
	if err != nil || acted {
		t.Fatalf("watch = %v %v", acted, err)
	}
	if len(platform.find("message")) != 0 {
		t.Fatalf("permission errors are not reported to ops")
	}
	if len(auditor.all()) != 0 {
		t.Fatalf("no audit expected")
	}
}

func TestGbanWatcherReportsOtherFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bans, platform, _, w := newWatcherFixture(t)
	if _, err := bans.Ban(ctx, testUser, "r", 1); err != nil {
		t.Fatalf("ban: %v", err)
	}
	platform.removeErr = fmt.Errorf("%w: bad gateway", errs.ErrUpstreamUnavailable)

	if _, err := w.Watch(ctx, message("hello", 3)); err == nil {
		t.Fatalf("expected error")
	}
	reports := platform.find("message")
	if len(reports) != 1 || reports[0].ChatID != opsChat {
		t.Fatalf("expected one ops report, got %+v", reports)
	}
	for _, r := range platform.find("reply") {
		t.Fatalf("nothing should be posted in the offending chat, got %+v", r)
	}
}
