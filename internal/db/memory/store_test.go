package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/iamwavecut/ngwarden/internal/db"
	errs "github.com/iamwavecut/ngwarden/internal/errors"
)

func TestCollectionContract(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewStore().Collection("things")

	if _, err := c.FindOne(ctx, "a"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := c.InsertOne(ctx, "a", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := c.InsertOne(ctx, "a", []byte(`{"v":2}`)); !errors.Is(err, db.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if err := c.Update(ctx, "b", []byte(`{"v":3}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	docs, err := c.FindAll(ctx)
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(docs) != 2 || docs[0].Key != "a" || docs[1].Key != "b" {
		t.Fatalf("unexpected docs: %+v", docs)
	}

	if err := c.DeleteOne(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := c.DeleteOne(ctx, "a"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestCollectionReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewStore().Collection("things")
	body := []byte(`{"v":1}`)
	if err := c.Update(ctx, "a", body); err != nil {
		t.Fatalf("update: %v", err)
	}
	body[0] = 'X'

	got, err := c.FindOne(ctx, "a")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if string(got) != `{"v":1}` {
		t.Fatalf("stored body was aliased: %s", got)
	}
}

func TestRecordsRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	records := db.NewRecords[db.WarnSettings](NewStore().Collection(db.CollectionWarnSettings))

	got, err := records.Get(ctx, db.ChatKey(-100))
	if err != nil || got != nil {
		t.Fatalf("expected empty lookup, got %+v, %v", got, err)
	}

	if err := records.Put(ctx, db.ChatKey(-100), &db.WarnSettings{ChatID: -100, Limit: 5, Mode: db.ActionBan}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err = records.Get(ctx, db.ChatKey(-100))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Limit != 5 || got.Mode != db.ActionBan {
		t.Fatalf("unexpected settings: %+v", got)
	}

	removed, err := records.Delete(ctx, db.ChatKey(-100))
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	removed, err = records.Delete(ctx, db.ChatKey(-100))
	if err != nil || removed {
		t.Fatalf("second delete: removed=%v err=%v", removed, err)
	}
}

func TestCanceledContextIsUnavailable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewStore().Collection("docs")

	_, err := c.FindOne(ctx, "a")
	if !errors.Is(err, errs.ErrUpstreamUnavailable) || !errors.Is(err, context.Canceled) {
		t.Fatalf("find: expected unavailable wrapping canceled, got %v", err)
	}
	if err := c.Update(ctx, "a", []byte(`{}`)); !errors.Is(err, errs.ErrUpstreamUnavailable) {
		t.Fatalf("update: expected unavailable, got %v", err)
	}
	if err := c.DeleteOne(ctx, "a"); !errors.Is(err, errs.ErrUpstreamUnavailable) {
		t.Fatalf("delete: expected unavailable, got %v", err)
	}
}
