package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/iamwavecut/ngwarden/internal/db"
)

func TestCollectionsAreIsolatedByName(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, err := NewSQLiteClient(ctx, t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	bans := client.Collection(db.CollectionGlobalBans)
	warns := client.Collection(db.CollectionWarns)

	if err := bans.Update(ctx, "1", []byte(`{"user_id":1}`)); err != nil {
		t.Fatalf("update bans: %v", err)
	}
	if _, err := warns.FindOne(ctx, "1"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected not found in other collection, got %v", err)
	}

	docs, err := bans.FindAll(ctx)
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(docs) != 1 || docs[0].Key != "1" {
		t.Fatalf("unexpected docs: %+v", docs)
	}
}

func TestCollectionInsertUpdateDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, err := NewSQLiteClient(ctx, t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	c := client.Collection(db.CollectionApprovals)
	if err := c.InsertOne(ctx, "-100", []byte(`{"chat_id":-100}`)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := c.InsertOne(ctx, "-100", []byte(`{"chat_id":-100}`)); !errors.Is(err, db.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if err := c.Update(ctx, "-100", []byte(`{"chat_id":-100,"users":[]}`)); err != nil {
		t.Fatalf("update: %v", err)
	}
	body, err := c.FindOne(ctx, "-100")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if string(body) != `{"chat_id":-100,"users":[]}` {
		t.Fatalf("unexpected body: %s", body)
	}
	if err := c.DeleteOne(ctx, "-100"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := c.DeleteOne(ctx, "-100"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
