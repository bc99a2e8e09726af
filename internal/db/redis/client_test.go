package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	errs "github.com/iamwavecut/ngwarden/internal/errors"
)

func unreachable(t *testing.T) *redisClient {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return &redisClient{rdb: rdb}
}

func TestCollectionUsesPrefixedHash(t *testing.T) {
	t.Parallel()

	c, ok := unreachable(t).Collection("warns").(*collection)
	if !ok {
		t.Fatal("unexpected collection type")
	}
	if c.hash != "ngwarden/warns" || c.name != "warns" {
		t.Fatalf("unexpected hash %q for %q", c.hash, c.name)
	}
}

func TestUnreachableServerIsUnavailable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c := unreachable(t).Collection("warns")

	if _, err := c.FindOne(ctx, "k"); !errors.Is(err, errs.ErrUpstreamUnavailable) {
		t.Fatalf("find: expected unavailable, got %v", err)
	}
	if _, err := c.FindAll(ctx); !errors.Is(err, errs.ErrUpstreamUnavailable) {
		t.Fatalf("find all: expected unavailable, got %v", err)
	}
	if err := c.InsertOne(ctx, "k", []byte(`{}`)); !errors.Is(err, errs.ErrUpstreamUnavailable) {
		t.Fatalf("insert: expected unavailable, got %v", err)
	}
	if err := c.DeleteOne(ctx, "k"); !errors.Is(err, errs.ErrUpstreamUnavailable) {
		t.Fatalf("delete: expected unavailable, got %v", err)
	}
}

func TestNewRedisClientRejectsBadURL(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisClient(context.Background(), "not-a-url"); err == nil {
		t.Fatal("expected a parse error")
	}
}
