package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/iamwavecut/ngwarden/internal/db"
	errs "github.com/iamwavecut/ngwarden/internal/errors"
)

var redisCollectionPrefix = "ngwarden/"

type redisClient struct {
	rdb *redis.Client
}

func NewRedisClient(ctx context.Context, redisURL string) (*redisClient, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisClient{rdb: rdb}, nil
}

func (c *redisClient) Collection(name string) db.Collection {
	return &collection{rdb: c.rdb, name: name, hash: redisCollectionPrefix + name}
}

func (c *redisClient) Close() error {
	return c.rdb.Close()
}

// One hash per collection, field = record key, value = JSON body.
type collection struct {
	rdb  *redis.Client
	name string
	hash string
}

func (c *collection) FindOne(ctx context.Context, key string) ([]byte, error) {
	body, err := c.rdb.HGet(ctx, c.hash, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s/%s", db.ErrNotFound, c.name, key)
	} else if err != nil {
		return nil, unavailable("find "+c.name, err)
	}
	return body, nil
}

func (c *collection) FindAll(ctx context.Context) ([]db.Document, error) {
	all, err := c.rdb.HGetAll(ctx, c.hash).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("find all "+c.name, err)
	}
	docs := make([]db.Document, 0, len(all))
	for key, body := range all {
		docs = append(docs, db.Document{Key: key, Body: []byte(body)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	return docs, nil
}

func (c *collection) InsertOne(ctx context.Context, key string, body []byte) error {
	ok, err := c.rdb.HSetNX(ctx, c.hash, key, body).Result()
	if err != nil {
		return unavailable("insert "+c.name, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", db.ErrDuplicate, c.name, key)
	}
	return nil
}

func (c *collection) Update(ctx context.Context, key string, body []byte) error {
	if err := c.rdb.HSet(ctx, c.hash, key, body).Err(); err != nil {
		return unavailable("update "+c.name, err)
	}
	return nil
}

func (c *collection) DeleteOne(ctx context.Context, key string) error {
	n, err := c.rdb.HDel(ctx, c.hash, key).Result()
	if err != nil {
		return unavailable("delete "+c.name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", db.ErrNotFound, c.name, key)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", errs.ErrUpstreamUnavailable, op, err)
}
