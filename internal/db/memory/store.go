package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/iamwavecut/ngwarden/internal/db"
	errs "github.com/iamwavecut/ngwarden/internal/errors"
)

type store struct {
	mu          sync.Mutex
	collections map[string]*collection
}

type collection struct {
	name  string
	mutex sync.RWMutex
	docs  map[string][]byte
}

// NewStore returns a process-local store. Used by tests and as a fallback
// driver when nothing durable is configured.
func NewStore() db.Store {
	return &store{collections: map[string]*collection{}}
}

func (s *store) Collection(name string) db.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &collection{name: name, docs: map[string][]byte{}}
		s.collections[name] = c
	}
	return c
}

func (s *store) Close() error {
	return nil
}

func (c *collection) FindOne(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(c.name, err)
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	body, ok := c.docs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", db.ErrNotFound, c.name, key)
	}
	return clone(body), nil
}

func (c *collection) FindAll(ctx context.Context) ([]db.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(c.name, err)
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	res := make([]db.Document, 0, len(c.docs))
	for key, body := range c.docs {
		res = append(res, db.Document{Key: key, Body: clone(body)})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Key < res[j].Key })
	return res, nil
}

func (c *collection) InsertOne(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return unavailable(c.name, err)
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, ok := c.docs[key]; ok {
		return fmt.Errorf("%w: %s/%s", db.ErrDuplicate, c.name, key)
	}
	c.docs[key] = clone(body)
	return nil
}

func (c *collection) Update(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return unavailable(c.name, err)
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.docs[key] = clone(body)
	return nil
}

func (c *collection) DeleteOne(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return unavailable(c.name, err)
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, ok := c.docs[key]; !ok {
		return fmt.Errorf("%w: %s/%s", db.ErrNotFound, c.name, key)
	}
	delete(c.docs, key)
	return nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

func unavailable(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", errs.ErrUpstreamUnavailable, name, err)
}
