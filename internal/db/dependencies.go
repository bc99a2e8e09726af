package db

import (
	"context"
	"errors"

	errs "github.com/iamwavecut/ngwarden/internal/errors"
)

var (
	ErrNotFound  = errs.ErrNotFound
	ErrDuplicate = errors.New("duplicate key")
)

type Document struct {
	Key  string
	Body []byte
}

// Collection is the keyed record contract every backend implements. Bodies
// are JSON documents; Update replaces the whole document and inserts it when
// the key is absent.
type Collection interface {
	FindOne(ctx context.Context, key string) ([]byte, error)
	FindAll(ctx context.Context) ([]Document, error)
	InsertOne(ctx context.Context, key string, body []byte) error
	Update(ctx context.Context, key string, body []byte) error
	DeleteOne(ctx context.Context, key string) error
}

type Store interface {
	Collection(name string) Collection
	Close() error
}
