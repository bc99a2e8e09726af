package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Records is a typed JSON view over a Collection.
type Records[T any] struct {
	c Collection
}

func NewRecords[T any](c Collection) Records[T] {
	return Records[T]{c: c}
}

// Get returns nil without error when the key is absent.
func (r Records[T]) Get(ctx context.Context, key string) (*T, error) {
	body, err := r.c.FindOne(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", key, err)
	}
	return &v, nil
}

func (r Records[T]) Put(ctx context.Context, key string, v *T) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", key, err)
	}
	return r.c.Update(ctx, key, body)
}

func (r Records[T]) Create(ctx context.Context, key string, v *T) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", key, err)
	}
	return r.c.InsertOne(ctx, key, body)
}

// Delete reports whether a record was removed; a missing key is not an error.
func (r Records[T]) Delete(ctx context.Context, key string) (bool, error) {
	if err := r.c.DeleteOne(ctx, key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r Records[T]) All(ctx context.Context) ([]*T, error) {
	docs, err := r.c.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]*T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc.Body, &v); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", doc.Key, err)
		}
		res = append(res, &v)
	}
	return res, nil
}
