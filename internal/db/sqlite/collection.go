package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iamwavecut/tool"

	"github.com/iamwavecut/ngwarden/internal/db"
	errs "github.com/iamwavecut/ngwarden/internal/errors"
)

type collection struct {
	client *sqliteClient
	name   string
}

type documentRow struct {
	Key  string `db:"key"`
	Body string `db:"body"`
}

func (c *collection) FindOne(ctx context.Context, key string) ([]byte, error) {
	c.client.mutex.RLock()
	defer c.client.mutex.RUnlock()

	var body string
	err := c.client.db.GetContext(ctx, &body, `SELECT body FROM documents WHERE collection = ? AND key = ?`, c.name, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", db.ErrNotFound, c.name, key)
		}
		return nil, unavailable("find "+c.name, err)
	}
	return []byte(body), nil
}

func (c *collection) FindAll(ctx context.Context) ([]db.Document, error) {
	c.client.mutex.RLock()
	defer c.client.mutex.RUnlock()

	var rows []documentRow
	err := c.client.db.SelectContext(ctx, &rows, `SELECT key, body FROM documents WHERE collection = ? ORDER BY key`, c.name)
	if err != nil {
		return nil, unavailable("find all "+c.name, err)
	}
	docs := make([]db.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, db.Document{Key: row.Key, Body: []byte(row.Body)})
	}
	return docs, nil
}

func (c *collection) InsertOne(ctx context.Context, key string, body []byte) error {
	c.client.mutex.Lock()
	defer c.client.mutex.Unlock()

	res, err := c.client.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents (collection, key, body, updated_at) VALUES (?, ?, ?, datetime('now'))`,
		c.name, key, string(body),
	)
	if err != nil {
		return unavailable("insert "+c.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("insert "+c.name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", db.ErrDuplicate, c.name, key)
	}
	return nil
}

func (c *collection) Update(ctx context.Context, key string, body []byte) error {
	c.client.mutex.Lock()
	defer c.client.mutex.Unlock()

	query := `
		INSERT INTO documents (collection, key, body, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(collection, key) DO UPDATE SET
		body = excluded.body,
		updated_at = excluded.updated_at
	`
	if err := tool.Err(c.client.db.ExecContext(ctx, query, c.name, key, string(body))); err != nil {
		return unavailable("update "+c.name, err)
	}
	return nil
}

func (c *collection) DeleteOne(ctx context.Context, key string) error {
	c.client.mutex.Lock()
	defer c.client.mutex.Unlock()

	res, err := c.client.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND key = ?`, c.name, key)
	if err != nil {
		return unavailable("delete "+c.name, err)
	}
	n, err := res.RowsAffected()
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
