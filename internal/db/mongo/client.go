package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iamwavecut/ngwarden/internal/db"
	errs "github.com/iamwavecut/ngwarden/internal/errors"
)

const (
	connectRetries   = 3
	connectRetryStep = 500 * time.Millisecond
)

type mongoClient struct {
	client   *mongo.Client
	database *mongo.Database
}

func NewMongoClient(ctx context.Context, uri, database string) (*mongoClient, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	opts := options.Client().ApplyURI(uri).SetMaxPoolSize(20)

	var (
		cli *mongo.Client
		err error
	)
	for attempt := range connectRetries {
		cli, err = connect(ctx, opts)
		if err == nil {
			break
		}
		log.WithError(err).WithField("attempt", attempt+1).Warn("mongo connect failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * connectRetryStep):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &mongoClient{client: cli, database: cli.Database(database)}, nil
}

func connect(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return cli, nil
}

func (c *mongoClient) Collection(name string) db.Collection {
	return &collection{c: c.database.Collection(name), name: name}
}

func (c *mongoClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}

type collection struct {
	c    *mongo.Collection
	name string
}

// Documents are stored as their JSON fields with _id set to the record key.
func (c *collection) FindOne(ctx context.Context, key string) ([]byte, error) {
	var doc bson.M
	err := c.c.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s/%s", db.ErrNotFound, c.name, key)
		}
		return nil, unavailable("find "+c.name, err)
	}
	return toJSON(doc)
}

func (c *collection) FindAll(ctx context.Context) ([]db.Document, error) {
	cur, err := c.c.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, unavailable("find all "+c.name, err)
	}
	defer cur.Close(ctx)

	var docs []db.Document
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, unavailable("decode "+c.name, err)
		}
		key, _ := doc["_id"].(string)
		body, err := toJSON(doc)
		if err != nil {
			return nil, err
		}
		docs = append(docs, db.Document{Key: key, Body: body})
	}
	if err := cur.Err(); err != nil {
		return nil, unavailable("iterate "+c.name, err)
	}
	return docs, nil
}

func (c *collection) InsertOne(ctx context.Context, key string, body []byte) error {
	doc, err := fromJSON(key, body)
	if err != nil {
		return err
	}
	if _, err := c.c.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s/%s", db.ErrDuplicate, c.name, key)
		}
		return unavailable("insert "+c.name, err)
	}
	return nil
}

func (c *collection) Update(ctx context.Context, key string, body []byte) error {
	doc, err := fromJSON(key, body)
	if err != nil {
		return err
	}
	_, err = c.c.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return unavailable("update "+c.name, err)
	}
	return nil
}

func (c *collection) DeleteOne(ctx context.Context, key string) error {
	res, err := c.c.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return unavailable("delete "+c.name, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s/%s", db.ErrNotFound, c.name, key)
	}
	return nil
}

func fromJSON(key string, body []byte) (bson.M, error) {
	var doc bson.M
	if err := bson.UnmarshalExtJSON(body, false, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode json document: %v", errs.ErrInvalidInput, err)
	}
	doc["_id"] = key
	return doc, nil
}

func toJSON(doc bson.M) ([]byte, error) {
	delete(doc, "_id")
	body, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return nil, fmt.Errorf("encode json document: %w", err)
	}
	return body, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", errs.ErrUpstreamUnavailable, op, err)
}
