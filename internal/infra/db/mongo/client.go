package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	appName        = "campus-messaging"
	connectTimeout = 10 * time.Second
	selectTimeout  = 5 * time.Second
)

// Client holds the directory database. The service only reads display names,
// so lookups may be served by secondaries.
type Client struct {
	DB *mongo.Database
}

// Connect dials uri and pings the deployment before returning, so a bad URI
// fails at startup instead of on the first inbox load.
func Connect(ctx context.Context, uri, database string) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	m, err := mongo.Connect(ctx, clientOptions(uri))
	if err != nil {
		return nil, err
	}
	if err := m.Ping(ctx, readpref.SecondaryPreferred()); err != nil {
		_ = m.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping %s: %w", database, err)
	}
	return &Client{DB: m.Database(database)}, nil
}

func clientOptions(uri string) *options.ClientOptions {
	return options.Client().
		ApplyURI(uri).
		SetAppName(appName).
		SetReadPreference(readpref.SecondaryPreferred()).
		SetRetryReads(true).
		SetServerSelectionTimeout(selectTimeout)
}

// Directory returns the display-name directory backed by this database.
func (c *Client) Directory() *Directory {
	return NewDirectory(c.DB)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.Client().Ping(ctx, readpref.SecondaryPreferred())
}

func (c *Client) Close(ctx context.Context) error {
	return c.DB.Client().Disconnect(ctx)
}
