package mongo

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campus-messaging/internal/domain/chat"
)

const (
	usersCollection    = "users"
	listingsCollection = "listings"
)

// Directory resolves display names from the users and listings collections.
// Users carry "name", listings carry "title"; both are keyed by string _id.
type Directory struct {
	users    *mongo.Collection
	listings *mongo.Collection
}

func NewDirectory(db *mongo.Database) *Directory {
	return &Directory{
		users:    db.Collection(usersCollection),
		listings: db.Collection(listingsCollection),
	}
}

type nameDocument struct {
	ID    string `bson:"_id"`
	Name  string `bson:"name,omitempty"`
	Title string `bson:"title,omitempty"`
}

// DisplayNames runs one $in lookup for ids. Unknown ids are absent from the
// result.
func (d *Directory) DisplayNames(ctx context.Context, kind chat.EntityKind, ids []string) (map[string]string, error) {
	col, field, err := d.target(kind)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	cur, err := col.Find(ctx, lookupFilter(ids), options.Find().SetProjection(bson.M{field: 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var doc nameDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		if name := doc.displayName(kind); name != "" {
			names[doc.ID] = name
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

func (d *Directory) target(kind chat.EntityKind) (*mongo.Collection, string, error) {
	switch kind {
	case chat.EntityUser:
		return d.users, "name", nil
	case chat.EntityListing:
		return d.listings, "title", nil
	default:
		return nil, "", fmt.Errorf("mongo: unknown entity kind %q", kind)
	}
}

func lookupFilter(ids []string) bson.M {
	return bson.M{"_id": bson.M{"$in": ids}}
}

func (doc nameDocument) displayName(kind chat.EntityKind) string {
	if kind == chat.EntityListing {
		return strings.TrimSpace(doc.Title)
	}
	return strings.TrimSpace(doc.Name)
}
