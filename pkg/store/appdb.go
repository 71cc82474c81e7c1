package store

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hyac-dev/hyac/pkg/log"
)

// AppDB manages the per-application databases. Each app owns a database
// named after its app id (case preserved) with a same-named user scoped to
// it, so runtime code can only touch its own data.
type AppDB struct {
	client *mongo.Client
}

// NewAppDB wraps a root-privileged client for per-app database management
func NewAppDB(client *mongo.Client) *AppDB {
	return &AppDB{client: client}
}

// EnsureUser creates the app's database user with dbAdmin and readWrite on
// its own database. If the user already exists the password is refreshed
// instead, which keeps restarts idempotent.
func (a *AppDB) EnsureUser(ctx context.Context, appID, password string) error {
	db := a.client.Database(appID)
	roles := bson.A{
		bson.M{"role": "dbAdmin", "db": appID},
		bson.M{"role": "readWrite", "db": appID},
	}
	err := db.RunCommand(ctx, bson.D{
		{Key: "createUser", Value: appID},
		{Key: "pwd", Value: password},
		{Key: "roles", Value: roles},
	}).Err()
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create database user for %s: %w", appID, err)
	}
	err = db.RunCommand(ctx, bson.D{
		{Key: "updateUser", Value: appID},
		{Key: "pwd", Value: password},
		{Key: "roles", Value: roles},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to update database user for %s: %w", appID, err)
	}
	return nil
}

// DropDatabase removes the app's database and its user
func (a *AppDB) DropDatabase(ctx context.Context, appID string) error {
	db := a.client.Database(appID)
	if err := db.RunCommand(ctx, bson.D{{Key: "dropUser", Value: appID}}).Err(); err != nil {
		if !strings.Contains(err.Error(), "not found") {
			log.Logger.Warn().Err(err).Str("app_id", appID).Msg("failed to drop database user")
		}
	}
	if err := db.Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop database %s: %w", appID, err)
	}
	return nil
}

// CollectionInfo is one entry of the database explorer listing
type CollectionInfo struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// ListCollections returns the app database's collections with document counts
func (a *AppDB) ListCollections(ctx context.Context, appID string) ([]CollectionInfo, error) {
	db := a.client.Database(appID)
	names, err := db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	infos := make([]CollectionInfo, 0, len(names))
	for _, name := range names {
		count, err := db.Collection(name).EstimatedDocumentCount(ctx)
		if err != nil {
			return nil, err
		}
		infos = append(infos, CollectionInfo{Name: name, Count: count})
	}
	return infos, nil
}

// CreateCollection creates an empty collection in the app database
func (a *AppDB) CreateCollection(ctx context.Context, appID, name string) error {
	err := a.client.Database(appID).CreateCollection(ctx, name)
	if err != nil && strings.Contains(err.Error(), "already exists") {
		return ErrDuplicate
	}
	return err
}

// DropCollection removes a collection. A collection that still holds
// documents is refused with ErrConflict; callers clear it first.
func (a *AppDB) DropCollection(ctx context.Context, appID, name string) error {
	col := a.client.Database(appID).Collection(name)
	count, err := col.EstimatedDocumentCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrConflict
	}
	return col.Drop(ctx)
}

// ClearCollection deletes every document but keeps the collection
func (a *AppDB) ClearCollection(ctx context.Context, appID, name string) (int64, error) {
	res, err := a.client.Database(appID).Collection(name).DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// Documents returns one page of documents plus the total count. Object ids
// are rendered as hex strings so the result serializes cleanly to JSON.
func (a *AppDB) Documents(ctx context.Context, appID, name string, page, length int) ([]bson.M, int64, error) {
	col := a.client.Database(appID).Collection(name)
	total, err := col.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if length < 1 {
		length = 20
	}
	opts := options.Find().
		SetSkip(int64((page - 1) * length)).
		SetLimit(int64(length))
	cur, err := col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, err
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	for _, doc := range docs {
		if oid, ok := doc["_id"].(primitive.ObjectID); ok {
			doc["_id"] = oid.Hex()
		}
	}
	return docs, total, nil
}

// InsertDocument inserts one document and returns its id as a string
func (a *AppDB) InsertDocument(ctx context.Context, appID, name string, doc bson.M) (string, error) {
	delete(doc, "_id")
	res, err := a.client.Database(appID).Collection(name).InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	return fmt.Sprintf("%v", res.InsertedID), nil
}

// UpdateDocument applies a $set update to the document with the given id
func (a *AppDB) UpdateDocument(ctx context.Context, appID, name, id string, fields bson.M) error {
	delete(fields, "_id")
	res, err := a.client.Database(appID).Collection(name).
		UpdateOne(ctx, bson.M{"_id": docID(id)}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocument removes the document with the given id
func (a *AppDB) DeleteDocument(ctx context.Context, appID, name, id string) error {
	res, err := a.client.Database(appID).Collection(name).
		DeleteOne(ctx, bson.M{"_id": docID(id)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocuments removes every document whose id is in ids and returns the
// number actually deleted. Unknown ids are skipped, not an error.
func (a *AppDB) DeleteDocuments(ctx context.Context, appID, name string, ids []string) (int64, error) {
	keys := make(bson.A, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, docID(id))
	}
	res, err := a.client.Database(appID).Collection(name).
		DeleteMany(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// docID interprets an explorer-supplied id: hex object ids become real
// ObjectIDs, anything else is matched as a raw string key.
func docID(id string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}
