package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"private_feed/internal/model"
	"private_feed/internal/repository"
)

const collectionName = "documents"

type (
	MongoStore struct {
		collection *mongo.Collection
	}
)

func New(db *mongo.Database) *MongoStore {
	return &MongoStore{
		collection: db.Collection(collectionName),
	}
}

// EnsureIndexes creates the lookup indexes used by the engine's queries.
func (r *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "ownerId", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "fields.followerId", Value: 1}}},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "fields.requesterId", Value: 1}}},
	})
	return err
}

func (r *MongoStore) Get(ctx context.Context, docType repository.DocumentType, filter repository.Filter) ([]repository.Document, error) {
	q := bson.M{
		"type": docType,
	}
	for k, v := range filter {
		if k == repository.FieldOwner {
			q["ownerId"] = v
			continue
		}
		q["fields."+k] = v
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.collection.Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo find %s: %w", docType, err)
	}
	defer cur.Close(ctx)

	var docs []repository.Document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo decode %s: %w", docType, err)
	}
	return docs, nil
}

func (r *MongoStore) Create(ctx context.Context, docType repository.DocumentType, owner model.Identity, fields repository.Fields) (repository.Document, error) {
	doc, err := repository.NewDocument(docType, owner, fields)
	if err != nil {
		return repository.Document{}, err
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return repository.Document{}, fmt.Errorf("mongo insert %s: %w", docType, err)
	}
	return doc, nil
}

func (r *MongoStore) Delete(ctx context.Context, id string, owner model.Identity) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id, "ownerId": owner.String()})
	if err != nil {
		return fmt.Errorf("mongo delete: %w", err)
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ repository.Store = (*MongoStore)(nil)
