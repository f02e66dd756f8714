package storage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rl1809/sweet-shop/internal/core/domain"
)

const movementsCollection = "stock_movements"

// MongoJournal stores stock movements in an append-only collection.
type MongoJournal struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoJournal connects to MongoDB and verifies the connection.
func NewMongoJournal(ctx context.Context, uri, dbName string) (*MongoJournal, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	collection := client.Database(dbName).Collection(movementsCollection)
	if _, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "item_id", Value: 1}, {Key: "occurred_at", Value: -1}},
	}); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create movement index: %w", err)
	}

	return &MongoJournal{client: client, collection: collection}, nil
}

func (j *MongoJournal) AppendMovement(ctx context.Context, movement domain.StockMovement) error {
	if _, err := j.collection.InsertOne(ctx, movement); err != nil {
		return fmt.Errorf("%w: insert movement: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (j *MongoJournal) ListMovements(ctx context.Context, itemID int64, limit int) ([]domain.StockMovement, error) {
	opts := options.Find().SetSort(bson.D{{Key: "occurred_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := j.collection.Find(ctx, bson.M{"item_id": itemID}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: find movements: %w", domain.ErrStoreUnavailable, err)
	}

	movements := []domain.StockMovement{}
	if err := cursor.All(ctx, &movements); err != nil {
		return nil, fmt.Errorf("%w: decode movements: %w", domain.ErrStoreUnavailable, err)
	}
	return movements, nil
}

// Close closes the MongoDB connection.
func (j *MongoJournal) Close(ctx context.Context) error {
	return j.client.Disconnect(ctx)
}
