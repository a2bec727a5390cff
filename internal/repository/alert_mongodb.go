package repository

import (
	"context"
	"fmt"
	"time"

	"acctshop-api/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBAlertRepository stores operator alerts in a MongoDB collection.
type MongoDBAlertRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoDBAlertRepository connects and ensures the created_at index.
func NewMongoDBAlertRepository(uri, dbName, collectionName string) (*MongoDBAlertRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(10).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := client.Database(dbName).Collection(collectionName)
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create alert index: %w", err)
	}

	return &MongoDBAlertRepository{client: client, collection: collection}, nil
}

// InsertAlert inserts a new alert document.
func (r *MongoDBAlertRepository) InsertAlert(ctx context.Context, alert *model.Alert) error {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	_, err := r.collection.InsertOne(ctx, alert)
	return err
}

// ListAlerts returns alerts newest first with pagination.
func (r *MongoDBAlertRepository) ListAlerts(ctx context.Context, limit, offset int) ([]model.Alert, int64, error) {
	findOptions := options.Find()
	findOptions.SetSort(bson.D{{Key: "created_at", Value: -1}})
	findOptions.SetLimit(int64(limit))
	findOptions.SetSkip(int64(offset))

	cursor, err := r.collection.Find(ctx, bson.M{}, findOptions)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	alerts := []model.Alert{}
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, 0, err
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, err
	}

	return alerts, count, nil
}

// Close closes the MongoDB connection.
func (r *MongoDBAlertRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

var _ AlertRepository = (*MongoDBAlertRepository)(nil)
