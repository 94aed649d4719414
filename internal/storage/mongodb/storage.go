package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
)

// CollectionName коллекция snapshot документов
const CollectionName = "document_snapshots"

// snapshotDocument запись коллекции. _id совпадает с ID документа.
type snapshotDocument struct {
	UpdatedAt  time.Time `bson:"updated_at"`
	DocumentID string    `bson:"_id"`
	Content    string    `bson:"content"`
	Checksum   string    `bson:"checksum"`
}

// Storage represents MongoDB snapshot storage
type Storage struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// New подключается к MongoDB по uri и использует базу database.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &Storage{
		client:     client,
		collection: client.Database(database).Collection(CollectionName),
	}, nil
}

// Close disconnects the client
func (s *Storage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.client.Disconnect(ctx)
}

// SaveSnapshot сохраняет snapshot документа, перезаписывая предыдущий
func (s *Storage) SaveSnapshot(ctx context.Context, documentID string, data []byte) error {
	snapshot := storage.NewSnapshot(documentID, data, time.Now())

	update := bson.M{"$set": bson.M{
		"content":    snapshot.Content,
		"checksum":   snapshot.Checksum,
		"updated_at": snapshot.UpdatedAt,
	}}

	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": documentID}, update, options.Update().SetUpsert(true))
	if err != nil {
		if errors.Is(err, mongo.ErrClientDisconnected) {
			return storage.ErrStorageClosed
		}
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot загружает snapshot документа
func (s *Storage) LoadSnapshot(ctx context.Context, documentID string) ([]byte, error) {
	var doc snapshotDocument

	err := s.collection.FindOne(ctx, bson.M{"_id": documentID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrSnapshotNotFound
		}
		if errors.Is(err, mongo.ErrClientDisconnected) {
			return nil, storage.ErrStorageClosed
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return storage.DecodeSnapshot(&models.Snapshot{
		DocumentID: doc.DocumentID,
		Content:    doc.Content,
		Checksum:   doc.Checksum,
		UpdatedAt:  doc.UpdatedAt,
	})
}
