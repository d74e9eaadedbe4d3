package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cbstrade/internal/config"
	apperrors "cbstrade/internal/errors"
	"cbstrade/pkg/contracts/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Compile-time interface check.
var _ Store = (*MongoStore)(nil)

const duplicateKeyCode = 11000

// MongoStore implements Store on MongoDB collections.
type MongoStore struct {
	client   *mongo.Client
	metadata *mongo.Collection
	records  *mongo.Collection
	logger   *slog.Logger
}

// NewMongoStore connects, pings and ensures the unique indexes exist.
func NewMongoStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(cfg.ConnectTimeout).
		SetAppName(config.AppName))
	if err != nil {
		return nil, apperrors.NewStorageError("failed to connect to mongodb", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, apperrors.NewStorageError("failed to ping mongodb", err)
	}

	db := client.Database(cfg.Database)
	s := &MongoStore{
		client:   client,
		metadata: db.Collection(cfg.MetadataCollection),
		records:  db.Collection(cfg.RecordsCollection),
		logger:   logger.With(slog.String("component", "mongo_store")),
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	s.logger.Info("MongoDB store ready",
		slog.String("uri", redactURI(cfg.URI)),
		slog.String("database", cfg.Database))
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.records.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "year", Value: 1},
			{Key: "month", Value: 1},
			{Key: "partner_country", Value: 1},
			{Key: "product_code", Value: 1},
			{Key: "value", Value: 1},
			{Key: "direction", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("record_natural_key"),
	})
	if err != nil {
		return apperrors.NewStorageError("failed to create trade record index", err)
	}

	_, err = s.metadata.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "file_name", Value: 1},
			{Key: "year", Value: 1},
			{Key: "month", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("file_period_key"),
	})
	if err != nil {
		return apperrors.NewStorageError("failed to create file metadata index", err)
	}
	return nil
}

func keyFilter(key domain.MetadataKey) bson.D {
	return bson.D{
		{Key: "file_name", Value: key.FileName},
		{Key: "year", Value: key.Year},
		{Key: "month", Value: key.Month},
	}
}

// FindMetadata returns the stored metadata for key or ErrNotFound.
func (s *MongoStore) FindMetadata(ctx context.Context, key domain.MetadataKey) (*domain.FileMetadata, error) {
	var meta domain.FileMetadata
	err := s.metadata.FindOne(ctx, keyFilter(key)).Decode(&meta)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewStorageError("failed to read file metadata", err).WithContext("key", key.String())
	}
	return &meta, nil
}

// UpsertMetadata inserts or replaces the document with meta's key.
func (s *MongoStore) UpsertMetadata(ctx context.Context, meta domain.FileMetadata) error {
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = time.Now().UTC()
	}
	_, err := s.metadata.UpdateOne(ctx, keyFilter(meta.Key()),
		bson.D{{Key: "$set", Value: meta}},
		options.Update().SetUpsert(true))
	if err != nil {
		return apperrors.NewStorageError("failed to upsert file metadata", err).WithContext("key", meta.Key().String())
	}
	return nil
}

// ListMetadata returns every stored document ordered by period and name.
func (s *MongoStore) ListMetadata(ctx context.Context) ([]domain.FileMetadata, error) {
	cursor, err := s.metadata.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{
		{Key: "year", Value: 1},
		{Key: "month", Value: 1},
		{Key: "file_name", Value: 1},
	}))
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list file metadata", err)
	}
	defer cursor.Close(ctx)

	var out []domain.FileMetadata
	if err := cursor.All(ctx, &out); err != nil {
		return nil, apperrors.NewStorageError("failed to decode file metadata", err)
	}
	return out, nil
}

// InsertRecords performs one unordered InsertMany. Duplicate key write
// errors are counted as duplicates; the rest of the batch is still written.
func (s *MongoStore) InsertRecords(ctx context.Context, records []domain.TradeRecord) (domain.InsertResult, error) {
	if len(records) == 0 {
		return domain.InsertResult{}, nil
	}

	docs := make([]interface{}, len(records))
	for i := range records {
		docs[i] = records[i]
	}

	_, err := s.records.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return domain.InsertResult{Inserted: len(docs)}, nil
	}

	var bulkErr mongo.BulkWriteException
	if !errors.As(err, &bulkErr) || bulkErr.WriteConcernError != nil {
		return domain.InsertResult{}, apperrors.NewStorageError("failed to insert trade records", err)
	}

	duplicates := 0
	for _, we := range bulkErr.WriteErrors {
		if we.Code != duplicateKeyCode {
			return domain.InsertResult{}, apperrors.NewStorageError("failed to insert trade records", err).
				WithContext("index", we.Index)
		}
		duplicates++
	}
	return domain.InsertResult{Inserted: len(docs) - duplicates, Duplicates: duplicates}, nil
}

// CountRecords returns the number of stored records.
func (s *MongoStore) CountRecords(ctx context.Context) (int64, error) {
	n, err := s.records.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, apperrors.NewStorageError("failed to count trade records", err)
	}
	return n, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
