// Package store persists file bookkeeping and normalized trade records.
//
// Two independent collections are kept: file metadata keyed by
// (file_name, year, month), and trade records unique over their whole tuple.
// Backends are selected by URI scheme, see Open.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cbstrade/internal/config"
	apperrors "cbstrade/internal/errors"
	"cbstrade/pkg/contracts/domain"
)

// ErrNotFound is returned by FindMetadata when no document matches the key
var ErrNotFound = errors.New("metadata not found")

// MetadataStore persists per-file bookkeeping.
type MetadataStore interface {
	// FindMetadata returns the stored metadata for key or ErrNotFound.
	FindMetadata(ctx context.Context, key domain.MetadataKey) (*domain.FileMetadata, error)

	// UpsertMetadata inserts or replaces the document with meta's key.
	UpsertMetadata(ctx context.Context, meta domain.FileMetadata) error

	// ListMetadata returns every stored document ordered by period and name.
	ListMetadata(ctx context.Context) ([]domain.FileMetadata, error)
}

// RecordStore persists trade records.
type RecordStore interface {
	// InsertRecords bulk inserts records. Duplicates of already stored
	// records (or of earlier members of the same batch) are skipped and
	// counted; they never fail the rest of the batch.
	InsertRecords(ctx context.Context, records []domain.TradeRecord) (domain.InsertResult, error)

	// CountRecords returns the number of stored records.
	CountRecords(ctx context.Context) (int64, error)
}

// Store is a connected backend holding both collections.
type Store interface {
	MetadataStore
	RecordStore
	Close(ctx context.Context) error
}

// Open connects to the backend named by cfg.URI:
//
//	mongodb://host:27017, mongodb+srv://...  MongoDB
//	sqlite://path/to/file.db                 SQLite file
//	sqlite::memory:                          SQLite in memory
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	uri := strings.TrimSpace(cfg.URI)
	switch {
	case strings.HasPrefix(uri, "mongodb://"), strings.HasPrefix(uri, "mongodb+srv://"):
		s, err := NewMongoStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case uri == "sqlite::memory:":
		return openSQLite(ctx, ":memory:", cfg, logger)
	case strings.HasPrefix(uri, "sqlite://"):
		path := strings.TrimPrefix(uri, "sqlite://")
		if path == "" {
			return nil, apperrors.NewConfigError("sqlite store URI has no path", nil)
		}
		return openSQLite(ctx, path, cfg, logger)
	default:
		return nil, apperrors.NewConfigError(fmt.Sprintf("unsupported store URI %q", redactURI(uri)), nil)
	}
}

func openSQLite(ctx context.Context, path string, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	s, err := NewSQLiteStore(ctx, path, cfg, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// redactURI hides credentials embedded in a connection string
func redactURI(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return uri
}
