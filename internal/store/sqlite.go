package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"cbstrade/internal/config"
	apperrors "cbstrade/internal/errors"
	"cbstrade/pkg/contracts/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteStore implements Store on a local SQLite database. The collections
// become two tables; the record uniqueness rule is a UNIQUE constraint.
type SQLiteStore struct {
	db            *sql.DB
	metadataTable string
	recordsTable  string
	logger        *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and creates the
// tables if needed.
func NewSQLiteStore(ctx context.Context, path string, cfg config.StoreConfig, logger *slog.Logger) (*SQLiteStore, error) {
	if !identPattern.MatchString(cfg.MetadataCollection) || !identPattern.MatchString(cfg.RecordsCollection) {
		return nil, apperrors.NewConfigError("collection names must be plain identifiers for the sqlite store", nil)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to open sqlite database", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:            db,
		metadataTable: cfg.MetadataCollection,
		recordsTable:  cfg.RecordsCollection,
		logger:        logger.With(slog.String("component", "sqlite_store")),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("SQLite store ready", slog.String("path", path))
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			file_name        TEXT    NOT NULL,
			year             INTEGER NOT NULL,
			month            INTEGER NOT NULL,
			file_size        TEXT    NOT NULL DEFAULT '',
			last_update_date TEXT    NOT NULL DEFAULT '',
			download_link    TEXT    NOT NULL DEFAULT '',
			data_type        TEXT    NOT NULL DEFAULT '',
			parsed           INTEGER NOT NULL DEFAULT 0,
			updated_at       TEXT    NOT NULL DEFAULT '',
			PRIMARY KEY (file_name, year, month)
		)`, s.metadataTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			year            INTEGER NOT NULL,
			month           INTEGER NOT NULL,
			partner_country TEXT    NOT NULL,
			product_code    TEXT    NOT NULL,
			value           REAL    NOT NULL,
			direction       TEXT    NOT NULL,
			UNIQUE (year, month, partner_country, product_code, value, direction)
		)`, s.recordsTable),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperrors.NewStorageError("failed to create sqlite schema", err)
		}
	}
	return nil
}

// FindMetadata returns the stored metadata for key or ErrNotFound.
func (s *SQLiteStore) FindMetadata(ctx context.Context, key domain.MetadataKey) (*domain.FileMetadata, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT file_name, year, month, file_size, last_update_date,
		download_link, data_type, parsed, updated_at FROM %s WHERE file_name = ? AND year = ? AND month = ?`, s.metadataTable),
		key.FileName, key.Year, key.Month)

	meta, err := scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewStorageError("failed to read file metadata", err).WithContext("key", key.String())
	}
	return meta, nil
}

// UpsertMetadata inserts or replaces the document with meta's key.
func (s *SQLiteStore) UpsertMetadata(ctx context.Context, meta domain.FileMetadata) error {
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s
		(file_name, year, month, file_size, last_update_date, download_link, data_type, parsed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_name, year, month) DO UPDATE SET
			file_size = excluded.file_size,
			last_update_date = excluded.last_update_date,
			download_link = excluded.download_link,
			data_type = excluded.data_type,
			parsed = excluded.parsed,
			updated_at = excluded.updated_at`, s.metadataTable),
		meta.FileName, meta.Year, meta.Month, meta.FileSize, meta.LastUpdateDate,
		meta.DownloadLink, string(meta.DataType), meta.Parsed, meta.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return apperrors.NewStorageError("failed to upsert file metadata", err).WithContext("key", meta.Key().String())
	}
	return nil
}

// ListMetadata returns every stored document ordered by period and name.
func (s *SQLiteStore) ListMetadata(ctx context.Context) ([]domain.FileMetadata, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT file_name, year, month, file_size, last_update_date,
		download_link, data_type, parsed, updated_at FROM %s ORDER BY year, month, file_name`, s.metadataTable))
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list file metadata", err)
	}
	defer rows.Close()

	var out []domain.FileMetadata
	for rows.Next() {
		meta, err := scanMetadata(rows)
		if err != nil {
			return nil, apperrors.NewStorageError("failed to scan file metadata", err)
		}
		out = append(out, *meta)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("failed to list file metadata", err)
	}
	return out, nil
}

// InsertRecords inserts records in one transaction; rows violating the
// uniqueness constraint are ignored and counted as duplicates.
func (s *SQLiteStore) InsertRecords(ctx context.Context, records []domain.TradeRecord) (domain.InsertResult, error) {
	var result domain.InsertResult
	if len(records) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, apperrors.NewStorageError("failed to begin insert transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s
		(year, month, partner_country, product_code, value, direction) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`, s.recordsTable))
	if err != nil {
		return result, apperrors.NewStorageError("failed to prepare record insert", err)
	}
	defer stmt.Close()

	for _, r := range records {
		res, err := stmt.ExecContext(ctx, r.Year, r.Month, r.PartnerCountry, r.ProductCode, r.Value, string(r.Direction))
		if err != nil {
			return domain.InsertResult{}, apperrors.NewStorageError("failed to insert trade record", err).WithContext("record", r.String())
		}
		n, err := res.RowsAffected()
		if err != nil {
			return domain.InsertResult{}, apperrors.NewStorageError("failed to read insert result", err)
		}
		if n == 0 {
			result.Duplicates++
		} else {
			result.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.InsertResult{}, apperrors.NewStorageError("failed to commit trade records", err)
	}
	return result, nil
}

// CountRecords returns the number of stored records.
func (s *SQLiteStore) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.recordsTable)).Scan(&n); err != nil {
		return 0, apperrors.NewStorageError("failed to count trade records", err)
	}
	return n, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close(_ context.Context) error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row rowScanner) (*domain.FileMetadata, error) {
	var (
		meta      domain.FileMetadata
		dataType  string
		updatedAt string
	)
	if err := row.Scan(&meta.FileName, &meta.Year, &meta.Month, &meta.FileSize, &meta.LastUpdateDate,
		&meta.DownloadLink, &dataType, &meta.Parsed, &updatedAt); err != nil {
		return nil, err
	}
	meta.DataType = domain.DataType(dataType)
	if updatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			meta.UpdatedAt = t
		}
	}
	return &meta, nil
}
