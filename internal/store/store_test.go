package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"cbstrade/internal/config"
	apperrors "cbstrade/internal/errors"
	"cbstrade/pkg/contracts/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testStoreConfig(uri string) config.StoreConfig {
	cfg := config.Default().Store
	cfg.URI = uri
	cfg.ConnectTimeout = 5 * time.Second
	return cfg
}

func openMemoryStore(t *testing.T) Store {
	t.Helper()
	s, err := Open(context.Background(), testStoreConfig("sqlite::memory:"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func sampleRecord() domain.TradeRecord {
	return domain.TradeRecord{
		Year:           2023,
		Month:          3,
		PartnerCountry: "US",
		ProductCode:    "0101",
		Value:          100,
		Direction:      domain.DirectionImport,
	}
}

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("find missing metadata", func(t *testing.T) {
		s := open(t)
		_, err := s.FindMetadata(ctx, domain.MetadataKey{FileName: "nope.zip", Year: 2020, Month: 1})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("upsert replaces by key", func(t *testing.T) {
		s := open(t)
		meta := domain.FileMetadata{
			FileName:       "trade_2023_03.zip",
			Year:           2023,
			Month:          3,
			FileSize:       "1.2MB",
			LastUpdateDate: "01/04/2023",
			DownloadLink:   "https://example.test/trade_2023_03.zip",
			DataType:       domain.DataTypeExport,
			Parsed:         false,
		}
		require.NoError(t, s.UpsertMetadata(ctx, meta))

		meta.LastUpdateDate = "15/04/2023"
		meta.Parsed = true
		require.NoError(t, s.UpsertMetadata(ctx, meta))

		got, err := s.FindMetadata(ctx, meta.Key())
		require.NoError(t, err)
		assert.Equal(t, "15/04/2023", got.LastUpdateDate)
		assert.True(t, got.Parsed)
		assert.Equal(t, domain.DataTypeExport, got.DataType)
		assert.False(t, got.UpdatedAt.IsZero())

		all, err := s.ListMetadata(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("same file name in different periods is distinct", func(t *testing.T) {
		s := open(t)
		for _, month := range []int{4, 2, 3} {
			require.NoError(t, s.UpsertMetadata(ctx, domain.FileMetadata{
				FileName: "trade.zip", Year: 2023, Month: month, DataType: domain.DataTypeImport,
			}))
		}

		all, err := s.ListMetadata(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []int{2, 3, 4}, []int{all[0].Month, all[1].Month, all[2].Month})
	})

	t.Run("inserting the same record twice stores it once", func(t *testing.T) {
		s := open(t)
		rec := sampleRecord()

		res, err := s.InsertRecords(ctx, []domain.TradeRecord{rec})
		require.NoError(t, err)
		assert.Equal(t, domain.InsertResult{Inserted: 1}, res)

		res, err = s.InsertRecords(ctx, []domain.TradeRecord{rec})
		require.NoError(t, err)
		assert.Equal(t, domain.InsertResult{Duplicates: 1}, res)

		n, err := s.CountRecords(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("duplicates do not fail the rest of the batch", func(t *testing.T) {
		s := open(t)
		a := sampleRecord()
		b := sampleRecord()
		b.Direction = domain.DirectionExport
		c := sampleRecord()
		c.Value = 250.5

		res, err := s.InsertRecords(ctx, []domain.TradeRecord{a, a, b, c, b})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Inserted)
		assert.Equal(t, 2, res.Duplicates)

		n, err := s.CountRecords(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		s := open(t)
		res, err := s.InsertRecords(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.InsertResult{}, res)
	})
}

func TestSQLiteStoreContract(t *testing.T) {
	runStoreContract(t, openMemoryStore)
}

func TestMongoStoreContract(t *testing.T) {
	uri := os.Getenv("TRADEETL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TRADEETL_TEST_MONGO_URI not set")
	}

	runStoreContract(t, func(t *testing.T) Store {
		cfg := testStoreConfig(uri)
		cfg.Database = "tradeetl_test_" + strconv.FormatInt(time.Now().UnixNano(), 36)

		s, err := NewMongoStore(context.Background(), cfg, testLogger())
		require.NoError(t, err)
		t.Cleanup(func() {
			s.client.Database(cfg.Database).Drop(context.Background())
			s.Close(context.Background())
		})
		return s
	})
}

func TestSQLiteFilePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trade.db")
	cfg := testStoreConfig("sqlite://" + path)

	s, err := Open(ctx, cfg, testLogger())
	require.NoError(t, err)
	_, err = s.InsertRecords(ctx, []domain.TradeRecord{sampleRecord()})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	s, err = Open(ctx, cfg, testLogger())
	require.NoError(t, err)
	defer s.Close(ctx)

	res, err := s.InsertRecords(ctx, []domain.TradeRecord{sampleRecord()})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), testStoreConfig("postgres://user:secret@db:5432/x"), testLogger())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
	assert.NotContains(t, err.Error(), "secret")
}

func TestOpenRejectsEmptySQLitePath(t *testing.T) {
	_, err := Open(context.Background(), testStoreConfig("sqlite://"), testLogger())
	require.Error(t, err)
}

func TestSQLiteRejectsUnsafeTableNames(t *testing.T) {
	cfg := testStoreConfig("sqlite::memory:")
	cfg.RecordsCollection = "records; DROP TABLE x"
	_, err := Open(context.Background(), cfg, testLogger())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}

func TestRedactURI(t *testing.T) {
	assert.Equal(t, "mongodb://***@host:27017", redactURI("mongodb://user:pw@host:27017"))
	assert.Equal(t, "mongodb://localhost:27017", redactURI("mongodb://localhost:27017"))
	assert.Equal(t, "sqlite::memory:", redactURI("sqlite::memory:"))
}

func TestErrNotFoundIsSentinel(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), ErrNotFound)
	assert.ErrorIs(t, wrapped, ErrNotFound)
}
