package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "cbstrade/internal/errors"
	"cbstrade/internal/files"
	"cbstrade/internal/ingestion"
	"cbstrade/internal/middleware"
	"cbstrade/pkg/contracts/domain"
)

type MockMetadataLister struct {
	mock.Mock
}

func (m *MockMetadataLister) ListMetadata(ctx context.Context) ([]domain.FileMetadata, error) {
	args := m.Called(ctx)
	docs, _ := args.Get(0).([]domain.FileMetadata)
	return docs, args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, lister MetadataLister, archiveDir string, metrics http.Handler) (http.Handler, *ingestion.RunState) {
	t.Helper()
	state := ingestion.NewRunState()
	h := NewStatusHandler("1.2.3", state, lister, files.NewDiscovery(archiveDir), testLogger())
	return NewRouter(h, metrics, nil, testLogger()), state
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestRouter(t, &MockMetadataLister{}, t.TempDir(), nil)

	rec := doGet(t, router, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
}

func TestRequestIDIsEchoed(t *testing.T) {
	router, _ := newTestRouter(t, &MockMetadataLister{}, t.TempDir(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(middleware.RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(middleware.RequestIDHeader))
}

func TestStatusReflectsRunState(t *testing.T) {
	router, state := newTestRouter(t, &MockMetadataLister{}, t.TempDir(), nil)

	var snap ingestion.RunSnapshot
	rec := doGet(t, router, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, ingestion.RunStatusPending, snap.Status)

	state.Start("trace-9", "export")
	state.SetCurrent("export", "exp_2023_01.zip")
	state.SetSummary(ingestion.RunSummary{EntriesSeen: 4, Skipped: 3})

	rec = doGet(t, router, "/api/status")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, ingestion.RunStatusRunning, snap.Status)
	assert.Equal(t, "trace-9", snap.TraceID)
	assert.Equal(t, "exp_2023_01.zip", snap.CurrentFile)
	assert.Equal(t, 3, snap.Summary.Skipped)
}

func TestFiles(t *testing.T) {
	lister := &MockMetadataLister{}
	lister.On("ListMetadata", mock.Anything).Return([]domain.FileMetadata{
		{FileName: "exp_2023_01.zip", Year: 2023, Month: 1, DataType: domain.DataTypeExport, Parsed: true},
		{FileName: "imp_2023_01.zip", Year: 2023, Month: 1, DataType: domain.DataTypeImport},
	}, nil)
	router, _ := newTestRouter(t, lister, t.TempDir(), nil)

	rec := doGet(t, router, "/api/files")
	require.Equal(t, http.StatusOK, rec.Code)

	var body FilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "exp_2023_01.zip", body.Files[0].FileName)
	assert.True(t, body.Files[0].Parsed)
	lister.AssertExpectations(t)
}

func TestFilesEmptyIsArray(t *testing.T) {
	lister := &MockMetadataLister{}
	lister.On("ListMetadata", mock.Anything).Return(nil, nil)
	router, _ := newTestRouter(t, lister, t.TempDir(), nil)

	rec := doGet(t, router, "/api/files")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"files":[]}`, rec.Body.String())
}

func TestFilesStoreFailure(t *testing.T) {
	lister := &MockMetadataLister{}
	lister.On("ListMetadata", mock.Anything).Return(nil,
		apperrors.NewStorageError("failed to list metadata", errors.New("connection refused")))
	router, _ := newTestRouter(t, lister, t.TempDir(), nil)

	rec := doGet(t, router, "/api/files")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")

	var body struct {
		Success bool `json:"success"`
		Error   struct {
			ErrorCode string `json:"error_code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "STORAGE_ERROR", body.Error.ErrorCode)
}

func TestArchives(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "exp_2023_01.zip")
	newer := filepath.Join(dir, "exp_2023_02.zip")
	require.NoError(t, os.WriteFile(older, []byte("zip"), 0644))
	require.NoError(t, os.WriteFile(newer, []byte("zip!"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	router, _ := newTestRouter(t, &MockMetadataLister{}, dir, nil)
	rec := doGet(t, router, "/api/archives")
	require.Equal(t, http.StatusOK, rec.Code)

	var body ArchivesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "exp_2023_02.zip", body.Archives[0].Name)
	assert.Equal(t, int64(4), body.Archives[0].Size)
	assert.NotContains(t, rec.Body.String(), dir)
}

func TestMetricsMount(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "tradeetl_records_inserted_total 3\n")
	})

	router, _ := newTestRouter(t, &MockMetadataLister{}, t.TempDir(), metrics)
	rec := doGet(t, router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tradeetl_records_inserted_total")

	router, _ = newTestRouter(t, &MockMetadataLister{}, t.TempDir(), nil)
	rec = doGet(t, router, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t, &MockMetadataLister{}, t.TempDir(), nil)
	rec := doGet(t, router, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestRecovererReturns500(t *testing.T) {
	h := middleware.Recoverer(testLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := doGet(t, h, "/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_SERVER_ERROR")
}

func TestServerStopsOnCancel(t *testing.T) {
	router, _ := newTestRouter(t, &MockMetadataLister{}, t.TempDir(), nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(ln.Addr().String(), router, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
