package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "cbstrade/internal/errors"
	"cbstrade/internal/files"
	"cbstrade/internal/ingestion"
	"cbstrade/pkg/contracts/domain"
)

// MetadataLister is the read side of the metadata store
type MetadataLister interface {
	ListMetadata(ctx context.Context) ([]domain.FileMetadata, error)
}

// ArchiveLister lists the archives kept in the download folder
type ArchiveLister interface {
	FindArchives() ([]files.FileInfo, error)
}

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// FilesResponse is the body of GET /api/files
type FilesResponse struct {
	Count int                   `json:"count"`
	Files []domain.FileMetadata `json:"files"`
}

// ArchivesResponse is the body of GET /api/archives
type ArchivesResponse struct {
	Count    int              `json:"count"`
	Archives []files.FileInfo `json:"archives"`
}

// StatusHandler serves the read-only view of the pipeline
type StatusHandler struct {
	version  string
	state    *ingestion.RunState
	metadata MetadataLister
	archives ArchiveLister
	logger   *slog.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(version string, state *ingestion.RunState, metadata MetadataLister, archives ArchiveLister, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		version:  version,
		state:    state,
		metadata: metadata,
		archives: archives,
		logger:   logger.With(slog.String("handler", "status")),
	}
}

// Routes returns the /api routes
func (h *StatusHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/health", h.HealthCheck)
	r.Get("/status", h.Status)
	r.Get("/files", h.Files)
	r.Get("/archives", h.Archives)
	return r
}

// HealthCheck handles GET /api/health
func (h *StatusHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
	})
}

// Status handles GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.state.Snapshot())
}

// Files handles GET /api/files
func (h *StatusHandler) Files(w http.ResponseWriter, r *http.Request) {
	docs, err := h.metadata.ListMetadata(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to list file metadata",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.FromError(err)))
		return
	}
	if docs == nil {
		docs = []domain.FileMetadata{}
	}
	render.JSON(w, r, FilesResponse{Count: len(docs), Files: docs})
}

// Archives handles GET /api/archives
func (h *StatusHandler) Archives(w http.ResponseWriter, r *http.Request) {
	found, err := h.archives.FindArchives()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to list archives",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
		return
	}
	if found == nil {
		found = []files.FileInfo{}
	}
	render.JSON(w, r, ArchivesResponse{Count: len(found), Archives: found})
}
