// Package http serves the read-only status API of the trade ETL.
//
// The server is optional and runs next to a single ingestion run. Handlers
// are thin: they read the run state, the metadata store or the download
// folder and render JSON with go-chi/render.
//
// # Routes
//
//	GET /api/health    liveness and build version
//	GET /api/status    snapshot of the current run
//	GET /api/files     stored file metadata, ordered by period
//	GET /api/archives  archives kept in the download folder
//	GET /metrics       Prometheus exposition, when metrics are enabled
//
// Errors are rendered as an ErrorResponse envelope from internal/errors.
package http
