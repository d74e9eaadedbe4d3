// Package download fetches published archives over plain HTTP.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"cbstrade/internal/config"
	apperrors "cbstrade/internal/errors"

	"golang.org/x/time/rate"
)

// Downloader performs rate limited GET requests with bounded retries.
type Downloader struct {
	client      *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	backoffBase time.Duration
	logger      *slog.Logger
}

// New builds a Downloader from cfg.
func New(cfg config.DownloadConfig, logger *slog.Logger) *Downloader {
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Downloader{
		client:      &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(limit, 1),
		maxAttempts: attempts,
		backoffBase: cfg.BackoffBase,
		logger:      logger.With(slog.String("component", "downloader")),
	}
}

// statusError is a non-200 response.
type statusError struct {
	Code   int
	Status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("bad status: %s", e.Status)
}

// localError is a failure writing the archive to disk.
type localError struct {
	Op  string
	Err error
}

func (e *localError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *localError) Unwrap() error {
	return e.Err
}

// retryable reports whether another attempt could succeed. Only transport
// failures and throttling or server statuses qualify.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var le *localError
	if errors.As(err, &le) || errors.Is(err, context.Canceled) {
		return false
	}
	var ue *url.Error
	var ne net.Error
	return errors.As(err, &ue) || errors.As(err, &ne) || errors.Is(err, io.ErrUnexpectedEOF)
}

// bodyReader remembers the last read error so a failed copy can be blamed on
// the connection or on the disk.
type bodyReader struct {
	r   io.Reader
	err error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF {
		b.err = err
	}
	return n, err
}

// Download fetches url into dest and returns the number of bytes written.
// The body is written to a temporary file next to dest and renamed on
// success, so dest never holds a partial archive.
func (d *Downloader) Download(ctx context.Context, url, dest string) (int64, error) {
	var written int64
	delay := d.backoffBase

	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err = d.limiter.Wait(ctx); err != nil {
			return 0, apperrors.NewTimeoutError("download cancelled", err).WithContext("url", url)
		}

		written, err = d.fetch(ctx, url, dest)
		if err == nil {
			d.logger.InfoContext(ctx, "File downloaded successfully",
				slog.String("file", filepath.Base(dest)),
				slog.Int64("size_bytes", written),
				slog.Int("attempt", attempt))
			return written, nil
		}

		if !retryable(err) || attempt == d.maxAttempts {
			break
		}

		d.logger.WarnContext(ctx, "Download attempt failed, retrying",
			slog.String("url", url),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return 0, apperrors.NewTimeoutError("download cancelled", ctx.Err()).WithContext("url", url)
		case <-time.After(delay):
		}
		delay *= 2
	}

	var le *localError
	if errors.As(err, &le) {
		return 0, apperrors.NewStorageError("failed to save download", err).WithContext("path", dest)
	}
	return 0, apperrors.NewNetworkError("download failed", err).WithContext("url", url)
}

func (d *Downloader) fetch(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", config.AppName)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, &statusError{Code: resp.StatusCode, Status: resp.Status}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, &localError{Op: "create download dir", Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, &localError{Op: "create file " + dest, Err: err}
	}
	defer os.Remove(tmp.Name())

	body := &bodyReader{r: resp.Body}
	written, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		if body.err != nil {
			return 0, fmt.Errorf("read body: %w", body.err)
		}
		return 0, &localError{Op: "write file " + dest, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return 0, &localError{Op: "close file " + dest, Err: err}
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, &localError{Op: "rename " + dest, Err: err}
	}
	return written, nil
}
