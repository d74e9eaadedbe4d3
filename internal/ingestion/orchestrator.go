package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"cbstrade/internal/config"
	"cbstrade/internal/dataprocessing"
	apperrors "cbstrade/internal/errors"
	"cbstrade/internal/files"
	"cbstrade/internal/infrastructure"
	"cbstrade/internal/scraper"
	"cbstrade/internal/store"
	"cbstrade/pkg/contracts/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Renderer returns the files page with the table for one subject rendered.
type Renderer interface {
	RenderTable(ctx context.Context, siteURL, subjectOption string) (string, error)
}

// Downloader fetches an archive to a local path.
type Downloader interface {
	Download(ctx context.Context, url, dest string) (int64, error)
}

// ArchiveProcessor loads a downloaded archive into the record store.
type ArchiveProcessor interface {
	Process(ctx context.Context, archivePath string, period dataprocessing.Period) (dataprocessing.Result, error)
}

// Options configures a run.
type Options struct {
	SiteURL      string
	ImportOption string
	ExportOption string
	RetryFailed  bool
}

// OptionsFromConfig extracts run options from the application config
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SiteURL:      cfg.Site.URL,
		ImportOption: cfg.Site.ImportOption,
		ExportOption: cfg.Site.ExportOption,
		RetryFailed:  cfg.Ingestion.RetryFailed,
	}
}

// Dependencies are the collaborators of an Orchestrator. Metrics, Tracer
// and State are optional.
type Dependencies struct {
	Renderer   Renderer
	Downloader Downloader
	Processor  ArchiveProcessor
	Metadata   store.MetadataStore
	Files      *files.Manager
	Metrics    *infrastructure.PipelineMetrics
	Tracer     trace.Tracer
	State      *RunState
}

// Orchestrator runs the pipeline strictly sequentially: one table pass per
// data type, one archive at a time.
type Orchestrator struct {
	opts Options
	site *url.URL
	deps Dependencies

	logger *slog.Logger
}

// New validates opts and deps and builds an Orchestrator.
func New(opts Options, deps Dependencies, logger *slog.Logger) (*Orchestrator, error) {
	site, err := url.Parse(opts.SiteURL)
	if err != nil || site.Scheme == "" || site.Host == "" {
		return nil, apperrors.NewConfigError(fmt.Sprintf("invalid site URL %q", opts.SiteURL), err)
	}
	if deps.Renderer == nil || deps.Downloader == nil || deps.Processor == nil || deps.Metadata == nil || deps.Files == nil {
		return nil, apperrors.NewConfigError("orchestrator is missing a dependency", nil)
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("ingestion")
	}
	if deps.State == nil {
		deps.State = NewRunState()
	}

	return &Orchestrator{
		opts:   opts,
		site:   site,
		deps:   deps,
		logger: logger.With(slog.String("component", "ingestion")),
	}, nil
}

// State exposes the run state for status readers.
func (o *Orchestrator) State() *RunState {
	return o.deps.State
}

// Run scrapes the given category (import, export or both) and loads every new
// or changed file. Per-file faults are counted in the summary; structural page
// faults, store failures and cancellation end the run with an error.
func (o *Orchestrator) Run(ctx context.Context, category string) (RunSummary, error) {
	var summary RunSummary

	dataTypes, err := domain.ParseDataTypes(category)
	if err != nil {
		return summary, apperrors.NewConfigError("invalid files type", err)
	}

	ctx = infrastructure.EnsureTraceID(ctx)
	o.deps.State.Start(infrastructure.GetTraceID(ctx), category)

	ctx, span := o.deps.Tracer.Start(ctx, "ingestion.run",
		trace.WithAttributes(attribute.String("category", category)))
	defer span.End()

	o.logger.InfoContext(ctx, "Run started",
		slog.String("category", category),
		slog.String("site", o.opts.SiteURL),
		slog.Bool("retry_failed", o.opts.RetryFailed))
	start := time.Now()

	for _, dt := range dataTypes {
		if err = o.runDataType(ctx, dt, &summary); err != nil {
			break
		}
	}

	cancelled := err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
	o.deps.State.Finish(summary, err, cancelled)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.ErrorContext(ctx, "Run failed",
			slog.String("error", err.Error()),
			slog.Any("summary", summary),
			slog.Duration("duration", time.Since(start)))
		return summary, err
	}

	o.logger.InfoContext(ctx, "Run finished",
		slog.Any("summary", summary),
		slog.Duration("duration", time.Since(start)))
	return summary, nil
}

func (o *Orchestrator) subjectOption(dt domain.DataType) string {
	if dt == domain.DataTypeImport {
		return o.opts.ImportOption
	}
	return o.opts.ExportOption
}

func (o *Orchestrator) runDataType(ctx context.Context, dt domain.DataType, summary *RunSummary) error {
	ctx, span := o.deps.Tracer.Start(ctx, "ingestion.data_type",
		trace.WithAttributes(attribute.String("data_type", string(dt))))
	defer span.End()

	o.deps.State.SetCurrent(string(dt), "")
	html, err := o.deps.Renderer.RenderTable(ctx, o.opts.SiteURL, o.subjectOption(dt))
	if err != nil {
		return fmt.Errorf("render %s table: %w", dt, err)
	}

	for entry, err := range scraper.ExtractEntries(html) {
		if err != nil {
			var rowErr *scraper.RowError
			if !errors.As(err, &rowErr) {
				return fmt.Errorf("extract %s table: %w", dt, err)
			}
			summary.RowErrors++
			o.deps.Metrics.RecordRowError(ctx, string(dt))
			o.logger.WarnContext(ctx, "Skipping table row",
				slog.String("data_type", string(dt)),
				slog.String("error", err.Error()))
			continue
		}

		summary.EntriesSeen++
		if err := o.handleEntry(ctx, dt, entry, summary); err != nil {
			return err
		}
		o.deps.State.SetSummary(*summary)
	}
	return nil
}

func (o *Orchestrator) handleEntry(ctx context.Context, dt domain.DataType, entry domain.TableEntry, summary *RunSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	downloadURL, fileName, err := ResolveLink(o.site, entry.Link)
	if err != nil {
		summary.RowErrors++
		o.deps.Metrics.RecordRowError(ctx, string(dt))
		o.logger.WarnContext(ctx, "Skipping table row with bad link",
			slog.Int("row", entry.Row),
			slog.String("error", err.Error()))
		return nil
	}

	key := domain.MetadataKey{FileName: fileName, Year: entry.Year, Month: entry.Month}
	logger := o.logger.With(
		slog.String("file", fileName),
		slog.Int("year", entry.Year),
		slog.Int("month", entry.Month),
		slog.String("data_type", string(dt)))

	existing, err := o.deps.Metadata.FindMetadata(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		existing = nil
	} else if err != nil {
		return err
	}

	decision := Decide(existing, entry, o.opts.RetryFailed)
	o.deps.Metrics.RecordEntry(ctx, string(dt), string(decision))

	switch decision {
	case DecisionSkip:
		summary.Skipped++
		logger.DebugContext(ctx, "File is up-to-date, skipping download")
		return nil
	case DecisionUpdated:
		logger.InfoContext(ctx, "File has been updated, downloading the new version",
			slog.String("previous_update", existing.LastUpdateDate),
			slog.String("last_update", entry.LastUpdateDate))
	case DecisionRetry:
		logger.InfoContext(ctx, "File failed to parse last time, downloading again")
	default:
		logger.InfoContext(ctx, "New file found, downloading")
	}

	ctx, span := o.deps.Tracer.Start(ctx, "ingestion.file", trace.WithAttributes(
		attribute.String("file", fileName),
		attribute.Int("year", entry.Year),
		attribute.Int("month", entry.Month),
		attribute.String("decision", string(decision))))
	defer span.End()

	o.deps.State.SetCurrent(string(dt), fileName)
	dest := o.deps.Files.ArchivePath(fileName)

	started := time.Now()
	size, err := o.deps.Downloader.Download(ctx, downloadURL, dest)
	o.deps.Metrics.RecordDownload(ctx, time.Since(started), err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		summary.DownloadFailures++
		span.RecordError(err)
		logger.ErrorContext(ctx, "Download failed, entry left for the next run",
			slog.String("url", downloadURL),
			slog.String("error", err.Error()))
		return nil
	}
	summary.Downloaded++
	logger.DebugContext(ctx, "Archive downloaded", slog.Int64("size_bytes", size))

	started = time.Now()
	result, err := o.deps.Processor.Process(ctx, dest, dataprocessing.Period{Year: entry.Year, Month: entry.Month})
	o.deps.Metrics.RecordProcess(ctx, time.Since(started), result.Parsed && err == nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("process %s: %w", fileName, err)
	}
	o.deps.Metrics.RecordInsert(ctx, result.Inserted.Inserted, result.Inserted.Duplicates)

	summary.RecordsInserted += result.Inserted.Inserted
	summary.Duplicates += result.Inserted.Duplicates
	summary.RecordErrors += result.RowErrors
	if result.Parsed {
		summary.ParsedOK++
	} else {
		summary.ParseFailures++
		span.SetStatus(codes.Error, "archive not fully parsed")
	}

	meta := domain.FileMetadata{
		FileName:       fileName,
		Year:           entry.Year,
		Month:          entry.Month,
		FileSize:       entry.FileSize,
		LastUpdateDate: entry.LastUpdateDate,
		DownloadLink:   downloadURL,
		DataType:       dt,
		Parsed:         result.Parsed,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := o.deps.Metadata.UpsertMetadata(ctx, meta); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Stored file metadata",
		slog.Bool("parsed", meta.Parsed),
		slog.Int("inserted", result.Inserted.Inserted),
		slog.Int("duplicates", result.Inserted.Duplicates))
	return nil
}
