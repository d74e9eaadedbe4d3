package dataprocessing

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	apperrors "cbstrade/internal/errors"
	"cbstrade/internal/files"
	"cbstrade/internal/store"
	"cbstrade/pkg/contracts/domain"
)

// Processor unpacks an archive and loads every table in it into the record
// store, one bulk insert per extracted file.
type Processor struct {
	files   *files.Manager
	records store.RecordStore
	logger  *slog.Logger
}

// NewProcessor creates a processor writing to records.
func NewProcessor(fm *files.Manager, records store.RecordStore, logger *slog.Logger) *Processor {
	return &Processor{
		files:   fm,
		records: records,
		logger:  logger.With(slog.String("component", "processor")),
	}
}

// Process loads the archive at archivePath. Result.Parsed is false when any
// extracted file failed or had undecodable rows; the other files are still
// loaded. The returned error is reserved for faults that must stop the run:
// record store failures and cancellation.
func (p *Processor) Process(ctx context.Context, archivePath string, period Period) (Result, error) {
	result := Result{Archive: filepath.Base(archivePath), Parsed: true}
	logger := p.logger.With(slog.String("archive", result.Archive))

	extracted, err := p.files.ExtractArchive(archivePath)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to extract archive", slog.String("error", err.Error()))
		result.Parsed = false
		result.Failures = append(result.Failures, FileFailure{File: result.Archive, Reason: err.Error()})
		return result, nil
	}

	for i, path := range extracted {
		if err := ctx.Err(); err != nil {
			p.cleanup(extracted[i:])
			return result, err
		}

		fr, err := p.processFile(ctx, path, period)
		if delErr := p.files.DeleteFile(path); delErr != nil {
			logger.WarnContext(ctx, "Failed to remove extracted file", slog.String("file", path))
		}

		result.Files = append(result.Files, fr)
		result.Inserted.Add(fr.Inserted)
		result.RowErrors += len(fr.RowErrors)

		if err != nil {
			if apperrors.IsType(err, apperrors.ErrTypeStorage) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				p.cleanup(extracted[i+1:])
				return result, err
			}
			logger.ErrorContext(ctx, "Error processing file",
				slog.String("file", fr.Name),
				slog.String("error", err.Error()))
			result.Parsed = false
			result.Failures = append(result.Failures, FileFailure{File: fr.Name, Reason: err.Error()})
			continue
		}
		if len(fr.RowErrors) > 0 {
			result.Parsed = false
		}
	}

	if result.Parsed {
		logger.InfoContext(ctx, "Successfully processed and stored data",
			slog.Int("files", len(result.Files)),
			slog.Int("inserted", result.Inserted.Inserted),
			slog.Int("duplicates", result.Inserted.Duplicates))
	} else {
		logger.WarnContext(ctx, "Archive processed with failures",
			slog.Int("failed_files", len(result.Failures)),
			slog.Int("row_errors", result.RowErrors))
	}
	return result, nil
}

func (p *Processor) processFile(ctx context.Context, path string, period Period) (FileResult, error) {
	fr := FileResult{Name: filepath.Base(path), Kind: files.DetectKind(path)}
	if fr.Kind == files.KindUnsupported {
		fr.Skipped = true
		p.logger.InfoContext(ctx, "Unsupported file type, skipping", slog.String("file", fr.Name))
		return fr, nil
	}

	p.logger.InfoContext(ctx, "Processing file", slog.String("file", fr.Name), slog.String("kind", fr.Kind.String()))

	table, err := ReadTable(path, fr.Kind)
	if err != nil {
		return fr, err
	}
	for _, reason := range table.Skipped {
		p.logger.DebugContext(ctx, "Skipping sheet", slog.String("file", fr.Name), slog.String("reason", reason))
	}
	cols, err := NewColumnMap(table.Header)
	if err != nil {
		return fr, apperrors.NewParsingError("unexpected table header", err).WithContext("file", fr.Name)
	}

	records := make([]domain.TradeRecord, 0, len(table.Rows))
	for i, row := range table.Rows {
		if isBlank(row) {
			continue
		}
		rec, err := MapRow(cols, row, table.FirstRow+i, period)
		if err != nil {
			var rowErr *RowDecodeError
			if errors.As(err, &rowErr) {
				fr.RowErrors = append(fr.RowErrors, *rowErr)
			}
			p.logger.DebugContext(ctx, "Skipping row", slog.String("file", fr.Name), slog.String("error", err.Error()))
			continue
		}
		records = append(records, rec)
	}
	fr.Rows = len(records)

	if len(fr.RowErrors) > 0 {
		p.logger.WarnContext(ctx, "Rows could not be decoded",
			slog.String("file", fr.Name),
			slog.Int("count", len(fr.RowErrors)),
			slog.String("first", fr.RowErrors[0].Error()))
	}

	if len(records) == 0 {
		return fr, nil
	}

	res, err := p.records.InsertRecords(ctx, records)
	if err != nil {
		return fr, err
	}
	fr.Inserted = res

	p.logger.InfoContext(ctx, "Inserted documents",
		slog.String("file", fr.Name),
		slog.Int("inserted", res.Inserted),
		slog.Int("duplicates", res.Duplicates))
	return fr, nil
}

func (p *Processor) cleanup(paths []string) {
	for _, path := range paths {
		p.files.DeleteFile(path)
	}
}
