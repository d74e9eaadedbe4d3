package ingestion

import "log/slog"

// RunSummary counts what a run did. RowErrors counts table rows that could
// not be read; RecordErrors counts archive rows that could not be mapped.
type RunSummary struct {
	EntriesSeen      int `json:"entries_seen"`
	Skipped          int `json:"skipped"`
	Downloaded       int `json:"downloaded"`
	ParsedOK         int `json:"parsed_ok"`
	ParseFailures    int `json:"parse_failures"`
	RowErrors        int `json:"row_errors"`
	RecordErrors     int `json:"record_errors"`
	DownloadFailures int `json:"download_failures"`
	RecordsInserted  int `json:"records_inserted"`
	Duplicates       int `json:"duplicates"`
}

// LogValue implements slog.LogValuer.
func (s RunSummary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("entries_seen", s.EntriesSeen),
		slog.Int("skipped", s.Skipped),
		slog.Int("downloaded", s.Downloaded),
		slog.Int("parsed_ok", s.ParsedOK),
		slog.Int("parse_failures", s.ParseFailures),
		slog.Int("row_errors", s.RowErrors),
		slog.Int("record_errors", s.RecordErrors),
		slog.Int("download_failures", s.DownloadFailures),
		slog.Int("records_inserted", s.RecordsInserted),
		slog.Int("duplicates", s.Duplicates),
	)
}
