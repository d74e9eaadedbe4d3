package dataprocessing

import (
	"cbstrade/internal/files"
	"cbstrade/pkg/contracts/domain"
)

// Result is the outcome of processing one archive.
type Result struct {
	Archive   string
	Parsed    bool
	Files     []FileResult
	Failures  []FileFailure
	Inserted  domain.InsertResult
	RowErrors int
}

// FileResult describes one extracted file.
type FileResult struct {
	Name      string
	Kind      files.Kind
	Skipped   bool
	Rows      int
	RowErrors []RowDecodeError
	Inserted  domain.InsertResult
}

// FileFailure is an extracted file (or the archive itself) that could not be
// loaded.
type FileFailure struct {
	File   string
	Reason string
}
