// Package dataprocessing loads downloaded trade archives into the record store.
//
// An archive is unpacked into the extraction directory; each extracted
// spreadsheet or CSV file is read into a Table, its rows are mapped to
// domain.TradeRecord values by MapRow, and the valid records of one file are
// written with a single bulk insert. Files of other types are skipped.
//
// # Column mapping
//
// Columns are located by header name, case-insensitively:
//
//	year             optional, overrides the archive year
//	Period           optional, month as M, MM or YYYYMM
//	Partner_country  required
//	Product_code     required, kept as text
//	Value            required, numeric
//	Flow             optional, 1 means Import, anything else Export
//
// A row that cannot be mapped is reported as a RowDecodeError and skipped.
//
// # Failure scope
//
// A failing file, or a file with skipped rows, marks the whole archive as not
// parsed but does not stop its sibling files. Extracted files are removed
// once processed, whatever the outcome.
package dataprocessing
