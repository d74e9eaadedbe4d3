package dataprocessing

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	apperrors "cbstrade/internal/errors"
	"cbstrade/internal/files"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// Table is the raw content of one extracted file: a header row and the data
// rows below it, cells as text.
type Table struct {
	Sheet  string
	Header []string
	Rows   [][]string
	// FirstRow is the 1-based source row number of Rows[0].
	FirstRow int
	// Skipped lists the sheets passed over before Sheet, as "name: reason".
	Skipped []string
}

// ReadTable loads path according to kind.
func ReadTable(path string, kind files.Kind) (*Table, error) {
	switch kind {
	case files.KindSpreadsheet:
		return readSpreadsheet(path)
	case files.KindLegacySpreadsheet:
		return readLegacySpreadsheet(path)
	case files.KindCSV:
		return readCSV(path)
	default:
		return nil, apperrors.NewParsingError("unsupported file type", nil).WithContext("path", path)
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewParsingError("failed to open csv file", err).WithContext("path", path)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, apperrors.NewParsingError("csv file is empty", nil).WithContext("path", path)
	}
	if err != nil {
		return nil, apperrors.NewParsingError("failed to read csv header", err).WithContext("path", path)
	}

	table := &Table{Header: header, FirstRow: 2}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.NewParsingError("failed to read csv row", err).WithContext("path", path)
		}
		table.Rows = append(table.Rows, rec)
	}
	return table, nil
}

// readSpreadsheet picks the first sheet whose first non-empty row carries the
// required trade columns.
func readSpreadsheet(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, apperrors.NewParsingError("failed to open spreadsheet", err).WithContext("path", path)
	}
	defer f.Close()

	var picker sheetPicker
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			picker.skip(name, err.Error())
			continue
		}
		if table := picker.offer(name, rows); table != nil {
			return table, nil
		}
	}
	return nil, picker.notFound(path)
}

// readLegacySpreadsheet reads a BIFF workbook with the same sheet selection as
// readSpreadsheet.
func readLegacySpreadsheet(path string) (table *Table, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewParsingError("failed to open xls file", err).WithContext("path", path)
	}
	defer f.Close()

	// The BIFF decoder panics on truncated or corrupt input.
	defer func() {
		if r := recover(); r != nil {
			table = nil
			err = apperrors.NewParsingError("corrupt xls file", fmt.Errorf("%v", r)).WithContext("path", path)
		}
	}()

	if err := checkCompoundHeader(f); err != nil {
		return nil, apperrors.NewParsingError("not an xls workbook", err).WithContext("path", path)
	}
	wb, err := xls.OpenReader(f, "utf-8")
	if err != nil {
		return nil, apperrors.NewParsingError("failed to open xls file", err).WithContext("path", path)
	}

	var picker sheetPicker
	for i := 0; i < wb.NumSheets(); i++ {
		sheet := wb.GetSheet(i)
		if sheet == nil {
			continue
		}
		if table := picker.offer(sheet.Name, legacyRows(sheet)); table != nil {
			return table, nil
		}
	}
	return nil, picker.notFound(path)
}

var compoundSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// checkCompoundHeader verifies the 512-byte OLE2 header and rewinds f.
func checkCompoundHeader(f io.ReadSeeker) error {
	header := make([]byte, 512)
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(header[:len(compoundSignature)], compoundSignature) {
		return errors.New("missing compound file signature")
	}
	if header[28] != 0xFE || header[29] != 0xFF {
		return errors.New("invalid byte order mark")
	}
	_, err := f.Seek(0, io.SeekStart)
	return err
}

// legacyRows flattens a BIFF sheet into text rows. Missing rows become empty
// rows so source row numbers are preserved.
func legacyRows(sheet *xls.WorkSheet) [][]string {
	rows := make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, 0, row.LastCol()+1)
		for c := 0; c <= row.LastCol(); c++ {
			cells = append(cells, row.Col(c))
		}
		for len(cells) > 0 && strings.TrimSpace(cells[len(cells)-1]) == "" {
			cells = cells[:len(cells)-1]
		}
		rows = append(rows, cells)
	}
	return rows
}

// sheetPicker accepts the first sheet with a trade header and remembers why
// earlier sheets were rejected.
type sheetPicker struct {
	seen    []string
	skipped []string
}

func (p *sheetPicker) skip(name, reason string) {
	p.seen = append(p.seen, name)
	p.skipped = append(p.skipped, name+": "+reason)
}

func (p *sheetPicker) offer(name string, rows [][]string) *Table {
	headerIdx := firstNonEmptyRow(rows)
	if headerIdx < 0 {
		p.skip(name, "empty sheet")
		return nil
	}
	if _, err := NewColumnMap(rows[headerIdx]); err != nil {
		p.skip(name, err.Error())
		return nil
	}
	return &Table{
		Sheet:    name,
		Header:   rows[headerIdx],
		Rows:     rows[headerIdx+1:],
		FirstRow: headerIdx + 2,
		Skipped:  p.skipped,
	}
}

func (p *sheetPicker) notFound(path string) error {
	return apperrors.NewParsingError("no sheet with trade columns found", nil).
		WithContext("path", path).
		WithContext("sheets", fmt.Sprint(p.seen)).
		WithContext("skipped", strings.Join(p.skipped, "; "))
}

func firstNonEmptyRow(rows [][]string) int {
	for i, row := range rows {
		if !isBlank(row) {
			return i
		}
	}
	return -1
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
