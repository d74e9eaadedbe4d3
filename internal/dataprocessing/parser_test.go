package dataprocessing

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "cbstrade/internal/errors"
	"cbstrade/internal/files"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeXLSX(t *testing.T, path string, sheets map[string][][]any) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	first := true
	for name, rows := range sheets {
		if first {
			require.NoError(t, f.SetSheetName("Sheet1", name))
			first = false
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}
	require.NoError(t, f.SaveAs(path))
}

func TestReadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	content := "\ufeffProduct_code,Partner_country,Value,Flow\n0101,US,100,1\n\"0202\", DE,\"1,500\",2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	table, err := ReadTable(path, files.KindCSV)
	require.NoError(t, err)
	assert.Equal(t, []string{"Product_code", "Partner_country", "Value", "Flow"}, table.Header)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"0202", "DE", "1,500", "2"}, table.Rows[1])
	assert.Equal(t, 2, table.FirstRow)
}

func TestReadEmptyCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	_, err := ReadTable(path, files.KindCSV)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeParsing))
}

func TestReadSpreadsheetFindsTradeSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.xlsx")
	writeXLSX(t, path, map[string][][]any{
		"Notes": {{"הערות"}, {"generated"}},
		"Data": {
			{"year", "Period", "Partner_country", "Product_code", "Value", "Flow"},
			{2023, 3, "US", "0101", 100.5, 1},
			{2023, 3, "GB", "0202", 7, 2},
		},
	})

	table, err := ReadTable(path, files.KindSpreadsheet)
	require.NoError(t, err)
	assert.Equal(t, "Data", table.Sheet)
	assert.Equal(t, 2, table.FirstRow)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "0101", table.Rows[0][3])
	assert.Equal(t, "100.5", table.Rows[0][4])
}

func TestReadLegacySpreadsheet(t *testing.T) {
	table, err := ReadTable(filepath.Join("testdata", "trade.xls"), files.KindLegacySpreadsheet)
	require.NoError(t, err)
	assert.Equal(t, "Data", table.Sheet)
	assert.Equal(t, []string{"year", "Period", "Partner_country", "Product_code", "Value", "Flow"}, table.Header)
	assert.Equal(t, 2, table.FirstRow)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"2023", "3", "US", "0101", "100.5", "1"}, table.Rows[0])
	assert.Equal(t, "GB", table.Rows[1][2])
	assert.Equal(t, []string{"Notes: missing columns: partner_country, product_code, value"}, table.Skipped)
}

func TestReadCorruptLegacySpreadsheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trade.xls")
	ole2Signature := []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	require.NoError(t, os.WriteFile(path, append(ole2Signature, make([]byte, 600)...), 0644))

	var err error
	assert.NotPanics(t, func() {
		_, err = ReadTable(path, files.KindLegacySpreadsheet)
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeParsing))
}

func TestReadSpreadsheetWithoutTradeColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.xlsx")
	writeXLSX(t, path, map[string][][]any{
		"Sheet": {{"a", "b"}, {1, 2}},
	})

	_, err := ReadTable(path, files.KindSpreadsheet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sheet with trade columns")
}

func TestReadCorruptSpreadsheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("not a workbook"), 0644))

	_, err := ReadTable(path, files.KindSpreadsheet)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeParsing))
}

func TestReadUnsupported(t *testing.T) {
	_, err := ReadTable("notes.txt", files.KindUnsupported)
	require.Error(t, err)
}
