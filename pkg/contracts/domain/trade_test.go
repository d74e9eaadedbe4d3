package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectionFromFlow(t *testing.T) {
	tests := []struct {
		name string
		flow string
		want Direction
	}{
		{name: "code 1", flow: "1", want: DirectionImport},
		{name: "spreadsheet float", flow: "1.0", want: DirectionImport},
		{name: "padded", flow: " 1 ", want: DirectionImport},
		{name: "code 2", flow: "2", want: DirectionExport},
		{name: "code 0", flow: "0", want: DirectionExport},
		{name: "missing", flow: "", want: DirectionExport},
		{name: "garbage", flow: "import", want: DirectionExport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DirectionFromFlow(tt.flow))
		})
	}
}

func TestParseDataTypes(t *testing.T) {
	got, err := ParseDataTypes("both")
	require.NoError(t, err)
	assert.Equal(t, []DataType{DataTypeExport, DataTypeImport}, got)

	got, err = ParseDataTypes("")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = ParseDataTypes("Import")
	require.NoError(t, err)
	assert.Equal(t, []DataType{DataTypeImport}, got)

	got, err = ParseDataTypes("export")
	require.NoError(t, err)
	assert.Equal(t, []DataType{DataTypeExport}, got)

	_, err = ParseDataTypes("transit")
	assert.Error(t, err)
}

func TestInsertResultAdd(t *testing.T) {
	var total InsertResult
	total.Add(InsertResult{Inserted: 3, Duplicates: 1})
	total.Add(InsertResult{Inserted: 2})
	assert.Equal(t, InsertResult{Inserted: 5, Duplicates: 1}, total)
}

func TestFileMetadataKey(t *testing.T) {
	meta := FileMetadata{FileName: "trade_2023_03.zip", Year: 2023, Month: 3}
	key := meta.Key()
	assert.Equal(t, MetadataKey{FileName: "trade_2023_03.zip", Year: 2023, Month: 3}, key)
	assert.Equal(t, "trade_2023_03.zip@2023-03", key.String())
}
