package domain

import (
	"fmt"
	"strings"
	"time"
)

// DataType is the site category a file was published under
type DataType string

const (
	DataTypeImport DataType = "import"
	DataTypeExport DataType = "export"
)

// ParseDataTypes expands a category filter into the data types to scrape.
// "both" (or an empty filter) yields export first, then import.
func ParseDataTypes(filter string) ([]DataType, error) {
	switch strings.ToLower(strings.TrimSpace(filter)) {
	case "", "both":
		return []DataType{DataTypeExport, DataTypeImport}, nil
	case string(DataTypeImport):
		return []DataType{DataTypeImport}, nil
	case string(DataTypeExport):
		return []DataType{DataTypeExport}, nil
	default:
		return nil, fmt.Errorf("unknown files type %q (want import, export or both)", filter)
	}
}

// MetadataKey identifies a published file across runs
type MetadataKey struct {
	FileName string `json:"file_name" bson:"file_name"`
	Year     int    `json:"year" bson:"year"`
	Month    int    `json:"month" bson:"month"`
}

// String formats the key for logs
func (k MetadataKey) String() string {
	return fmt.Sprintf("%s@%04d-%02d", k.FileName, k.Year, k.Month)
}

// FileMetadata is the per-file bookkeeping document. Its LastUpdateDate acts
// as the watermark that decides whether a file is downloaded again.
type FileMetadata struct {
	FileName       string    `json:"file_name" bson:"file_name" validate:"required"`
	Year           int       `json:"year" bson:"year" validate:"required"`
	Month          int       `json:"month" bson:"month" validate:"required,min=1,max=12"`
	FileSize       string    `json:"file_size" bson:"file_size"`
	LastUpdateDate string    `json:"last_update_date" bson:"last_update_date"`
	DownloadLink   string    `json:"download_link" bson:"download_link" validate:"required,url"`
	DataType       DataType  `json:"data_type" bson:"data_type" validate:"required,oneof=import export"`
	Parsed         bool      `json:"parsed" bson:"parsed"`
	UpdatedAt      time.Time `json:"updated_at" bson:"updated_at"`
}

// Key returns the metadata lookup key
func (m FileMetadata) Key() MetadataKey {
	return MetadataKey{FileName: m.FileName, Year: m.Year, Month: m.Month}
}

// TableEntry is one row of the published files table
type TableEntry struct {
	Row            int    `json:"row"`
	Year           int    `json:"year"`
	Month          int    `json:"month"`
	FileSize       string `json:"file_size"`
	LastUpdateDate string `json:"last_update_date"`
	Link           string `json:"link"`
}
