package files

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Kind classifies an extracted file by its name.
type Kind int

const (
	KindUnsupported Kind = iota
	KindSpreadsheet
	// KindLegacySpreadsheet is a BIFF (.xls) workbook.
	KindLegacySpreadsheet
	KindCSV
)

func (k Kind) String() string {
	switch k {
	case KindSpreadsheet:
		return "spreadsheet"
	case KindLegacySpreadsheet:
		return "xls"
	case KindCSV:
		return "csv"
	default:
		return "unsupported"
	}
}

// DetectKind returns the table format implied by the file extension.
func DetectKind(name string) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return KindSpreadsheet
	case ".xls":
		return KindLegacySpreadsheet
	case ".csv":
		return KindCSV
	default:
		return KindUnsupported
	}
}

// FileInfo represents information about a discovered file
type FileInfo struct {
	Path    string    `json:"-"`
	Name    string    `json:"name"`
	Size    int64     `json:"size_bytes"`
	ModTime time.Time `json:"modified_at"`
}

// Discovery lists files kept in a directory
type Discovery struct {
	basePath string
}

// NewDiscovery creates a new file discovery instance
func NewDiscovery(basePath string) *Discovery {
	return &Discovery{basePath: basePath}
}

// FindArchives returns the zip archives in the base directory, newest first.
// A missing directory yields no files.
func (d *Discovery) FindArchives() ([]FileInfo, error) {
	entries, err := os.ReadDir(d.basePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", d.basePath, err)
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".zip") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Path:    filepath.Join(d.basePath, entry.Name()),
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].Name < files[j].Name
		}
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}
