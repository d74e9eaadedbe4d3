package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains the resolved working directories of a run
type Paths struct {
	DownloadsDir string
	ExtractDir   string
}

// GetPaths resolves the configured directories to absolute paths
func (c *Config) GetPaths() (*Paths, error) {
	downloads, err := filepath.Abs(c.Paths.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download dir: %w", err)
	}
	extract, err := filepath.Abs(c.Paths.ExtractDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve extract dir: %w", err)
	}
	return &Paths{DownloadsDir: downloads, ExtractDir: extract}, nil
}

// EnsureDirectories creates all required directories
func (p *Paths) EnsureDirectories() error {
	dirs := []string{p.DownloadsDir, p.ExtractDir}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// GetDownloadPath returns the full path for a downloaded archive
func (p *Paths) GetDownloadPath(filename string) string {
	return filepath.Join(p.DownloadsDir, filename)
}

// LogPathResolution logs the resolved directories
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	logger.Info("Resolved working directories",
		slog.String("downloads_dir", p.DownloadsDir),
		slog.String("extract_dir", p.ExtractDir))
}
