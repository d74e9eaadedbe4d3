package files

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cbstrade/internal/config"
	apperrors "cbstrade/internal/errors"
)

// Manager owns the download and extraction directories.
type Manager struct {
	paths  *config.Paths
	logger *slog.Logger
}

// NewManager creates a new file manager instance
func NewManager(paths *config.Paths, logger *slog.Logger) *Manager {
	return &Manager{
		paths:  paths,
		logger: logger.With(slog.String("component", "files")),
	}
}

// Paths returns the directories the manager works in.
func (m *Manager) Paths() *config.Paths {
	return m.paths
}

// ArchivePath returns where an archive named name is stored. Only the base
// name is used so a crafted link cannot escape the download directory.
func (m *Manager) ArchivePath(name string) string {
	return m.paths.GetDownloadPath(filepath.Base(name))
}

// ExtractArchive unpacks every regular file of the zip at archivePath into
// the extraction directory and returns the extracted paths in archive order.
// Directory structure inside the archive is flattened to base names.
func (m *Manager) ExtractArchive(archivePath string) ([]string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, apperrors.NewParsingError("failed to open archive", err).WithContext("archive", archivePath)
	}
	defer r.Close()

	if err := os.MkdirAll(m.paths.ExtractDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}

	var extracted []string
	seen := make(map[string]bool)
	for i, f := range r.File {
		if !f.Mode().IsRegular() {
			continue
		}

		dest, err := m.safeExtractPath(f.Name)
		if err != nil {
			m.removeAll(extracted)
			return nil, err
		}
		// Members sharing a base name in different folders must not overwrite each other.
		if seen[dest] {
			dest = filepath.Join(filepath.Dir(dest), fmt.Sprintf("%d_%s", i, filepath.Base(dest)))
		}
		seen[dest] = true
		if err := extractOne(f, dest); err != nil {
			m.removeAll(append(extracted, dest))
			return nil, apperrors.NewParsingError("failed to extract archive member", err).
				WithContext("archive", archivePath).
				WithContext("member", f.Name)
		}

		m.logger.Debug("Extracted archive member",
			slog.String("archive", filepath.Base(archivePath)),
			slog.String("member", f.Name),
			slog.Uint64("size_bytes", f.UncompressedSize64))
		extracted = append(extracted, dest)
	}
	return extracted, nil
}

// safeExtractPath maps an archive member name to a path directly inside the
// extraction directory.
func (m *Manager) safeExtractPath(name string) (string, error) {
	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	if base == "." || base == ".." || base == string(filepath.Separator) || base == "" {
		return "", apperrors.NewParsingError("invalid archive member name", nil).WithContext("member", name)
	}

	dest := filepath.Join(m.paths.ExtractDir, base)
	rel, err := filepath.Rel(m.paths.ExtractDir, dest)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", apperrors.NewParsingError("archive member escapes extraction directory", err).WithContext("member", name)
	}
	return dest, nil
}

func extractOne(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// DeleteFile deletes a file; a missing file is not an error.
func (m *Manager) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to delete file",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (m *Manager) removeAll(paths []string) {
	for _, p := range paths {
		m.DeleteFile(p)
	}
}
