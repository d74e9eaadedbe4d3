package files

import (
	"archive/zip"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cbstrade/internal/config"
	apperrors "cbstrade/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	paths := &config.Paths{
		DownloadsDir: filepath.Join(root, "downloads"),
		ExtractDir:   filepath.Join(root, "extracted"),
	}
	require.NoError(t, paths.EnsureDirectories())
	return NewManager(paths, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func writeZip(t *testing.T, path string, members map[string]string, order ...string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for _, name := range order {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(members[name]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func TestExtractArchive(t *testing.T) {
	m := newTestManager(t)
	archive := m.ArchivePath("trade_2023_03.zip")
	writeZip(t, archive, map[string]string{
		"data.csv":        "a,b\n1,2\n",
		"nested/more.csv": "c\n3\n",
		"readme.txt":      "hello",
	}, "data.csv", "nested/more.csv", "readme.txt")

	extracted, err := m.ExtractArchive(archive)
	require.NoError(t, err)
	require.Len(t, extracted, 3)

	assert.Equal(t, filepath.Join(m.Paths().ExtractDir, "data.csv"), extracted[0])
	assert.Equal(t, filepath.Join(m.Paths().ExtractDir, "more.csv"), extracted[1])

	data, err := os.ReadFile(extracted[1])
	require.NoError(t, err)
	assert.Equal(t, "c\n3\n", string(data))

	for _, p := range extracted {
		require.NoError(t, m.DeleteFile(p))
		assert.NoFileExists(t, p)
	}
	assert.FileExists(t, archive, "downloaded archive is kept")
}

func TestExtractArchiveFlattensTraversal(t *testing.T) {
	m := newTestManager(t)
	archive := m.ArchivePath("evil.zip")
	writeZip(t, archive, map[string]string{
		"../../escape.csv": "x\n",
	}, "../../escape.csv")

	extracted, err := m.ExtractArchive(archive)
	require.NoError(t, err)
	require.Len(t, extracted, 1)
	assert.Equal(t, m.Paths().ExtractDir, filepath.Dir(extracted[0]))
	assert.Equal(t, "escape.csv", filepath.Base(extracted[0]))
}

func TestExtractArchiveKeepsSameNamedMembers(t *testing.T) {
	m := newTestManager(t)
	archive := m.ArchivePath("dup.zip")
	writeZip(t, archive, map[string]string{
		"a/data.csv": "first\n",
		"b/data.csv": "second\n",
	}, "a/data.csv", "b/data.csv")

	extracted, err := m.ExtractArchive(archive)
	require.NoError(t, err)
	require.Len(t, extracted, 2)
	assert.NotEqual(t, extracted[0], extracted[1])

	first, _ := os.ReadFile(extracted[0])
	second, _ := os.ReadFile(extracted[1])
	assert.Equal(t, "first\n", string(first))
	assert.Equal(t, "second\n", string(second))
}

func TestExtractArchiveRejectsNonZip(t *testing.T) {
	m := newTestManager(t)
	archive := m.ArchivePath("broken.zip")
	require.NoError(t, os.WriteFile(archive, []byte("<html>not a zip</html>"), 0644))

	_, err := m.ExtractArchive(archive)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeParsing))
}

func TestArchivePathUsesBaseName(t *testing.T) {
	m := newTestManager(t)
	assert.Equal(t, filepath.Join(m.Paths().DownloadsDir, "x.zip"), m.ArchivePath("../../x.zip"))
}

func TestDeleteMissingFile(t *testing.T) {
	m := newTestManager(t)
	assert.NoError(t, m.DeleteFile(filepath.Join(m.Paths().ExtractDir, "gone.csv")))
}

func TestDetectKind(t *testing.T) {
	tests := map[string]Kind{
		"a.xlsx":    KindSpreadsheet,
		"A.XLS":     KindLegacySpreadsheet,
		"b.csv":     KindCSV,
		"c.txt":     KindUnsupported,
		"noext":     KindUnsupported,
		"d.csv.bak": KindUnsupported,
	}
	for name, want := range tests {
		assert.Equal(t, want, DetectKind(name), name)
	}
	assert.Equal(t, "csv", KindCSV.String())
	assert.Equal(t, "xls", KindLegacySpreadsheet.String())
}

func TestFindArchives(t *testing.T) {
	m := newTestManager(t)
	dir := m.Paths().DownloadsDir

	old := filepath.Join(dir, "old.zip")
	recent := filepath.Join(dir, "recent.ZIP")
	require.NoError(t, os.WriteFile(old, []byte("1"), 0644))
	require.NoError(t, os.WriteFile(recent, []byte("22"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.zip"), 0755))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	files, err := NewDiscovery(dir).FindArchives()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "recent.ZIP", files[0].Name)
	assert.Equal(t, int64(2), files[0].Size)
	assert.Equal(t, "old.zip", files[1].Name)
}

func TestFindArchivesMissingDir(t *testing.T) {
	files, err := NewDiscovery(filepath.Join(t.TempDir(), "nope")).FindArchives()
	require.NoError(t, err)
	assert.Empty(t, files)
}
