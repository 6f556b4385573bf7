package fetcher

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
)

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return dir
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close() //nolint:errcheck
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestDirSource_Open(t *testing.T) {
	dir := writeCorpus(t, map[string]string{
		"42-1-76/EN.xml": "<Hansard/>",
		"42-1-76/FR.xml": "<Hansard lang='fr'/>",
	})
	src := DirSource{Dir: dir}

	rc, err := src.Open(context.Background(), "42-1-76", model.FR)
	require.NoError(t, err)
	assert.Equal(t, "<Hansard lang='fr'/>", readAll(t, rc))

	_, err = src.Open(context.Background(), "42-1-77", model.EN)
	assert.True(t, errors.Is(err, ErrNotCached))

	_, err = src.Open(context.Background(), "../etc", model.EN)
	assert.Error(t, err)
}

func TestDirSource_Sittings(t *testing.T) {
	dir := writeCorpus(t, map[string]string{
		"42-1-76/EN.xml":  "<Hansard/>",
		"42-1-2/FR.xml":   "<Hansard/>",
		"42-1-3/notes.md": "not a document",
		"README":          "ignored",
	})

	ids, err := DirSource{Dir: dir}.Sittings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"42-1-2", "42-1-76"}, ids)
}

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "corpus.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, body := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return p
}

func TestZipSource(t *testing.T) {
	p := writeZip(t, map[string]string{
		"42-1-76/EN.xml": "<Hansard>en</Hansard>",
		"42-1-76/FR.xml": "<Hansard>fr</Hansard>",
		"42-1-80/EN.xml": "<Hansard/>",
		"other/file.txt": "ignored",
	})
	src, err := OpenZipSource(p)
	require.NoError(t, err)
	defer src.Close() //nolint:errcheck

	ids, err := src.Sittings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"42-1-76", "42-1-80"}, ids)

	rc, err := src.Open(context.Background(), "42-1-76", model.EN)
	require.NoError(t, err)
	assert.Equal(t, "<Hansard>en</Hansard>", readAll(t, rc))

	_, err = src.Open(context.Background(), "42-1-80", model.FR)
	assert.True(t, errors.Is(err, ErrNotCached))
}

func TestZipSource_ZipSlip(t *testing.T) {
	p := writeZip(t, map[string]string{"../evil/EN.xml": "x"})
	_, err := OpenZipSource(p)
	require.Error(t, err)
}
