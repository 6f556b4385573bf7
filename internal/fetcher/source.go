package fetcher

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
)

// Source opens the cached transcript documents of a sitting. Documents are
// laid out as <sitting>/<lang>.xml, e.g. 42-1-76/EN.xml.
type Source interface {
	// Open returns the document for one sitting and language.
	Open(ctx context.Context, sittingID string, lang model.Lang) (io.ReadCloser, error)

	// Sittings lists every sitting id with at least one document, sorted.
	Sittings(ctx context.Context) ([]string, error)
}

// ErrNotCached is returned when a requested document is absent from the cache.
var ErrNotCached = eris.New("fetcher: document not cached")

func documentName(sittingID string, lang model.Lang) string {
	return path.Join(sittingID, string(lang)+".xml")
}

func validSittingDir(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// DirSource reads documents from a directory tree on disk.
type DirSource struct {
	Dir string
}

// Open implements Source.
func (s DirSource) Open(ctx context.Context, sittingID string, lang model.Lang) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "dir: context cancelled")
	}
	if !validSittingDir(sittingID) {
		return nil, eris.Errorf("dir: invalid sitting id %q", sittingID)
	}
	f, err := os.Open(filepath.Join(s.Dir, filepath.FromSlash(documentName(sittingID, lang))))
	if os.IsNotExist(err) {
		return nil, eris.Wrapf(ErrNotCached, "dir: %s %s", sittingID, lang)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "dir: open %s %s", sittingID, lang)
	}
	return f, nil
}

// Sittings implements Source.
func (s DirSource) Sittings(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, eris.Wrapf(err, "dir: list %s", s.Dir)
	}
	var ids []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "dir: context cancelled")
		}
		if !e.IsDir() {
			continue
		}
		for _, lang := range model.Langs {
			if _, err := os.Stat(filepath.Join(s.Dir, e.Name(), string(lang)+".xml")); err == nil {
				ids = append(ids, e.Name())
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ZipSource reads documents from a ZIP archive of the cache directory. The
// archive is opened once and must be closed by the caller.
type ZipSource struct {
	r     *zip.ReadCloser
	files map[string]*zip.File
}

// OpenZipSource opens the archive at zipPath.
func OpenZipSource(zipPath string) (*ZipSource, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	s := &ZipSource{r: r, files: make(map[string]*zip.File)}
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		// Sanitize against zip slip
		name := path.Clean(strings.TrimPrefix(f.Name, "./"))
		if strings.HasPrefix(name, "../") || path.IsAbs(name) {
			_ = r.Close()
			return nil, eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
		}
		s.files[name] = f
	}
	return s, nil
}

// Open implements Source.
func (s *ZipSource) Open(ctx context.Context, sittingID string, lang model.Lang) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "zip: context cancelled")
	}
	f, ok := s.files[documentName(sittingID, lang)]
	if !ok {
		return nil, eris.Wrapf(ErrNotCached, "zip: %s %s", sittingID, lang)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open entry %s", f.Name)
	}
	return rc, nil
}

// Sittings implements Source.
func (s *ZipSource) Sittings(_ context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for name := range s.files {
		dir, file := path.Split(name)
		dir = strings.TrimSuffix(dir, "/")
		if !validSittingDir(dir) {
			continue
		}
		if lang, ok := model.ParseLang(strings.TrimSuffix(file, ".xml")); ok && file == string(lang)+".xml" {
			seen[dir] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close releases the archive.
func (s *ZipSource) Close() error {
	return eris.Wrap(s.r.Close(), "zip: close archive")
}
