// Package extract pulls the CSV payload out of downloaded export archives so
// downstream import tooling can consume it from a plain path.
package extract

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"

	pkgerrors "github.com/glorpus-work/cbfetch/pkg/errors"
	"github.com/glorpus-work/cbfetch/pkg/fsutil"
)

// Importer loads an extracted CSV payload into a named table. Implementations
// live outside this module; the pipeline only hands them files.
type Importer interface {
	Import(ctx context.Context, csvPath, table string) (rows int64, err error)
}

// Payload extracts the single CSV entry of the archive at archivePath into
// destDir and returns the extracted file's path. Archives with no CSV entry
// yield ErrNoPayload.
func Payload(ctx context.Context, archivePath, destDir string) (string, error) {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return "", pkgerrors.Wrapf(pkgerrors.ErrArchiveCorrupt, "%s: %v", archivePath, err)
	}
	defer closeFS(fsys)

	entry, err := findCSV(fsys)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "%s", archivePath)
	}

	if err := fsutil.EnsureDir(destDir); err != nil {
		return "", err
	}
	destPath := filepath.Join(destDir, path.Base(entry))
	if err := copyEntry(fsys, entry, destPath); err != nil {
		return "", err
	}
	return destPath, nil
}

// findCSV walks the archive and returns the first CSV entry. The export
// format ships exactly one.
func findCSV(fsys fs.FS) (string, error) {
	var found string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(path.Ext(p), ".csv") {
			return nil
		}
		found = p
		return fs.SkipAll
	})
	if err != nil {
		return "", pkgerrors.Wrap(err, "could not walk archive")
	}
	if found == "" {
		return "", pkgerrors.ErrNoPayload
	}
	return found, nil
}

func copyEntry(fsys fs.FS, entry, destPath string) error {
	src, err := fsys.Open(entry)
	if err != nil {
		return pkgerrors.Wrapf(err, "could not open archive entry %s", entry)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fsutil.FileModeDefault)
	if err != nil {
		return pkgerrors.Wrap(err, "could not create payload file")
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(destPath)
		return pkgerrors.Wrap(err, "could not write payload file")
	}
	return dst.Close()
}

func closeFS(fsys fs.FS) {
	if closer, ok := fsys.(io.Closer); ok {
		_ = closer.Close()
	}
}
