// Package manifest persists per-collection download state. The manifest is
// the cache-validation source of truth for conditional fetches: the stored
// last-modified token is replayed as an If-Modified-Since header on the next
// run.
package manifest

import (
	"encoding/json"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/glorpus-work/cbfetch/pkg/errors"
	"github.com/glorpus-work/cbfetch/pkg/fsutil"
)

// Record tracks what is known about one collection's local artifact.
// LastModified and ContentLength are pointers so that a missing observation
// survives a round trip as null instead of degrading to a zero value.
type Record struct {
	File          string  `json:"file"`
	LastModified  *string `json:"last_modified"`
	ContentLength *int64  `json:"content_length"`
	DownloadedAt  string  `json:"downloaded_at"`
}

// Manifest maps collection keys to their records.
type Manifest map[string]Record

// Store reads and writes the manifest file. It has no concurrency control of
// its own: callers load once, mutate in memory and save once per invocation.
type Store struct {
	fs   afero.Fs
	path string
}

// NewStore creates a store persisting to path on the given filesystem.
func NewStore(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// Path returns the manifest file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted manifest. A missing or unparseable file yields an
// empty manifest, never an error: corrupt prior state means "no prior
// knowledge", and the next save replaces it.
func (s *Store) Load() Manifest {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return Manifest{}
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}
	}
	if m == nil {
		return Manifest{}
	}
	return m
}

// Save serializes the manifest deterministically (pretty-printed, stable key
// order) and writes it atomically. Repeated saves of unchanged state produce
// byte-identical output.
func (s *Store) Save(m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrManifestSave, err.Error())
	}
	data = append(data, '\n')

	if err := s.fs.MkdirAll(filepath.Dir(s.path), fsutil.DirModeDefault); err != nil {
		return errors.Wrap(errors.ErrManifestSave, err.Error())
	}

	tmpPath := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmpPath, data, fsutil.FileModeDefault); err != nil {
		return errors.Wrap(errors.ErrManifestSave, err.Error())
	}
	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		_ = s.fs.Remove(tmpPath)
		return errors.Wrap(errors.ErrManifestSave, err.Error())
	}
	return nil
}
