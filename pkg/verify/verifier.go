// Package verify checks downloaded collection archives. Integrity is split
// into three independent predicates (format, size, checksum) so callers can
// pick the cheapest sufficient check: QuickCheck before every fetch decision,
// FullCheck only on explicit operator request.
package verify

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/mholt/archives"
)

// Result is the outcome of a single verification predicate. It is computed on
// demand and never persisted.
type Result struct {
	OK     bool
	Reason string
}

func valid() Result {
	return Result{OK: true}
}

func invalid(reason string) Result {
	return Result{OK: false, Reason: reason}
}

// Verifier validates local archive files.
type Verifier struct{}

// New creates a new Verifier.
func New() *Verifier {
	return &Verifier{}
}

// QuickCheck verifies that the file exists, is non-empty, opens as a
// structured archive and contains at least one entry. It is O(open +
// list-entries) and performs no content scan.
func (v *Verifier) QuickCheck(ctx context.Context, path string) Result {
	if r, ok := v.statChecks(path); !ok {
		return r
	}

	fsys, err := archives.FileSystem(ctx, path, nil)
	if err != nil {
		return invalid("invalid archive format")
	}
	defer closeFS(fsys)

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return invalid("invalid archive format")
	}
	if len(entries) == 0 {
		return invalid("archive has no entries")
	}
	return valid()
}

// FullCheck runs QuickCheck and then reads every entry to EOF, which forces
// per-entry checksum validation. Expensive: O(archive size).
func (v *Verifier) FullCheck(ctx context.Context, path string) Result {
	if r := v.QuickCheck(ctx, path); !r.OK {
		return r
	}

	fsys, err := archives.FileSystem(ctx, path, nil)
	if err != nil {
		return invalid("invalid archive format")
	}
	defer closeFS(fsys)

	walkErr := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := fsys.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(io.Discard, f)
		return err
	})
	if walkErr != nil {
		return invalid(fmt.Sprintf("checksum validation failed: %v", walkErr))
	}
	return valid()
}

// CheckSize compares the file's byte size against the expected size from the
// manifest. A nil expected size always passes: absence of evidence cannot
// disprove integrity.
func (v *Verifier) CheckSize(path string, expected *int64) Result {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return invalid("file does not exist")
	}
	if err != nil {
		return invalid(fmt.Sprintf("cannot stat file: %v", err))
	}
	if expected == nil {
		return valid()
	}
	if info.Size() != *expected {
		return invalid(fmt.Sprintf("size mismatch: expected %d bytes, got %d bytes", *expected, info.Size()))
	}
	return valid()
}

func (v *Verifier) statChecks(path string) (Result, bool) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return invalid("file does not exist"), false
	}
	if err != nil {
		return invalid(fmt.Sprintf("cannot stat file: %v", err)), false
	}
	if info.Size() == 0 {
		return invalid("file is empty"), false
	}
	return valid(), true
}

func closeFS(fsys fs.FS) {
	if closer, ok := fsys.(io.Closer); ok {
		_ = closer.Close()
	}
}
