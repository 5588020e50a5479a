package fetch

import (
	"context"

	"github.com/glorpus-work/cbfetch/pkg/manifest"
	"github.com/glorpus-work/cbfetch/pkg/verify"
)

// Status classifies the outcome of one collection's fetch.
type Status string

const (
	// StatusDownloaded means a fresh archive was written and passed the
	// post-download quick check.
	StatusDownloaded Status = "downloaded"
	// StatusUpToDate means the remote reported not-modified and the valid
	// local artifact was kept.
	StatusUpToDate Status = "up_to_date"
	// StatusFailed covers network errors, non-success statuses and
	// corrupt downloads.
	StatusFailed Status = "failed"
)

// Result is the per-collection outcome of a fetch run. Callers must key
// results by collection, not position: completion order is unspecified.
type Result struct {
	Status       Status
	Path         string
	LastModified *string
	Err          error
}

// Options control a fetch run.
type Options struct {
	// Force skips cache validation and always downloads.
	Force bool
	// Verify quick-checks existing artifacts before the fetch decision and
	// deletes the ones that fail.
	Verify bool
	// Full makes repair checks decompress every archive entry instead of
	// the quick structural check.
	Full bool
	// Concurrency bounds simultaneous downloads; <=0 uses a default.
	Concurrency int
	// RateLimit caps each download's throughput in bytes per second;
	// 0 means unlimited.
	RateLimit int64
}

// Verifier is the subset of the integrity verifier used by the orchestrator.
type Verifier interface {
	QuickCheck(ctx context.Context, path string) verify.Result
	FullCheck(ctx context.Context, path string) verify.Result
	CheckSize(path string, expected *int64) verify.Result
}

// ManifestStore is the subset of the manifest store used by the orchestrator.
type ManifestStore interface {
	Load() manifest.Manifest
	Save(m manifest.Manifest) error
}
