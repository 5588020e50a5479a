// Package fetch decides, per collection, whether to skip, re-fetch or repair
// the local archive, and runs the bounded concurrent downloads that follow
// from those decisions.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/glorpus-work/cbfetch/internal/logger"
	"github.com/glorpus-work/cbfetch/pkg/collection"
	pkgerrors "github.com/glorpus-work/cbfetch/pkg/errors"
	"github.com/glorpus-work/cbfetch/pkg/fsutil"
	"github.com/glorpus-work/cbfetch/pkg/manifest"
	"github.com/glorpus-work/cbfetch/pkg/probe"
)

// DefaultConcurrency is used when Options.Concurrency is not positive.
const DefaultConcurrency = 4

// Orchestrator coordinates manifest state, integrity checks and streamed
// downloads for a set of collections.
type Orchestrator struct {
	client    *http.Client
	userAgent string
	destDir   string
	registry  []collection.Collection
	store     ManifestStore
	verifier  Verifier
}

// New creates an orchestrator writing archives into destDir. The registry is
// passed in explicitly rather than read from ambient state, so callers (and
// tests) control exactly which collections exist.
func New(timeout time.Duration, userAgent, destDir string, registry []collection.Collection, store ManifestStore, verifier Verifier) *Orchestrator {
	if userAgent == "" {
		userAgent = "cbfetch/1.0"
	}
	return &Orchestrator{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		destDir:   destDir,
		registry:  registry,
		store:     store,
		verifier:  verifier,
	}
}

// get looks up a collection key in the orchestrator's registry.
func (o *Orchestrator) get(key string) (collection.Collection, bool) {
	for _, c := range o.registry {
		if c.Key == key {
			return c, true
		}
	}
	return collection.Collection{}, false
}

// keys returns the sorted keys of the orchestrator's registry.
func (o *Orchestrator) keys() []string {
	keys := make([]string, 0, len(o.registry))
	for _, c := range o.registry {
		keys = append(keys, c.Key)
	}
	sort.Strings(keys)
	return keys
}

// Fetch runs the per-collection decision procedure for every requested key
// and returns outcomes keyed by collection. Per-collection failures become
// classified results; only configuration errors (unknown key) and a failed
// manifest save are returned as errors.
func (o *Orchestrator) Fetch(ctx context.Context, keys []string, userKey string, opts Options) (map[string]Result, error) {
	colls := make([]collection.Collection, 0, len(keys))
	for _, key := range keys {
		coll, ok := o.get(key)
		if !ok {
			return nil, pkgerrors.Wrapf(pkgerrors.ErrUnknownCollection, "%q (valid: %s)", key, strings.Join(o.keys(), ", "))
		}
		colls = append(colls, coll)
	}

	if err := fsutil.EnsureDir(o.destDir); err != nil {
		return nil, pkgerrors.Wrap(err, "could not create destination dir")
	}

	man := o.store.Load()

	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	results := make(map[string]Result, len(colls))
	var mu sync.Mutex

	tasks := make(chan collection.Collection)
	var wg sync.WaitGroup

	for w := 0; w < opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for coll := range tasks {
				mu.Lock()
				prior, hasPrior := man[coll.Key]
				mu.Unlock()

				res, rec := o.fetchOne(ctx, coll, userKey, prior, hasPrior, opts)

				mu.Lock()
				results[coll.Key] = res
				if rec != nil {
					man[coll.Key] = *rec
				}
				mu.Unlock()
			}
		}()
	}

	for _, coll := range colls {
		tasks <- coll
	}
	close(tasks)
	wg.Wait()

	// One save after the whole batch joins, so the persisted manifest always
	// represents a fully-settled run.
	if err := o.store.Save(man); err != nil {
		return results, err
	}
	return results, nil
}

// fetchOne classifies a single collection and, when needed, downloads it.
// The returned record, if non-nil, is the manifest observation for this run.
func (o *Orchestrator) fetchOne(ctx context.Context, coll collection.Collection, userKey string, prior manifest.Record, hasPrior bool, opts Options) (Result, *manifest.Record) {
	destPath := filepath.Join(o.destDir, coll.ArchiveFilename())
	exists := fileExists(destPath)

	// Pre-flight repair: a bad existing artifact is deleted up front so the
	// rest of the procedure sees a clean slate.
	if opts.Verify && exists {
		if q := o.verifier.QuickCheck(ctx, destPath); !q.OK {
			logger.Warnf("Deleting corrupted archive for %s: %s", coll.Key, q.Reason)
			if err := os.Remove(destPath); err != nil {
				logger.Errorf("Failed to delete corrupted archive %s: %v", destPath, err)
			} else {
				exists = false
			}
		}
	}

	// An artifact takes part in cache validation only while it passes the
	// quick check. A file that fails it must always be replaced, even when
	// the remote would answer 304 for the stored validator.
	intact := exists && o.verifier.QuickCheck(ctx, destPath).OK

	// Cache validation short-circuit: a valid local artifact plus an
	// unchanged remote modification time means nothing to do.
	if intact && !opts.Force && hasPrior && prior.LastModified != nil {
		if o.notModified(ctx, coll, userKey, *prior.LastModified) {
			return Result{Status: StatusUpToDate, Path: destPath, LastModified: prior.LastModified}, nil
		}
	}

	return o.download(ctx, coll, destPath, userKey, prior, hasPrior, intact, opts)
}

// notModified issues a conditional existence check against the source URL.
// Any response other than 304, including transport errors, counts as stale.
func (o *Orchestrator) notModified(ctx context.Context, coll collection.Collection, userKey, lastModified string) bool {
	reqURL, err := probe.AttachKey(coll.SourceURL, userKey)
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, reqURL, http.NoBody)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", o.userAgent)
	req.Header.Set("If-Modified-Since", toHTTPDate(lastModified))

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusNotModified
}

func (o *Orchestrator) download(ctx context.Context, coll collection.Collection, destPath, userKey string, prior manifest.Record, hasPrior, intact bool, opts Options) (Result, *manifest.Record) {
	reqURL, err := probe.AttachKey(coll.SourceURL, userKey)
	if err != nil {
		return Result{Status: StatusFailed, Err: err}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return Result{Status: StatusFailed, Err: pkgerrors.Wrap(err, "failed to create request")}, nil
	}
	req.Header.Set("User-Agent", o.userAgent)
	req.Header.Set("Accept", "application/zip")
	// The validator is only replayed while the artifact it vouches for is
	// still on disk and structurally sound. A 304 for anything else would
	// keep missing or corrupt bytes.
	if intact && !opts.Force && hasPrior && prior.LastModified != nil {
		req.Header.Set("If-Modified-Since", toHTTPDate(*prior.LastModified))
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return Result{Status: StatusFailed, Err: pkgerrors.Wrapf(err, "download failed for %s", coll.Key)}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return Result{Status: StatusUpToDate, Path: destPath, LastModified: prior.LastModified}, nil
	case resp.StatusCode != http.StatusOK:
		err := fmt.Errorf("unexpected status code %d for %s: %w", resp.StatusCode, coll.Key, pkgerrors.ErrDownloadFailed)
		return Result{Status: StatusFailed, Err: err}, nil
	}

	// The existing file may be the corrupt one flagged earlier, or stale data
	// being replaced. Remove it before the fresh bytes land.
	if fileExists(destPath) {
		_ = os.Remove(destPath)
	}

	body := io.Reader(resp.Body)
	if opts.RateLimit > 0 {
		limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), int(opts.RateLimit))
		body = &rateLimitedReader{ctx: ctx, r: resp.Body, limiter: limiter}
	}

	if err := streamToFile(body, destPath); err != nil {
		return Result{Status: StatusFailed, Err: err}, nil
	}

	lm := probe.ParseLastModified(resp.Header)
	if lm == nil && hasPrior {
		lm = prior.LastModified
	}
	rec := &manifest.Record{
		File:          destPath,
		LastModified:  lm,
		ContentLength: probe.ExtractTotalSize(resp.Header),
		DownloadedAt:  time.Now().UTC().Format(time.RFC3339),
	}

	// A corrupted download is never reported as success, but the observed
	// metadata is still recorded so the next run has a validator to retry
	// against. The bad file stays on disk for the repair pass.
	if q := o.verifier.QuickCheck(ctx, destPath); !q.OK {
		err := pkgerrors.Wrapf(pkgerrors.ErrArchiveCorrupt, "%s: %s", coll.Key, q.Reason)
		return Result{Status: StatusFailed, Path: destPath, LastModified: lm, Err: err}, rec
	}

	return Result{Status: StatusDownloaded, Path: destPath, LastModified: lm}, rec
}

// Repair re-downloads every collection whose existing artifact fails the
// integrity check or the manifest size check. Options.Full selects the
// deep check, so a repair triggered by a full verification pass flags the
// same artifacts that pass flagged. The existing data is known bad, so
// cache validators are ignored.
func (o *Orchestrator) Repair(ctx context.Context, userKey string, opts Options) (map[string]Result, error) {
	man := o.store.Load()

	check := o.verifier.QuickCheck
	if opts.Full {
		check = o.verifier.FullCheck
	}

	var bad []string
	for _, coll := range o.registry {
		destPath := filepath.Join(o.destDir, coll.ArchiveFilename())
		if !fileExists(destPath) {
			continue
		}
		if q := check(ctx, destPath); !q.OK {
			logger.Warnf("Archive for %s is corrupt: %s", coll.Key, q.Reason)
			bad = append(bad, coll.Key)
			continue
		}
		var expected *int64
		if rec, ok := man[coll.Key]; ok {
			expected = rec.ContentLength
		}
		if s := o.verifier.CheckSize(destPath, expected); !s.OK {
			logger.Warnf("Archive for %s failed size check: %s", coll.Key, s.Reason)
			bad = append(bad, coll.Key)
		}
	}

	if len(bad) == 0 {
		return map[string]Result{}, nil
	}

	opts.Force = true
	return o.Fetch(ctx, bad, userKey, opts)
}

// Missing returns the collections in the registry with no archive on disk.
// Purely informational: it triggers no action by itself.
func (o *Orchestrator) Missing() []collection.Collection {
	var missing []collection.Collection
	for _, coll := range o.registry {
		if !fileExists(filepath.Join(o.destDir, coll.ArchiveFilename())) {
			missing = append(missing, coll)
		}
	}
	return missing
}

// DestDir returns the directory archives are written to.
func (o *Orchestrator) DestDir() string {
	return o.destDir
}

// streamToFile streams body to destPath via a temp file in the same
// directory, so a partial download never lands under the final name.
func streamToFile(body io.Reader, destPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), "dl-*.tmp")
	if err != nil {
		return pkgerrors.Wrap(err, "could not create temp file")
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return pkgerrors.Wrap(err, "could not write file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return pkgerrors.Wrap(err, "could not sync file")
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.Wrap(err, "could not close file")
	}

	if err := fsutil.Move(tmpPath, destPath); err != nil {
		return pkgerrors.Wrap(err, "could not finalize file")
	}
	if err := os.Chmod(destPath, fsutil.FileModeDefault); err != nil {
		return pkgerrors.Wrap(err, "could not set permissions")
	}
	return nil
}

// toHTTPDate converts a stored RFC3339 token back to the HTTP date format
// expected by If-Modified-Since. Tokens that don't parse are replayed as-is:
// the server observed them, the server can judge them.
func toHTTPDate(rfc3339 string) string {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return rfc3339
	}
	return t.UTC().Format(http.TimeFormat)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	if burst := r.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
