// Package probe discovers the current state of remote collections without
// downloading them. A probe is a one-byte ranged GET: cheap, read-only, and
// safe to run against every collection concurrently.
package probe

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glorpus-work/cbfetch/pkg/collection"
	"github.com/glorpus-work/cbfetch/pkg/errors"
)

// Result holds what a single probe learned about a collection's export.
type Result struct {
	StatusCode   int
	LastModified *string // UTC RFC3339, nil when the header is missing or unparseable
	TotalSize    *int64
	ResolvedURL  string
}

// Prober issues minimal-byte conditional requests against collection URLs.
// It never writes the manifest or any file.
type Prober struct {
	client    *http.Client
	userAgent string
}

// New creates a Prober with the given request timeout and user agent.
func New(timeout time.Duration, userAgent string) *Prober {
	if userAgent == "" {
		userAgent = "cbfetch/1.0"
	}
	return &Prober{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Probe requests the first byte of the collection's export and extracts
// status, modification time and total size from the response headers.
func (p *Prober) Probe(ctx context.Context, coll collection.Collection, userKey string) (Result, error) {
	reqURL, err := AttachKey(coll.SourceURL, userKey)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to create probe request")
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/zip")
	req.Header.Set("Range", "bytes=0-0")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, errors.Wrapf(err, "probe failed for %s", coll.Key)
	}
	defer func() { _ = resp.Body.Close() }()

	return Result{
		StatusCode:   resp.StatusCode,
		LastModified: ParseLastModified(resp.Header),
		TotalSize:    ExtractTotalSize(resp.Header),
		ResolvedURL:  resp.Request.URL.String(),
	}, nil
}

// ProbeAll probes every given collection concurrently. Probes are cheap and
// independent, so concurrency is bounded only by the transport itself.
// Transport-level failures yield a zero StatusCode for that collection rather
// than failing the batch.
func (p *Prober) ProbeAll(ctx context.Context, colls []collection.Collection, userKey string) map[string]Result {
	results := make(map[string]Result, len(colls))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, coll := range colls {
		wg.Add(1)
		go func(coll collection.Collection) {
			defer wg.Done()
			res, err := p.Probe(ctx, coll, userKey)
			if err != nil {
				res = Result{ResolvedURL: coll.SourceURL}
			}
			mu.Lock()
			results[coll.Key] = res
			mu.Unlock()
		}(coll)
	}
	wg.Wait()
	return results
}

// AttachKey appends the user key as a query parameter to a source URL.
func AttachKey(rawURL, userKey string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid source URL %s", rawURL)
	}
	q := u.Query()
	q.Set("user_key", userKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseLastModified normalizes the Last-Modified header to UTC RFC3339.
// Fails soft: a missing or unparseable header yields nil, never an error.
func ParseLastModified(h http.Header) *string {
	lm := h.Get("Last-Modified")
	if lm == "" {
		return nil
	}
	t, err := http.ParseTime(lm)
	if err != nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// ExtractTotalSize returns the full payload size, preferring the total in a
// Content-Range header (e.g. "bytes 0-0/12345") and falling back to
// Content-Length.
func ExtractTotalSize(h http.Header) *int64 {
	if cr := h.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx >= 0 {
			if total, err := strconv.ParseInt(strings.TrimSpace(cr[idx+1:]), 10, 64); err == nil {
				return &total
			}
		}
	}
	if cl := h.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			return &n
		}
	}
	return nil
}
