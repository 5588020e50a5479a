// Package collection defines the fixed registry of bulk-export collections
// served by the provider's static export API.
package collection

import (
	"sort"
	"strings"

	"github.com/glorpus-work/cbfetch/pkg/errors"
)

// Collection describes one logical dataset available as a bulk export.
type Collection struct {
	Key         string
	SourceURL   string
	DisplayName string
}

// BaseURL is the root of the provider's static export endpoint.
const BaseURL = "https://api.crunchbase.com/bulk/v4/exports"

// registry is the fixed set of collections, known at process start.
var registry = []Collection{
	{Key: "acquisitions", DisplayName: "Acquisitions"},
	{Key: "events", DisplayName: "Events"},
	{Key: "funding_rounds", DisplayName: "Funding Rounds"},
	{Key: "funds", DisplayName: "Funds"},
	{Key: "investments", DisplayName: "Investments"},
	{Key: "investors", DisplayName: "Investors"},
	{Key: "ipos", DisplayName: "IPOs"},
	{Key: "organizations", DisplayName: "Organizations"},
	{Key: "people", DisplayName: "People"},
}

func init() {
	for i := range registry {
		registry[i].SourceURL = BaseURL + "/" + registry[i].Key + ".zip"
	}
}

// All returns every collection in the registry, sorted by key.
func All() []Collection {
	out := make([]Collection, len(registry))
	copy(out, registry)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Keys returns the sorted keys of all collections.
func Keys() []string {
	keys := make([]string, 0, len(registry))
	for _, c := range registry {
		keys = append(keys, c.Key)
	}
	sort.Strings(keys)
	return keys
}

// WithBaseURL returns the registry rebuilt against a different endpoint root,
// sorted by key. Used for mirrors and tests; the canonical registry is
// untouched.
func WithBaseURL(base string) []Collection {
	base = strings.TrimRight(base, "/")
	out := All()
	for i := range out {
		out[i].SourceURL = base + "/" + out[i].Key + ".zip"
	}
	return out
}

// Get looks up a collection by key.
func Get(key string) (Collection, error) {
	for _, c := range registry {
		if c.Key == key {
			return c, nil
		}
	}
	return Collection{}, errors.Wrapf(errors.ErrUnknownCollection, "%q (valid: %s)", key, strings.Join(Keys(), ", "))
}

// ArchiveFilename returns the deterministic local filename for the
// collection's archive: the last path segment of its source URL.
func (c Collection) ArchiveFilename() string {
	idx := strings.LastIndex(c.SourceURL, "/")
	return c.SourceURL[idx+1:]
}
