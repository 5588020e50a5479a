package report

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/cbfetch/pkg/collection"
	"github.com/glorpus-work/cbfetch/pkg/fetch"
	"github.com/glorpus-work/cbfetch/pkg/probe"
)

func testColls() []collection.Collection {
	return []collection.Collection{
		{Key: "people", SourceURL: "https://example.test/people.zip", DisplayName: "People"},
		{Key: "funds", SourceURL: "https://example.test/funds.zip", DisplayName: "Funds"},
	}
}

func strPtr(s string) *string { return &s }
func int64Ptr(n int64) *int64 { return &n }

func TestAvailability(t *testing.T) {
	buf := &bytes.Buffer{}
	results := map[string]probe.Result{
		"funds": {
			StatusCode:   200,
			LastModified: strPtr("2025-08-22T04:11:09Z"),
			TotalSize:    int64Ptr(5 * 1024 * 1024),
			ResolvedURL:  "https://example.test/funds.zip?user_key=x",
		},
		// people has no result: rendered as unreachable
	}

	New(buf).Availability(testColls(), results)
	out := buf.String()

	assert.Contains(t, out, "COLLECTION")
	assert.Contains(t, out, "Funds")
	assert.Contains(t, out, "200")
	assert.Contains(t, out, "2025-08-22T04:11:09Z")
	assert.Contains(t, out, "5.0 MiB")
	assert.Contains(t, out, "unreachable")

	// Sorted by key: funds before people.
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("Funds")), bytes.Index(buf.Bytes(), []byte("People")))
}

func TestFetchResults(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).FetchResults(map[string]fetch.Result{
		"people": {Status: fetch.StatusDownloaded, Path: "/data/zips/people.zip", LastModified: strPtr("2025-08-22T04:11:09Z")},
		"funds":  {Status: fetch.StatusFailed, Err: fmt.Errorf("unexpected status code 500")},
	})
	out := buf.String()

	assert.Contains(t, out, "downloaded")
	assert.Contains(t, out, "/data/zips/people.zip")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "unexpected status code 500")
}

func TestVerification(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Verification([]VerificationRow{
		{Key: "people", File: "/data/zips/people.zip", OK: true},
		{Key: "funds", File: "/data/zips/funds.zip", OK: false, Reason: "invalid archive format"},
	})
	out := buf.String()

	assert.Contains(t, out, "OK")
	assert.Contains(t, out, "CORRUPT")
	assert.Contains(t, out, "invalid archive format")
	assert.Contains(t, out, "funds.zip")
	assert.NotContains(t, out, "/data/zips/")
}

func TestGaps(t *testing.T) {
	buf := &bytes.Buffer{}
	colls := testColls()
	New(buf).Gaps(colls, []collection.Collection{colls[1]})
	out := buf.String()

	assert.Contains(t, out, "MISSING")
	assert.Contains(t, out, "yes")
}

func TestWriteChangeLog(t *testing.T) {
	fs := afero.NewMemMapFs()
	results := map[string]probe.Result{
		"funds": {StatusCode: 200, TotalSize: int64Ptr(1024)},
	}

	require.NoError(t, WriteChangeLog(fs, "/work/Updates.md", testColls(), results))

	data, err := afero.ReadFile(fs, "/work/Updates.md")
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, "# Updates.md")
	assert.Contains(t, out, "Last checked: ")
	assert.Contains(t, out, "| Collection | Status | Last-Modified (UTC) | Size |")
	assert.Contains(t, out, "| Funds | 200 | N/A | 1.0 KiB |")
	assert.Contains(t, out, "| People | unreachable | N/A | ? |")
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "?", HumanSize(nil))
	assert.Equal(t, "512 B", HumanSize(int64Ptr(512)))
	assert.Equal(t, "1.0 KiB", HumanSize(int64Ptr(1024)))
}
