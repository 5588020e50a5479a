//go:build integration

package main

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/cbfetch/pkg/collection"
)

const testLastModified = "Fri, 22 Aug 2025 04:11:09 GMT"

func archiveFixture(t *testing.T) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	f, err := w.Create("export.csv")
	require.NoError(t, err)
	_, err = f.Write([]byte("uuid,name\n1,Acme\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// startExportServer serves a valid archive for every *.zip path and counts
// body downloads.
func startExportServer(t *testing.T, getCount *atomic.Int64) *httptest.Server {
	t.Helper()
	body := archiveFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_key") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.HasSuffix(r.URL.Path, ".zip") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("If-Modified-Since") == testLastModified {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if r.Header.Get("Range") == "bytes=0-0" {
			w.Header().Set("Last-Modified", testLastModified)
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", len(body)))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(body[:1])
			return
		}
		if r.Method == http.MethodHead {
			w.Header().Set("Last-Modified", testLastModified)
			w.WriteHeader(http.StatusOK)
			return
		}
		getCount.Add(1)
		w.Header().Set("Last-Modified", testLastModified)
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeTempConfig points the CLI at a served endpoint and a temp data layout.
func writeTempConfig(t *testing.T, dir, baseURL string) string {
	t.Helper()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`settings:
  base_url: %s
  data_dir: %s
`, baseURL, filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	return cfgPath
}

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestDownload_AllCollections(t *testing.T) {
	tempDir := t.TempDir()
	var gets atomic.Int64
	srv := startExportServer(t, &gets)
	cfgPath := writeTempConfig(t, tempDir, srv.URL)
	t.Setenv("CRUNCHBASE_USER_KEY", "test-key")

	require.NoError(t, runCLI(t, "--config", cfgPath, "download", "--all"))

	destDir := filepath.Join(tempDir, "data", "zips")
	for _, coll := range collection.All() {
		assert.FileExists(t, filepath.Join(destDir, coll.ArchiveFilename()))
	}
	assert.FileExists(t, filepath.Join(tempDir, "data", "manifest.json"))
	assert.EqualValues(t, len(collection.All()), gets.Load())
}

func TestDownload_SecondRunIsUpToDate(t *testing.T) {
	tempDir := t.TempDir()
	var gets atomic.Int64
	srv := startExportServer(t, &gets)
	cfgPath := writeTempConfig(t, tempDir, srv.URL)
	t.Setenv("CRUNCHBASE_USER_KEY", "test-key")

	require.NoError(t, runCLI(t, "--config", cfgPath, "download", "organizations", "people"))
	require.EqualValues(t, 2, gets.Load())

	require.NoError(t, runCLI(t, "--config", cfgPath, "download", "organizations", "people"))
	assert.EqualValues(t, 2, gets.Load(), "unchanged collections must not be re-downloaded")
}

func TestDownload_MissingCredentialFailsBeforeNetwork(t *testing.T) {
	tempDir := t.TempDir()
	var gets atomic.Int64
	srv := startExportServer(t, &gets)
	cfgPath := writeTempConfig(t, tempDir, srv.URL)
	t.Setenv("CRUNCHBASE_USER_KEY", "")

	err := runCLI(t, "--config", cfgPath, "download", "--all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRUNCHBASE_USER_KEY")
	assert.Zero(t, gets.Load())
}

func TestVerify_DetectsAndFixesCorruption(t *testing.T) {
	tempDir := t.TempDir()
	var gets atomic.Int64
	srv := startExportServer(t, &gets)
	cfgPath := writeTempConfig(t, tempDir, srv.URL)
	t.Setenv("CRUNCHBASE_USER_KEY", "test-key")

	require.NoError(t, runCLI(t, "--config", cfgPath, "download", "organizations"))

	// Clobber the archive, then verify with and without --fix.
	archivePath := filepath.Join(tempDir, "data", "zips", "organizations.zip")
	require.NoError(t, os.WriteFile(archivePath, []byte("clobbered"), 0o644))

	require.Error(t, runCLI(t, "--config", cfgPath, "verify"))
	require.NoError(t, runCLI(t, "--config", cfgPath, "verify", "--fix"))
	require.NoError(t, runCLI(t, "--config", cfgPath, "verify", "--full"))
}

func TestVerify_FullFixRepairsEntryCorruption(t *testing.T) {
	tempDir := t.TempDir()
	var gets atomic.Int64
	srv := startExportServer(t, &gets)
	cfgPath := writeTempConfig(t, tempDir, srv.URL)
	t.Setenv("CRUNCHBASE_USER_KEY", "test-key")

	require.NoError(t, runCLI(t, "--config", cfgPath, "download", "organizations"))

	// Flip bytes inside the entry's compressed data: size and central
	// directory stay intact, so only the full check can see the damage.
	archivePath := filepath.Join(tempDir, "data", "zips", "organizations.zip")
	data, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	for i := 45; i < 53; i++ {
		data[i] ^= 0xFF
	}
	require.NoError(t, os.WriteFile(archivePath, data, 0o644))

	// The quick pass cannot see it; the full pass must flag it.
	require.NoError(t, runCLI(t, "--config", cfgPath, "verify"))
	require.Error(t, runCLI(t, "--config", cfgPath, "verify", "--full"))

	// Fixing a full-check failure must actually replace the archive.
	downloadsBefore := gets.Load()
	require.NoError(t, runCLI(t, "--config", cfgPath, "verify", "--full", "--fix"))
	assert.Equal(t, downloadsBefore+1, gets.Load(), "the corrupt archive must be re-downloaded")
	require.NoError(t, runCLI(t, "--config", cfgPath, "verify", "--full"))
}

func TestCheck_ReportsGapsWithoutNetwork(t *testing.T) {
	tempDir := t.TempDir()
	var gets atomic.Int64
	srv := startExportServer(t, &gets)
	cfgPath := writeTempConfig(t, tempDir, srv.URL)
	t.Setenv("CRUNCHBASE_USER_KEY", "test-key")

	require.NoError(t, runCLI(t, "--config", cfgPath, "check"))
	assert.Zero(t, gets.Load())
}

func TestList_WriteLogRefreshesChangeLog(t *testing.T) {
	tempDir := t.TempDir()
	var gets atomic.Int64
	srv := startExportServer(t, &gets)
	cfgPath := writeTempConfig(t, tempDir, srv.URL)
	t.Setenv("CRUNCHBASE_USER_KEY", "test-key")

	// The default change-log path is relative to the working directory, so
	// pin it inside the temp dir via the config.
	updatesPath := filepath.Join(tempDir, "Updates.md")
	content := fmt.Sprintf(`settings:
  base_url: %s
  data_dir: %s
  updates_path: %s
`, srv.URL, filepath.Join(tempDir, "data"), updatesPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	require.NoError(t, runCLI(t, "--config", cfgPath, "list", "--write-log"))

	data, err := os.ReadFile(updatesPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "| Collection | Status | Last-Modified (UTC) | Size |")
	assert.Contains(t, string(data), "Organizations")
	assert.Zero(t, gets.Load(), "probes must not download archive bodies")
}

func TestExtract_WritesCSVPayloads(t *testing.T) {
	tempDir := t.TempDir()
	var gets atomic.Int64
	srv := startExportServer(t, &gets)
	cfgPath := writeTempConfig(t, tempDir, srv.URL)
	t.Setenv("CRUNCHBASE_USER_KEY", "test-key")

	require.NoError(t, runCLI(t, "--config", cfgPath, "download", "organizations"))
	require.NoError(t, runCLI(t, "--config", cfgPath, "extract", "organizations"))

	data, err := os.ReadFile(filepath.Join(tempDir, "data", "csv", "export.csv"))
	require.NoError(t, err)
	assert.Equal(t, "uuid,name\n1,Acme\n", string(data))
}
