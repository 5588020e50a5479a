// Package report renders human-readable tables for probe, fetch and
// verification outcomes, and maintains the Updates.md change log.
package report

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/glorpus-work/cbfetch/pkg/collection"
	"github.com/glorpus-work/cbfetch/pkg/errors"
	"github.com/glorpus-work/cbfetch/pkg/fetch"
	"github.com/glorpus-work/cbfetch/pkg/fsutil"
	"github.com/glorpus-work/cbfetch/pkg/probe"
)

// TabWidth is the padding used for all rendered tables.
const TabWidth = 2

// Reporter writes tables to a single output stream.
type Reporter struct {
	out io.Writer
}

// New creates a Reporter writing to out.
func New(out io.Writer) *Reporter {
	return &Reporter{out: out}
}

// Availability renders one row per collection from probe results, sorted by
// collection key. Collections without a result render with a zero status.
func (r *Reporter) Availability(colls []collection.Collection, results map[string]probe.Result) {
	w := tabwriter.NewWriter(r.out, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(w, "COLLECTION\tSTATUS\tLAST-MODIFIED\tSIZE\tURL")

	for _, coll := range sorted(colls) {
		res := results[coll.Key]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			coll.DisplayName,
			statusText(res.StatusCode),
			orEmpty(res.LastModified),
			HumanSize(res.TotalSize),
			res.ResolvedURL,
		)
	}
	_ = w.Flush()
}

// FetchResults renders download outcomes sorted by collection key.
func (r *Reporter) FetchResults(results map[string]fetch.Result) {
	keys := make([]string, 0, len(results))
	for key := range results {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(r.out, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(w, "COLLECTION\tSTATUS\tLAST-MODIFIED\tDETAIL")

	for _, key := range keys {
		res := results[key]
		detail := res.Path
		if res.Err != nil {
			detail = res.Err.Error()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			key, res.Status, orEmpty(res.LastModified), detail)
	}
	_ = w.Flush()
}

// VerificationRow is one archive's integrity outcome.
type VerificationRow struct {
	Key    string
	File   string
	OK     bool
	Reason string
}

// Verification renders integrity-check outcomes sorted by collection key.
func (r *Reporter) Verification(rows []VerificationRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })

	w := tabwriter.NewWriter(r.out, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(w, "COLLECTION\tFILE\tRESULT\tREASON")

	for _, row := range rows {
		result := "OK"
		if !row.OK {
			result = "CORRUPT"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			row.Key, filepath.Base(row.File), result, row.Reason)
	}
	_ = w.Flush()
}

// Gaps renders which collections have an archive on disk and which do not.
func (r *Reporter) Gaps(colls []collection.Collection, missing []collection.Collection) {
	missingKeys := make(map[string]bool, len(missing))
	for _, coll := range missing {
		missingKeys[coll.Key] = true
	}

	w := tabwriter.NewWriter(r.out, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(w, "COLLECTION\tPRESENT")

	for _, coll := range sorted(colls) {
		present := "yes"
		if missingKeys[coll.Key] {
			present = "MISSING"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", coll.DisplayName, present)
	}
	_ = w.Flush()
}

// WriteChangeLog rewrites the change-log markdown file with the current probe
// results, one table row per collection. The whole document is replaced on
// every refresh.
func WriteChangeLog(fs afero.Fs, path string, colls []collection.Collection, results map[string]probe.Result) error {
	var b strings.Builder
	b.WriteString("# Updates.md\n\n")
	b.WriteString("Last checked: " + time.Now().UTC().Format(time.RFC3339) + "\n\n")
	b.WriteString("| Collection | Status | Last-Modified (UTC) | Size |\n")
	b.WriteString("| --- | --- | --- | --- |\n")

	for _, coll := range sorted(colls) {
		res := results[coll.Key]
		lm := "N/A"
		if res.LastModified != nil {
			lm = *res.LastModified
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			coll.DisplayName, statusText(res.StatusCode), lm, HumanSize(res.TotalSize))
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, fsutil.DirModeDefault); err != nil {
			return errors.Wrapf(err, "could not create dir for %s", path)
		}
	}
	if err := afero.WriteFile(fs, path, []byte(b.String()), fsutil.FileModeDefault); err != nil {
		return errors.Wrapf(err, "could not write %s", path)
	}
	return nil
}

// HumanSize renders an optional byte count for table output.
func HumanSize(n *int64) string {
	if n == nil {
		return "?"
	}
	return humanize.IBytes(uint64(*n))
}

func statusText(code int) string {
	if code == 0 {
		return "unreachable"
	}
	return fmt.Sprintf("%d", code)
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sorted(colls []collection.Collection) []collection.Collection {
	out := make([]collection.Collection, len(colls))
	copy(out, colls)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
