package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/cbfetch/internal/logger"
	"github.com/glorpus-work/cbfetch/pkg/errors"
	"github.com/glorpus-work/cbfetch/pkg/fetch"
	"github.com/glorpus-work/cbfetch/pkg/report"
	"github.com/glorpus-work/cbfetch/pkg/verify"
)

// NewVerifyCmd creates the verify command.
func NewVerifyCmd() *cobra.Command {
	var (
		fix  bool
		full bool
		dest string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the integrity of downloaded archives",
		Long: `Check every downloaded archive against its expected structure and, when
the manifest records one, its expected size. Use --full to additionally
decompress every entry, and --fix to re-download whatever fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(cmd.Context(), fix, full, dest)
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "Re-download archives that fail verification")
	cmd.Flags().BoolVar(&full, "full", false, "Decompress every entry instead of the quick structural check")
	cmd.Flags().StringVar(&dest, "dest", "", "Archive destination directory (defaults to config)")

	return cmd
}

func runVerify(ctx context.Context, fix, full bool, dest string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orch, store := loadOrchestrator(cfg, dest)
	verifier := verify.New()
	man := store.Load()

	var rows []report.VerificationRow
	var bad int
	for _, coll := range loadRegistry(cfg) {
		path := filepath.Join(orch.DestDir(), coll.ArchiveFilename())
		if _, err := os.Stat(path); err != nil {
			continue
		}

		res := verifier.QuickCheck(ctx, path)
		if res.OK && full {
			res = verifier.FullCheck(ctx, path)
		}
		if res.OK {
			if rec, ok := man[coll.Key]; ok {
				res = verifier.CheckSize(path, rec.ContentLength)
			}
		}

		rows = append(rows, report.VerificationRow{
			Key:    coll.Key,
			File:   path,
			OK:     res.OK,
			Reason: res.Reason,
		})
		if !res.OK {
			bad++
		}
	}

	report.New(os.Stdout).Verification(rows)

	if bad == 0 {
		logger.Successf("%d archive(s) verified", len(rows))
		return nil
	}
	if !fix {
		return errors.Wrapf(errors.ErrArchiveCorrupt, "%d of %d archive(s) failed verification", bad, len(rows))
	}

	userKey, err := resolveUserKey(cfg)
	if err != nil {
		return err
	}

	logger.Warnf("Re-downloading %d corrupted archive(s)", bad)
	results, err := orch.Repair(ctx, userKey, fetch.Options{
		Full:        full,
		Concurrency: cfg.Settings.MaxConcurrent,
		RateLimit:   cfg.Settings.RateLimit,
	})
	if err != nil {
		return err
	}
	report.New(os.Stdout).FetchResults(results)

	for _, res := range results {
		if res.Status == fetch.StatusFailed {
			return errors.Wrap(errors.ErrDownloadFailed, "repair left failures behind")
		}
	}
	logger.Successf("%d archive(s) repaired", len(results))
	return nil
}
