package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/cbfetch/internal/logger"
	"github.com/glorpus-work/cbfetch/pkg/collection"
	"github.com/glorpus-work/cbfetch/pkg/errors"
	"github.com/glorpus-work/cbfetch/pkg/fetch"
	"github.com/glorpus-work/cbfetch/pkg/report"
)

// NewDownloadCmd creates the download command.
func NewDownloadCmd() *cobra.Command {
	var (
		all            bool
		force          bool
		noVerify       bool
		dest           string
		maxConcurrency int
		limitRate      int64
	)

	cmd := &cobra.Command{
		Use:   "download [COLLECTION...]",
		Short: "Download collection exports",
		Long: `Download one or more collection exports, skipping any that are already
current. Use --all to download every known collection. Already-valid local
archives whose remote copy is unchanged are not re-downloaded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd.Context(), args, downloadFlags{
				all:            all,
				force:          force,
				noVerify:       noVerify,
				dest:           dest,
				maxConcurrency: maxConcurrency,
				limitRate:      limitRate,
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Download all known collections")
	cmd.Flags().BoolVar(&force, "force", false, "Re-download even when the local archive is current")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip integrity checks on existing and downloaded archives")
	cmd.Flags().StringVar(&dest, "dest", "", "Archive destination directory (defaults to config)")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 0, "Number of parallel downloads (0=config)")
	cmd.Flags().Int64Var(&limitRate, "limit-rate", 0, "Per-download rate limit in bytes/sec (0=config)")

	return cmd
}

type downloadFlags struct {
	all            bool
	force          bool
	noVerify       bool
	dest           string
	maxConcurrency int
	limitRate      int64
}

func runDownload(ctx context.Context, args []string, flags downloadFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	userKey, err := resolveUserKey(cfg)
	if err != nil {
		return err
	}

	keys := args
	if flags.all {
		keys = collection.Keys()
	}
	if len(keys) == 0 {
		return errors.Wrap(errors.ErrUnknownCollection, "no collections given (use --all or name collections)")
	}

	opts := fetch.Options{
		Force:       flags.force,
		Verify:      !flags.noVerify,
		Concurrency: flags.maxConcurrency,
		RateLimit:   flags.limitRate,
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = cfg.Settings.MaxConcurrent
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = cfg.Settings.RateLimit
	}

	orch, _ := loadOrchestrator(cfg, flags.dest)

	logger.Debugf("Downloading %d collection(s) into %s", len(keys), orch.DestDir())
	results, err := orch.Fetch(ctx, keys, userKey, opts)
	if err != nil {
		return err
	}

	report.New(os.Stdout).FetchResults(results)

	var failed int
	for _, res := range results {
		if res.Status == fetch.StatusFailed {
			failed++
		}
	}
	if failed > 0 {
		return errors.Wrapf(errors.ErrDownloadFailed, "%d of %d collection(s) failed", failed, len(results))
	}

	logger.Successf("%d collection(s) processed", len(results))
	return nil
}
