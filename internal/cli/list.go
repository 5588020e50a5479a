package cli

import (
	"context"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/glorpus-work/cbfetch/internal/logger"
	"github.com/glorpus-work/cbfetch/pkg/report"
)

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	var writeLog bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Check which collections are accessible and show metadata",
		Long: `Probe every collection export with the configured credential and show
its status, last modification time and size. No archive is downloaded.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd.Context(), writeLog)
		},
	}

	cmd.Flags().BoolVar(&writeLog, "write-log", false, "Write/refresh the change log with the latest results")

	return cmd
}

func runList(ctx context.Context, writeLog bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	userKey, err := resolveUserKey(cfg)
	if err != nil {
		return err
	}

	colls := loadRegistry(cfg)
	results := loadProber(cfg).ProbeAll(ctx, colls, userKey)

	report.New(os.Stdout).Availability(colls, results)

	if writeLog {
		if err := report.WriteChangeLog(afero.NewOsFs(), cfg.GetUpdatesPath(), colls, results); err != nil {
			return err
		}
		logger.Successf("Updated %s", cfg.GetUpdatesPath())
	}
	return nil
}
