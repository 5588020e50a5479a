package cli

import (
	"context"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/glorpus-work/cbfetch/internal/logger"
	"github.com/glorpus-work/cbfetch/pkg/report"
)

// NewUpdatesCmd creates the updates command.
func NewUpdatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "updates",
		Short: "Refresh the change log with current remote state",
		Long: `Probe every collection and rewrite the change log document with the
latest modification times and sizes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUpdates(cmd.Context())
		},
	}

	return cmd
}

func runUpdates(ctx context.Context) error {
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

	if err := report.WriteChangeLog(afero.NewOsFs(), cfg.GetUpdatesPath(), colls, results); err != nil {
		return err
	}
	logger.Successf("Updated %s", cfg.GetUpdatesPath())
	return nil
}
