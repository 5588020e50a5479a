package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/cbfetch/internal/logger"
	"github.com/glorpus-work/cbfetch/pkg/report"
)

// NewCheckCmd creates the check command.
func NewCheckCmd() *cobra.Command {
	var dest string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check which collections are missing locally",
		Long: `Compare the known collections against the archives on disk and report
the gaps. Purely local: no network requests and no credential needed.`,
		RunE: func(*cobra.Command, []string) error {
			return runCheck(dest)
		},
	}

	cmd.Flags().StringVar(&dest, "dest", "", "Archive destination directory (defaults to config)")

	return cmd
}

func runCheck(dest string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orch, _ := loadOrchestrator(cfg, dest)
	colls := loadRegistry(cfg)
	missing := orch.Missing()

	report.New(os.Stdout).Gaps(colls, missing)

	if len(missing) == 0 {
		logger.Successf("All %d collection(s) present", len(colls))
	} else {
		logger.Warnf("%d of %d collection(s) missing", len(missing), len(colls))
	}
	return nil
}
