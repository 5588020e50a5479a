package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/glorpus-work/cbfetch/internal/cli"
)

var (
	configPath string
	userKey    string
	verbose    bool
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// A local .env may carry the export credential. Absence is fine.
	_ = godotenv.Load()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}

	cancel()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cbfetch",
		Short: "Bulk-export checker and downloader",
		Long: `cbfetch keeps a local mirror of bulk-export collections current:
- list: probe which collections are accessible and how fresh they are
- download: fetch stale or missing archives, skipping current ones
- verify: check archive integrity and repair what fails`,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: cbfetch.yaml)")
	cmd.PersistentFlags().StringVar(&userKey, "user-key", "", "export API user key (default: environment)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Set up CLI pkg variables
	cli.ConfigPath = &configPath
	cli.UserKey = &userKey
	cli.Verbose = &verbose

	// Add subcommands
	cmd.AddCommand(
		cli.NewListCmd(),
		cli.NewDownloadCmd(),
		cli.NewVerifyCmd(),
		cli.NewCheckCmd(),
		cli.NewUpdatesCmd(),
		cli.NewExtractCmd(),
		cli.NewVersionCmd(),
	)

	return cmd
}
