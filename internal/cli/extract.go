package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/cbfetch/internal/logger"
	"github.com/glorpus-work/cbfetch/pkg/collection"
	"github.com/glorpus-work/cbfetch/pkg/errors"
	"github.com/glorpus-work/cbfetch/pkg/extract"
)

// NewExtractCmd creates the extract command.
func NewExtractCmd() *cobra.Command {
	var (
		dest string
		out  string
	)

	cmd := &cobra.Command{
		Use:   "extract [COLLECTION...]",
		Short: "Extract CSV payloads from downloaded archives",
		Long: `Extract the CSV payload of each downloaded archive into a flat directory
for downstream import tooling. With no arguments every archive on disk is
extracted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.Context(), args, dest, out)
		},
	}

	cmd.Flags().StringVar(&dest, "dest", "", "Archive destination directory (defaults to config)")
	cmd.Flags().StringVar(&out, "out", "", "Output directory for CSV payloads (defaults to <data_dir>/csv)")

	return cmd
}

func runExtract(ctx context.Context, args []string, dest, out string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orch, _ := loadOrchestrator(cfg, dest)
	if out == "" {
		out = filepath.Join(cfg.Settings.DataDir, "csv")
	}

	colls := loadRegistry(cfg)
	if len(args) > 0 {
		selected := make([]collection.Collection, 0, len(args))
		for _, key := range args {
			coll, err := collection.Get(key)
			if err != nil {
				return err
			}
			selected = append(selected, coll)
		}
		colls = selected
	}

	var extracted, failed int
	for _, coll := range colls {
		archivePath := filepath.Join(orch.DestDir(), coll.ArchiveFilename())
		if _, err := os.Stat(archivePath); err != nil {
			logger.Debugf("Skipping %s: no archive on disk", coll.Key)
			continue
		}

		csvPath, err := extract.Payload(ctx, archivePath, out)
		if err != nil {
			logger.Errorf("Failed to extract %s: %v", coll.Key, err)
			failed++
			continue
		}
		logger.Infof("Extracted %s -> %s", coll.Key, csvPath)
		extracted++
	}

	if failed > 0 {
		return errors.Wrapf(errors.ErrNoPayload, "%d archive(s) failed to extract", failed)
	}
	logger.Successf("%d payload(s) extracted into %s", extracted, out)
	return nil
}
