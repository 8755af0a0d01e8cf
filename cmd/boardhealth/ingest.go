package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"boardhealth/internal/classify"
	"boardhealth/internal/ingest"
	"boardhealth/internal/metrics"
	"boardhealth/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.csv>",
	Short: "Replace the detail rows with the contents of one CSV dump",
	Long: `Ingest parses and classifies the given CSV file with the configured
classifier and replaces every stored detail row, exactly like an upload
through the dashboard. The run report is printed as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	cls, err := classify.New(cfg.Classifier, cfg.ThresholdCutoff)
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := ingest.NewService(st, cls, ingest.OptionsFromConfig(cfg), metrics.New(), logger.Named("ingest"))
	report, err := svc.Ingest(cmd.Context(), f, filepath.Base(args[0]))
	if err != nil {
		return fmt.Errorf("ingest %s: %w", args[0], err)
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
