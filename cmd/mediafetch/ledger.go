package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mediafetch/pkg/config"
	"mediafetch/pkg/ledger"
	"mediafetch/pkg/logger"
)

var (
	showPending bool
	showTemp    bool
)

// ledgerCmd groups ledger inspection commands
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the download ledger",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show [ledger.json]",
	Short: "List ledger records",
	Long: `List the records of the configured ledger, or of the JSON ledger file given
as argument.

With --temp the recorded partial-file paths are listed instead, which is
useful for cleaning up abandoned .part files.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLedgerShow,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)

	ledgerShowCmd.Flags().BoolVar(&showPending, "pending", false, "only list records that are not completed")
	ledgerShowCmd.Flags().BoolVar(&showTemp, "temp", false, "list recorded partial files")
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	flags := globalFlags()
	if len(args) == 1 {
		flags["ledger-driver"] = "file"
		flags["ledger-path"] = args[0]
	}
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	l, err := ledger.Open(ctx, cfg.Ledger, logger.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer l.Close()

	out := cmd.OutOrStdout()
	if showTemp {
		markers, err := l.TempMarkers(ctx)
		if err != nil {
			return err
		}
		for _, m := range markers {
			fmt.Fprintln(out, m)
		}
		return nil
	}

	records, err := l.Records(ctx)
	if err != nil {
		return err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tFILENAME\tSTATUS\tUPDATED")
	for _, r := range records {
		if showPending && r.Completed {
			continue
		}
		status := "pending"
		if r.Completed {
			status = "completed"
		}
		updated := "-"
		if !r.UpdatedAt.IsZero() {
			updated = r.UpdatedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Path, r.Filename, status, updated)
	}
	return tw.Flush()
}
