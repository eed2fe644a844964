package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mediafetch/internal/downloader"
	"mediafetch/pkg/config"
	"mediafetch/pkg/ledger"
	"mediafetch/pkg/lock"
	"mediafetch/pkg/logger"
	"mediafetch/pkg/models"
	"mediafetch/pkg/storage"
	"mediafetch/pkg/transfer"
	"mediafetch/pkg/ui"
)

var (
	// Download command flags
	outputDir         string
	workers           int
	maxAttempts       int
	unlimitedAttempts bool
	markDownloaded    bool
	proxy             string
	excludes          []string
	ledgerDriver      string
	ledgerPath        string
	noProgress        bool
	notify            bool
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download <links.yaml>",
	Short: "Download every link of a link tree",
	Long: `Download every link listed in a link tree file (YAML or JSON).

Files are written to <output>/<collection>/<filename>. Transfers in progress
use a .part suffix and are resumed on the next run. Finished links are
recorded in the ledger and skipped by later runs.`,
	Example: `  # Download with default settings
  mediafetch download links.yaml

  # Four workers per collection, no videos
  mediafetch download links.yaml --workers 4 --exclude videos

  # Record everything as downloaded without fetching
  mediafetch download links.yaml --mark-downloaded

  # Keep retrying until every file arrives
  mediafetch download links.yaml --unlimited-attempts`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default ./downloads)")
	downloadCmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent transfers per collection")
	downloadCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempts per file before giving up")
	downloadCmd.Flags().BoolVar(&unlimitedAttempts, "unlimited-attempts", false, "retry recoverable failures forever")
	downloadCmd.Flags().BoolVar(&markDownloaded, "mark-downloaded", false, "record files as downloaded without transferring them")
	downloadCmd.Flags().StringVar(&proxy, "proxy", "", "proxy URL for transfers")
	downloadCmd.Flags().StringSliceVar(&excludes, "exclude", nil, "skip categories: videos, images, audio, other")
	downloadCmd.Flags().StringVar(&ledgerDriver, "ledger-driver", "", "ledger backend: file, memory or postgres")
	downloadCmd.Flags().StringVar(&ledgerPath, "ledger-path", "", "path of the file ledger")
	downloadCmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable progress bars")
	downloadCmd.Flags().BoolVar(&notify, "notify", false, "send a desktop notification when the run ends")
}

func downloadFlags(cmd *cobra.Command) map[string]interface{} {
	flags := globalFlags()
	if outputDir != "" {
		flags["output"] = outputDir
	}
	if workers > 0 {
		flags["workers"] = workers
	}
	if maxAttempts > 0 {
		flags["max-attempts"] = maxAttempts
	}
	if cmd.Flags().Changed("unlimited-attempts") {
		flags["unlimited-attempts"] = unlimitedAttempts
	}
	if cmd.Flags().Changed("mark-downloaded") {
		flags["mark-downloaded"] = markDownloaded
	}
	if proxy != "" {
		flags["proxy"] = proxy
	}
	if len(excludes) > 0 {
		flags["exclude"] = excludes
	}
	if ledgerDriver != "" {
		flags["ledger-driver"] = ledgerDriver
	}
	if ledgerPath != "" {
		flags["ledger-path"] = ledgerPath
	}
	if noProgress {
		flags["show-progress"] = false
	}
	return flags
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, downloadFlags(cmd))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if !ui.IsInteractive(os.Stderr) {
		cfg.Download.ShowProgress = false
	}

	runID := uuid.NewString()
	log := logger.WithField("run_id", runID)
	out := cmd.ErrOrStderr()

	tree, err := models.LoadLinkTree(args[0])
	if err != nil {
		return fmt.Errorf("failed to load link tree: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := ledger.Open(ctx, cfg.Ledger, log)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() {
		if err := l.Close(); err != nil {
			log.WithError(err).Error("failed to close ledger")
		}
	}()

	store, err := storage.NewManager(cfg.Output.BaseDirectory)
	if err != nil {
		return err
	}

	session := transfer.NewHTTPSession(transfer.Options{
		ConnectTimeout: cfg.Download.ConnectTimeout,
		UserAgent:      cfg.Download.UserAgent,
		Proxy:          cfg.Download.Proxy,
		Logger:         log,
	})

	factory := downloader.NewFactory(cfg, session, l, lock.New(), store, log)
	downloaders := factory.FromTree(tree)

	if !quiet {
		ui.PrintInfo(out, "Output", store.GetOutputDir())
		ui.PrintInfo(out, "Collections", fmt.Sprint(len(downloaders)))
		ui.PrintInfo(out, "Links", fmt.Sprint(tree.Len()))
	}
	log.InfoWithFields("run started", map[string]interface{}{
		"collections": len(downloaders),
		"links":       tree.Len(),
		"ledger":      cfg.Ledger.Driver,
	})

	start := time.Now()
	summary, runErr := downloader.RunAll(ctx, downloaders)
	elapsed := time.Since(start).Round(time.Second)

	log.InfoWithFields("run finished", map[string]interface{}{
		"completed": summary.Completed,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
		"marked":    summary.MarkedOnly,
		"duration":  elapsed,
	})
	printSummary(out, summary, quiet)

	notifier := ui.NewNotifier(out, notify)
	message := fmt.Sprintf("%d completed, %d skipped, %d marked, %d failed in %s",
		summary.Completed, summary.Skipped, summary.MarkedOnly, summary.Failed, elapsed)

	switch {
	case runErr != nil:
		notifier.SendError("Download finished with errors", message)
		return runErr
	case ctx.Err() != nil:
		notifier.SendError("Download interrupted", message)
		return ctx.Err()
	case summary.Failed > 0:
		notifier.SendError("Download finished with failures", message)
		return fmt.Errorf("%d of %d files failed", summary.Failed, summary.Total())
	default:
		notifier.SendSuccess("Download complete", message)
		return nil
	}
}

func printSummary(w io.Writer, summary downloader.Summary, quiet bool) {
	if !quiet {
		ui.PrintInfo(w, "Completed", fmt.Sprint(summary.Completed))
		ui.PrintInfo(w, "Skipped", fmt.Sprint(summary.Skipped))
		if summary.MarkedOnly > 0 {
			ui.PrintInfo(w, "Marked", fmt.Sprint(summary.MarkedOnly))
		}
	}
	for _, r := range summary.Failures {
		ui.PrintError(w, fmt.Sprintf("failed %s", r.Link), r.Err)
	}
}
