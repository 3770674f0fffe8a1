package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"basegraph.app/coordinator/common/docid"
	"basegraph.app/coordinator/core/config"
	"basegraph.app/coordinator/internal/coordinator"
	"basegraph.app/coordinator/internal/presenter"
)

var errUsage = errors.New("usage")

var (
	serveMode    bool
	port         int
	sinceHours   int
	forceRefresh bool
	outputDir    string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "coordinator [document_id]",
	Short: "Summarize open questions, decisions and next steps of a Google Doc",
	Long: `Fetches unresolved comments, recent revisions and metadata of a Google Doc,
asks a language model for open questions, decisions and next steps, and prints
a coordination snapshot. With --serve, exposes the same analysis over HTTP.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	flags := rootCmd.Flags()
	flags.BoolVar(&serveMode, "serve", false, "Run the HTTP server instead of a single analysis")
	flags.IntVar(&port, "port", 8000, "HTTP server port")
	flags.IntVar(&sinceHours, "since-hours", 48, "Look-back window for revision activity, in hours")
	flags.BoolVar(&forceRefresh, "force-refresh", false, "Bypass the fetch cache")
	flags.StringVar(&outputDir, "output-dir", "output", "Directory for snapshot files")
	flags.StringVar(&outputFormat, "format", "markdown", "Terminal output format (markdown, json)")
}

// loadConfig reads the environment and applies explicitly set flags on top.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("since-hours") {
		cfg.DefaultSinceHours = sinceHours
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = outputDir
	}
	return cfg, nil
}

func runRoot(cmd *cobra.Command, args []string) error {
	if !serveMode && len(args) == 0 {
		_ = cmd.Usage()
		return fmt.Errorf("%w: document_id is required unless --serve is set", errUsage)
	}
	if outputFormat != "markdown" && outputFormat != "json" {
		return fmt.Errorf("%w: --format must be markdown or json", errUsage)
	}
	if cmd.Flags().Changed("since-hours") && sinceHours < 0 {
		return fmt.Errorf("%w: --since-hours must not be negative", errUsage)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveMode {
		return serve(ctx, cfg)
	}

	docID, err := docid.Normalize(args[0])
	if err != nil {
		return fmt.Errorf("%w: %q is not a document id or document URL", errUsage, args[0])
	}
	var window *int
	if cmd.Flags().Changed("since-hours") {
		window = &sinceHours
	}
	return analyze(ctx, cfg, docID, window)
}

func analyze(ctx context.Context, cfg config.Config, docID string, window *int) error {
	deps, err := wire(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	snapshot, err := deps.coordinator.Analyze(ctx, coordinator.Request{
		DocumentID:   docID,
		SinceHours:   window,
		ForceRefresh: forceRefresh,
	})
	if err != nil {
		return err
	}

	switch outputFormat {
	case "json":
		raw, err := presenter.RenderJSON(snapshot)
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		fmt.Fprintln(os.Stdout, string(raw))
	default:
		if err := presenter.Print(os.Stdout, presenter.Render(snapshot)); err != nil {
			return fmt.Errorf("printing snapshot: %w", err)
		}
	}

	path, err := presenter.Save(cfg.OutputDir, snapshot)
	if err != nil {
		slog.ErrorContext(ctx, "failed to save snapshot", "error", err)
	} else {
		fmt.Fprintf(os.Stderr, "Snapshot saved to: %s\n", path)
	}

	if n := len(snapshot.DataCompleteness.Errors); n > 0 {
		fmt.Fprintf(os.Stderr, "⚠️  Snapshot generated with %d warning(s); see Data Status.\n", n)
	}
	return nil
}
