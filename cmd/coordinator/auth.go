package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"basegraph.app/coordinator/common/logger"
	"basegraph.app/coordinator/core/config"
	"basegraph.app/coordinator/internal/auth"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize read-only access to Google Docs",
	Long: `Opens the Google consent flow with a local redirect and stores the resulting
token at GOOGLE_TOKEN_PATH. Run this once before the first analysis.`,
	Args: cobra.NoArgs,
	RunE: runAuth,
}

func init() {
	rootCmd.AddCommand(authCmd)
}

func runAuth(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Setup(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := auth.Authorize(ctx, auth.Config{
		CredentialsPath: cfg.Google.CredentialsPath,
		TokenPath:       cfg.Google.TokenPath,
	}, cmd.OutOrStdout()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", cfg.Google.TokenPath)
	return nil
}
