package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/reviewbench/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "reviewbench",
	Short: "Pattern-augmented code review evaluation harness",
	Long:  "Runs repeated Claude code-review trials over a YAML case corpus, comparing analyzer variants head to head and persisting scored results.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	// SIGINT/SIGTERM cancel the command context so in-flight runs are
	// marked failed instead of left dangling in "running".
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
