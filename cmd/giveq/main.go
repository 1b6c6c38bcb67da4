// giveq brokers free item give-aways: listers post items, claimers join a
// per-item FIFO queue, and the queue advances fairly until the item finds
// a home. This binary carries the operational surface: schema migration,
// the reclamation daemon, and one-shot maintenance passes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/giveq/giveq/internal/config"
	"github.com/giveq/giveq/internal/debug"
	"github.com/giveq/giveq/internal/storage/postgres"
	"github.com/giveq/giveq/internal/telemetry"
)

var (
	configDir   string
	verboseFlag bool
	quietFlag   bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "giveq",
	Short: "giveq - fair-queue give-away broker",
	Long: `giveq matches free items with claimers through a per-item FIFO queue.
Listers post items, claimers line up, and the queue advances fairly:
first come, first contacted.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		if err := telemetry.Init(rootCtx, "giveq", Version); err != nil {
			debug.Logf("telemetry init failed: %v\n", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(context.Background())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "directory containing giveq.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress non-essential output")
	rootCmd.AddCommand(serveCmd, reclaimCmd, migrateCmd, versionCmd)
}

// openStore loads config and connects to Postgres. Callers own Close.
func openStore(ctx context.Context) (*postgres.Store, config.Config, error) {
	cfg, _, err := config.Load(configDir)
	if err != nil {
		return nil, config.Config{}, err
	}
	if cfg.DatabaseURL == "" {
		return nil, config.Config{}, fmt.Errorf("no database configured: set database-url in giveq.yaml or GIVEQ_DATABASE_URL")
	}
	store, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("failed to open database: %w", err)
	}
	return store, cfg, nil
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
