package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/giveq/giveq/internal/config"
	"github.com/giveq/giveq/internal/debug"
	"github.com/giveq/giveq/internal/lifecycle"
	"github.com/giveq/giveq/internal/reclaim"
	"github.com/giveq/giveq/internal/storage/postgres"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reclamation daemon",
	Long: `Runs reclamation passes on the configured interval until interrupted.
Changes to giveq.yaml are picked up without a restart: the loop is rebuilt
with the new settings on the next file write.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, v, err := config.Load(configDir)
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("no database configured: set database-url in giveq.yaml or GIVEQ_DATABASE_URL")
		}

		store, err := postgres.Open(rootCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()
		coord := lifecycle.New(store)

		// Coalescing reload channel; the watcher callback runs on
		// fsnotify's goroutine.
		reload := make(chan config.Config, 1)
		v.OnConfigChange(func(fsnotify.Event) {
			next, err := config.FromViper(v)
			if err != nil {
				debug.Logf("config reload rejected: %v\n", err)
				return
			}
			select {
			case reload <- next:
			default:
			}
		})
		if v.ConfigFileUsed() != "" {
			v.WatchConfig()
		}

		debug.PrintNormal("giveq %s serving: reclamation every %s\n", Version, cfg.ReclamationInterval)
		for {
			loopCtx, stopLoop := context.WithCancel(rootCtx)
			runner := reclaim.New(store, coord, reclaimConfig(cfg))
			done := make(chan error, 1)
			go func() { done <- runner.Loop(loopCtx) }()

			select {
			case next := <-reload:
				debug.PrintNormal("config changed: reclamation every %s\n", next.ReclamationInterval)
				cfg = next
				stopLoop()
				<-done
			case err := <-done:
				stopLoop()
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
		}
	},
}
