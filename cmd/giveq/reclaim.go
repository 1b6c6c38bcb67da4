package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/giveq/giveq/internal/config"
	"github.com/giveq/giveq/internal/debug"
	"github.com/giveq/giveq/internal/lifecycle"
	"github.com/giveq/giveq/internal/reclaim"
)

var reclaimDryRun bool

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Run one reclamation pass",
	Long: `Expires items past their horizon, expires stale claims so queues keep
moving, and archives old terminal items. With --dry-run, reports what a
pass would do without writing anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer store.Close()

		runner := reclaim.New(store, lifecycle.New(store), reclaimConfig(cfg))

		if reclaimDryRun {
			report, err := runner.Preview(rootCtx)
			if err != nil {
				return err
			}
			debug.PrintNormal("Would expire %d items, expire %d stale claims, archive %d items\n",
				report.ItemsExpired, report.ClaimsExpired, report.ItemsArchived)
			return nil
		}

		report, err := runner.RunOnce(rootCtx)
		if err != nil {
			return err
		}
		debug.PrintNormal("Expired %d items, expired %d stale claims, archived %d items\n",
			report.ItemsExpired, report.ClaimsExpired, report.ItemsArchived)
		return nil
	},
}

func init() {
	reclaimCmd.Flags().BoolVar(&reclaimDryRun, "dry-run", false, "report what would be reclaimed without writing")
}

func reclaimConfig(cfg config.Config) reclaim.Config {
	return reclaim.Config{
		Staleness:  cfg.ClaimStaleness,
		Interval:   cfg.ReclamationInterval,
		BatchSize:  cfg.ReclaimBatchSize,
		ArchiveAge: time.Duration(cfg.ArchiveAgeDays) * 24 * time.Hour,
	}
}
