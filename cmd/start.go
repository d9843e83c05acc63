package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/solarb/config"
	"github.com/michaelpento.lv/solarb/utils"
	"github.com/michaelpento.lv/solarb/utils/metrics"
)

var dryRun bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start scanning and executing arbitrage",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()
		defer utils.CleanupLogger()

		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dryRun {
			cfg.Engine.DryRun = true
		}

		ctx := cmd.Context()
		reg := metrics.NewRegistry()
		if cfg.Metrics.Enabled {
			go func() {
				if err := metrics.Serve(ctx, cfg.Metrics.ListenAddr, reg, log); err != nil {
					log.Error("Metrics server failed", zap.Error(err))
				}
			}()
		}

		eng, err := newEngine(ctx, cfg, log, reg)
		if err != nil {
			return fmt.Errorf("failed to build engine: %w", err)
		}
		defer eng.close()

		if eng.adapters.Len() == 0 {
			log.Warn("No swap adapters registered; plans will be abandoned before signing")
		}
		return eng.run(ctx, reg)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate plans without submitting them")
}
