package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/solarb/utils"
)

var (
	cfgFile string
	debug   bool
	logFile string
)

var rootCmd = &cobra.Command{
	Use:   "solarb",
	Short: "Solana arbitrage detection and execution engine",
	Long: `solarb scans pool snapshots for cyclic arbitrage across Solana DEXes
and executes profitable cycles atomically through Jito bundles, funding them
from wallet capital or flash loans.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", utils.DefaultLogFile, "file mirroring stdout logs; empty disables it")
}

func initConfig() {
	utils.InitLogger(utils.LogOptions{Debug: debug, File: logFile})
}
