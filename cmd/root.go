package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/backrunner/config"
	"github.com/michaelpento.lv/backrunner/utils"
)

var (
	cfgFile string
	debug   bool
	logFile string
	console bool
)

var rootCmd = &cobra.Command{
	Use:   "backrunner",
	Short: "A mempool back-running arbitrage bot",
	Long: `A bot that watches the mempool for DEX swaps, simulates the price
impact each one leaves behind, and submits flash-loan funded arbitrage
bundles to a private relay for the following block.`,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.backrunner.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "backrunner.log", "also write logs to this file (empty disables)")
	rootCmd.PersistentFlags().BoolVar(&console, "console", false, "human readable log output")
}

func initConfig() {
	log := utils.InitLoggerWithOptions(utils.LoggerOptions{Debug: debug, File: logFile, Console: console})
	if err := config.LoadEnv(); err != nil {
		log.Warn("Failed to load .env", zap.Error(err))
	}
}
