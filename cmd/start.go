package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/backrunner/cmd/bot"
	"github.com/michaelpento.lv/backrunner/config"
	"github.com/michaelpento.lv/backrunner/utils"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the back-running pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()
		defer utils.CleanupLogger()

		cfg, err := config.LoadConfig(cfgFile, log)
		if err != nil {
			return err
		}
		secure, err := config.LoadSecureConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		b, err := bot.New(ctx, cfg, secure, log)
		if err != nil {
			return err
		}
		if err := b.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		log.Info("Shutting down gracefully...")
		b.Stop()
		log.Info("Shutdown complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
