package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kilianp07/tasmota-bridge/app"
	"github.com/kilianp07/tasmota-bridge/config"
	"github.com/kilianp07/tasmota-bridge/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "tasmota-bridge",
	Short: "Tasmota sensor discovery bridge",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	},
	RunE: run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file, empty for environment only")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
