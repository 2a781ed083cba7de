package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	app "github.com/okian/herbid/internal/app"
	"github.com/okian/herbid/internal/config"
	"github.com/okian/herbid/pkg/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "herbctl",
	Short: "Identify medicinal herbs from photographs",
	Long:  "herbctl runs the herb recognition pipeline in-process and drives\nload against a running herbid server.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if err := logger.InitWithWriter(os.Stderr, false); err != nil {
			return err
		}
		return logger.SetLevelString(rootFlags.logLevel)
	},
}

var rootFlags struct {
	logLevel string
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(augmentCmd)
	rootCmd.AddCommand(herbsCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// startService builds a pipeline from the environment and starts it.
func startService(ctx context.Context) (*app.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(app.WithConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	if err := svc.Start(ctx); err != nil {
		return nil, fmt.Errorf("start service: %w", err)
	}
	return svc, nil
}
