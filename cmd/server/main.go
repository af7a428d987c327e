package main

import (
	"context"
	"os"
	"path/filepath"

	"sessionhub-core/internal/app/server"
	"sessionhub-core/internal/config"
	corelog "sessionhub-core/internal/core/log"
	"sessionhub-core/internal/version"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "sessionhub",
	Short:   "Realtime session recovery service",
	Version: version.GetVersion(),
	RunE: func(cmd *cobra.Command, args []string) error {
		absConfigPath, err := filepath.Abs(configPath)
		if err != nil {
			return err
		}

		cfg, err := config.Load(absConfigPath)
		if err != nil {
			return err
		}

		srv, err := server.New(context.Background(), cfg)
		if err != nil {
			return err
		}

		srv.DisplayStartupBanner(absConfigPath)

		if err := srv.Run(); err != nil {
			return err
		}
		corelog.Info("sessionhub exited gracefully")
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
