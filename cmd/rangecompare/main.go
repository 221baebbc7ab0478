package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "rangecompare",
		Short: "Compare an entity's history across two time ranges",
		Long: `rangecompare fetches the history of one entity for two user-chosen
ranges, rebases both onto a shared relative time axis and serves the
comparison over HTTP and WebSocket.`,
		SilenceUsage: true,
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "Path to the YAML config file")

	rootCmd.AddCommand(serveCmd(), compareCmd(), hashTokenCmd(), pruneCacheCmd())

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
