package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/config"
)

var cfg *config.Config

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "tendhunt",
	Short: "UK public-sector buyer enrichment and spend ingestion pipeline",
	Long:  "Enriches public-sector buyers in resumable stages, ingests their published spend files and syncs contract notices from Contracts Finder and Find a Tender.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if err := applyLogFlags(&c.Log); err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.L().Debug("config loaded",
			zap.String("command", cmd.CommandPath()),
			zap.String("store", cfg.Store.Driver),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// applyLogFlags lets --log-level and --log-format override the configured
// logger for a single invocation.
func applyLogFlags(lc *config.LogConfig) error {
	if logLevel != "" {
		lc.Level = logLevel
	}
	if logFormat != "" {
		if logFormat != "json" && logFormat != "console" {
			return eris.Errorf("invalid --log-format %q: want json or console", logFormat)
		}
		lc.Format = logFormat
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log.format (json or console)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
