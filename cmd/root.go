package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/censusify/internal/config"
)

var cfg *config.Config

// rootCmd loads config.yaml and CENSUSIFY_* settings into cfg and installs
// the global zap logger before any subcommand runs. --log-level and
// --log-format override the log section.
var rootCmd = &cobra.Command{
	Use:               "censusify",
	Short:             "Census demographics for local geographies",
	Long:              "Apportions census block group counts onto police districts, service areas and other local boundaries by areal overlap or centroid containment.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format override (json or console)")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "load config")
	}
	if lvl, _ := cmd.Root().PersistentFlags().GetString("log-level"); lvl != "" {
		c.Log.Level = lvl
	}
	if format, _ := cmd.Root().PersistentFlags().GetString("log-format"); format != "" {
		c.Log.Format = format
	}
	cfg = c

	if err := config.InitLogger(cfg.Log); err != nil {
		return eris.Wrap(err, "init logger")
	}
	zap.L().Debug("config loaded",
		zap.String("store", cfg.Store.Driver),
		zap.String("relationship", cfg.Match.Relationship),
		zap.Int("geographies", len(cfg.Geographies)),
	)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
