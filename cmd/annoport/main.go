package main

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/labelops/annoport/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "annoport",
	Short: "Convert annotation datasets into destination platform projects",
	Long: `annoport converts exported annotation datasets (XML task exports and
per-image JSON exports) into projects on the destination platform, splitting
mixed-media datasets by media kind and reporting per-item outcomes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		logger = slog.New(
			tint.NewHandler(os.Stderr, &tint.Options{
				Level:      logLevel(cfg.LogLevel),
				TimeFormat: "15:04:05",
			}),
		)
		return nil
	},
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	if err := rootCmd.Execute(); err != nil {
		slog.New(tint.NewHandler(os.Stderr, nil)).Error("command failed", "err", err)
		os.Exit(1)
	}
}
