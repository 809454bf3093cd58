package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"emovoice/internal/config"
	"emovoice/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	appVersion = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "emovoice",
	Short: "Voice emotion fusion, safety screening and wellness replies",
	Long: `emovoice turns a short voice recording into a fused emotion estimate,
screens it for crisis signals, picks a wellness activity and answers with a
supportive reply, optionally spoken back.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func SetVersion(v string) {
	if v != "" {
		appVersion = v
	}
	rootCmd.Version = appVersion
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (YAML); EMOVOICE_* environment variables override it")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"log format (auto, text, json)")
}

// loadConfig reads the server config and applies the logging flags on top.
func loadConfig() (config.ServerConfig, *slog.Logger, error) {
	cfg, err := config.LoadServerConfig(cfgFile)
	if err != nil {
		return config.ServerConfig{}, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	logger := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		ShowSpeech: cfg.Log.ShowSpeech,
	})
	return cfg, logger, nil
}
