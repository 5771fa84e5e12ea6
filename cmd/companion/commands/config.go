package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/companion/pkg/companion/config"
)

// resolveConfig loads .env (if present), then the config file named by
// --config or the default search path.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	_ = godotenv.Load()

	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}
	return cfg, nil
}

func defaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.companion/config.yaml"
	}
	return "./config.yaml"
}

func buildLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case cfg.Logging.Level == "debug":
		level = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		level = slog.LevelWarn
	case cfg.Logging.Level == "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

func resolveAPIKey(cfg *config.Config) (string, error) {
	return config.ResolveSecret(cfg.API.APIKey, "COMPANION_API_KEY", "api_key", promptSecret)
}

// promptSecret reads a secret from the controlling terminal with the
// input unechoed, used as ResolveSecret's last-resort prompt callback.
func promptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s not found in config, env, or keyring.\nEnter value: ", label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret from terminal: %w", err)
	}
	return string(raw), nil
}
