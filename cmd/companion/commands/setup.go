package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/companion/pkg/companion/config"
)

// newSetupCmd creates the `companion setup` command: an interactive
// wizard that writes an initial config.yaml (spec §11 enrichment #1).
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for the assistant's name, wake word, LLM model, and API key. The API
key is stored in the OS keyring, never in plaintext config.

Examples:
  companion setup`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	var apiKey, adminPassword string
	var storeKey bool

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Assistant name").Value(&cfg.Name),
			huh.NewInput().Title("Wake word").Value(&cfg.WakeWord),
			huh.NewInput().Title("Timezone (IANA)").Value(&cfg.Timezone),
		),
		huh.NewGroup(
			huh.NewInput().Title("LLM base URL").Value(&cfg.API.BaseURL),
			huh.NewInput().Title("LLM model").Value(&cfg.API.Model),
			huh.NewInput().Title("LLM API key").
				Value(&apiKey).
				EchoMode(huh.EchoModePassword),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the admin /healthz endpoint?").
				Value(&cfg.WebUI.Enabled),
			huh.NewInput().Title("Admin username (blank disables Basic Auth)").
				Value(&cfg.WebUI.AdminUser),
			huh.NewInput().Title("Admin password (blank disables Basic Auth)").
				Value(&adminPassword).
				EchoMode(huh.EchoModePassword),
			huh.NewConfirm().
				Title("Enable the proactive poller?").
				Value(&cfg.Poller.Enabled),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("setup wizard: %w", err)
	}
	storeKey = apiKey != ""

	if cfg.WebUI.AdminUser != "" && adminPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		cfg.WebUI.AdminPasswordHash = string(hash)
	}

	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = defaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	if storeKey {
		if err := config.StoreSecret("api_key", apiKey); err != nil {
			fmt.Println("warning: could not save API key to OS keyring:", err)
			fmt.Println("set it via the COMPANION_API_KEY environment variable instead.")
		}
	}

	fmt.Println("Wrote", path)
	return nil
}
