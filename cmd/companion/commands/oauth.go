package commands

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/companion/pkg/companion/config"
	"github.com/jholhewres/companion/pkg/companion/subagent"
)

// newOAuthCmd creates the `companion oauth` command group that manages the
// external task service's OAuth2 code-grant session.
func newOAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oauth",
		Short: "Manage the task service OAuth session",
		Long: `Login to and inspect the OAuth2 session used by the sub-agent's
task-service tool surface.

Examples:
  companion oauth login
  companion oauth status`,
	}

	cmd.AddCommand(newOAuthLoginCmd(), newOAuthStatusCmd())
	return cmd
}

func oauthClientFromConfig(cmd *cobra.Command) (*subagent.OAuthClient, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	clientSecret, err := config.ResolveSecret(cfg.TaskService.ClientSecret, "COMPANION_TASKSERVICE_CLIENT_SECRET", "taskservice_client_secret", promptSecret)
	if err != nil {
		return nil, err
	}
	return subagent.NewOAuthClient(subagent.OAuthConfig{
		ClientID:     cfg.TaskService.ClientID,
		ClientSecret: clientSecret,
		AuthURL:      cfg.TaskService.AuthURL,
		TokenURL:     cfg.TaskService.TokenURL,
		Scopes:       cfg.TaskService.Scopes,
		RedirectPort: cfg.TaskService.RedirectPort,
		TokenPath:    cfg.TaskService.TokenPath,
	}), nil
}

func newOAuthLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Run the interactive OAuth2 code-grant flow",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := oauthClientFromConfig(cmd)
			if err != nil {
				return err
			}

			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			verifier, challenge, err := subagent.NewPKCEVerifier()
			if err != nil {
				return err
			}
			state := fmt.Sprintf("%d", time.Now().UnixNano())
			authURL := client.AuthURL(state, challenge)

			fmt.Println("Opening browser for task-service login...")
			fmt.Println(authURL)
			openBrowser(authURL)

			code, err := waitForOAuthCallback(cfg.TaskService.RedirectPort, state)
			if err != nil {
				return fmt.Errorf("oauth callback: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := client.ExchangeCode(ctx, code, verifier); err != nil {
				return fmt.Errorf("exchange code: %w", err)
			}

			fmt.Println("Logged in. Token cached at", cfg.TaskService.TokenPath)
			return nil
		},
	}
}

func newOAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a cached task-service token is valid",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := oauthClientFromConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := client.ValidToken(ctx); err != nil {
				fmt.Println("not logged in:", err)
				return nil
			}
			fmt.Println("logged in, token is valid")
			return nil
		},
	}
}

// waitForOAuthCallback serves a single request on the loopback redirect
// URI and returns its authorization code, matching the configured state.
func waitForOAuthCallback(port int, expectedState string) (string, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != expectedState {
			errCh <- fmt.Errorf("state mismatch")
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errCh <- fmt.Errorf("no code in callback")
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Login complete, you can close this tab.")
		codeCh <- code
	})

	server := &http.Server{Addr: fmt.Sprintf("localhost:%d", port), Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	select {
	case code := <-codeCh:
		return code, nil
	case err := <-errCh:
		return "", err
	case <-time.After(3 * time.Minute):
		return "", fmt.Errorf("timed out waiting for oauth callback")
	}
}

// openBrowser best-effort opens url in the default browser; failure is
// non-fatal since the URL is also printed for manual use.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	_ = cmd.Start()
}
