package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// workerStatus mirrors webui's JSON /healthz payload shape; duplicated
// here rather than imported since the CLI only needs to print it.
type workerStatus struct {
	Name     string    `json:"name"`
	LastTick time.Time `json:"last_tick"`
	Healthy  bool      `json:"healthy"`
}

type healthResponse struct {
	Status  string         `json:"status"`
	Workers []workerStatus `json:"workers"`
}

// newHealthCmd creates the `companion health` command, which queries a
// running instance's admin /healthz endpoint (spec §11 enrichment #5).
func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Print the worker liveness of a running instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if !cfg.WebUI.Enabled {
				return fmt.Errorf("webui is disabled in config; nothing to query")
			}

			req, err := http.NewRequest(http.MethodGet, "http://"+hostForAddress(cfg.WebUI.Address)+"/healthz", nil)
			if err != nil {
				return err
			}
			if cfg.WebUI.AdminUser != "" {
				pass, err := promptSecret("admin password")
				if err != nil {
					return err
				}
				req.SetBasicAuth(cfg.WebUI.AdminUser, pass)
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("query healthz: %w", err)
			}
			defer resp.Body.Close()

			var report healthResponse
			if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
				return fmt.Errorf("decode healthz response: %w", err)
			}

			fmt.Println("status:", report.Status)
			for _, w := range report.Workers {
				fmt.Printf("  %-12s healthy=%-5v last_tick=%s\n", w.Name, w.Healthy, w.LastTick.Format(time.RFC3339))
			}
			if report.Status != "ok" {
				return fmt.Errorf("instance reports degraded")
			}
			return nil
		},
	}
	return cmd
}

// hostForAddress turns a listen address like ":8090" into a dial target.
func hostForAddress(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
