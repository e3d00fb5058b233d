// ABOUTME: Client-side subcommands that query a running gateway over HTTP
// ABOUTME: health checks liveness; status reports one tenant's session state

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/wa-gateway/internal/config"
	"github.com/2389/wa-gateway/internal/gateway"
)

const clientTimeout = 10 * time.Second

func newHealthCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runHealth(cmd.Context(), cmd.OutOrStdout(), baseURL(cfg))
		},
	}
}

func newStatusCmd(configPath *string) *cobra.Command {
	var clientID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a client's WhatsApp session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if clientID == "" {
				clientID = cfg.API.DefaultClientID
			}
			return runStatus(cmd.Context(), cmd.OutOrStdout(), baseURL(cfg), cfg.Auth.APIKey, clientID)
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "Client ID (defaults to api.default_client_id)")
	return cmd
}

// baseURL is where the local gateway answers. With Tailscale the node's
// hostname is used, which resolves through MagicDNS.
func baseURL(cfg *config.Config) string {
	switch {
	case !cfg.Tailscale.Enabled:
		return "http://" + cfg.Server.HTTPAddr
	case cfg.Tailscale.HTTPS || cfg.Tailscale.Funnel:
		return "https://" + cfg.Tailscale.Hostname
	default:
		return "http://" + cfg.Tailscale.Hostname
	}
}

func getJSON(ctx context.Context, rawURL, token string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, clientTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func runHealth(ctx context.Context, out io.Writer, base string) error {
	var health gateway.HealthResponse
	if err := getJSON(ctx, base+"/api/health", "", &health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if !health.Success {
		return errors.New("unhealthy")
	}

	uptime := time.Duration(health.UptimeSeconds * float64(time.Second)).Round(time.Second)
	fmt.Fprintf(out, "healthy (%s %s, up %s, %d sessions)\n", health.Name, health.Version, uptime, health.Sessions)
	return nil
}

func runStatus(ctx context.Context, out io.Writer, base, apiKey, clientID string) error {
	var status gateway.StatusResponse
	u := base + "/api/whatsapp/status?clientId=" + url.QueryEscape(clientID)
	if err := getJSON(ctx, u, apiKey, &status); err != nil {
		return fmt.Errorf("status query failed: %w", err)
	}

	stateColor := color.New(color.FgYellow)
	switch {
	case status.IsConnected:
		stateColor = color.New(color.FgGreen)
	case status.ConnectionState == "failed" || status.ConnectionState == "logged_out":
		stateColor = color.New(color.FgRed)
	}

	fmt.Fprintf(out, "client:  %s\n", clientID)
	fmt.Fprintf(out, "state:   %s\n", stateColor.Sprint(status.ConnectionState))
	if status.QRCode != "" {
		fmt.Fprintln(out, "qr code: pending (scan it from the connect response or the events stream)")
	}
	return nil
}
