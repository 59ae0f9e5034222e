package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"bookingagent/internal/session"
)

var sessionsFlags struct {
	server string
	apiKey string
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage live chat sessions through the admin API",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired sessions now",
	Args:  cobra.NoArgs,
	RunE:  runSessionsSweep,
}

func init() {
	f := sessionsCmd.PersistentFlags()
	f.StringVar(&sessionsFlags.server, "server", "http://localhost:8080", "agent API base URL")
	f.StringVar(&sessionsFlags.apiKey, "api-key", os.Getenv("AGENT_ADMIN_API_KEY"), "admin API key (defaults to server.admin_api_key from config)")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsSweepCmd)
}

// adminClient calls the admin routes of a running agent.
type adminClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newAdminClient() (*adminClient, error) {
	key := sessionsFlags.apiKey
	if key == "" {
		if cfg, err := loadConfig(); err == nil {
			key = cfg.Server.AdminAPIKey
		}
	}
	if key == "" {
		return nil, fmt.Errorf("admin API key required: pass --api-key or set server.admin_api_key")
	}
	return &adminClient{
		baseURL: strings.TrimRight(sessionsFlags.server, "/"),
		apiKey:  key,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *adminClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	client, err := newAdminClient()
	if err != nil {
		return err
	}
	var resp struct {
		Sessions []session.Summary `json:"sessions"`
	}
	if err := client.do(cmd.Context(), http.MethodGet, "/api/agent/sessions", &resp); err != nil {
		return err
	}
	return printSessions(cmd.OutOrStdout(), resp.Sessions)
}

func printSessions(out io.Writer, list []session.Summary) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tLANG\tFIELDS\tOFF-TRACK\tUPDATED")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.ID, s.State, s.Language, s.Collected, s.OffTrack, s.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	client, err := newAdminClient()
	if err != nil {
		return err
	}
	if err := client.do(cmd.Context(), http.MethodDelete, "/api/agent/sessions/"+url.PathEscape(args[0]), nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}

func runSessionsSweep(cmd *cobra.Command, _ []string) error {
	client, err := newAdminClient()
	if err != nil {
		return err
	}
	var resp struct {
		Removed int `json:"removed"`
	}
	if err := client.do(cmd.Context(), http.MethodPost, "/api/agent/sessions/sweep", &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired session(s)\n", resp.Removed)
	return nil
}
