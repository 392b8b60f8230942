// Package main implements taskctl, a CLI for the taskagent HTTP server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ravikadam/tasks/internal/extraction"
	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the taskagent HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskctl",
		Short: "CLI for taskagent HTTP server operations",
		Long: `taskctl sends messages to a taskagent server, previews task extraction
and checks server health.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8004", "taskagent server URL")
	root.AddCommand(newProcessCmd(), newExtractCmd(), newHealthCmd())
	return root
}

type processOptions struct {
	sender         string
	channel        string
	caseID         string
	idempotencyKey string
}

func newProcessCmd() *cobra.Command {
	opts := &processOptions{}
	cmd := &cobra.Command{
		Use:   "process [message|-]",
		Short: "Send a message to the server",
		Long: `Send a message to the server and print the result.

Examples:
  # Start a new case
  taskctl process --sender u-1 "call John tomorrow and buy groceries"

  # Continue a case, reading the message from stdin
  echo "also book a dentist appointment" | taskctl process --sender u-1 --case c-42 -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.sender, "sender", "", "sender id (required)")
	cmd.Flags().StringVar(&opts.channel, "channel", "API", "inbound channel: Bot, Email, WebChat or API")
	cmd.Flags().StringVar(&opts.caseID, "case", "", "existing case id")
	cmd.Flags().StringVar(&opts.idempotencyKey, "idempotency-key", "", "Idempotency-Key header for safe retries")
	_ = cmd.MarkFlagRequired("sender")
	return cmd
}

func newExtractCmd() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "extract [message|-]",
		Short: "Preview task extraction for a message",
		Long: `Preview the tasks a message would produce. By default the deterministic
extractor runs locally; --remote asks the server, which uses the model when
one is configured. Nothing is written either way.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, args, remote)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "extract on the server")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check taskagent server health",
		RunE:  runHealth,
	}
}

// processRequest matches internal/http ProcessRequest.
type processRequest struct {
	Message  string `json:"message"`
	SenderID string `json:"sender_id"`
	Channel  string `json:"channel"`
	CaseID   string `json:"case_id,omitempty"`
}

// healthResponse matches internal/http HealthResponse.
type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// readMessage takes the message from args, or from stdin for "-" or no
// argument.
func readMessage(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	content, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read from stdin: %w", err)
	}
	return strings.TrimRight(string(content), "\n"), nil
}

func runProcess(cmd *cobra.Command, args []string, opts *processOptions) error {
	message, err := readMessage(cmd, args)
	if err != nil {
		return err
	}

	headers := map[string]string{}
	if opts.idempotencyKey != "" {
		headers["Idempotency-Key"] = opts.idempotencyKey
	}
	return postJSON(cmd, "/api/v1/process", processRequest{
		Message:  message,
		SenderID: opts.sender,
		Channel:  opts.channel,
		CaseID:   opts.caseID,
	}, headers, 60*time.Second)
}

func runExtract(cmd *cobra.Command, args []string, remote bool) error {
	message, err := readMessage(cmd, args)
	if err != nil {
		return err
	}

	if remote {
		return postJSON(cmd, "/api/v1/extract", map[string]string{"message": message}, nil, 30*time.Second)
	}

	facade := extraction.NewFacade(nil, extraction.NewFallbackExtractor(time.Now))
	return printJSON(cmd.OutOrStdout(), facade.Extract(commandContext(cmd), message))
}

func runHealth(cmd *cobra.Command, _ []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server Status: %s\n", health.Status)
	fmt.Fprintf(out, "Version: %s\n", health.Version)
	fmt.Fprintf(out, "Server URL: %s\n", serverURL)
	return nil
}

func postJSON(cmd *cobra.Command, path string, body any, headers map[string]string, timeout time.Duration) error {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := serverURL + path
	httpReq, err := http.NewRequestWithContext(commandContext(cmd), http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	var out json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
