// CLAUDE:SUMMARY E2E test harness: spawns horosrand subprocess on a free port with temp data dir and HTTP/MCP helpers
package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

// TestHarness manages a horosrand subprocess and provides HTTP helpers.
type TestHarness struct {
	BaseURL    string
	DataDir    string
	DBPath     string
	ConfigPath string
	Binary     string

	cmd    *exec.Cmd
	client *http.Client
	port   int
}

// NewHarness builds a config, starts horosrand serve, and waits for health.
func NewHarness(t *testing.T) *TestHarness {
	t.Helper()

	// Find free port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	// Data directory (manual cleanup: t.TempDir() would delete files when
	// the first test finishes, breaking shared DBAssert across tests)
	dataDir, err := os.MkdirTemp("", "horosrand-e2e-*")
	if err != nil {
		t.Fatalf("creating temp dir: %v", err)
	}
	dbPath := filepath.Join(dataDir, "horosrand.db")

	config := fmt.Sprintf(`[server]
addr = "127.0.0.1:%d"

[database]
path = %q

[auth]
jwt_secret = "e2e-test-secret-key-horosrand"
token_expiry_min = 60

[entropy]
source = "chacha20"
raw_bytes = 32

[history]
max_entries = 1000

[rate_limit]
generate_per_minute = 0

[log]
level = "warn"
format = "text"

[mcp]
enabled = true

[instance]
id = "e2e-test"
name = "horosrand-e2e"
revision = 7
`, port, dbPath)

	configPath := filepath.Join(dataDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(config), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	// Locate binary using absolute path
	wd, _ := os.Getwd()
	binary, _ := filepath.Abs(filepath.Join(wd, "..", "horosrand"))
	if _, err := os.Stat(binary); os.IsNotExist(err) {
		t.Fatalf("binary not found at %s (build it with: CGO_ENABLED=0 go build -o horosrand .)", binary)
	}

	parentDir, _ := filepath.Abs(filepath.Join(wd, ".."))
	cmd := exec.Command(binary, "serve", "--config", configPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = parentDir

	if err := cmd.Start(); err != nil {
		t.Fatalf("starting horosrand: %v", err)
	}

	h := &TestHarness{
		BaseURL:    fmt.Sprintf("http://127.0.0.1:%d", port),
		DataDir:    dataDir,
		DBPath:     dbPath,
		ConfigPath: configPath,
		Binary:     binary,
		cmd:        cmd,
		port:       port,
		client:     &http.Client{Timeout: 30 * time.Second},
	}

	// Health check
	deadline := time.Now().Add(15 * time.Second)
	backoff := 100 * time.Millisecond
	for time.Now().Before(deadline) {
		resp, err := h.client.Get(h.BaseURL + "/api/random/history/count")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				t.Logf("horosrand ready on port %d", port)
				return h
			}
		}
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff = backoff * 3 / 2
		}
	}

	h.Stop()
	t.Fatalf("horosrand did not become ready within 15s on port %d", port)
	return nil
}

// Stop sends SIGTERM, waits 5s, then SIGKILL. Cleans up the data directory.
func (h *TestHarness) Stop() {
	if h.cmd == nil || h.cmd.Process == nil {
		return
	}
	h.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		h.cmd.Process.Kill()
		<-done
	}

	if h.DataDir != "" {
		os.RemoveAll(h.DataDir)
	}
}

// Token issues a bearer token for caller through the token subcommand.
func (h *TestHarness) Token(t *testing.T, caller string) string {
	t.Helper()
	out, err := exec.Command(h.Binary, "token", "--config", h.ConfigPath, "--caller", caller).Output()
	if err != nil {
		t.Fatalf("issuing token for %s: %v", caller, err)
	}
	return strings.TrimSpace(string(out))
}

// Do executes an HTTP request and returns the response.
func (h *TestHarness) Do(method, path string, body interface{}, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, h.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return h.client.Do(req)
}

// JSON executes a request and decodes the JSON response into dst.
func (h *TestHarness) JSON(method, path string, body interface{}, token string, dst interface{}) (*http.Response, error) {
	resp, err := h.Do(method, path, body, token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, fmt.Errorf("reading body: %w", err)
	}

	// Reset body so caller can inspect status
	resp.Body = io.NopCloser(bytes.NewReader(data))

	if dst != nil && len(data) > 0 {
		if err := json.Unmarshal(data, dst); err != nil {
			return resp, fmt.Errorf("decoding JSON (status %d, body: %s): %w", resp.StatusCode, truncate(string(data), 500), err)
		}
	}

	return resp, nil
}

// Generate calls POST /api/random and returns the value as sent on the wire.
func (h *TestHarness) Generate(t *testing.T, token string) string {
	t.Helper()
	var result struct {
		Value string `json:"value"`
	}
	resp, err := h.JSON("POST", "/api/random", nil, token, &result)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	RequireStatus(t, resp, http.StatusOK)
	return result.Value
}

// MCPSession is a streamable HTTP MCP client bound to one session.
type MCPSession struct {
	h         *TestHarness
	token     string
	sessionID string
	nextID    int
}

// MCP initializes an MCP session at /mcp.
func (h *TestHarness) MCP(t *testing.T, token string) *MCPSession {
	t.Helper()
	s := &MCPSession{h: h, token: token}
	s.Call(t, "initialize", map[string]any{
		"protocolVersion": "2025-03-26",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "horosrand-e2e", "version": "1.0"},
	})
	return s
}

// Call sends one JSON-RPC request and returns its decoded response.
func (s *MCPSession) Call(t *testing.T, method string, params any) map[string]any {
	t.Helper()
	s.nextID++
	data, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": s.nextID, "method": method, "params": params})

	req, err := http.NewRequest("POST", s.h.BaseURL+"/mcp", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("mcp request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	if s.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", s.sessionID)
	}

	resp, err := s.h.client.Do(req)
	if err != nil {
		t.Fatalf("mcp %s: %v", method, err)
	}
	defer resp.Body.Close()
	RequireStatus(t, resp, http.StatusOK)
	if id := resp.Header.Get("Mcp-Session-Id"); id != "" {
		s.sessionID = id
	}

	body, _ := io.ReadAll(resp.Body)
	payload := eventData(body)
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("mcp %s: decoding %s: %v", method, truncate(string(body), 500), err)
	}
	return out
}

// eventData unwraps an SSE framed response; plain JSON passes through.
func eventData(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return trimmed
	}
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data:") {
			return []byte(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return trimmed
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// RequireStatus asserts the HTTP status code matches expected.
func RequireStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", expected, resp.StatusCode, truncate(string(body), 500))
	}
}
