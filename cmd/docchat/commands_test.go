package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/docchat/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
	Type   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
			Type:   r.Header.Get("Content-Type"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"conversation c9 not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// useServer points the CLI commands at ts for the duration of the test.
func useServer(t *testing.T, ts *testServer) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })
}

// execute runs the root command with args after resetting flags left over
// from earlier runs.
func execute(t *testing.T, args ...string) error {
	t.Helper()
	resetFlags(rootCmd)
	defer rootCmd.SetArgs(nil)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

var ctx = context.Background()

func TestUploadCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /upload": `{"conversation_id":"c1","document_id":"d1","file_url":"http://x/files/a.txt","processed":true}`,
	})
	useServer(t, ts)

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := execute(t, "upload", path, "--user", "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	if !strings.HasPrefix(r.Type, "multipart/form-data") {
		t.Errorf("content type = %q, want multipart/form-data", r.Type)
	}
	for _, want := range []string{`name="user"`, "u1", `name="document"; filename="notes.txt"`, "hello world"} {
		if !strings.Contains(r.Body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestUploadCommand_MissingUser(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	useServer(t, ts)

	err := execute(t, "upload", "notes.txt")
	if err == nil {
		t.Fatal("expected error for missing --user")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
	if len(ts.requests) != 0 {
		t.Errorf("expected no requests, got %d", len(ts.requests))
	}
}

func TestSendCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /conversations/send": `{"user_id":"u1","conversation_id":"c1","user_message":"hi there","assistant_response":"hello"}`,
	})
	useServer(t, ts)

	if err := execute(t, "send", "--user", "u1", "--conversation", "c1", "hi", "there"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["user"] != "u1" || body["conversation"] != "c1" || body["message"] != "hi there" {
		t.Errorf("body = %v", body)
	}
}

func TestHistoryCommand_URLEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /conversations/history": `[{"id":"c1","title":"First","created_at":"2026-01-01T00:00:00Z"}]`,
	})
	useServer(t, ts)

	if err := execute(t, "history", "--user", "a b&c"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ts.requests[0].Path; got != "/conversations/history?user=a+b%26c" {
		t.Errorf("path = %q", got)
	}
}

func TestMessagesCommand_NotFound(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	useServer(t, ts)

	err := execute(t, "messages", "c9", "--user", "u1")
	if err == nil {
		t.Fatal("expected error for unknown conversation")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "not_found") {
		t.Errorf("error = %q, want status and error type", err.Error())
	}
	if got := ts.requests[0].Path; got != "/conversations/c9/messages?user=u1" {
		t.Errorf("path = %q", got)
	}
}

func TestReingestCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /documents/d1/reingest": `{"job_id":"j1","status":"queued"}`,
	})
	useServer(t, ts)

	if err := execute(t, "reingest", "d1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r := ts.requests[0]; r.Method != http.MethodPost || r.Path != "/documents/d1/reingest" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
}

func TestUserAddCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /users": `{"id":"u1","username":"alice","created_at":"2026-01-01T00:00:00Z"}`,
	})
	useServer(t, ts)

	if err := execute(t, "user", "add", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ts.requests[0].Body; !strings.Contains(got, `"username":"alice"`) {
		t.Errorf("body = %s", got)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		bind string
		want string
	}{
		{"127.0.0.1", "127.0.0.1:4100"},
		{"0.0.0.0", "127.0.0.1:4100"},
		{"", "127.0.0.1:4100"},
		{"::1", "[::1]:4100"},
	}
	for _, tt := range tests {
		cfg := config.Config{Server: config.ServerConfig{Bind: tt.bind, Port: 4100}}
		if got := clientAddr(cfg); got != tt.want {
			t.Errorf("clientAddr(%q) = %q, want %q", tt.bind, got, tt.want)
		}
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(styleSuccess, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}
}
