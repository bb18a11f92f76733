package oneshot

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/af-corp/oss-relay/internal/config"
)

func testConfig(baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Upstream.BaseURL = baseURL
	cfg.Upstream.Timeout = 5 * time.Second
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandle_Prompt(t *testing.T) {
	const body = `{"choices":[{"message":{"content":"Hi"}}]}`
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	env := Handle(context.Background(), testConfig(srv.URL), discardLogger(), []byte(`{"input": {"prompt": "Hello"}}`))

	if !env.Success {
		t.Fatalf("expected success, got error %q", env.Error)
	}
	if string(env.Result) != body {
		t.Errorf("expected result %s, got %s", body, env.Result)
	}
	msgs, _ := payload["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 upstream message, got %v", payload["messages"])
	}
}

func TestHandle_StreamForcedBuffered(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	env := Handle(context.Background(), testConfig(srv.URL), discardLogger(),
		[]byte(`{"input": {"prompt": "Hello", "stream": true}}`))

	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}
	if payload["stream"] != false {
		t.Errorf("expected buffered upstream call, got stream=%v", payload["stream"])
	}
}

func TestHandle_TopLevelFieldsMerged(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	event := `{"input": {"messages": [{"content": "hi"}], "temperature": 0.2}, "temperature": 0.9, "max_tokens": 64}`
	env := Handle(context.Background(), testConfig(srv.URL), discardLogger(), []byte(event))

	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}
	if payload["temperature"] != 0.2 {
		t.Errorf("expected input temperature to win, got %v", payload["temperature"])
	}
	if payload["max_tokens"] != float64(64) {
		t.Errorf("expected top-level max_tokens 64, got %v", payload["max_tokens"])
	}
}

func TestHandle_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	refused := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	refusedURL := refused.URL
	refused.Close()

	tests := []struct {
		name    string
		baseURL string
		event   string
		wantErr string
	}{
		{"missing input fields", srv.URL, `{"input": {}}`, "Missing required field"},
		{"missing input", srv.URL, `{}`, "Missing required field"},
		{"invalid event", srv.URL, `not json`, "Invalid event"},
		{"input not object", srv.URL, `{"input": "hello"}`, "'input'"},
		{"empty messages", srv.URL, `{"input": {"messages": []}}`, "at least one message"},
		{"upstream error", srv.URL, `{"input": {"prompt": "x"}}`, "Upstream error: bad gateway"},
		{"upstream unreachable", refusedURL, `{"input": {"prompt": "x"}}`, "Failed to connect to upstream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Handle(context.Background(), testConfig(tt.baseURL), discardLogger(), []byte(tt.event))
			if env.Success {
				t.Fatal("expected failure envelope")
			}
			if !strings.Contains(env.Error, tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, env.Error)
			}
		})
	}
}
