package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/af-corp/oss-relay/internal/envelope"
	"github.com/af-corp/oss-relay/internal/health"
	"github.com/af-corp/oss-relay/internal/httputil"
	"github.com/af-corp/oss-relay/internal/relay"
)

const maxBodyBytes = 10 << 20

// Relayer runs one relay. *relay.Engine implements it.
type Relayer interface {
	Relay(ctx context.Context, reqID string, req relay.CompletionRequest) relay.Outcome
}

// UpstreamStatus reports the last upstream probe. *health.Prober implements it.
type UpstreamStatus interface {
	Last() (health.Status, bool)
}

// Handler holds dependencies for the gateway HTTP handlers.
type Handler struct {
	relayer Relayer
	status  UpstreamStatus
	model   string
	version string
	logger  *slog.Logger
}

func NewHandler(relayer Relayer, status UpstreamStatus, model, version string, logger *slog.Logger) *Handler {
	return &Handler{
		relayer: relayer,
		status:  status,
		model:   model,
		version: version,
		logger:  logger,
	}
}

// Root handles GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "GPT-OSS 120B Relay Gateway",
		"version": h.version,
		"docs":    "/v1/models",
	})
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Model     string `json:"model"`
	Version   string `json:"version"`
}

// Health handles GET /health. It always reports the gateway itself as
// healthy; upstream reachability is served separately.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Model:     h.model,
		Version:   h.version,
	})
}

// UpstreamHealth handles GET /health/upstream
func (h *Handler) UpstreamHealth(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		httputil.WriteJSON(w, http.StatusOK, health.Status{})
		return
	}
	st, ok := h.status.Last()
	if !ok {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"reachable": false, "error": "not checked yet"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

type modelEntry struct {
	ID         string   `json:"id"`
	Object     string   `json:"object"`
	Created    int64    `json:"created"`
	OwnedBy    string   `json:"owned_by"`
	Permission []string `json:"permission"`
	Root       string   `json:"root"`
	Parent     *string  `json:"parent"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, modelList{
		Object: "list",
		Data: []modelEntry{{
			ID:         h.model,
			Object:     "model",
			Created:    1640995200,
			OwnedBy:    "openai",
			Permission: []string{},
			Root:       h.model,
		}},
	})
}

// ChatCompletions handles POST /v1/chat/completions
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	req, err := relay.Parse(body)
	if err != nil {
		var inputErr *relay.InputError
		if errors.As(err, &inputErr) {
			h.logger.Info("rejected request", "request_id", reqID, "error", inputErr.Message)
			httputil.WriteBadRequestError(w, reqID, inputErr.Message)
			return
		}
		httputil.WriteInternalError(w, reqID, "Internal server error: "+err.Error())
		return
	}

	h.writeOutcome(w, reqID, h.relayer.Relay(r.Context(), reqID, req))
}

func (h *Handler) writeOutcome(w http.ResponseWriter, reqID string, out relay.Outcome) {
	switch o := out.(type) {
	case relay.BufferedSuccess:
		contentType := o.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		w.Write(o.Body)
	case relay.StreamSuccess:
		streamResponse(w, reqID, o.Stream, h.logger)
	case relay.UpstreamError:
		httputil.WriteUpstreamError(w, reqID, o.Status, o.Message())
	case relay.TransportError:
		httputil.WriteServiceUnavailableError(w, reqID, o.Message)
	case relay.Fault:
		httputil.WriteInternalError(w, reqID, o.Message())
	default:
		httputil.WriteInternalError(w, reqID, "Internal server error: unknown relay outcome")
	}
}

const testPrompt = "Hello! Can you respond with a simple greeting?"

// Test handles POST /test: a small fixed request through the full relay.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	maxTokens := 50
	req := relay.CompletionRequest{
		Messages:  []relay.ChatMessage{{Role: "user", Content: testPrompt}},
		MaxTokens: &maxTokens,
		TopP:      1.0,
	}

	switch o := h.relayer.Relay(r.Context(), reqID, req).(type) {
	case relay.BufferedSuccess:
		httputil.WriteJSON(w, http.StatusOK, envelope.DiagnosticSuccess("Connection to upstream is working", o.Body))
	case relay.StreamSuccess:
		o.Stream.Close()
		httputil.WriteJSON(w, http.StatusOK, envelope.DiagnosticError("Unexpected streamed response from upstream"))
	default:
		httputil.WriteJSON(w, http.StatusOK, envelope.DiagnosticError(envelope.FromOutcome(o).Error))
	}
}

var mockCompletion = json.RawMessage(`{
	"id": "chatcmpl-mock-123",
	"object": "chat.completion",
	"created": 1640995200,
	"model": "gpt-oss-120b",
	"choices": [{
		"index": 0,
		"message": {"role": "assistant", "content": "Hello! This is a mock response from the relay gateway. The server is working correctly!"},
		"finish_reason": "stop"
	}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
}`)

// MockTest handles POST /mock-test. It never touches the upstream.
func (h *Handler) MockTest(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, envelope.Diagnostic{
		Status:       "success",
		Message:      "Server is running correctly",
		MockResponse: mockCompletion,
	})
}
