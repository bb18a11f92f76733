package relay

import "github.com/af-corp/oss-relay/internal/config"

// DefaultModel is the model name used when a request does not name one.
const DefaultModel = "gpt-oss-120b"

// ChatMessage is a single conversation turn. Role is free-form.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a validated inbound chat-completion request.
// MaxTokens and Temperature stay nil when the caller omitted them, so an
// explicit zero is never confused with "unset".
type CompletionRequest struct {
	Messages         []ChatMessage
	Model            string
	MaxTokens        *int
	Temperature      *float64
	Stream           bool
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

// UpstreamRequest is the payload sent upstream. Every field is resolved.
type UpstreamRequest struct {
	Messages         []ChatMessage `json:"messages"`
	Model            string        `json:"model"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	PresencePenalty  float64       `json:"presence_penalty"`
	Stream           bool          `json:"stream"`
}

// Resolve fills omitted sampling fields from defaults.
func Resolve(req CompletionRequest, defaults config.DefaultsConfig) UpstreamRequest {
	up := UpstreamRequest{
		Messages:         req.Messages,
		Model:            req.Model,
		MaxTokens:        defaults.MaxTokens,
		Temperature:      defaults.Temperature,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stream:           req.Stream,
	}
	if up.Model == "" {
		up.Model = defaults.Model
	}
	if up.Model == "" {
		up.Model = DefaultModel
	}
	if req.MaxTokens != nil {
		up.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		up.Temperature = *req.Temperature
	}
	return up
}
