package relay

import (
	"bytes"
	"encoding/json"
)

const missingInputMessage = "Missing required field: either 'prompt' or 'messages' must be provided"

// InputError is a malformed or incomplete inbound request. It is the
// caller's fault and is never sent upstream.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

type inboundMessage struct {
	Role    *string `json:"role"`
	Content *string `json:"content"`
}

type inboundRequest struct {
	Prompt           json.RawMessage `json:"prompt"`
	Messages         json.RawMessage `json:"messages"`
	Model            *string         `json:"model"`
	MaxTokens        *int            `json:"max_tokens"`
	Temperature      *float64        `json:"temperature"`
	Stream           *bool           `json:"stream"`
	TopP             *float64        `json:"top_p"`
	FrequencyPenalty *float64        `json:"frequency_penalty"`
	PresencePenalty  *float64        `json:"presence_penalty"`
}

// Parse turns a raw JSON object into a CompletionRequest. It accepts either
// {"prompt": "..."} or {"messages": [...]}; prompt wins when both are given.
// Every failure is an *InputError.
func Parse(raw []byte) (CompletionRequest, error) {
	var in inboundRequest
	if len(bytes.TrimSpace(raw)) == 0 {
		return CompletionRequest{}, &InputError{Message: "Request body is empty"}
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return CompletionRequest{}, &InputError{Message: "Invalid JSON: " + err.Error()}
	}

	var messages []ChatMessage
	switch {
	case present(in.Prompt):
		var prompt string
		if err := json.Unmarshal(in.Prompt, &prompt); err != nil {
			return CompletionRequest{}, &InputError{Message: "Invalid field 'prompt': must be a string"}
		}
		messages = []ChatMessage{{Role: "user", Content: prompt}}

	case present(in.Messages):
		var inbound []inboundMessage
		if err := json.Unmarshal(in.Messages, &inbound); err != nil {
			return CompletionRequest{}, &InputError{Message: "Invalid field 'messages': " + err.Error()}
		}
		if len(inbound) == 0 {
			return CompletionRequest{}, &InputError{Message: "Invalid field 'messages': must contain at least one message"}
		}
		messages = make([]ChatMessage, 0, len(inbound))
		for _, m := range inbound {
			msg := ChatMessage{Role: "user"}
			if m.Role != nil {
				msg.Role = *m.Role
			}
			if m.Content != nil {
				msg.Content = *m.Content
			}
			messages = append(messages, msg)
		}

	default:
		return CompletionRequest{}, &InputError{Message: missingInputMessage}
	}

	req := CompletionRequest{
		Messages:    messages,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
		TopP:        1.0,
	}
	if in.Model != nil {
		req.Model = *in.Model
	}
	if in.Stream != nil {
		req.Stream = *in.Stream
	}
	if in.TopP != nil {
		req.TopP = *in.TopP
	}
	if in.FrequencyPenalty != nil {
		req.FrequencyPenalty = *in.FrequencyPenalty
	}
	if in.PresencePenalty != nil {
		req.PresencePenalty = *in.PresencePenalty
	}
	return req, nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}
