// Package oneshot relays a single event synchronously for request/response
// style hosts. Every call owns its own upstream client.
package oneshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/af-corp/oss-relay/internal/config"
	"github.com/af-corp/oss-relay/internal/envelope"
	"github.com/af-corp/oss-relay/internal/relay"
	"github.com/af-corp/oss-relay/internal/upstream"
	"github.com/google/uuid"
)

// samplingFields may be given at the top level of an event as well as inside
// its input object. Values inside input win.
var samplingFields = []string{
	"model", "max_tokens", "temperature", "stream",
	"top_p", "frequency_penalty", "presence_penalty",
}

// Handle relays one event of the form {"input": {...}, ...} and always
// returns an envelope, even if the relay panics.
func Handle(ctx context.Context, cfg *config.Config, logger *slog.Logger, event []byte) (env envelope.Envelope) {
	invocationID := uuid.NewString()
	logger = logger.With("invocation_id", invocationID)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic in one-shot handler", "panic", rec)
			env = envelope.Failure(fmt.Sprintf("Handler error: %v", rec))
		}
	}()

	input, err := mergeInput(event)
	if err != nil {
		return envelope.Failure(err.Error())
	}

	req, err := relay.Parse(input)
	if err != nil {
		logger.Info("rejected one-shot input", "error", err)
		return envelope.FromError(err)
	}
	// Live streams cannot be returned through an envelope.
	req.Stream = false

	client := upstream.New(cfg.Upstream)
	defer client.Close()

	engine := relay.NewEngine(client, relay.Options{
		Defaults: cfg.Defaults,
		APIKey:   cfg.Upstream.APIKey,
		Logger:   logger,
	})
	return envelope.FromOutcome(engine.Relay(ctx, invocationID, req))
}

func mergeInput(event []byte) ([]byte, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(event, &top); err != nil {
		return nil, fmt.Errorf("Invalid event: %v", err)
	}

	input := map[string]json.RawMessage{}
	if raw, ok := top["input"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &input); err != nil {
			return nil, errors.New("Invalid field 'input': must be an object")
		}
	}

	for _, field := range samplingFields {
		if _, ok := input[field]; ok {
			continue
		}
		if v, ok := top[field]; ok {
			input[field] = v
		}
	}

	merged, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	return merged, nil
}
