// Package envelope builds the response shapes returned outside the streaming
// HTTP path: the one-shot {success, result} / {error} envelope and the
// {status, message} diagnostic body.
package envelope

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/af-corp/oss-relay/internal/relay"
)

// Envelope is the one-shot invocation result. Exactly one of Result or Error is set.
type Envelope struct {
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Success wraps an upstream body. A body that is not valid JSON is embedded
// as a JSON string so the envelope itself always stays well-formed.
func Success(body []byte) Envelope {
	return Envelope{Success: true, Result: rawOrString(body)}
}

func Failure(msg string) Envelope {
	return Envelope{Error: msg}
}

// FromError converts translator and unexpected errors.
func FromError(err error) Envelope {
	var inputErr *relay.InputError
	if errors.As(err, &inputErr) {
		return Failure(inputErr.Message)
	}
	return Failure(err.Error())
}

// FromOutcome converts a relay outcome. A StreamSuccess is read to the end
// and its stream closed, since an envelope cannot carry a live stream.
func FromOutcome(out relay.Outcome) Envelope {
	switch o := out.(type) {
	case relay.BufferedSuccess:
		return Success(o.Body)
	case relay.StreamSuccess:
		defer o.Stream.Close()
		var body []byte
		for {
			chunk, err := o.Stream.Next()
			body = append(body, chunk...)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return Success(body)
				}
				return Failure("Upstream stream interrupted: " + err.Error())
			}
		}
	case relay.UpstreamError:
		return Failure(o.Message())
	case relay.TransportError:
		return Failure(o.Message)
	case relay.Fault:
		return Failure(o.Message())
	default:
		return Failure("unknown relay outcome")
	}
}

func rawOrString(body []byte) json.RawMessage {
	if len(body) > 0 && json.Valid(body) {
		return json.RawMessage(body)
	}
	s, _ := json.Marshal(string(body))
	return s
}

// Diagnostic is the body returned by the /test and /mock-test endpoints.
type Diagnostic struct {
	Status       string          `json:"status"`
	Message      string          `json:"message"`
	TestResponse json.RawMessage `json:"test_response,omitempty"`
	MockResponse json.RawMessage `json:"mock_response,omitempty"`
}

func DiagnosticSuccess(msg string, body []byte) Diagnostic {
	return Diagnostic{Status: "success", Message: msg, TestResponse: rawOrString(body)}
}

func DiagnosticError(msg string) Diagnostic {
	return Diagnostic{Status: "error", Message: msg}
}
