package gateway

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/af-corp/oss-relay/internal/httputil"
	"github.com/af-corp/oss-relay/internal/relay"
)

const (
	trailerStatus = "X-Relay-Status"
	trailerError  = "X-Relay-Error"

	statusComplete = "complete"
	statusAborted  = "aborted"
)

// streamResponse copies chunks to the client as they arrive, flushing after
// each one. The next chunk is only read once the previous write returned.
// How the stream ended is reported in the X-Relay-Status trailer.
func streamResponse(w http.ResponseWriter, reqID string, stream relay.ChunkStream, logger *slog.Logger) {
	defer stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Request-ID", reqID)
	h.Set("Trailer", trailerStatus+", "+trailerError)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		chunk, err := stream.Next()
		if len(chunk) > 0 {
			if _, werr := w.Write(chunk); werr != nil {
				logger.Info("client disconnected mid-stream", "request_id", reqID, "error", werr)
				return
			}
			flusher.Flush()
		}
		if errors.Is(err, io.EOF) {
			h.Set(trailerStatus, statusComplete)
			return
		}
		if err != nil {
			logger.Warn("upstream stream interrupted", "request_id", reqID, "error", err)
			h.Set(trailerStatus, statusAborted)
			h.Set(trailerError, sanitizeHeader(err.Error()))
			return
		}
	}
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
