package server

import (
	"fmt"
	"net/http"

	"github.com/howard-nolan/llmgateway/internal/gwerror"
	"github.com/howard-nolan/llmgateway/internal/pipeline"
	"github.com/howard-nolan/llmgateway/internal/protocol"
)

// sseWriter implements pipeline.StreamEmit against an http.ResponseWriter,
// generalizing the teacher's internal/stream/stream.go Write function from
// one fixed OpenAI chunk shape to arbitrary named/unnamed SSE events, per
// §6's "event: <name>\ndata: <json>\n\n" wire format.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("server: response writer does not support flushing")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

// start sets SSE headers. Must be called before the first Emit/writeError.
func (s *sseWriter) start() {
	if s.started {
		return
	}
	s.started = true
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
}

// emit writes one SSE event and flushes immediately so the client sees
// tokens arrive in real time.
func (s *sseWriter) emit(name string, data []byte) error {
	s.start()
	if name != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// writeMidStreamError emits a protocol-adapted error SSE event per §7's
// "errors detected mid-stream are emitted as a protocol-appropriate error
// SSE event, after which the stream is closed" propagation policy.
func (s *sseWriter) writeMidStreamError(clientProto protocol.Protocol, gerr *gwerror.Error) {
	body := pipeline.ErrorBody(clientProto, gerr)
	_ = s.emit("error", body)
}
