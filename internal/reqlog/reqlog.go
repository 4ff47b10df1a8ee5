// Package reqlog is the JSONL request-log sink (§5/§7): a thin,
// bounded-channel writer that appends one JSON line per request/response
// event to a file for debugging and offline analysis. It is explicitly
// out of the gateway's core routing scope — disabled by default, and
// dropping records under load rather than applying backpressure to the
// request path.
package reqlog

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/howard-nolan/llmgateway/internal/observability"
)

// maxBodySize bounds how much of a request/response body a Record keeps,
// matching error_logger.py's 64KB truncation so a single huge payload
// can't blow up the log file.
const maxBodySize = 64 * 1024

// Record is one JSONL line. Fields are all optional except Type,
// RequestID and Timestamp — callers fill in whatever's relevant to the
// event being logged.
type Record struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	Endpoint       string `json:"endpoint,omitempty"`
	Provider       string `json:"provider,omitempty"`
	CredentialName string `json:"credential_name,omitempty"`
	ModelRequested string `json:"model_requested,omitempty"`
	ModelMapped    string `json:"model_mapped,omitempty"`
	IsStreaming    bool   `json:"is_streaming,omitempty"`
	StatusCode     int    `json:"status_code,omitempty"`

	Headers json.RawMessage `json:"headers,omitempty"`
	Body    string          `json:"body,omitempty"`

	ChunkSequence []string `json:"chunk_sequence,omitempty"`
}

// Sink is a bounded-channel JSONL writer. Log is safe to call
// concurrently; once the channel is full, records are dropped and
// counted rather than blocking the caller.
type Sink struct {
	records chan Record
	logger  *zap.Logger

	wg   sync.WaitGroup
	done chan struct{}

	bodyEnabled bool
	dropped     atomic.Int64
}

// Config controls sink construction. BufferSize and Path mirror the
// JSONL_LOG_BUFFER_SIZE / JSONL_LOG_PATH settings of §6.
type Config struct {
	Path        string
	BufferSize  int
	BodyEnabled bool
}

// New opens Path for append and starts the background writer goroutine.
// Callers should check config.JSONLLogEnabled before calling New — the
// sink itself has no disabled mode, matching JsonlLogger.create
// returning None when disabled in the original implementation.
func New(cfg Config, logger *zap.Logger) (*Sink, error) {
	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	s := &Sink{
		records:     make(chan Record, cfg.BufferSize),
		logger:      logger,
		done:        make(chan struct{}),
		bodyEnabled: cfg.BodyEnabled,
	}

	s.wg.Add(1)
	go s.writerLoop(f)

	return s, nil
}

// Log enqueues a record, first emptying the body when body logging is
// disabled or truncating it otherwise; header redaction is done by
// LogHeaders, not here. If the channel is full the record is dropped and a
// warning is logged every 100th drop, matching request_logger.py's
// dropped-count-modulo-100 behavior.
func (s *Sink) Log(rec Record) {
	if !s.bodyEnabled {
		rec.Body = ""
	} else {
		rec.Body = truncate(rec.Body)
	}

	select {
	case s.records <- rec:
	default:
		dropped := s.dropped.Add(1)
		if dropped%100 == 1 {
			s.logger.Warn("request log queue full, dropping records", zap.Int64("dropped_total", dropped))
		}
	}
}

// LogHeaders redacts h per §7 before attaching it to rec and calling Log.
func (s *Sink) LogHeaders(rec Record, h http.Header) {
	redacted := observability.RedactHeaders(h)
	encoded, err := json.Marshal(redacted)
	if err != nil {
		s.logger.Warn("failed to encode request headers for log", zap.Error(err))
	} else {
		rec.Headers = encoded
	}
	s.Log(rec)
}

func truncate(body string) string {
	if len(body) <= maxBodySize {
		return body
	}
	return body[:maxBodySize] + "...[truncated]"
}

// Shutdown stops the writer, flushes whatever remains in the channel, and
// closes the underlying file. A later second call is a no-op.
func (s *Sink) Shutdown() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	s.wg.Wait()
}

func (s *Sink) writerLoop(f *os.File) {
	defer s.wg.Done()
	defer f.Close()

	enc := json.NewEncoder(f)

	for {
		select {
		case rec := <-s.records:
			s.write(enc, rec)
		case <-s.done:
			for {
				select {
				case rec := <-s.records:
					s.write(enc, rec)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) write(enc *json.Encoder, rec Record) {
	if err := enc.Encode(rec); err != nil {
		s.logger.Error("failed to write request log record", zap.Error(err))
	}
}
