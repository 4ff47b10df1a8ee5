package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/howard-nolan/llmgateway/internal/gwerror"
	"github.com/howard-nolan/llmgateway/internal/pipeline"
	"github.com/howard-nolan/llmgateway/internal/protocol"
	"github.com/howard-nolan/llmgateway/internal/reqlog"
)

// requestIDFromContext returns chi's per-request ID, set by the
// middleware.RequestID middleware installed in routes().
func requestIDFromContext(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// toGatewayError normalizes any error into a *gwerror.Error, wrapping
// anything the gateway's internal layers didn't already classify as
// internal — errors detected before any upstream bytes are emitted become
// a structured protocol-adapted JSON response per §7.
func toGatewayError(err error) *gwerror.Error {
	if gerr, ok := gwerror.As(err); ok {
		return gerr
	}
	return gwerror.Wrap(gwerror.KindInternal, "internal error", err)
}

// writeError writes a protocol-adapted JSON error response for err.
func (s *Server) writeError(w http.ResponseWriter, clientProto protocol.Protocol, err error) {
	gerr := toGatewayError(err)
	body := pipeline.ErrorBody(clientProto, gerr)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gerr.Status)
	_, _ = w.Write(body)
}

// writeErrorLogged writes the error response and, if request logging is
// enabled, records the failure. r may be nil when the request body was
// already consumed by an earlier step and header redaction isn't needed.
func (s *Server) writeErrorLogged(w http.ResponseWriter, r *http.Request, clientProto protocol.Protocol, requestID string, err error) {
	gerr := toGatewayError(err)
	s.writeError(w, clientProto, gerr)

	if s.reqlogSink == nil {
		return
	}
	rec := reqlog.Record{
		Type:       "response",
		RequestID:  requestID,
		StatusCode: gerr.Status,
		Body:       gerr.Message,
	}
	if r != nil {
		s.reqlogSink.LogHeaders(rec, r.Header)
	} else {
		s.reqlogSink.Log(rec)
	}
}
