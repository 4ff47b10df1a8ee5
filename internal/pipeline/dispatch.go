package pipeline

import (
	"context"
	"io"
	"net/http"

	"github.com/howard-nolan/llmgateway/internal/store"
)

// DispatchRequest is everything the Upstream Dispatcher (§4.7) needs to
// build and send one provider-protocol-shaped call.
type DispatchRequest struct {
	Provider store.Provider
	Model    string // upstream model name, post model-map; GCP-Vertex needs it for the URL path
	Body     []byte
	Stream   bool
}

// DispatchResult is what the dispatcher hands back: either a fully-read
// blocking body, or a live stream body the caller must close. The error
// Dispatch returns alongside it, when non-nil, is already a *gwerror.Error
// classified per §4.7's failure table —
// the pipeline does not re-classify transport failures.
type DispatchResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte        // set for blocking calls
	Stream     io.ReadCloser // set for streaming calls; caller must Close
}

// Dispatcher is the Upstream Dispatcher's surface as the Transform Pipeline
// consumes it. Defined here (consumer side) so internal/upstream can depend
// on internal/pipeline's types without this package needing to import
// internal/upstream.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error)
}
