package pipeline

import (
	"encoding/json"

	"github.com/howard-nolan/llmgateway/internal/gwerror"
	"github.com/howard-nolan/llmgateway/internal/protocol"
)

// upstreamErrorShape is lenient enough to decode both OpenAI's
// {error:{message,type,code}} and Anthropic's {type:"error",error:{type,message}}
// bodies, since both nest the human-readable message at error.message.
type upstreamErrorShape struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func extractUpstreamMessage(body []byte) string {
	var shape upstreamErrorShape
	if err := json.Unmarshal(body, &shape); err != nil || shape.Error.Message == "" {
		return "upstream request failed"
	}
	return shape.Error.Message
}

// adaptErrorBody protocol-adapts an upstream ≥400 response into the
// calling client's protocol shape, per §4.7's "surface status, extract
// error.message where present, protocol-adapt the body".
func adaptErrorBody(clientProto protocol.Protocol, status int, upstreamBody []byte) []byte {
	message := extractUpstreamMessage(upstreamBody)
	return ErrorBody(clientProto, gwerror.Upstream(status, message))
}

// ErrorBody renders any gateway error into the wire shape the given client
// protocol expects, for the server's top-level error handler to reuse
// regardless of which layer produced the error.
func ErrorBody(clientProto protocol.Protocol, gerr *gwerror.Error) []byte {
	var body map[string]any
	switch clientProto {
	case protocol.Anthropic, protocol.GCPVertexAnthropic:
		body = gerr.AnthropicBody()
	default:
		body = gerr.OpenAIBody()
	}
	out, err := json.Marshal(body)
	if err != nil {
		return []byte(`{"error":{"message":"internal error"}}`)
	}
	return out
}
