// Package anthropic implements the Anthropic Messages protocol transformer:
// client/provider wire structs and their conversion to and from the
// Unified Intermediate Form, per spec §4.4/§4.5.1.
package anthropic

import "encoding/json"

type wireRequest struct {
	Model         string          `json:"model"`
	System        json.RawMessage `json:"system,omitempty"`
	Messages      []wireMessage   `json:"messages"`
	Tools         []wireTool      `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`

	// AnthropicVersion is only set when this request targets GCP-Vertex,
	// which embeds it in the body instead of a header (§4.5's note on the
	// GCP-Vertex request shape).
	AnthropicVersion string `json:"anthropic_version,omitempty"`
}

type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// wireBlock is the tagged union of Anthropic content-block JSON shapes.
type wireBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"` // type == "text"

	Thinking string `json:"thinking,omitempty"` // type == "thinking"

	Source *wireImageSource `json:"source,omitempty"` // type == "image"

	ID    string          `json:"id,omitempty"`    // type == "tool_use"
	Name  string          `json:"name,omitempty"`  // type == "tool_use"
	Input json.RawMessage `json:"input,omitempty"` // type == "tool_use"

	ToolUseID string          `json:"tool_use_id,omitempty"` // type == "tool_result"
	Content   json.RawMessage `json:"content,omitempty"`     // type == "tool_result" (string or block array)
	IsError   bool            `json:"is_error,omitempty"`    // type == "tool_result"
}

type wireImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type wireResponse struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Role       string      `json:"role"`
	Model      string      `json:"model"`
	Content    []wireBlock `json:"content"`
	StopReason string      `json:"stop_reason"`
	Usage      wireUsage   `json:"usage"`
}

type wireUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens,omitempty"`
}

// Streaming event payload shapes.

type wireEventMessageStart struct {
	Message wireResponse `json:"message"`
}

type wireEventContentBlockStart struct {
	Index        int       `json:"index"`
	ContentBlock wireBlock `json:"content_block"`
}

type wireEventContentBlockDelta struct {
	Index int       `json:"index"`
	Delta wireDelta `json:"delta"`
}

type wireDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
}

type wireEventContentBlockStop struct {
	Index int `json:"index"`
}

type wireEventMessageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage wireUsage `json:"usage"`
}

type wireEventError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
