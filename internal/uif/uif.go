// Package uif defines the Unified Intermediate Form: a protocol-neutral
// request/response/stream-chunk representation that the Transform Pipeline
// converts client and provider wire formats into and out of. Nothing in
// this package knows about HTTP, JSON wire shapes, or any specific
// provider — it is pure data.
package uif

import "encoding/json"

// BlockKind tags the variant of a ContentBlock.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockImage      BlockKind = "image"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
	BlockThinking   BlockKind = "thinking"
)

// ImageSource is the payload of a BlockImage content block.
type ImageSource struct {
	MediaType string // e.g. "image/png"
	Data      string // base64-encoded bytes, no data: prefix
	URL       string // set instead of Data/MediaType when the source is a remote URL
}

// ContentBlock is a tagged union over the five content-block variants UIF
// supports. Only the fields relevant to Kind are populated.
type ContentBlock struct {
	Kind BlockKind

	// BlockText, BlockThinking
	Text string

	// BlockImage
	Image ImageSource

	// BlockToolUse
	ToolUseID   string
	ToolName    string
	ToolInput   json.RawMessage // parsed JSON object, or {"raw_arguments": "..."} on parse failure
	RawArgsFail bool

	// BlockToolResult
	ToolCallID string
	ToolOutput string
	IsError    bool
}

// StopReason is the unified terminal reason a Response or stream ended.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopSequence     StopReason = "stop_sequence"
	StopToolUse      StopReason = "tool_use"
	StopError        StopReason = "error"
)

// Usage carries token accounting shared by Response and stream termination.
type Usage struct {
	InputTokens     int
	OutputTokens    int
	CacheReadTokens int // 0 if not reported
}

// Message is one turn of conversation: a role plus an ordered sequence of
// content blocks. Roles are "user", "assistant", or "tool" (the last only
// ever appears in client wire forms before request_to_unified folds it into
// a user message carrying tool_result blocks, per the OpenAI<->Anthropic
// conversion rules).
type Message struct {
	Role    string
	Content []ContentBlock
}

// Tool describes a callable tool surfaced to the model, named consistently
// across both OpenAI's "function" wrapper and Anthropic's flat shape.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage // JSON Schema document (OpenAI: parameters, Anthropic: input_schema)
}

// ToolChoice constrains which tool (if any) the model must call.
type ToolChoice struct {
	Mode string // "auto", "none", "any", "tool"
	Name string // set when Mode == "tool"
}

// Request is the protocol-neutral request the Transform Pipeline builds
// from a client wire request and consumes to build a provider wire request.
type Request struct {
	Model       string
	Messages    []Message
	System      string
	Tools       []Tool
	ToolChoice  *ToolChoice
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	Stop        []string
	Stream      bool
}

// Response is the protocol-neutral response the Transform Pipeline builds
// from a provider wire response and consumes to build a client wire
// response.
type Response struct {
	ID         string
	Model      string
	Role       string
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
}

// ChunkKind tags the variant of a StreamChunk.
type ChunkKind string

const (
	ChunkMessageStart      ChunkKind = "message_start"
	ChunkContentBlockStart ChunkKind = "content_block_start"
	ChunkContentBlockDelta ChunkKind = "content_block_delta"
	ChunkContentBlockStop  ChunkKind = "content_block_stop"
	ChunkMessageDelta      ChunkKind = "message_delta"
	ChunkMessageStop       ChunkKind = "message_stop"
	ChunkError             ChunkKind = "error"
	ChunkPing              ChunkKind = "ping"
)

// DeltaKind tags the payload shape of a ChunkContentBlockDelta.
type DeltaKind string

const (
	DeltaText       DeltaKind = "text_delta"
	DeltaInputJSON  DeltaKind = "input_json_delta"
	DeltaThinking   DeltaKind = "thinking_delta"
)

// StreamChunk is one semantic event emitted by the Stream State Machine.
// Only the fields relevant to Kind are populated.
type StreamChunk struct {
	Kind ChunkKind

	// ChunkMessageStart
	MessageID    string
	MessageModel string

	// ChunkContentBlockStart
	Index     int
	BlockKind BlockKind
	ToolUseID string
	ToolName  string

	// ChunkContentBlockDelta
	DeltaKind DeltaKind
	Text      string      // DeltaText, DeltaThinking
	PartialJSON string    // DeltaInputJSON

	// ChunkContentBlockStop uses Index only.

	// ChunkMessageDelta, ChunkMessageStop
	StopReason StopReason
	Usage      Usage

	// ChunkError
	ErrKind    string
	ErrMessage string
}
