package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/howard-nolan/llmgateway/internal/uif"
)

// Transformer implements protocol.Transformer for the Anthropic Messages
// wire format.
type Transformer struct {
	// AnthropicVersion is sent as the anthropic-version header by the
	// Upstream Dispatcher, not embedded here — except for GCP-Vertex
	// targets, which this Transformer also serves (§4.5's note that
	// gcp-vertex-anthropic reuses this transformer's content-block logic).
	AnthropicVersion string
	// ForVertex, when true, drops the top-level "model" field (the model
	// lives in the URL path for Vertex) and embeds AnthropicVersion in the
	// body instead of a header.
	ForVertex bool
}

// New constructs an Anthropic Transformer.
func New() *Transformer { return &Transformer{AnthropicVersion: "2023-06-01"} }

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func parseSystem(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", fmt.Errorf("anthropic: unrecognized system shape: %w", err)
	}
	out := ""
	for i, b := range blocks {
		if i > 0 {
			out += "\n\n"
		}
		out += b.Text
	}
	return out, nil
}

func parseBlocks(raw json.RawMessage) ([]wireBlock, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []wireBlock{{Type: "text", Text: s}}, nil
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("anthropic: unrecognized content shape: %w", err)
	}
	return blocks, nil
}

func wireBlockToUnified(b wireBlock) uif.ContentBlock {
	switch b.Type {
	case "text":
		return uif.ContentBlock{Kind: uif.BlockText, Text: b.Text}
	case "thinking":
		return uif.ContentBlock{Kind: uif.BlockThinking, Text: b.Thinking}
	case "image":
		src := uif.ImageSource{}
		if b.Source != nil {
			src.MediaType = b.Source.MediaType
			src.Data = b.Source.Data
		}
		return uif.ContentBlock{Kind: uif.BlockImage, Image: src}
	case "tool_use":
		input := b.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return uif.ContentBlock{Kind: uif.BlockToolUse, ToolUseID: b.ID, ToolName: b.Name, ToolInput: input}
	case "tool_result":
		text := ""
		if len(b.Content) > 0 {
			if inner, err := parseBlocks(b.Content); err == nil && len(inner) > 0 {
				text = inner[0].Text
			}
		}
		return uif.ContentBlock{Kind: uif.BlockToolResult, ToolCallID: b.ToolUseID, ToolOutput: text, IsError: b.IsError}
	default:
		return uif.ContentBlock{Kind: uif.BlockText, Text: ""}
	}
}

func unifiedBlockToWire(b uif.ContentBlock) wireBlock {
	switch b.Kind {
	case uif.BlockText:
		return wireBlock{Type: "text", Text: b.Text}
	case uif.BlockThinking:
		return wireBlock{Type: "thinking", Thinking: b.Text}
	case uif.BlockImage:
		return wireBlock{Type: "image", Source: &wireImageSource{Type: "base64", MediaType: b.Image.MediaType, Data: b.Image.Data}}
	case uif.BlockToolUse:
		input := b.ToolInput
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return wireBlock{Type: "tool_use", ID: b.ToolUseID, Name: b.ToolName, Input: input}
	case uif.BlockToolResult:
		return wireBlock{Type: "tool_result", ToolUseID: b.ToolCallID, Content: jsonString(b.ToolOutput), IsError: b.IsError}
	default:
		return wireBlock{Type: "text"}
	}
}

// RequestToUnified parses an Anthropic Messages request body into UIF,
// applying the §4.5.1 splitting rule: a user message mixing tool_result
// and text/image blocks is split into a tool_result-only message (or one
// per result) followed by the remaining content as its own message.
func (t *Transformer) RequestToUnified(body []byte) (uif.Request, error) {
	var wr wireRequest
	if err := json.Unmarshal(body, &wr); err != nil {
		return uif.Request{}, fmt.Errorf("anthropic: parse request: %w", err)
	}

	system, err := parseSystem(wr.System)
	if err != nil {
		return uif.Request{}, err
	}

	req := uif.Request{
		Model:       wr.Model,
		System:      system,
		MaxTokens:   wr.MaxTokens,
		Temperature: wr.Temperature,
		TopP:        wr.TopP,
		Stop:        wr.StopSequences,
		Stream:      wr.Stream,
	}
	for _, wt := range wr.Tools {
		req.Tools = append(req.Tools, uif.Tool{Name: wt.Name, Description: wt.Description, Schema: wt.InputSchema})
	}

	for _, m := range wr.Messages {
		blocks, err := parseBlocks(m.Content)
		if err != nil {
			return uif.Request{}, err
		}
		var toolResults, rest []uif.ContentBlock
		for _, b := range blocks {
			ub := wireBlockToUnified(b)
			if ub.Kind == uif.BlockToolResult {
				toolResults = append(toolResults, ub)
			} else {
				rest = append(rest, ub)
			}
		}
		for _, tr := range toolResults {
			req.Messages = append(req.Messages, uif.Message{Role: m.Role, Content: []uif.ContentBlock{tr}})
		}
		if len(rest) > 0 {
			req.Messages = append(req.Messages, uif.Message{Role: m.Role, Content: rest})
		}
	}
	return req, nil
}

// UnifiedToRequest renders a UIF request into an Anthropic wire request
// body.
func (t *Transformer) UnifiedToRequest(req uif.Request) ([]byte, error) {
	wr := wireRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}
	if t.ForVertex {
		wr.Model = ""
		wr.AnthropicVersion = t.AnthropicVersion
	}
	if req.System != "" {
		wr.System = jsonString(req.System)
	}
	for _, tool := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{Name: tool.Name, Description: tool.Description, InputSchema: tool.Schema})
	}
	for _, m := range req.Messages {
		var blocks []wireBlock
		for _, b := range m.Content {
			blocks = append(blocks, unifiedBlockToWire(b))
		}
		content, err := json.Marshal(blocks)
		if err != nil {
			return nil, fmt.Errorf("anthropic: marshal message content: %w", err)
		}
		wr.Messages = append(wr.Messages, wireMessage{Role: m.Role, Content: content})
	}
	out, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	return out, nil
}

func mapStopReason(reason string) uif.StopReason {
	switch reason {
	case "end_turn":
		return uif.StopEndTurn
	case "max_tokens":
		return uif.StopMaxTokens
	case "stop_sequence":
		return uif.StopSequence
	case "tool_use":
		return uif.StopToolUse
	default:
		return uif.StopError
	}
}

func unmapStopReason(reason uif.StopReason) string {
	switch reason {
	case uif.StopEndTurn:
		return "end_turn"
	case uif.StopMaxTokens:
		return "max_tokens"
	case uif.StopSequence:
		return "stop_sequence"
	case uif.StopToolUse:
		return "tool_use"
	default:
		return "end_turn"
	}
}

// ResponseToUnified parses an Anthropic Messages response body into UIF.
func (t *Transformer) ResponseToUnified(body []byte) (uif.Response, error) {
	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return uif.Response{}, fmt.Errorf("anthropic: parse response: %w", err)
	}
	var blocks []uif.ContentBlock
	for _, b := range wr.Content {
		blocks = append(blocks, wireBlockToUnified(b))
	}
	return uif.Response{
		ID:         wr.ID,
		Model:      wr.Model,
		Role:       wr.Role,
		Content:    blocks,
		StopReason: mapStopReason(wr.StopReason),
		Usage: uif.Usage{
			InputTokens:     wr.Usage.InputTokens,
			OutputTokens:    wr.Usage.OutputTokens,
			CacheReadTokens: wr.Usage.CacheReadInputTokens,
		},
	}, nil
}

// UnifiedToResponse renders a UIF response into an Anthropic wire response
// body.
func (t *Transformer) UnifiedToResponse(resp uif.Response) ([]byte, error) {
	var blocks []wireBlock
	for _, b := range resp.Content {
		blocks = append(blocks, unifiedBlockToWire(b))
	}
	wr := wireResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      resp.Model,
		Content:    blocks,
		StopReason: unmapStopReason(resp.StopReason),
		Usage: wireUsage{
			InputTokens:          resp.Usage.InputTokens,
			OutputTokens:         resp.Usage.OutputTokens,
			CacheReadInputTokens: resp.Usage.CacheReadTokens,
		},
	}
	out, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal response: %w", err)
	}
	return out, nil
}

// WireStreamEventToUnified parses one named Anthropic SSE event into
// unified StreamChunks.
func (t *Transformer) WireStreamEventToUnified(eventName string, data []byte) ([]uif.StreamChunk, error) {
	switch eventName {
	case "message_start":
		var ev wireEventMessageStart
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("anthropic: parse message_start: %w", err)
		}
		return []uif.StreamChunk{{Kind: uif.ChunkMessageStart, MessageID: ev.Message.ID, MessageModel: ev.Message.Model}}, nil
	case "ping":
		return []uif.StreamChunk{{Kind: uif.ChunkPing}}, nil
	case "content_block_start":
		var ev wireEventContentBlockStart
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("anthropic: parse content_block_start: %w", err)
		}
		sc := uif.StreamChunk{Kind: uif.ChunkContentBlockStart, Index: ev.Index}
		switch ev.ContentBlock.Type {
		case "text":
			sc.BlockKind = uif.BlockText
		case "thinking":
			sc.BlockKind = uif.BlockThinking
		case "tool_use":
			sc.BlockKind = uif.BlockToolUse
			sc.ToolUseID = ev.ContentBlock.ID
			sc.ToolName = ev.ContentBlock.Name
		}
		return []uif.StreamChunk{sc}, nil
	case "content_block_delta":
		var ev wireEventContentBlockDelta
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("anthropic: parse content_block_delta: %w", err)
		}
		sc := uif.StreamChunk{Kind: uif.ChunkContentBlockDelta, Index: ev.Index}
		switch ev.Delta.Type {
		case "text_delta":
			sc.DeltaKind = uif.DeltaText
			sc.Text = ev.Delta.Text
		case "thinking_delta":
			sc.DeltaKind = uif.DeltaThinking
			sc.Text = ev.Delta.Thinking
		case "input_json_delta":
			sc.DeltaKind = uif.DeltaInputJSON
			sc.PartialJSON = ev.Delta.PartialJSON
		}
		return []uif.StreamChunk{sc}, nil
	case "content_block_stop":
		var ev wireEventContentBlockStop
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("anthropic: parse content_block_stop: %w", err)
		}
		return []uif.StreamChunk{{Kind: uif.ChunkContentBlockStop, Index: ev.Index}}, nil
	case "message_delta":
		var ev wireEventMessageDelta
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("anthropic: parse message_delta: %w", err)
		}
		return []uif.StreamChunk{{
			Kind: uif.ChunkMessageDelta, StopReason: mapStopReason(ev.Delta.StopReason),
			Usage: uif.Usage{InputTokens: ev.Usage.InputTokens, OutputTokens: ev.Usage.OutputTokens},
		}}, nil
	case "message_stop":
		return []uif.StreamChunk{{Kind: uif.ChunkMessageStop}}, nil
	case "error":
		var ev wireEventError
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("anthropic: parse error event: %w", err)
		}
		return []uif.StreamChunk{{Kind: uif.ChunkError, ErrKind: ev.Error.Type, ErrMessage: ev.Error.Message}}, nil
	default:
		return nil, nil
	}
}

// UnifiedStreamEventToWire renders a unified StreamChunk into a named
// Anthropic SSE event.
func (t *Transformer) UnifiedStreamEventToWire(chunk uif.StreamChunk) (string, []byte, error) {
	switch chunk.Kind {
	case uif.ChunkMessageStart:
		id := chunk.MessageID
		if id == "" {
			id = "msg_" + uuid.New().String()
		}
		ev := wireEventMessageStart{Message: wireResponse{
			ID: id, Type: "message", Role: "assistant", Model: chunk.MessageModel, Content: []wireBlock{},
		}}
		b, err := json.Marshal(ev)
		return "message_start", b, err
	case uif.ChunkPing:
		return "ping", []byte(`{"type":"ping"}`), nil
	case uif.ChunkContentBlockStart:
		block := wireBlock{Type: string(chunk.BlockKind)}
		if chunk.BlockKind == uif.BlockToolUse {
			block.ID = chunk.ToolUseID
			block.Name = chunk.ToolName
			block.Input = json.RawMessage("{}")
		}
		ev := wireEventContentBlockStart{Index: chunk.Index, ContentBlock: block}
		b, err := json.Marshal(ev)
		return "content_block_start", b, err
	case uif.ChunkContentBlockDelta:
		delta := wireDelta{}
		switch chunk.DeltaKind {
		case uif.DeltaText:
			delta.Type = "text_delta"
			delta.Text = chunk.Text
		case uif.DeltaThinking:
			delta.Type = "thinking_delta"
			delta.Thinking = chunk.Text
		case uif.DeltaInputJSON:
			delta.Type = "input_json_delta"
			delta.PartialJSON = chunk.PartialJSON
		}
		ev := wireEventContentBlockDelta{Index: chunk.Index, Delta: delta}
		b, err := json.Marshal(ev)
		return "content_block_delta", b, err
	case uif.ChunkContentBlockStop:
		ev := wireEventContentBlockStop{Index: chunk.Index}
		b, err := json.Marshal(ev)
		return "content_block_stop", b, err
	case uif.ChunkMessageDelta:
		var ev wireEventMessageDelta
		ev.Delta.StopReason = unmapStopReason(chunk.StopReason)
		ev.Usage = wireUsage{InputTokens: chunk.Usage.InputTokens, OutputTokens: chunk.Usage.OutputTokens}
		b, err := json.Marshal(ev)
		return "message_delta", b, err
	case uif.ChunkMessageStop:
		return "message_stop", []byte(`{"type":"message_stop"}`), nil
	case uif.ChunkError:
		var ev wireEventError
		ev.Error.Type = chunk.ErrKind
		ev.Error.Message = chunk.ErrMessage
		b, err := json.Marshal(ev)
		return "error", b, err
	default:
		return "", nil, nil
	}
}
