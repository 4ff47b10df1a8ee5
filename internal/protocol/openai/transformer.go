package openai

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/howard-nolan/llmgateway/internal/uif"
)

// Transformer implements protocol.Transformer for the OpenAI Chat
// Completions wire format.
type Transformer struct{}

// New constructs an OpenAI Transformer.
func New() *Transformer { return &Transformer{} }

func textPart(text string) json.RawMessage {
	b, _ := json.Marshal(text)
	return b
}

// parseContent accepts either a JSON string or an array of
// {type,text|image_url} parts, per OpenAI's multi-modal content shape.
func parseContent(raw json.RawMessage) ([]uif.ContentBlock, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		return []uif.ContentBlock{{Kind: uif.BlockText, Text: s}}, nil
	}
	var parts []wireContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("openai: unrecognized content shape: %w", err)
	}
	blocks := make([]uif.ContentBlock, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, uif.ContentBlock{Kind: uif.BlockText, Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			mediaType, data := splitDataURL(p.ImageURL.URL)
			blocks = append(blocks, uif.ContentBlock{
				Kind:  uif.BlockImage,
				Image: uif.ImageSource{MediaType: mediaType, Data: data, URL: p.ImageURL.URL},
			})
		}
	}
	return blocks, nil
}

// splitDataURL parses "data:<media_type>;base64,<data>" into its parts. If
// url isn't a data: URL, mediaType is empty and data is the url itself.
func splitDataURL(url string) (mediaType, data string) {
	const prefix = "data:"
	if !strings.HasPrefix(url, prefix) {
		return "", url
	}
	rest := url[len(prefix):]
	semi := strings.Index(rest, ";base64,")
	if semi < 0 {
		return "", url
	}
	return rest[:semi], rest[semi+len(";base64,"):]
}

func toDataURL(mediaType, data string) string {
	return fmt.Sprintf("data:%s;base64,%s", mediaType, data)
}

// RequestToUnified parses an OpenAI chat-completion request body into UIF.
func (t *Transformer) RequestToUnified(body []byte) (uif.Request, error) {
	var wr wireRequest
	if err := json.Unmarshal(body, &wr); err != nil {
		return uif.Request{}, fmt.Errorf("openai: parse request: %w", err)
	}

	req := uif.Request{
		Model:       wr.Model,
		MaxTokens:   wr.MaxTokens,
		Temperature: wr.Temperature,
		TopP:        wr.TopP,
		Stop:        wr.Stop,
		Stream:      wr.Stream,
	}
	for _, wt := range wr.Tools {
		req.Tools = append(req.Tools, uif.Tool{
			Name:        wt.Function.Name,
			Description: wt.Function.Description,
			Schema:      wt.Function.Parameters,
		})
	}

	var systemParts []string
	for _, m := range wr.Messages {
		switch m.Role {
		case "system":
			blocks, err := parseContent(m.Content)
			if err != nil {
				return uif.Request{}, err
			}
			for _, b := range blocks {
				systemParts = append(systemParts, b.Text)
			}
		case "tool":
			blocks, err := parseContent(m.Content)
			if err != nil {
				return uif.Request{}, err
			}
			text := ""
			if len(blocks) > 0 {
				text = blocks[0].Text
			}
			req.Messages = append(req.Messages, uif.Message{
				Role: "user",
				Content: []uif.ContentBlock{{
					Kind:       uif.BlockToolResult,
					ToolCallID: m.ToolCallID,
					ToolOutput: text,
				}},
			})
		default:
			blocks, err := parseContent(m.Content)
			if err != nil {
				return uif.Request{}, err
			}
			for _, tc := range m.ToolCalls {
				block := uif.ContentBlock{
					Kind:      uif.BlockToolUse,
					ToolUseID: tc.ID,
					ToolName:  tc.Function.Name,
				}
				var parsed json.RawMessage
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &parsed); err != nil {
					wrapped, _ := json.Marshal(map[string]string{"raw_arguments": tc.Function.Arguments})
					block.ToolInput = wrapped
					block.RawArgsFail = true
				} else {
					block.ToolInput = parsed
				}
				blocks = append(blocks, block)
			}
			req.Messages = append(req.Messages, uif.Message{Role: m.Role, Content: blocks})
		}
	}
	req.System = strings.Join(systemParts, "\n\n")
	return req, nil
}

// UnifiedToRequest renders a UIF request into an OpenAI wire request body.
func (t *Transformer) UnifiedToRequest(req uif.Request) ([]byte, error) {
	wr := wireRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      req.Stream,
	}
	if req.System != "" {
		wr.Messages = append(wr.Messages, wireMessage{Role: "system", Content: textPart(req.System)})
	}
	for _, tool := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Schema,
			},
		})
	}

	for _, m := range req.Messages {
		toolResults := allToolResult(m.Content)
		if toolResults {
			for _, b := range m.Content {
				wr.Messages = append(wr.Messages, wireMessage{
					Role:       "tool",
					ToolCallID: b.ToolCallID,
					Content:    textPart(b.ToolOutput),
				})
			}
			continue
		}

		wm := wireMessage{Role: m.Role}
		var parts []wireContentPart
		for _, b := range m.Content {
			switch b.Kind {
			case uif.BlockText, uif.BlockThinking:
				parts = append(parts, wireContentPart{Type: "text", Text: b.Text})
			case uif.BlockImage:
				url := b.Image.URL
				if url == "" {
					url = toDataURL(b.Image.MediaType, b.Image.Data)
				}
				parts = append(parts, wireContentPart{Type: "image_url", ImageURL: &wireImageURL{URL: url}})
			case uif.BlockToolUse:
				args := b.ToolInput
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
					ID:   b.ToolUseID,
					Type: "function",
					Function: wireToolCallFunc{
						Name:      b.ToolName,
						Arguments: string(args),
					},
				})
			}
		}
		if len(parts) == 1 && parts[0].Type == "text" {
			wm.Content = textPart(parts[0].Text)
		} else if len(parts) > 0 {
			b, err := json.Marshal(parts)
			if err != nil {
				return nil, fmt.Errorf("openai: marshal content parts: %w", err)
			}
			wm.Content = b
		}
		wr.Messages = append(wr.Messages, wm)
	}

	out, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}
	return out, nil
}

func allToolResult(blocks []uif.ContentBlock) bool {
	if len(blocks) == 0 {
		return false
	}
	for _, b := range blocks {
		if b.Kind != uif.BlockToolResult {
			return false
		}
	}
	return true
}

// mapFinishReason implements the stop_reason mapping of §4.5.1.
func mapFinishReason(reason string) uif.StopReason {
	switch reason {
	case "stop":
		return uif.StopEndTurn
	case "length":
		return uif.StopMaxTokens
	case "tool_calls", "function_call":
		return uif.StopToolUse
	case "content_filter":
		return uif.StopError
	default:
		return uif.StopEndTurn
	}
}

func unmapFinishReason(reason uif.StopReason) string {
	switch reason {
	case uif.StopEndTurn:
		return "stop"
	case uif.StopMaxTokens:
		return "length"
	case uif.StopToolUse:
		return "tool_calls"
	case uif.StopError:
		return "content_filter"
	default:
		return "stop"
	}
}

// ResponseToUnified parses an OpenAI chat-completion response body into UIF.
func (t *Transformer) ResponseToUnified(body []byte) (uif.Response, error) {
	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return uif.Response{}, fmt.Errorf("openai: parse response: %w", err)
	}
	if len(wr.Choices) == 0 {
		return uif.Response{}, fmt.Errorf("openai: response has no choices")
	}
	choice := wr.Choices[0]

	var blocks []uif.ContentBlock
	content, err := parseContent(choice.Message.Content)
	if err != nil {
		return uif.Response{}, err
	}
	blocks = append(blocks, content...)
	for _, tc := range choice.Message.ToolCalls {
		block := uif.ContentBlock{Kind: uif.BlockToolUse, ToolUseID: tc.ID, ToolName: tc.Function.Name}
		var parsed json.RawMessage
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &parsed); err != nil {
			wrapped, _ := json.Marshal(map[string]string{"raw_arguments": tc.Function.Arguments})
			block.ToolInput = wrapped
			block.RawArgsFail = true
		} else {
			block.ToolInput = parsed
		}
		blocks = append(blocks, block)
	}

	resp := uif.Response{
		ID:      wr.ID,
		Model:   wr.Model,
		Role:    "assistant",
		Content: blocks,
	}
	if choice.FinishReason != nil {
		resp.StopReason = mapFinishReason(*choice.FinishReason)
	}
	if wr.Usage != nil {
		resp.Usage = uif.Usage{InputTokens: wr.Usage.PromptTokens, OutputTokens: wr.Usage.CompletionTokens}
	}
	return resp, nil
}

// UnifiedToResponse renders a UIF response into an OpenAI wire response body.
func (t *Transformer) UnifiedToResponse(resp uif.Response) ([]byte, error) {
	wm := wireMessage{Role: "assistant"}
	var parts []wireContentPart
	for _, b := range resp.Content {
		switch b.Kind {
		case uif.BlockText, uif.BlockThinking:
			parts = append(parts, wireContentPart{Type: "text", Text: b.Text})
		case uif.BlockToolUse:
			args := b.ToolInput
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID: b.ToolUseID, Type: "function",
				Function: wireToolCallFunc{Name: b.ToolName, Arguments: string(args)},
			})
		}
	}
	if len(parts) == 1 {
		wm.Content = textPart(parts[0].Text)
	} else if len(parts) > 0 {
		b, _ := json.Marshal(parts)
		wm.Content = b
	}

	reason := unmapFinishReason(resp.StopReason)
	wr := wireResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []wireChoice{{
			Index: 0, Message: wm, FinishReason: &reason,
		}},
		Usage: &wireUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	out, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal response: %w", err)
	}
	return out, nil
}

// WireStreamEventToUnified parses one upstream "chat.completion.chunk"
// event (OpenAI has no named SSE events, only a JSON data payload) into
// unified StreamChunks. This is used when the UPSTREAM speaks OpenAI and
// the client protocol differs; it does not itself implement the Stream
// State Machine's on-demand synthesis — that lives in internal/streamstate
// and calls this method once per raw upstream event.
func (t *Transformer) WireStreamEventToUnified(eventName string, data []byte) ([]uif.StreamChunk, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var chunk wireStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("openai: parse stream chunk: %w", err)
	}
	var out []uif.StreamChunk
	if len(chunk.Choices) == 0 {
		if chunk.Usage != nil {
			out = append(out, uif.StreamChunk{
				Kind: uif.ChunkMessageDelta,
				Usage: uif.Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens},
			})
		}
		return out, nil
	}
	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		out = append(out, uif.StreamChunk{Kind: uif.ChunkContentBlockDelta, DeltaKind: uif.DeltaText, Text: choice.Delta.Content})
	}
	for _, tc := range choice.Delta.ToolCalls {
		sc := uif.StreamChunk{Kind: uif.ChunkContentBlockDelta, DeltaKind: uif.DeltaInputJSON, Index: tc.Index}
		if tc.ID != "" {
			sc.ToolUseID = tc.ID
		}
		if tc.Function != nil {
			sc.ToolName = tc.Function.Name
			sc.PartialJSON = tc.Function.Arguments
		}
		out = append(out, sc)
	}
	if choice.FinishReason != nil {
		reason := mapFinishReason(*choice.FinishReason)
		usage := uif.Usage{}
		if chunk.Usage != nil {
			usage = uif.Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		out = append(out, uif.StreamChunk{Kind: uif.ChunkMessageDelta, StopReason: reason, Usage: usage})
	}
	return out, nil
}

// UnifiedStreamEventToWire renders a unified StreamChunk into an OpenAI SSE
// event (no event: line, only a JSON data: payload, per §6's wire format).
func (t *Transformer) UnifiedStreamEventToWire(chunk uif.StreamChunk) (string, []byte, error) {
	switch chunk.Kind {
	case uif.ChunkMessageStart:
		return "", nil, nil // OpenAI has no message_start analogue; nothing to emit
	case uif.ChunkContentBlockDelta:
		id := chunk.MessageID
		if id == "" {
			id = uuid.New().String()
		}
		sc := wireStreamChunk{
			ID: id, Object: "chat.completion.chunk", Model: chunk.MessageModel,
			Choices: []wireStreamChoice{{Index: 0, Delta: wireDelta{Content: chunk.Text}}},
		}
		if chunk.DeltaKind == uif.DeltaInputJSON {
			sc.Choices[0].Delta = wireDelta{ToolCalls: []wireDeltaToolCall{{
				Index: chunk.Index, ID: chunk.ToolUseID,
				Function: &wireDeltaToolFunc{Name: chunk.ToolName, Arguments: chunk.PartialJSON},
			}}}
		}
		b, err := json.Marshal(sc)
		return "", b, err
	case uif.ChunkMessageDelta:
		reason := unmapFinishReason(chunk.StopReason)
		sc := wireStreamChunk{
			Object:  "chat.completion.chunk",
			Choices: []wireStreamChoice{{Index: 0, Delta: wireDelta{}, FinishReason: &reason}},
			Usage: &wireUsage{
				PromptTokens: chunk.Usage.InputTokens, CompletionTokens: chunk.Usage.OutputTokens,
				TotalTokens: chunk.Usage.InputTokens + chunk.Usage.OutputTokens,
			},
		}
		b, err := json.Marshal(sc)
		return "", b, err
	case uif.ChunkMessageStop:
		return "", []byte("[DONE]"), nil
	case uif.ChunkError:
		body := errorBody{}
		body.Error.Message = chunk.ErrMessage
		body.Error.Type = chunk.ErrKind
		b, err := json.Marshal(body)
		return "", b, err
	default:
		return "", nil, nil
	}
}
