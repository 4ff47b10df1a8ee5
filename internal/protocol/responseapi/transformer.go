// Package responseapi implements the OpenAI Response API variant named in
// spec §6 (`POST /v1/responses`): a newer, item-oriented shape layered over
// the same chat-message semantics as the classic Chat Completions API.
package responseapi

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/howard-nolan/llmgateway/internal/uif"
)

type wireRequest struct {
	Model       string          `json:"model"`
	Input       []wireItem      `json:"input"`
	Instructions string         `json:"instructions,omitempty"`
	Tools       []wireTool      `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_output_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

// wireItem is one entry of the Response API's flat "input"/"output" item
// list: either a message (role + content parts) or a function call/result.
type wireItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role,omitempty"`
	Content []wireContent   `json:"content,omitempty"`

	// type == "function_call"
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// type == "function_call_output"
	Output string `json:"output,omitempty"`
}

type wireContent struct {
	Type string `json:"type"` // "input_text" | "output_text" | "input_image"
	Text string `json:"text,omitempty"`
	URL  string `json:"image_url,omitempty"`
}

type wireTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireResponse struct {
	ID         string     `json:"id"`
	Object     string     `json:"object"`
	Model      string     `json:"model"`
	Output     []wireItem `json:"output"`
	OutputText string     `json:"output_text,omitempty"`
	Usage      *wireUsage `json:"usage,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Streaming events are "response.output_text.delta" / "response.completed"
// shaped, carried as named SSE events per the Response API's own streaming
// contract (distinct from both OpenAI chat and Anthropic SSE framing).
type wireStreamEvent struct {
	Type  string     `json:"type"`
	Delta string     `json:"delta,omitempty"`
	Response *wireResponse `json:"response,omitempty"`
}

// Transformer implements protocol.Transformer for the Response API.
type Transformer struct{}

// New constructs a Response API Transformer.
func New() *Transformer { return &Transformer{} }

func (t *Transformer) RequestToUnified(body []byte) (uif.Request, error) {
	var wr wireRequest
	if err := json.Unmarshal(body, &wr); err != nil {
		return uif.Request{}, fmt.Errorf("responseapi: parse request: %w", err)
	}
	req := uif.Request{
		Model:       wr.Model,
		System:      wr.Instructions,
		MaxTokens:   wr.MaxTokens,
		Temperature: wr.Temperature,
		TopP:        wr.TopP,
		Stream:      wr.Stream,
	}
	for _, wt := range wr.Tools {
		req.Tools = append(req.Tools, uif.Tool{Name: wt.Name, Description: wt.Description, Schema: wt.Parameters})
	}
	for _, item := range wr.Input {
		switch item.Type {
		case "message", "":
			var blocks []uif.ContentBlock
			for _, c := range item.Content {
				switch c.Type {
				case "input_text", "output_text":
					blocks = append(blocks, uif.ContentBlock{Kind: uif.BlockText, Text: c.Text})
				case "input_image":
					blocks = append(blocks, uif.ContentBlock{Kind: uif.BlockImage, Image: uif.ImageSource{URL: c.URL}})
				}
			}
			req.Messages = append(req.Messages, uif.Message{Role: item.Role, Content: blocks})
		case "function_call":
			var input json.RawMessage
			if err := json.Unmarshal([]byte(item.Arguments), &input); err != nil {
				wrapped, _ := json.Marshal(map[string]string{"raw_arguments": item.Arguments})
				input = wrapped
			}
			req.Messages = append(req.Messages, uif.Message{Role: "assistant", Content: []uif.ContentBlock{{
				Kind: uif.BlockToolUse, ToolUseID: item.CallID, ToolName: item.Name, ToolInput: input,
			}}})
		case "function_call_output":
			req.Messages = append(req.Messages, uif.Message{Role: "user", Content: []uif.ContentBlock{{
				Kind: uif.BlockToolResult, ToolCallID: item.CallID, ToolOutput: item.Output,
			}}})
		}
	}
	return req, nil
}

func (t *Transformer) UnifiedToRequest(req uif.Request) ([]byte, error) {
	wr := wireRequest{
		Model: req.Model, Instructions: req.System, MaxTokens: req.MaxTokens,
		Temperature: req.Temperature, TopP: req.TopP, Stream: req.Stream,
	}
	for _, tool := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{Type: "function", Name: tool.Name, Description: tool.Description, Parameters: tool.Schema})
	}
	for _, m := range req.Messages {
		allToolUse, allToolResult := true, true
		for _, b := range m.Content {
			if b.Kind != uif.BlockToolUse {
				allToolUse = false
			}
			if b.Kind != uif.BlockToolResult {
				allToolResult = false
			}
		}
		switch {
		case len(m.Content) > 0 && allToolUse:
			for _, b := range m.Content {
				wr.Input = append(wr.Input, wireItem{Type: "function_call", CallID: b.ToolUseID, Name: b.ToolName, Arguments: string(b.ToolInput)})
			}
		case len(m.Content) > 0 && allToolResult:
			for _, b := range m.Content {
				wr.Input = append(wr.Input, wireItem{Type: "function_call_output", CallID: b.ToolCallID, Output: b.ToolOutput})
			}
		default:
			var contents []wireContent
			textType := "input_text"
			if m.Role == "assistant" {
				textType = "output_text"
			}
			for _, b := range m.Content {
				switch b.Kind {
				case uif.BlockText, uif.BlockThinking:
					contents = append(contents, wireContent{Type: textType, Text: b.Text})
				case uif.BlockImage:
					url := b.Image.URL
					contents = append(contents, wireContent{Type: "input_image", URL: url})
				}
			}
			wr.Input = append(wr.Input, wireItem{Type: "message", Role: m.Role, Content: contents})
		}
	}
	out, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("responseapi: marshal request: %w", err)
	}
	return out, nil
}

func (t *Transformer) ResponseToUnified(body []byte) (uif.Response, error) {
	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return uif.Response{}, fmt.Errorf("responseapi: parse response: %w", err)
	}
	var blocks []uif.ContentBlock
	for _, item := range wr.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				blocks = append(blocks, uif.ContentBlock{Kind: uif.BlockText, Text: c.Text})
			}
		case "function_call":
			var input json.RawMessage
			if err := json.Unmarshal([]byte(item.Arguments), &input); err != nil {
				wrapped, _ := json.Marshal(map[string]string{"raw_arguments": item.Arguments})
				input = wrapped
			}
			blocks = append(blocks, uif.ContentBlock{Kind: uif.BlockToolUse, ToolUseID: item.CallID, ToolName: item.Name, ToolInput: input})
		}
	}
	resp := uif.Response{ID: wr.ID, Model: wr.Model, Role: "assistant", Content: blocks, StopReason: uif.StopEndTurn}
	if wr.Usage != nil {
		resp.Usage = uif.Usage{InputTokens: wr.Usage.InputTokens, OutputTokens: wr.Usage.OutputTokens}
	}
	return resp, nil
}

func (t *Transformer) UnifiedToResponse(resp uif.Response) ([]byte, error) {
	var output []wireItem
	var textBuf string
	for _, b := range resp.Content {
		switch b.Kind {
		case uif.BlockText, uif.BlockThinking:
			textBuf += b.Text
			output = append(output, wireItem{Type: "message", Role: "assistant", Content: []wireContent{{Type: "output_text", Text: b.Text}}})
		case uif.BlockToolUse:
			output = append(output, wireItem{Type: "function_call", CallID: b.ToolUseID, Name: b.ToolName, Arguments: string(b.ToolInput)})
		}
	}
	wr := wireResponse{
		ID: resp.ID, Object: "response", Model: resp.Model, Output: output, OutputText: textBuf,
		Usage: &wireUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}
	out, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("responseapi: marshal response: %w", err)
	}
	return out, nil
}

func (t *Transformer) WireStreamEventToUnified(eventName string, data []byte) ([]uif.StreamChunk, error) {
	var ev wireStreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("responseapi: parse stream event: %w", err)
	}
	switch ev.Type {
	case "response.output_text.delta":
		return []uif.StreamChunk{{Kind: uif.ChunkContentBlockDelta, DeltaKind: uif.DeltaText, Text: ev.Delta}}, nil
	case "response.completed":
		usage := uif.Usage{}
		if ev.Response != nil && ev.Response.Usage != nil {
			usage = uif.Usage{InputTokens: ev.Response.Usage.InputTokens, OutputTokens: ev.Response.Usage.OutputTokens}
		}
		return []uif.StreamChunk{{Kind: uif.ChunkMessageDelta, StopReason: uif.StopEndTurn, Usage: usage}}, nil
	default:
		return nil, nil
	}
}

func (t *Transformer) UnifiedStreamEventToWire(chunk uif.StreamChunk) (string, []byte, error) {
	switch chunk.Kind {
	case uif.ChunkMessageStart:
		id := chunk.MessageID
		if id == "" {
			id = "resp_" + uuid.New().String()
		}
		ev := wireStreamEvent{Type: "response.created", Response: &wireResponse{ID: id, Object: "response", Model: chunk.MessageModel}}
		b, err := json.Marshal(ev)
		return "response.created", b, err
	case uif.ChunkContentBlockDelta:
		ev := wireStreamEvent{Type: "response.output_text.delta", Delta: chunk.Text}
		b, err := json.Marshal(ev)
		return "response.output_text.delta", b, err
	case uif.ChunkMessageDelta, uif.ChunkMessageStop:
		ev := wireStreamEvent{Type: "response.completed"}
		b, err := json.Marshal(ev)
		return "response.completed", b, err
	case uif.ChunkError:
		ev := wireStreamEvent{Type: "error", Delta: chunk.ErrMessage}
		b, err := json.Marshal(ev)
		return "error", b, err
	default:
		return "", nil, nil
	}
}
