package responseapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/llmgateway/internal/uif"
)

func TestRequestToUnified_MessageItem(t *testing.T) {
	tr := New()
	body := []byte(`{"model":"gpt-4o","instructions":"be nice","input":[
		{"type":"message","role":"user","content":[{"type":"input_text","text":"hi"}]}
	]}`)
	req, err := tr.RequestToUnified(body)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, "be nice", req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "hi", req.Messages[0].Content[0].Text)
}

func TestRequestToUnified_FunctionCallAndOutput(t *testing.T) {
	tr := New()
	body := []byte(`{"model":"gpt-4o","input":[
		{"type":"function_call","call_id":"c1","name":"get_weather","arguments":"{\"city\":\"sf\"}"},
		{"type":"function_call_output","call_id":"c1","output":"72F"}
	]}`)
	req, err := tr.RequestToUnified(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, uif.BlockToolUse, req.Messages[0].Content[0].Kind)
	assert.Equal(t, uif.BlockToolResult, req.Messages[1].Content[0].Kind)
	assert.Equal(t, "72F", req.Messages[1].Content[0].ToolOutput)
}

func TestUnifiedToRequest_ToolUseBecomesFunctionCall(t *testing.T) {
	tr := New()
	req := uif.Request{
		Model: "gpt-4o",
		Messages: []uif.Message{
			{Role: "assistant", Content: []uif.ContentBlock{{Kind: uif.BlockToolUse, ToolUseID: "c1", ToolName: "f", ToolInput: []byte(`{}`)}}},
		},
	}
	body, err := tr.UnifiedToRequest(req)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"function_call"`)
	assert.Contains(t, string(body), `"c1"`)
}

func TestWireStreamEventToUnified_OutputTextDelta(t *testing.T) {
	tr := New()
	data := []byte(`{"type":"response.output_text.delta","delta":"Hel"}`)
	chunks, err := tr.WireStreamEventToUnified("", data)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Hel", chunks[0].Text)
}

func TestResponseToUnified_MessageAndFunctionCall(t *testing.T) {
	tr := New()
	body := []byte(`{"id":"resp_1","model":"gpt-4o","output":[
		{"type":"message","role":"assistant","content":[{"type":"output_text","text":"hi"}]},
		{"type":"function_call","call_id":"c1","name":"f","arguments":"{}"}
	],"usage":{"input_tokens":1,"output_tokens":2}}`)
	resp, err := tr.ResponseToUnified(body)
	require.NoError(t, err)
	assert.Equal(t, "resp_1", resp.ID)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, uif.BlockText, resp.Content[0].Kind)
	assert.Equal(t, uif.BlockToolUse, resp.Content[1].Kind)
}
