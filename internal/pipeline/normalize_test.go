package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/howard-nolan/llmgateway/internal/uif"
)

func TestNormalize_StripsBillingHeaderPrefix(t *testing.T) {
	req := &uif.Request{System: "x-anthropic-billing-header: acct-123\nbe concise"}
	normalize(req, 0, 0)
	assert.Equal(t, "be concise", req.System)
}

func TestNormalize_ClampsMaxTokens(t *testing.T) {
	req := &uif.Request{MaxTokens: 5}
	normalize(req, 10, 100)
	assert.Equal(t, 10, req.MaxTokens)

	req = &uif.Request{MaxTokens: 500}
	normalize(req, 10, 100)
	assert.Equal(t, 100, req.MaxTokens)
}

func TestNormalize_DropsToolWithMalformedSchema(t *testing.T) {
	req := &uif.Request{
		Tools: []uif.Tool{
			{Name: "good_tool", Schema: []byte(`{"type":"object","properties":{"x":{"type":"string"}}}`)},
			{Name: "bad_tool", Schema: []byte(`{"type":"object","properties":{"x":{"type":"not-a-real-type"}}}`)},
			{Name: "no_schema_tool"},
		},
	}
	normalize(req, 0, 0)

	names := make([]string, 0, len(req.Tools))
	for _, tool := range req.Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"good_tool", "no_schema_tool"}, names)
}

func TestNormalize_DropsToolWithInvalidSchemaJSON(t *testing.T) {
	req := &uif.Request{
		Tools: []uif.Tool{
			{Name: "broken_json_tool", Schema: []byte(`{not-json`)},
		},
	}
	normalize(req, 0, 0)
	assert.Empty(t, req.Tools)
}
