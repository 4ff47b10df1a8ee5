package server

import (
	"encoding/json"
	"strings"
)

// peekModelStream reads just the "model" and "stream" fields out of a
// client request body without a full protocol-specific UIF parse — the
// Credential Gate's allow-list check and the Provider Selector's pick both
// need the model name before the Transform Pipeline ever runs, and all
// three body-based client protocols (OpenAI, Anthropic, Response-API)
// name these fields identically on the wire.
func peekModelStream(body []byte) (model string, stream bool) {
	var shape struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	_ = json.Unmarshal(body, &shape)
	return shape.Model, shape.Stream
}

// stripProviderSuffix removes the PROVIDER_SUFFIX prefix (§6's
// "openrouter/"-style stripped prefix) from an inbound model name before
// it's matched against any provider's model map.
func stripProviderSuffix(model, suffix string) string {
	if suffix == "" {
		return model
	}
	return strings.TrimPrefix(model, suffix)
}

// peekUsage best-effort extracts token counts from a blocking response
// body for the Observability Tap, without a full protocol parse: OpenAI
// and Response-API shape usage as prompt_tokens/completion_tokens/
// total_tokens, Anthropic as input_tokens/output_tokens. Either shape may
// be entirely absent (e.g. an error body), in which case all three
// results are zero.
func peekUsage(body []byte) (input, output, total int) {
	var shape struct {
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
			InputTokens      int `json:"input_tokens"`
			OutputTokens     int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		return 0, 0, 0
	}
	input = shape.Usage.PromptTokens + shape.Usage.InputTokens
	output = shape.Usage.CompletionTokens + shape.Usage.OutputTokens
	total = shape.Usage.TotalTokens
	if total == 0 {
		total = input + output
	}
	return input, output, total
}
