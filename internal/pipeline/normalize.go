package pipeline

import (
	"encoding/json"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/howard-nolan/llmgateway/internal/uif"
)

// billingHeaderPrefix matches a stray x-anthropic-billing-header line some
// clients prepend to system text (header name, value and trailing newline);
// stripped so it never reaches a provider that doesn't expect it, per §4.5
// step 4.
var billingHeaderPrefix = regexp.MustCompile(`^x-anthropic-billing-header:[^\n]*\n?`)

// normalize applies the provider-specific quirk handling of §4.5 step 4 and
// clamps max_tokens into the gateway's configured bounds.
//
// Gemini-3's thought_signature field (carried in a tool-call's
// extra_content per the original source) is deliberately NOT threaded
// through here: UIF's ContentBlock is a closed tagged sum with no bag for
// arbitrary provider extra fields, and the original implementation only
// ever logs its presence for debugging rather than transforming it — so
// there is no behavior to replicate beyond "don't corrupt it", which holds
// automatically since this pipeline never attempts to parse or rewrite
// tool-call JSON payloads keyed on vendor-specific fields.
func normalize(req *uif.Request, minTokens, maxTokens int) {
	req.System = billingHeaderPrefix.ReplaceAllString(req.System, "")
	clampMaxTokens(req, minTokens, maxTokens)
	req.Tools = dropMalformedTools(req.Tools)
}

// dropMalformedTools compiles each tool's JSON-Schema parameters/
// input_schema document with jsonschema.Compile and drops any tool whose
// schema fails to compile, per §4.5 step 4 — a malformed schema would
// otherwise be forwarded to a provider that rejects the whole request.
func dropMalformedTools(tools []uif.Tool) []uif.Tool {
	out := make([]uif.Tool, 0, len(tools))
	for _, t := range tools {
		if len(t.Schema) == 0 {
			out = append(out, t)
			continue
		}
		var doc any
		if err := json.Unmarshal(t.Schema, &doc); err != nil {
			continue
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(t.Name+".json", doc); err != nil {
			continue
		}
		if _, err := c.Compile(t.Name + ".json"); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

func clampMaxTokens(req *uif.Request, minTokens, maxTokens int) {
	if req.MaxTokens == 0 {
		return
	}
	if minTokens > 0 && req.MaxTokens < minTokens {
		req.MaxTokens = minTokens
	}
	if maxTokens > 0 && req.MaxTokens > maxTokens {
		req.MaxTokens = maxTokens
	}
}
