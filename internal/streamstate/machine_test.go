package streamstate

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/llmgateway/internal/protocol/anthropic"
	"github.com/howard-nolan/llmgateway/internal/protocol/openai"
	"github.com/howard-nolan/llmgateway/internal/uif"
)

func TestMachine_OpenAIUpstream_SynthesizesFraming(t *testing.T) {
	upstream := strings.Join([]string{
		`data: {"id":"1","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		``,
		`data: {"id":"1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		``,
		`data: {"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	var kinds []uif.ChunkKind
	m := New(openai.New(), "gpt-4", func(sc uif.StreamChunk) error {
		kinds = append(kinds, sc.Kind)
		return nil
	})
	err := m.Run(context.Background(), strings.NewReader(upstream))
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(kinds), 5)
	assert.Equal(t, uif.ChunkMessageStart, kinds[0])
	assert.Equal(t, uif.ChunkPing, kinds[1])
	assert.Equal(t, uif.ChunkContentBlockStart, kinds[2])
	assert.Equal(t, uif.ChunkContentBlockDelta, kinds[3])

	last3 := kinds[len(kinds)-3:]
	assert.Equal(t, []uif.ChunkKind{uif.ChunkContentBlockStop, uif.ChunkMessageDelta, uif.ChunkMessageStop}, last3)

	startCount, stopCount, msgStopCount := 0, 0, 0
	for _, k := range kinds {
		switch k {
		case uif.ChunkMessageStart:
			startCount++
		case uif.ChunkContentBlockStop:
			stopCount++
		case uif.ChunkMessageStop:
			msgStopCount++
		}
	}
	assert.Equal(t, 1, startCount)
	assert.Equal(t, 1, stopCount)
	assert.Equal(t, 1, msgStopCount)
}

func TestMachine_AnthropicUpstream_PassesThroughExplicitFraming(t *testing.T) {
	events := []string{
		"event: message_start\ndata: " + `{"message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-3"}}`,
		"event: content_block_start\ndata: " + `{"index":0,"content_block":{"type":"text","text":""}}`,
		"event: content_block_delta\ndata: " + `{"index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
		"event: content_block_delta\ndata: " + `{"index":0,"delta":{"type":"text_delta","text":"lo"}}`,
		"event: content_block_stop\ndata: " + `{"index":0}`,
		"event: message_delta\ndata: " + `{"delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":3,"output_tokens":2}}`,
		"event: message_stop\ndata: " + `{}`,
	}
	upstream := strings.Join(events, "\n\n") + "\n\n"

	var kinds []uif.ChunkKind
	var usage uif.Usage
	m := New(anthropic.New(), "claude-3", func(sc uif.StreamChunk) error {
		kinds = append(kinds, sc.Kind)
		if sc.Kind == uif.ChunkMessageDelta {
			usage = sc.Usage
		}
		return nil
	})
	err := m.Run(context.Background(), strings.NewReader(upstream))
	require.NoError(t, err)

	assert.Equal(t, uif.ChunkMessageStart, kinds[0])
	assert.Equal(t, uif.ChunkPing, kinds[1])
	assert.Contains(t, kinds, uif.ChunkContentBlockStop)
	assert.Contains(t, kinds, uif.ChunkMessageStop)
	assert.Equal(t, 3, usage.InputTokens)
	assert.Equal(t, 2, usage.OutputTokens)
}

func TestMachine_ClientDisconnect_NoTerminalEmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var kinds []uif.ChunkKind
	m := New(openai.New(), "gpt-4", func(sc uif.StreamChunk) error {
		kinds = append(kinds, sc.Kind)
		return nil
	})
	err := m.Run(ctx, strings.NewReader("data: {\"id\":\"1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"}}]}\n\n"))
	assert.Error(t, err)
	assert.Empty(t, kinds)
}

func TestMachine_MalformedEventDropped(t *testing.T) {
	upstream := "data: not json at all\n\ndata: [DONE]\n\n"
	var kinds []uif.ChunkKind
	m := New(openai.New(), "gpt-4", func(sc uif.StreamChunk) error {
		kinds = append(kinds, sc.Kind)
		return nil
	})
	err := m.Run(context.Background(), strings.NewReader(upstream))
	require.NoError(t, err)
	// No content was ever emitted, so message_started never happened, so no
	// terminal events are emitted either.
	assert.Empty(t, kinds)
}

func TestMachine_OutputTokensMonotonic(t *testing.T) {
	upstream := strings.Join([]string{
		`data: {"id":"1","choices":[{"index":0,"delta":{"content":"a"}}]}`,
		``,
		`data: {"id":"1","choices":[{"index":0,"delta":{"content":"bcdef"}}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	var seen []int
	m := New(openai.New(), "gpt-4", func(sc uif.StreamChunk) error {
		seen = append(seen, m.OutputTokens())
		return nil
	})
	require.NoError(t, m.Run(context.Background(), strings.NewReader(upstream)))
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
}
