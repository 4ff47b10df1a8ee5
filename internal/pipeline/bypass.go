package pipeline

import (
	"bufio"
	"context"
	"io"
	"strings"
)

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

// streamBypass passes raw upstream SSE bytes through to the client with
// only the "model" field of each JSON data payload rewritten, per §4.5's
// bypass optimization for streaming responses. It reuses the same
// line-scanning pattern the teacher's provider package uses for upstream
// SSE (bufio.Scanner, checking "data: "/"event: " prefixes) since no
// cross-protocol translation is needed here at all.
func (p *Pipeline) streamBypass(ctx context.Context, result *DispatchResult, originalModel string, emit StreamEmit) (StreamOutcome, error) {
	scanner := bufio.NewScanner(result.Stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var eventName string
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return StreamOutcome{Bypass: true}, ctx.Err()
		default:
		}
		line := scanner.Text()
		switch {
		case line == "":
			eventName = ""
			continue
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
			continue
		case strings.HasPrefix(line, "data: "):
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				if err := emit(eventName, []byte("[DONE]")); err != nil {
					return StreamOutcome{Bypass: true}, err
				}
				eventName = ""
				continue
			}
			rewritten, err := rewriteJSONModel([]byte(payload), originalModel)
			if err != nil {
				// Not every event carries a "model" field (e.g. Anthropic's
				// ping/content_block_delta); forward it untouched.
				rewritten = []byte(payload)
			}
			if err := emit(eventName, rewritten); err != nil {
				return StreamOutcome{Bypass: true}, err
			}
			eventName = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return StreamOutcome{Bypass: true}, err
	}
	return StreamOutcome{Bypass: true}, nil
}
