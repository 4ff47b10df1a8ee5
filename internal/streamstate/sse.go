// Package streamstate implements the Stream State Machine (§4.6): it reads
// raw upstream SSE bytes, drives a provider protocol.Transformer to turn
// each event into unified StreamChunks, performs on-demand synthesis of
// message/block framing, and hands well-formed unified events to a caller
// for rendering into the client's wire protocol.
package streamstate

import (
	"bufio"
	"io"
	"strings"
)

// rawEvent is one upstream SSE event: an optional named "event:" line plus
// its "data:" payload, framed per the SSE wire format of §6.
type rawEvent struct {
	Name string
	Data []byte
	Done bool // true for the "data: [DONE]" sentinel
}

// sseScanner splits an upstream byte stream on SSE event boundaries,
// generalizing the line-scanning pattern the provider package uses for
// Anthropic and Google upstreams (bufio.Scanner over the response body,
// checking "data: "/"event: " prefixes) to also accumulate multi-line
// named events and detect the [DONE] sentinel and stream EOF.
type sseScanner struct {
	scanner   *bufio.Scanner
	curEvent  string
	pendingOK bool
}

func newSSEScanner(r io.Reader) *sseScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseScanner{scanner: s}
}

// Next returns the next complete rawEvent, or io.EOF when the upstream
// stream ends without ever sending [DONE] (an empty byte chunk / closed
// body, per §4.6's "an empty byte chunk from the source also terminates").
func (s *sseScanner) Next() (rawEvent, error) {
	var dataLines []string
	haveData := false
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			if !haveData {
				// Blank line with no preceding data: keep-alive, skip.
				s.curEvent = ""
				continue
			}
			data := strings.Join(dataLines, "\n")
			name := s.curEvent
			s.curEvent = ""
			if data == "[DONE]" {
				return rawEvent{Name: name, Done: true}, nil
			}
			return rawEvent{Name: name, Data: []byte(data)}, nil
		case strings.HasPrefix(line, "event: "):
			s.curEvent = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
			haveData = true
		case strings.HasPrefix(line, ":"):
			// SSE comment, ignore.
		default:
			// Unrecognized line shape; ignore rather than fail the stream.
		}
	}
	if err := s.scanner.Err(); err != nil {
		return rawEvent{}, err
	}
	if haveData {
		data := strings.Join(dataLines, "\n")
		if data == "[DONE]" {
			return rawEvent{Done: true}, nil
		}
		return rawEvent{Name: s.curEvent, Data: []byte(data)}, io.EOF
	}
	return rawEvent{}, io.EOF
}
