package streamstate

import (
	"context"
	"io"
	"time"

	"github.com/howard-nolan/llmgateway/internal/gwerror"
	"github.com/howard-nolan/llmgateway/internal/protocol"
	"github.com/howard-nolan/llmgateway/internal/tokencount"
	"github.com/howard-nolan/llmgateway/internal/uif"
)

// Machine is the Stream State Machine of §4.6: it drives a provider
// protocol.Transformer over raw upstream SSE bytes, synthesizes
// message/block framing on demand, accumulates usage and tokens, and hands
// each well-formed unified event to Emit for client-side rendering.
type Machine struct {
	provider protocol.Transformer
	emit     func(uif.StreamChunk) error
	counter  tokencount.Counter
	model    string

	messageStarted bool
	pingEmitted    bool

	thinkingIndex  int
	textIndex      int
	nextIndex      int
	toolBlockIndex map[int]int // upstream tool-call index -> block index

	openOrder []int
	openSet   map[int]bool

	usage             uif.Usage
	haveProviderUsage bool
	estimatedOutput   int
	finishReason      uif.StopReason

	firstTokenAt  time.Time
	sawFirstToken bool

	terminated bool
}

// New constructs a Machine for one streaming request. model is the
// caller's original model name, used both as the default message model
// echoed in synthesized message_start events and to pick the fallback
// tokenizer. emit is called once per well-formed unified StreamChunk, in
// the order the state machine produces them (invariant per §5: "within a
// request, message_start precedes ping precedes first content_block_start
// precedes deltas").
func New(provider protocol.Transformer, model string, emit func(uif.StreamChunk) error) *Machine {
	return &Machine{
		provider:       provider,
		emit:           emit,
		counter:        tokencount.Select(model),
		model:          model,
		thinkingIndex:  -1,
		textIndex:      -1,
		toolBlockIndex: make(map[int]int),
		openSet:        make(map[int]bool),
	}
}

// FirstTokenAt reports when the first content token was emitted, for the
// Observability Tap's tokens-per-second computation. The zero value means
// no content token has been seen yet.
func (m *Machine) FirstTokenAt() time.Time { return m.firstTokenAt }

// OutputTokens reports the best-known output-token count: provider-reported
// usage if one ever arrived, otherwise the running estimate. Token
// monotonicity (Testable Property 6) holds because the estimate only ever
// grows and a provider usage block, once adopted, is only replaced by a
// larger or equal later one (see mergeUsage).
func (m *Machine) OutputTokens() int {
	if m.haveProviderUsage {
		return m.usage.OutputTokens
	}
	return m.estimatedOutput
}

// Run drives the Machine to completion over body, an upstream SSE byte
// stream, checking ctx for client disconnect before each read per §5's
// suspension-point contract. It returns nil on normal termination (DONE,
// empty chunk, or EOF), ctx.Err() on disconnect, or a translation error.
func (m *Machine) Run(ctx context.Context, body io.Reader) error {
	sc := newSSEScanner(body)
	for {
		select {
		case <-ctx.Done():
			m.Abort()
			return ctx.Err()
		default:
		}

		ev, err := sc.Next()
		if ev.Done {
			return m.Finish()
		}
		if len(ev.Data) > 0 {
			chunks, perr := m.provider.WireStreamEventToUnified(ev.Name, ev.Data)
			if perr == nil {
				for _, c := range chunks {
					if ferr := m.feed(c); ferr != nil {
						return ferr
					}
				}
			}
			// perr != nil: the event failed to parse; drop it and continue
			// per §4.6 step 1. A malformed upstream event is common enough
			// (keep-alives, partial frames) that it must not abort the
			// stream.
		}
		if err == io.EOF {
			return m.Finish()
		}
		if err != nil {
			_ = m.Fail(string(gwerror.KindInternal), err.Error())
			return err
		}
	}
}

func (m *Machine) feed(sc uif.StreamChunk) error {
	if m.terminated {
		return nil
	}
	switch sc.Kind {
	case uif.ChunkMessageStart:
		return m.ensureStarted(sc.MessageID, sc.MessageModel)
	case uif.ChunkPing:
		return m.ensurePing()
	case uif.ChunkContentBlockStart:
		return m.handleExplicitBlockStart(sc)
	case uif.ChunkContentBlockDelta:
		return m.handleDelta(sc)
	case uif.ChunkContentBlockStop:
		return m.handleBlockStop(sc.Index)
	case uif.ChunkMessageDelta:
		if sc.StopReason != "" {
			m.finishReason = sc.StopReason
		}
		m.mergeUsage(sc.Usage)
		return nil // terminal events are only ever emitted by Finish
	case uif.ChunkMessageStop:
		return nil
	case uif.ChunkError:
		err := m.emitChunk(sc)
		m.terminated = true
		return err
	default:
		return nil
	}
}

func (m *Machine) ensureStarted(id, model string) error {
	if m.messageStarted {
		return nil
	}
	if model == "" {
		model = m.model
	}
	m.messageStarted = true
	return m.emitChunk(uif.StreamChunk{Kind: uif.ChunkMessageStart, MessageID: id, MessageModel: model})
}

func (m *Machine) ensurePing() error {
	if m.pingEmitted {
		return nil
	}
	m.pingEmitted = true
	return m.emitChunk(uif.StreamChunk{Kind: uif.ChunkPing})
}

// prepareForContent guarantees message_start and ping have been emitted
// before any content_block_start, per the ordering invariant of §5.
func (m *Machine) prepareForContent() error {
	if err := m.ensureStarted("", ""); err != nil {
		return err
	}
	return m.ensurePing()
}

func (m *Machine) allocateIndex() int {
	idx := m.nextIndex
	m.nextIndex++
	return idx
}

func (m *Machine) openBlock(idx int, kind uif.BlockKind) {
	if m.openSet[idx] {
		return
	}
	m.openSet[idx] = true
	m.openOrder = append(m.openOrder, idx)
	_ = kind
}

func (m *Machine) closeBlock(idx int) {
	delete(m.openSet, idx)
}

func (m *Machine) handleExplicitBlockStart(sc uif.StreamChunk) error {
	if err := m.prepareForContent(); err != nil {
		return err
	}
	switch sc.BlockKind {
	case uif.BlockThinking:
		if m.thinkingIndex < 0 {
			m.thinkingIndex = sc.Index
		}
	case uif.BlockText:
		if m.textIndex < 0 {
			m.textIndex = sc.Index
		}
	case uif.BlockToolUse:
		m.toolBlockIndex[sc.Index] = sc.Index
	}
	if sc.Index >= m.nextIndex {
		m.nextIndex = sc.Index + 1
	}
	m.openBlock(sc.Index, sc.BlockKind)
	return m.emitChunk(sc)
}

func (m *Machine) ensureAllocated(idxPtr *int, kind uif.BlockKind) (int, error) {
	if *idxPtr >= 0 {
		return *idxPtr, nil
	}
	if err := m.prepareForContent(); err != nil {
		return 0, err
	}
	idx := m.allocateIndex()
	*idxPtr = idx
	m.openBlock(idx, kind)
	if err := m.emitChunk(uif.StreamChunk{Kind: uif.ChunkContentBlockStart, Index: idx, BlockKind: kind}); err != nil {
		return 0, err
	}
	return idx, nil
}

func (m *Machine) handleDelta(sc uif.StreamChunk) error {
	switch sc.DeltaKind {
	case uif.DeltaThinking:
		idx, err := m.ensureAllocated(&m.thinkingIndex, uif.BlockThinking)
		if err != nil {
			return err
		}
		sc.Index = idx
	case uif.DeltaText:
		idx, err := m.ensureAllocated(&m.textIndex, uif.BlockText)
		if err != nil {
			return err
		}
		sc.Index = idx
		m.accumulateOutputText(sc.Text)
	case uif.DeltaInputJSON:
		upstreamIdx := sc.Index
		blockIdx, ok := m.toolBlockIndex[upstreamIdx]
		if !ok {
			if err := m.prepareForContent(); err != nil {
				return err
			}
			blockIdx = m.allocateIndex()
			m.toolBlockIndex[upstreamIdx] = blockIdx
			m.openBlock(blockIdx, uif.BlockToolUse)
			if err := m.emitChunk(uif.StreamChunk{
				Kind: uif.ChunkContentBlockStart, Index: blockIdx, BlockKind: uif.BlockToolUse,
				ToolUseID: sc.ToolUseID, ToolName: sc.ToolName,
			}); err != nil {
				return err
			}
		}
		sc.Index = blockIdx
	}
	return m.emitChunk(sc)
}

func (m *Machine) handleBlockStop(idx int) error {
	if !m.openSet[idx] {
		return nil
	}
	m.closeBlock(idx)
	return m.emitChunk(uif.StreamChunk{Kind: uif.ChunkContentBlockStop, Index: idx})
}

func (m *Machine) accumulateOutputText(text string) {
	if !m.sawFirstToken && text != "" {
		m.sawFirstToken = true
		m.firstTokenAt = time.Now()
	}
	if !m.haveProviderUsage {
		m.estimatedOutput += m.counter.Count(text)
	}
}

// mergeUsage prefers provider-supplied values over the running estimate,
// and ignores a usage block reporting zero input_tokens once a
// provider-supplied estimate has already been adopted, per §4.6 step 2.
func (m *Machine) mergeUsage(u uif.Usage) {
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return
	}
	m.haveProviderUsage = true
	if u.InputTokens > 0 {
		m.usage.InputTokens = u.InputTokens
	}
	if u.OutputTokens > m.usage.OutputTokens {
		m.usage.OutputTokens = u.OutputTokens
	}
	if u.CacheReadTokens > 0 {
		m.usage.CacheReadTokens = u.CacheReadTokens
	}
}

func (m *Machine) finalUsage() uif.Usage {
	if m.haveProviderUsage {
		return m.usage
	}
	u := m.usage
	u.OutputTokens = m.estimatedOutput
	return u
}

// Finish performs the termination sequence of §4.6: content_block_stop for
// each still-open block in the order it was opened, then exactly one
// message_delta, then exactly one message_stop — only if a message was
// ever started. Safe to call more than once.
func (m *Machine) Finish() error {
	if m.terminated {
		return nil
	}
	m.terminated = true
	if !m.messageStarted {
		return nil
	}
	for _, idx := range m.openOrder {
		if !m.openSet[idx] {
			continue
		}
		m.closeBlock(idx)
		if err := m.emitChunk(uif.StreamChunk{Kind: uif.ChunkContentBlockStop, Index: idx}); err != nil {
			return err
		}
	}
	reason := m.finishReason
	if reason == "" {
		reason = uif.StopEndTurn
	}
	if err := m.emitChunk(uif.StreamChunk{Kind: uif.ChunkMessageDelta, StopReason: reason, Usage: m.finalUsage()}); err != nil {
		return err
	}
	return m.emitChunk(uif.StreamChunk{Kind: uif.ChunkMessageStop})
}

// Abort stops the machine without emitting any further events, for client
// disconnect mid-stream (§5): no terminal synthesis, no content_block_stop,
// no message_stop.
func (m *Machine) Abort() {
	m.terminated = true
}

// Fail emits a protocol-appropriate error event and terminates without
// further emission, per §4.6's "on any exception while translating, emit an
// error event and terminate; do not pass raw upstream bytes through".
func (m *Machine) Fail(kind, message string) error {
	if m.terminated {
		return nil
	}
	err := m.emitChunk(uif.StreamChunk{Kind: uif.ChunkError, ErrKind: kind, ErrMessage: message})
	m.terminated = true
	return err
}

func (m *Machine) emitChunk(sc uif.StreamChunk) error {
	if m.emit == nil {
		return nil
	}
	return m.emit(sc)
}
