// Package response folds a stream of typed Anthropic events into the
// message the model produced: text, finalized tool calls, stop reason and
// token usage. A Response is owned by exactly one consumer; it carries no
// locks and must not be shared between goroutines while it is being fed.
package response

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"github.com/namikmesic/claude-sidekick/internal/stream"
	"github.com/rs/zerolog/log"
)

// ToolUse is a finalized tool invocation. It is created only once the
// block's accumulated input parsed as JSON and is never modified afterwards.
type ToolUse struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Input    any             `json:"input"`
	RawInput json.RawMessage `json:"-"`
}

type blockKind int

const (
	blockText blockKind = iota
	blockTool
	blockIgnored // thinking and unknown block types
)

func (k blockKind) String() string {
	switch k {
	case blockText:
		return "text"
	case blockTool:
		return "tool_use"
	default:
		return "ignored"
	}
}

type block struct {
	kind   blockKind
	sealed bool

	text strings.Builder

	toolID   string
	toolName string
	input    []byte // partial JSON, byte-exact concatenation of deltas
}

// Response is the accumulated state of one streamed message.
type Response struct {
	started bool
	stopped bool
	failErr error // sticky fail-fast error
	upErr   *UpstreamError

	id    string
	model string
	role  string

	blocks       map[int]*block
	toolUses     []ToolUse
	stopReason   *stream.StopReason
	stopSequence *string
	usage        stream.Usage
}

// New returns an empty response.
func New() *Response {
	return &Response{blocks: make(map[int]*block)}
}

// ProcessEvent applies one event. Once the message has stopped or the
// server reported an error, further events are ignored and nil is returned.
// A fail-fast error is returned again on every later call.
func (r *Response) ProcessEvent(ev stream.Event) error {
	if r.failErr != nil {
		return r.failErr
	}
	if r.Done() {
		return nil
	}

	switch e := ev.(type) {
	case stream.MessageStart:
		r.messageStart(e)
	case stream.ContentBlockStart:
		return r.fail(r.blockStart(e))
	case stream.ContentBlockDelta:
		return r.fail(r.blockDelta(e))
	case stream.ContentBlockStop:
		return r.fail(r.blockStop(e))
	case stream.MessageDelta:
		if e.StopReason != nil {
			reason := *e.StopReason
			r.stopReason = &reason
		}
		if e.StopSequence != nil {
			seq := *e.StopSequence
			r.stopSequence = &seq
		}
		r.usage = e.Usage
	case stream.MessageStop:
		r.stopped = true
		if open := r.OpenBlocks(); open > 0 {
			log.Debug().Int("open_blocks", open).Msg("message stopped with unterminated content blocks")
		}
	case stream.Ping:
	case stream.Error:
		r.upErr = &UpstreamError{Kind: e.Kind, Message: e.Message}
		return r.upErr
	}
	return nil
}

func (r *Response) fail(err error) error {
	if err != nil {
		r.failErr = err
	}
	return err
}

func (r *Response) messageStart(e stream.MessageStart) {
	if r.started {
		log.Debug().Str("message_id", e.ID).Msg("duplicate message_start ignored")
		return
	}
	r.started = true
	r.id = e.ID
	r.model = e.Model
	r.role = e.Role
	r.usage = e.Usage
}

func (r *Response) blockStart(e stream.ContentBlockStart) error {
	if _, exists := r.blocks[e.Index]; exists {
		return &ProtocolError{Index: e.Index, Reason: "started more than once"}
	}

	b := &block{}
	switch cb := e.Block.(type) {
	case stream.TextBlock:
		b.kind = blockText
		b.text.WriteString(cb.Text)
	case stream.ToolUseBlock:
		b.kind = blockTool
		b.toolID = cb.ID
		b.toolName = cb.Name
	default:
		b.kind = blockIgnored
	}
	r.blocks[e.Index] = b
	return nil
}

func (r *Response) openBlock(index int, what string) (*block, error) {
	b, ok := r.blocks[index]
	if !ok {
		return nil, &ProtocolError{Index: index, Reason: what + " before content_block_start"}
	}
	if b.sealed {
		return nil, &ProtocolError{Index: index, Reason: what + " after content_block_stop"}
	}
	return b, nil
}

func (r *Response) blockDelta(e stream.ContentBlockDelta) error {
	b, err := r.openBlock(e.Index, "delta")
	if err != nil {
		return err
	}

	switch d := e.Delta.(type) {
	case stream.TextDelta:
		if b.kind != blockText {
			return &ProtocolError{Index: e.Index, Reason: "text_delta for " + b.kind.String() + " block"}
		}
		b.text.WriteString(d.Text)
	case stream.InputJSONDelta:
		if b.kind != blockTool {
			return &ProtocolError{Index: e.Index, Reason: "input_json_delta for " + b.kind.String() + " block"}
		}
		b.input = append(b.input, d.PartialJSON...)
	case stream.ThinkingDelta, stream.SignatureDelta:
		if b.kind != blockIgnored {
			return &ProtocolError{Index: e.Index, Reason: d.DeltaType() + " for " + b.kind.String() + " block"}
		}
	default:
		log.Debug().Int("index", e.Index).Str("delta_type", d.DeltaType()).Msg("unknown content delta ignored")
	}
	return nil
}

func (r *Response) blockStop(e stream.ContentBlockStop) error {
	b, err := r.openBlock(e.Index, "stop")
	if err != nil {
		return err
	}
	b.sealed = true
	if b.kind != blockTool {
		return nil
	}

	raw := b.input
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return &ToolInputParseError{
			Index: e.Index,
			ID:    b.toolID,
			Name:  b.toolName,
			Input: string(raw),
			Err:   err,
		}
	}
	r.toolUses = append(r.toolUses, ToolUse{
		ID:       b.toolID,
		Name:     b.toolName,
		Input:    input,
		RawInput: json.RawMessage(bytes.Clone(raw)),
	})
	b.input = nil
	return nil
}

// Text returns the concatenated text blocks in block index order,
// including blocks that are still receiving deltas.
func (r *Response) Text() string {
	var sb strings.Builder
	for _, index := range slices.Sorted(maps.Keys(r.blocks)) {
		if b := r.blocks[index]; b.kind == blockText {
			sb.WriteString(b.text.String())
		}
	}
	return sb.String()
}

// ToolUses returns the finalized tool calls in the order they completed.
func (r *Response) ToolUses() []ToolUse {
	return slices.Clone(r.toolUses)
}

// StopReason returns the latest reported stop reason.
func (r *Response) StopReason() (stream.StopReason, bool) {
	if r.stopReason == nil {
		return "", false
	}
	return *r.stopReason, true
}

// StopSequence returns the matched stop sequence, if any.
func (r *Response) StopSequence() (string, bool) {
	if r.stopSequence == nil {
		return "", false
	}
	return *r.stopSequence, true
}

// Usage returns the most recently reported token usage.
func (r *Response) Usage() stream.Usage {
	return r.usage
}

func (r *Response) ID() string    { return r.id }
func (r *Response) Model() string { return r.model }
func (r *Response) Role() string  { return r.role }

// Started reports whether message_start was seen.
func (r *Response) Started() bool { return r.started }

// Stopped reports whether message_stop was seen.
func (r *Response) Stopped() bool { return r.stopped }

// Done reports whether the response is terminal: stopped, or ended by a
// server error event.
func (r *Response) Done() bool {
	return r.stopped || r.upErr != nil
}

// Err returns the error that ended the response: a fail-fast error or the
// server's error event. It is nil while the stream is healthy.
func (r *Response) Err() error {
	if r.failErr != nil {
		return r.failErr
	}
	if r.upErr != nil {
		return r.upErr
	}
	return nil
}

// OpenBlocks counts started blocks that have not been stopped.
func (r *Response) OpenBlocks() int {
	n := 0
	for _, b := range r.blocks {
		if !b.sealed {
			n++
		}
	}
	return n
}
