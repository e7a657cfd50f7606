package stream

// Event is one typed Anthropic streaming event. The set is closed: every
// variant lives in this file and implements the unexported marker.
type Event interface {
	EventType() string
	event()
}

// Known wire event types.
const (
	TypeMessageStart      = "message_start"
	TypeContentBlockStart = "content_block_start"
	TypeContentBlockDelta = "content_block_delta"
	TypeContentBlockStop  = "content_block_stop"
	TypeMessageDelta      = "message_delta"
	TypeMessageStop       = "message_stop"
	TypePing              = "ping"
	TypeError             = "error"
)

// StopReason is the server-reported cause of termination. Values the
// client does not know are kept verbatim.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopToolUse      StopReason = "tool_use"
	StopPauseTurn    StopReason = "pause_turn"
	StopRefusal      StopReason = "refusal"
)

// Usage is a running token total as reported by the server. Each report
// replaces the previous one.
type Usage struct {
	InputTokens              int  `json:"input_tokens"`
	OutputTokens             int  `json:"output_tokens"`
	CacheCreationInputTokens *int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     *int `json:"cache_read_input_tokens,omitempty"`
}

// CacheCreation returns the cache-write token count, zero when unreported.
func (u Usage) CacheCreation() int {
	if u.CacheCreationInputTokens == nil {
		return 0
	}
	return *u.CacheCreationInputTokens
}

// CacheRead returns the cache-read token count, zero when unreported.
func (u Usage) CacheRead() int {
	if u.CacheReadInputTokens == nil {
		return 0
	}
	return *u.CacheReadInputTokens
}

// Total sums every token bucket.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheCreation() + u.CacheRead()
}

type MessageStart struct {
	ID    string
	Model string
	Role  string
	Usage Usage
}

type ContentBlockStart struct {
	Index int
	Block ContentBlock
}

type ContentBlockDelta struct {
	Index int
	Delta ContentDelta
}

type ContentBlockStop struct {
	Index int
}

type MessageDelta struct {
	StopReason   *StopReason
	StopSequence *string
	Usage        Usage
}

type MessageStop struct{}

// Ping is a liveness signal. Unknown event types also parse to Ping.
type Ping struct{}

// Error is a server-reported error delivered inside the stream.
type Error struct {
	Kind    string
	Message string
}

func (MessageStart) EventType() string      { return TypeMessageStart }
func (ContentBlockStart) EventType() string { return TypeContentBlockStart }
func (ContentBlockDelta) EventType() string { return TypeContentBlockDelta }
func (ContentBlockStop) EventType() string  { return TypeContentBlockStop }
func (MessageDelta) EventType() string      { return TypeMessageDelta }
func (MessageStop) EventType() string       { return TypeMessageStop }
func (Ping) EventType() string              { return TypePing }
func (Error) EventType() string             { return TypeError }

func (MessageStart) event()      {}
func (ContentBlockStart) event() {}
func (ContentBlockDelta) event() {}
func (ContentBlockStop) event()  {}
func (MessageDelta) event()      {}
func (MessageStop) event()       {}
func (Ping) event()              {}
func (Error) event()             {}

// ContentBlock is the initial payload of a content block.
type ContentBlock interface {
	BlockType() string
	contentBlock()
}

type TextBlock struct {
	Text string
}

type ToolUseBlock struct {
	ID   string
	Name string
}

type ThinkingBlock struct {
	Thinking string
}

// UnknownBlock is a content block type this client does not understand.
type UnknownBlock struct {
	Type string
}

func (TextBlock) BlockType() string     { return "text" }
func (ToolUseBlock) BlockType() string  { return "tool_use" }
func (ThinkingBlock) BlockType() string { return "thinking" }
func (b UnknownBlock) BlockType() string {
	return b.Type
}

func (TextBlock) contentBlock()     {}
func (ToolUseBlock) contentBlock()  {}
func (ThinkingBlock) contentBlock() {}
func (UnknownBlock) contentBlock()  {}

// ContentDelta is an incremental update to one content block.
type ContentDelta interface {
	DeltaType() string
	contentDelta()
}

type TextDelta struct {
	Text string
}

type InputJSONDelta struct {
	PartialJSON string
}

type ThinkingDelta struct {
	Thinking string
}

type SignatureDelta struct {
	Signature string
}

// UnknownDelta is a content delta type this client does not understand.
type UnknownDelta struct {
	Type string
}

func (TextDelta) DeltaType() string      { return "text_delta" }
func (InputJSONDelta) DeltaType() string { return "input_json_delta" }
func (ThinkingDelta) DeltaType() string  { return "thinking_delta" }
func (SignatureDelta) DeltaType() string { return "signature_delta" }
func (d UnknownDelta) DeltaType() string {
	return d.Type
}

func (TextDelta) contentDelta()      {}
func (InputJSONDelta) contentDelta() {}
func (ThinkingDelta) contentDelta()  {}
func (SignatureDelta) contentDelta() {}
func (UnknownDelta) contentDelta()   {}

var (
	_ Event = MessageStart{}
	_ Event = ContentBlockStart{}
	_ Event = ContentBlockDelta{}
	_ Event = ContentBlockStop{}
	_ Event = MessageDelta{}
	_ Event = MessageStop{}
	_ Event = Ping{}
	_ Event = Error{}

	_ ContentBlock = TextBlock{}
	_ ContentBlock = ToolUseBlock{}
	_ ContentBlock = ThinkingBlock{}
	_ ContentBlock = UnknownBlock{}

	_ ContentDelta = TextDelta{}
	_ ContentDelta = InputJSONDelta{}
	_ ContentDelta = ThinkingDelta{}
	_ ContentDelta = SignatureDelta{}
	_ ContentDelta = UnknownDelta{}
)
