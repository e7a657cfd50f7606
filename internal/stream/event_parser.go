package stream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ParseEvent turns one frame into exactly one typed event. Malformed
// instances of known event types are errors; unknown event types are not,
// they parse to Ping so that new server-side kinds never break the client.
func ParseEvent(f Frame) (Event, error) {
	data := []byte(f.Data)
	eventType := f.EventType
	if eventType == "" {
		eventType = inferEventType(data)
	}

	switch eventType {
	case TypeMessageStart:
		return parseMessageStart(data)
	case TypeContentBlockStart:
		return parseContentBlockStart(data)
	case TypeContentBlockDelta:
		return parseContentBlockDelta(data)
	case TypeContentBlockStop:
		return parseContentBlockStop(data)
	case TypeMessageDelta:
		return parseMessageDelta(data)
	case TypeMessageStop:
		return MessageStop{}, nil
	case TypePing:
		return Ping{}, nil
	case TypeError:
		return parseError(data)
	default:
		log.Debug().
			Str("event_type", eventType).
			Int("frame", f.Index).
			Msg("unknown stream event, treating as ping")
		return Ping{}, nil
	}
}

// inferEventType reads the payload's "type" field for frames sent without
// an event: line.
func inferEventType(data []byte) string {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return ""
	}
	return env.Type
}

// object is the generic first step of a two-step parse: fields are checked
// for presence here, then decoded into their concrete shape by context.
type object map[string]json.RawMessage

func decodeObject(eventType string, data []byte) (object, error) {
	var obj object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, &JSONError{EventType: eventType, Err: err}
	}
	return obj, nil
}

func (o object) has(key string) bool {
	raw, ok := o[key]
	return ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// present is like has but also counts explicit nulls.
func (o object) present(key string) bool {
	_, ok := o[key]
	return ok
}

// require decodes key into dst, reporting field as missing when absent.
func (o object) require(eventType, key, field string, dst any) error {
	if !o.has(key) {
		return &MissingFieldError{EventType: eventType, Field: field}
	}
	return o.decode(eventType, key, dst)
}

func (o object) decode(eventType, key string, dst any) error {
	raw, ok := o[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &JSONError{EventType: eventType, Err: fmt.Errorf("field %q: %w", key, err)}
	}
	return nil
}

func (o object) index(eventType string) (int, error) {
	var index int
	if err := o.require(eventType, "index", "index", &index); err != nil {
		return 0, err
	}
	if index < 0 {
		return 0, &JSONError{EventType: eventType, Err: fmt.Errorf("negative index %d", index)}
	}
	return index, nil
}

func parseMessageStart(data []byte) (Event, error) {
	obj, err := decodeObject(TypeMessageStart, data)
	if err != nil {
		return nil, err
	}
	var msg object
	if err := obj.require(TypeMessageStart, "message", "message", &msg); err != nil {
		return nil, err
	}
	for _, key := range []string{"id", "model", "role", "usage"} {
		if !msg.has(key) {
			return nil, &MissingFieldError{EventType: TypeMessageStart, Field: "message"}
		}
	}

	var ev MessageStart
	fields := []struct {
		key string
		dst any
	}{
		{"id", &ev.ID},
		{"model", &ev.Model},
		{"role", &ev.Role},
		{"usage", &ev.Usage},
	}
	for _, f := range fields {
		if err := msg.decode(TypeMessageStart, f.key, f.dst); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

func parseContentBlockStart(data []byte) (Event, error) {
	obj, err := decodeObject(TypeContentBlockStart, data)
	if err != nil {
		return nil, err
	}
	index, err := obj.index(TypeContentBlockStart)
	if err != nil {
		return nil, err
	}
	var block object
	if err := obj.require(TypeContentBlockStart, "content_block", "content_block", &block); err != nil {
		return nil, err
	}
	var blockType string
	if err := block.require(TypeContentBlockStart, "type", "content_block.type", &blockType); err != nil {
		return nil, err
	}

	ev := ContentBlockStart{Index: index}
	switch blockType {
	case "text":
		var b TextBlock
		if err := block.decode(TypeContentBlockStart, "text", &b.Text); err != nil {
			return nil, err
		}
		ev.Block = b
	case "tool_use":
		var b ToolUseBlock
		if err := block.require(TypeContentBlockStart, "id", "content_block.id", &b.ID); err != nil {
			return nil, err
		}
		if err := block.require(TypeContentBlockStart, "name", "content_block.name", &b.Name); err != nil {
			return nil, err
		}
		ev.Block = b
	case "thinking":
		var b ThinkingBlock
		if err := block.decode(TypeContentBlockStart, "thinking", &b.Thinking); err != nil {
			return nil, err
		}
		ev.Block = b
	default:
		ev.Block = UnknownBlock{Type: blockType}
	}
	return ev, nil
}

func parseContentBlockDelta(data []byte) (Event, error) {
	obj, err := decodeObject(TypeContentBlockDelta, data)
	if err != nil {
		return nil, err
	}
	index, err := obj.index(TypeContentBlockDelta)
	if err != nil {
		return nil, err
	}
	var delta object
	if err := obj.require(TypeContentBlockDelta, "delta", "delta", &delta); err != nil {
		return nil, err
	}
	cd, err := contentDelta(delta)
	if err != nil {
		return nil, err
	}
	return ContentBlockDelta{Index: index, Delta: cd}, nil
}

// contentDelta reinterprets a generic delta object as a content delta.
func contentDelta(delta object) (ContentDelta, error) {
	const et = TypeContentBlockDelta

	var deltaType string
	if err := delta.decode(et, "type", &deltaType); err != nil {
		return nil, err
	}

	switch deltaType {
	case "text_delta":
		var d TextDelta
		if err := delta.require(et, "text", "delta.text", &d.Text); err != nil {
			return nil, err
		}
		return d, nil
	case "input_json_delta":
		var d InputJSONDelta
		if err := delta.require(et, "partial_json", "delta.partial_json", &d.PartialJSON); err != nil {
			return nil, err
		}
		return d, nil
	case "thinking_delta":
		var d ThinkingDelta
		if err := delta.decode(et, "thinking", &d.Thinking); err != nil {
			return nil, err
		}
		return d, nil
	case "signature_delta":
		var d SignatureDelta
		if err := delta.decode(et, "signature", &d.Signature); err != nil {
			return nil, err
		}
		return d, nil
	case "":
		if delta.present("stop_reason") || delta.present("stop_sequence") {
			return nil, &InvalidDeltaTypeError{EventType: et}
		}
		return nil, &MissingFieldError{EventType: et, Field: "delta.type"}
	default:
		return UnknownDelta{Type: deltaType}, nil
	}
}

func parseContentBlockStop(data []byte) (Event, error) {
	obj, err := decodeObject(TypeContentBlockStop, data)
	if err != nil {
		return nil, err
	}
	index, err := obj.index(TypeContentBlockStop)
	if err != nil {
		return nil, err
	}
	return ContentBlockStop{Index: index}, nil
}

func parseMessageDelta(data []byte) (Event, error) {
	const et = TypeMessageDelta

	obj, err := decodeObject(et, data)
	if err != nil {
		return nil, err
	}
	var delta object
	if err := obj.require(et, "delta", "delta", &delta); err != nil {
		return nil, err
	}
	if delta.present("type") {
		var deltaType string
		_ = delta.decode(et, "type", &deltaType)
		return nil, &InvalidDeltaTypeError{EventType: et, DeltaType: deltaType}
	}

	var ev MessageDelta
	if err := delta.decode(et, "stop_reason", &ev.StopReason); err != nil {
		return nil, err
	}
	if err := delta.decode(et, "stop_sequence", &ev.StopSequence); err != nil {
		return nil, err
	}
	if err := obj.require(et, "usage", "usage", &ev.Usage); err != nil {
		return nil, err
	}
	return ev, nil
}

func parseError(data []byte) (Event, error) {
	obj, err := decodeObject(TypeError, data)
	if err != nil {
		return nil, err
	}
	var body object
	if err := obj.require(TypeError, "error", "error", &body); err != nil {
		return nil, err
	}
	var ev Error
	if err := body.require(TypeError, "type", "error.type", &ev.Kind); err != nil {
		return nil, err
	}
	if err := body.require(TypeError, "message", "error.message", &ev.Message); err != nil {
		return nil, err
	}
	return ev, nil
}
