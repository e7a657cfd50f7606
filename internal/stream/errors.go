package stream

import "fmt"

// FrameError reports malformed SSE framing or a transport read failure.
type FrameError struct {
	Reason string
	Err    error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sse frame: %s: %v", e.Reason, e.Err)
	}
	return "sse frame: " + e.Reason
}

func (e *FrameError) Unwrap() error { return e.Err }

// JSONError reports a payload that is not valid JSON for a known event type.
type JSONError struct {
	EventType string
	Err       error
}

func (e *JSONError) Error() string {
	return fmt.Sprintf("decode %s payload: %v", e.EventType, e.Err)
}

func (e *JSONError) Unwrap() error { return e.Err }

// MissingFieldError reports a known event type lacking a required field.
type MissingFieldError struct {
	EventType string
	Field     string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: missing field %q", e.EventType, e.Field)
}

// InvalidDeltaTypeError reports a well-formed delta whose shape does not fit
// the containing event, e.g. a message delta inside content_block_delta.
type InvalidDeltaTypeError struct {
	EventType string
	DeltaType string
}

func (e *InvalidDeltaTypeError) Error() string {
	if e.DeltaType == "" {
		return fmt.Sprintf("%s: delta has the wrong shape for this event", e.EventType)
	}
	return fmt.Sprintf("%s: delta type %q not valid for this event", e.EventType, e.DeltaType)
}
