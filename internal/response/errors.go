package response

import (
	"errors"
	"fmt"

	"github.com/namikmesic/claude-sidekick/internal/stream"
)

// ProtocolError reports an event that breaks the per-block lifecycle
// Start(index) -> Delta(index)* -> Stop(index).
type ProtocolError struct {
	Index  int
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("content block %d: %s", e.Index, e.Reason)
}

// ToolInputParseError reports a tool call whose buffered JSON input does not
// parse once the block is stopped.
type ToolInputParseError struct {
	Index int
	ID    string
	Name  string
	Input string
	Err   error
}

func (e *ToolInputParseError) Error() string {
	return fmt.Sprintf("tool %s (%s) at block %d: invalid input json: %v", e.Name, e.ID, e.Index, e.Err)
}

func (e *ToolInputParseError) Unwrap() error { return e.Err }

// UpstreamError is an error event reported by the server inside the stream.
type UpstreamError struct {
	Kind    string
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %s", e.Kind, e.Message)
}

// IncompleteMessage is the user-facing text for a stream that failed locally.
const IncompleteMessage = "the response could not be completed"

// UserMessage renders err for display: the server's own message for
// upstream errors, a fixed notice for everything that broke locally.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Message
	}
	return IncompleteMessage
}

// IsFatal reports whether err means local state can no longer be trusted.
// Upstream errors are delivered as data; the caller decides what to do.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return false
	}
	var (
		frameErr   *stream.FrameError
		jsonErr    *stream.JSONError
		missingErr *stream.MissingFieldError
		deltaErr   *stream.InvalidDeltaTypeError
		toolErr    *ToolInputParseError
		protoErr   *ProtocolError
	)
	return errors.As(err, &frameErr) ||
		errors.As(err, &jsonErr) ||
		errors.As(err, &missingErr) ||
		errors.As(err, &deltaErr) ||
		errors.As(err, &toolErr) ||
		errors.As(err, &protoErr)
}
