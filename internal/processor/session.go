package processor

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/claude-sidekick/internal/response"
	"github.com/namikmesic/claude-sidekick/internal/stream"
)

// session is the decoder and accumulator for one proxied response. Only
// one goroutine touches a session at a time.
type session struct {
	requestID uuid.UUID
	ts        time.Time // request timestamp, the storage key with requestID
	firstByte time.Time
	lastSeen  time.Time
	decoder   *stream.FrameDecoder
	resp      *response.Response
	frames    []stream.Frame
	bytes     int
	opening   stream.Usage // usage reported by message_start
	err       error        // first error that ended accumulation
}

func newSession(requestID uuid.UUID, maxFrameBytes int) *session {
	return &session{
		requestID: requestID,
		decoder:   stream.NewFrameDecoder(maxFrameBytes),
		resp:      response.New(),
	}
}

// feed pushes one transport chunk through the decoder. Frames keep being
// recorded after the response failed so the raw stream stays auditable.
func (s *session) feed(chunk []byte) {
	if s.firstByte.IsZero() {
		s.firstByte = time.Now()
	}
	if s.decoder.Err() != nil {
		return
	}

	frames, err := s.decoder.Decode(chunk)
	for _, f := range frames {
		s.observe(f)
	}
	if err != nil {
		s.fail(err)
	}
}

func (s *session) observe(f stream.Frame) {
	s.record(f)
	if s.err != nil {
		return
	}

	ev, err := stream.ParseEvent(f)
	if err != nil {
		s.fail(err)
		return
	}
	s.apply(ev)
}

func (s *session) apply(ev stream.Event) {
	if s.err != nil {
		return
	}
	if start, ok := ev.(stream.MessageStart); ok && !s.resp.Started() {
		s.opening = start.Usage
	}
	if err := s.resp.ProcessEvent(ev); err != nil {
		s.fail(err)
	}
}

// abort records a transport failure reported outside the byte stream.
func (s *session) abort(err error) {
	s.fail(&stream.FrameError{Reason: "read", Err: err})
}

func (s *session) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// record keeps f for storage without parsing it.
func (s *session) record(f stream.Frame) {
	s.frames = append(s.frames, f)
	s.bytes += f.RawBytes
}

// result returns the error that ended the stream, if any.
func (s *session) result() error {
	if s.err != nil {
		return s.err
	}
	if !s.resp.Stopped() {
		return fmt.Errorf("stream ended before message_stop: %w", io.ErrUnexpectedEOF)
	}
	return nil
}

// billedUsage is the final usage with any bucket the closing report left
// out taken from message_start. Older API versions only send output_tokens
// in message_delta.
func (s *session) billedUsage() stream.Usage {
	u := s.resp.Usage()
	if u.InputTokens == 0 {
		u.InputTokens = s.opening.InputTokens
	}
	if u.CacheCreationInputTokens == nil {
		u.CacheCreationInputTokens = s.opening.CacheCreationInputTokens
	}
	if u.CacheReadInputTokens == nil {
		u.CacheReadInputTokens = s.opening.CacheReadInputTokens
	}
	return u
}
