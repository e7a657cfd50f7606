package stream

import (
	"errors"
	"io"

	"github.com/rs/zerolog/log"
)

const readBufferSize = 32 * 1024

// EventReader pulls typed events out of a raw SSE byte stream. It is
// single-use: once Next returns an error, every later call returns it too.
// io.EOF marks a clean end of stream.
type EventReader struct {
	r       io.Reader
	dec     *FrameDecoder
	buf     []byte
	pending []Frame
	readErr error
	err     error

	// OnFrame, if set, observes every decoded frame before it is parsed.
	OnFrame func(Frame)
}

// NewEventReader reads frames from r. maxFrameBytes <= 0 selects
// DefaultMaxFrameBytes.
func NewEventReader(r io.Reader, maxFrameBytes int) *EventReader {
	return &EventReader{
		r:   r,
		dec: NewFrameDecoder(maxFrameBytes),
		buf: make([]byte, readBufferSize),
	}
}

// NextFrame returns the next raw frame without parsing it.
func (er *EventReader) NextFrame() (Frame, error) {
	if er.err != nil {
		return Frame{}, er.err
	}

	for len(er.pending) == 0 {
		if er.readErr != nil {
			er.err = er.readErr
			return Frame{}, er.err
		}

		n, err := er.r.Read(er.buf)
		if n > 0 {
			frames, decErr := er.dec.Decode(er.buf[:n])
			er.pending = append(er.pending, frames...)
			if decErr != nil {
				er.readErr = decErr
				continue
			}
		}
		if err != nil {
			er.readErr = er.endOfInput(err)
		}
	}

	frame := er.pending[0]
	er.pending = er.pending[1:]
	if er.OnFrame != nil {
		er.OnFrame(frame)
	}
	return frame, nil
}

func (er *EventReader) endOfInput(err error) error {
	if errors.Is(err, io.EOF) {
		if n := er.dec.Buffered(); n > 0 {
			log.Debug().Int("bytes", n).Msg("discarding unterminated sse frame at end of stream")
		}
		return io.EOF
	}
	return &FrameError{Reason: "read", Err: err}
}

// Next returns the next typed event. A parse error ends the stream.
func (er *EventReader) Next() (Event, error) {
	frame, err := er.NextFrame()
	if err != nil {
		return nil, err
	}
	ev, err := ParseEvent(frame)
	if err != nil {
		er.err = err
		er.pending = nil
		return nil, err
	}
	return ev, nil
}
