package stream

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxFrameBytes bounds a single buffered frame.
const DefaultMaxFrameBytes = 16 << 20

// Frame is one blank-line-terminated SSE block.
type Frame struct {
	Index     int    // ordinal within this request's stream, starting at 1
	EventType string // event: field value, empty if the frame had none
	Data      string // data: lines joined with "\n"
	RawBytes  int    // byte length of this SSE frame on the wire
}

// FrameDecoder maintains state across chunks to handle frames and lines
// that span chunk boundaries. It knows nothing about the JSON payloads.
type FrameDecoder struct {
	buffer        []byte
	maxFrameBytes int
	frameIndex    int
	err           error

	// frame under construction
	eventType  string
	data       strings.Builder
	dataLines  int
	hasField   bool
	frameBytes int
}

// NewFrameDecoder returns a decoder. maxFrameBytes <= 0 selects
// DefaultMaxFrameBytes.
func NewFrameDecoder(maxFrameBytes int) *FrameDecoder {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &FrameDecoder{maxFrameBytes: maxFrameBytes}
}

// Decode appends chunk to the internal buffer and returns every frame whose
// terminating blank line has now been seen, in wire order. Unterminated
// bytes are kept for the next call. On error the frames completed before
// the failure are still returned, and every later call returns the same error.
func (d *FrameDecoder) Decode(chunk []byte) ([]Frame, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buffer = append(d.buffer, chunk...)
	var frames []Frame

	for {
		idx := bytes.IndexByte(d.buffer, '\n')
		if idx == -1 {
			break
		}

		line := string(d.buffer[:idx])
		d.buffer = d.buffer[idx+1:]
		d.frameBytes += idx + 1
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			frame, ok, err := d.dispatch()
			if err != nil {
				return frames, d.fail(err)
			}
			if ok {
				frames = append(frames, frame)
			}
			continue
		}

		d.field(line)
		if d.frameBytes > d.maxFrameBytes {
			return frames, d.fail(&FrameError{Reason: fmt.Sprintf("frame exceeds %d bytes", d.maxFrameBytes)})
		}
	}

	if d.frameBytes+len(d.buffer) > d.maxFrameBytes {
		return frames, d.fail(&FrameError{Reason: fmt.Sprintf("frame exceeds %d bytes", d.maxFrameBytes)})
	}
	if len(d.buffer) == 0 {
		d.buffer = d.buffer[:0:0]
	}
	return frames, nil
}

// Buffered reports how many bytes belong to a frame that has not been
// terminated yet.
func (d *FrameDecoder) Buffered() int {
	return d.frameBytes + len(d.buffer)
}

// Err returns the error that stopped the decoder, if any.
func (d *FrameDecoder) Err() error {
	return d.err
}

func (d *FrameDecoder) field(line string) {
	if strings.HasPrefix(line, ":") {
		return
	}

	name, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch name {
	case "event":
		d.eventType = value
		d.hasField = true
	case "data":
		if d.dataLines > 0 {
			d.data.WriteByte('\n')
		}
		d.data.WriteString(value)
		d.dataLines++
		d.hasField = true
	}
	// id:, retry: and unknown fields carry nothing this client needs.
}

func (d *FrameDecoder) dispatch() (Frame, bool, error) {
	defer d.reset()
	if !d.hasField {
		return Frame{}, false, nil
	}

	data := d.data.String()
	if !utf8.ValidString(data) {
		return Frame{}, false, &FrameError{Reason: fmt.Sprintf("frame %d: data is not valid UTF-8", d.frameIndex+1)}
	}

	d.frameIndex++
	return Frame{
		Index:     d.frameIndex,
		EventType: d.eventType,
		Data:      data,
		RawBytes:  d.frameBytes,
	}, true, nil
}

func (d *FrameDecoder) reset() {
	d.eventType = ""
	d.data.Reset()
	d.dataLines = 0
	d.hasField = false
	d.frameBytes = 0
}

func (d *FrameDecoder) fail(err error) error {
	d.err = err
	d.buffer = nil
	return err
}
