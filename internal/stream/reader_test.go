package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func readAll(t *testing.T, er *EventReader) ([]Event, error) {
	t.Helper()
	var events []Event
	for {
		ev, err := er.Next()
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestEventReader_OneByteReads(t *testing.T) {
	er := NewEventReader(iotest.OneByteReader(strings.NewReader(anthropicFixture)), 0)

	var frames []Frame
	er.OnFrame = func(f Frame) { frames = append(frames, f) }

	events, err := readAll(t, er)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}

	wantTypes := []string{TypeMessageStart, TypeContentBlockStart, TypeContentBlockDelta, TypePing, TypeMessageStop}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events, want %d", len(events), len(wantTypes))
	}
	for i, ev := range events {
		if ev.EventType() != wantTypes[i] {
			t.Errorf("events[%d] = %s, want %s", i, ev.EventType(), wantTypes[i])
		}
	}
	if len(frames) != len(events) {
		t.Errorf("OnFrame saw %d frames, want %d", len(frames), len(events))
	}

	delta, ok := events[2].(ContentBlockDelta)
	if !ok {
		t.Fatalf("events[2] = %T, want ContentBlockDelta", events[2])
	}
	if text := delta.Delta.(TextDelta).Text; text != " wörld" {
		t.Errorf("delta text = %q, want %q", text, " wörld")
	}
}

func TestEventReader_UnterminatedTailDiscarded(t *testing.T) {
	input := "event: ping\ndata: {}\n\nevent: message_stop\ndata: {\"type\":\"message_stop\"}\n"
	events, err := readAll(t, NewEventReader(strings.NewReader(input), 0))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want only the terminated frame", len(events))
	}
}

func TestEventReader_ReadErrorIsFrameError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("event: ping\ndata: {}\n\n"), iotest.ErrReader(boom))
	er := NewEventReader(r, 0)

	events, err := readAll(t, er)
	if len(events) != 1 {
		t.Errorf("got %d events, want the frame delivered before the failure", len(events))
	}
	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("err = %v, want *FrameError", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("FrameError should wrap the transport error")
	}

	if _, again := er.Next(); !errors.Is(again, boom) {
		t.Errorf("error should be sticky, got %v", again)
	}
}

func TestEventReader_ParseErrorEndsStream(t *testing.T) {
	input := "event: content_block_stop\ndata: {}\n\nevent: ping\ndata: {}\n\n"
	er := NewEventReader(strings.NewReader(input), 0)

	_, err := er.Next()
	var missing *MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want *MissingFieldError", err)
	}
	if _, err := er.Next(); !errors.As(err, &missing) {
		t.Errorf("stream should stay terminated, got %v", err)
	}
}
