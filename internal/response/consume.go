package response

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/namikmesic/claude-sidekick/internal/stream"
)

// EventSource yields typed events until io.EOF or an error.
type EventSource interface {
	Next() (stream.Event, error)
}

// Consume drains src into a fresh Response. The partial response is returned
// alongside any error so callers can still show what arrived. An upstream
// error event ends consumption early; reaching io.EOF before message_stop
// is reported as io.ErrUnexpectedEOF.
func Consume(ctx context.Context, src EventSource) (*Response, error) {
	resp := New()
	for {
		if err := ctx.Err(); err != nil {
			return resp, err
		}

		ev, err := src.Next()
		if errors.Is(err, io.EOF) {
			if !resp.Stopped() {
				return resp, fmt.Errorf("stream ended before message_stop: %w", io.ErrUnexpectedEOF)
			}
			return resp, nil
		}
		if err != nil {
			return resp, err
		}

		if err := resp.ProcessEvent(ev); err != nil {
			return resp, err
		}
	}
}
