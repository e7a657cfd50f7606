package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/namikmesic/claude-sidekick/internal/stream"
)

// FramesJob stores the raw SSE frames of one response using the COPY protocol.
type FramesJob struct {
	RequestID uuid.UUID
	TS        time.Time
	Frames    []stream.Frame
}

func InsertFramesJob(requestID uuid.UUID, ts time.Time, frames []stream.Frame) *FramesJob {
	return &FramesJob{RequestID: requestID, TS: ts, Frames: frames}
}

func (j *FramesJob) Execute(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.CopyFrom(ctx,
		pgx.Identifier{"sse_events"},
		[]string{"ts", "request_id", "event_index", "event_type", "data_json", "raw_bytes"},
		frameRows(j.RequestID, j.TS, j.Frames),
	)
	return err
}

func frameRows(requestID uuid.UUID, ts time.Time, frames []stream.Frame) pgx.CopyFromSource {
	return pgx.CopyFromSlice(len(frames), func(i int) ([]any, error) {
		f := frames[i]
		eventType := f.EventType
		if eventType == "" {
			eventType = "message"
		}
		return []any{ts, requestID, f.Index, eventType, f.Data, f.RawBytes}, nil
	})
}
