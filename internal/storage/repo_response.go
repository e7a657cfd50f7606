package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/namikmesic/claude-sidekick/internal/response"
)

// ResponseRecord is the reconstructed message for one request.
type ResponseRecord struct {
	MessageID    string
	Model        string
	StopReason   string
	StopSequence *string
	Text         string
	Complete     bool
	ErrorKind    string
	ErrorMessage string
	ToolUses     []response.ToolUse
}

// NewResponseRecord snapshots resp. err is the error that ended the stream,
// if any.
func NewResponseRecord(resp *response.Response, err error) ResponseRecord {
	rec := ResponseRecord{
		MessageID: resp.ID(),
		Model:     resp.Model(),
		Text:      resp.Text(),
		Complete:  resp.Stopped() && err == nil,
		ToolUses:  resp.ToolUses(),
	}
	if reason, ok := resp.StopReason(); ok {
		rec.StopReason = string(reason)
	}
	if seq, ok := resp.StopSequence(); ok {
		rec.StopSequence = &seq
	}
	if err != nil {
		rec.ErrorKind = "incomplete"
		var upstream *response.UpstreamError
		if errors.As(err, &upstream) {
			rec.ErrorKind = upstream.Kind
		}
		rec.ErrorMessage = err.Error()
	}
	return rec
}

// ResponseJob stores a reconstructed response and its tool uses.
type ResponseJob struct {
	RequestID uuid.UUID
	TS        time.Time
	Record    ResponseRecord
}

func InsertResponseJob(requestID uuid.UUID, ts time.Time, rec ResponseRecord) *ResponseJob {
	return &ResponseJob{RequestID: requestID, TS: ts, Record: rec}
}

func (j *ResponseJob) Execute(ctx context.Context, pool *pgxpool.Pool) error {
	rec := j.Record
	_, err := pool.Exec(ctx, `
		INSERT INTO responses (
			request_id, ts, message_id, model, stop_reason, stop_sequence,
			text, complete, error_kind, error_message
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (request_id, ts) DO NOTHING`,
		j.RequestID, j.TS, nilIfEmpty(rec.MessageID), nilIfEmpty(rec.Model), nilIfEmpty(rec.StopReason),
		rec.StopSequence, rec.Text, rec.Complete, nilIfEmpty(rec.ErrorKind), nilIfEmpty(rec.ErrorMessage),
	)
	if err != nil || len(rec.ToolUses) == 0 {
		return err
	}

	_, err = pool.CopyFrom(ctx,
		pgx.Identifier{"tool_uses"},
		[]string{"request_id", "ts", "position", "tool_use_id", "name", "input"},
		toolUseRows(j.RequestID, j.TS, rec.ToolUses),
	)
	return err
}

func toolUseRows(requestID uuid.UUID, ts time.Time, tools []response.ToolUse) pgx.CopyFromSource {
	return pgx.CopyFromSlice(len(tools), func(i int) ([]any, error) {
		tu := tools[i]
		return []any{requestID, ts, i, tu.ID, tu.Name, []byte(tu.RawInput)}, nil
	})
}
