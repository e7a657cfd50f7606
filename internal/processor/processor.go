package processor

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/claude-sidekick/internal/pricing"
	"github.com/namikmesic/claude-sidekick/internal/response"
	"github.com/namikmesic/claude-sidekick/internal/storage"
	"github.com/namikmesic/claude-sidekick/internal/stream"
	"github.com/rs/zerolog/log"
)

// Enqueuer accepts storage jobs. *storage.BatchWriter implements it.
type Enqueuer interface {
	Enqueue(job storage.WriteJob)
}

// Processor rebuilds proxied responses and records their analytics.
type Processor struct {
	writer        Enqueuer
	maxFrameBytes int

	// SessionIdleTimeout bounds how long a JetStream session may go without
	// a message before it is finalized as incomplete.
	SessionIdleTimeout time.Duration
}

const DefaultSessionIdleTimeout = 10 * time.Minute

func New(writer Enqueuer, maxFrameBytes int) *Processor {
	return &Processor{
		writer:             writer,
		maxFrameBytes:      maxFrameBytes,
		SessionIdleTimeout: DefaultSessionIdleTimeout,
	}
}

// DoneMarker is the payload published on a request's done subject.
type DoneMarker struct {
	TS        int64  `json:"ts"`                   // request timestamp, unix nanos
	ElapsedMs int64  `json:"elapsed_ms"`           // time spent streaming the body
	ReadError string `json:"read_error,omitempty"` // upstream body read failure
}

// ProcessStream pulls frames from the analytics side of a teed response
// body and folds them into a response. Frames keep being recorded after the
// response failed, and body is always read to EOF so the writer feeding it
// never stalls.
func (p *Processor) ProcessStream(requestID uuid.UUID, ts time.Time, body io.Reader) {
	s := newSession(requestID, p.maxFrameBytes)
	start := time.Now()

	er := stream.NewEventReader(body, p.maxFrameBytes)
	for {
		f, err := er.NextFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.fail(err)
			break
		}
		s.observe(f)
	}

	if n, err := io.Copy(io.Discard, body); n > 0 || err != nil {
		log.Debug().Err(err).Int64("bytes", n).Str("request_id", requestID.String()).Msg("discarded undecodable stream tail")
	}
	p.finalize(s, ts, time.Since(start))
}

// ProcessNonStream handles a complete, non-streaming response body.
func (p *Processor) ProcessNonStream(requestID uuid.UUID, ts time.Time, body []byte, elapsed time.Duration) {
	var msg AnthropicResponse
	if err := json.Unmarshal(body, &msg); err != nil || msg.Type != "message" {
		return
	}

	s := newSession(requestID, p.maxFrameBytes)
	for _, ev := range msg.Events() {
		s.apply(ev)
	}
	p.finalize(s, ts, elapsed)
}

func (p *Processor) finalize(s *session, ts time.Time, elapsed time.Duration) {
	resultErr := s.result()
	resp := s.resp

	if len(s.frames) > 0 {
		p.writer.Enqueue(storage.InsertFramesJob(s.requestID, ts, s.frames))
	}

	usage := s.billedUsage()
	rec := storage.UsageRecord{
		Model:               resp.Model(),
		InputTokens:         usage.InputTokens,
		OutputTokens:        usage.OutputTokens,
		CacheReadTokens:     usage.CacheRead(),
		CacheCreationTokens: usage.CacheCreation(),
		CostUSD:             pricing.Cost(resp.Model(), usage),
		TokensPerSecond:     pricing.TokensPerSecond(usage.OutputTokens, elapsed),
		Success:             resultErr == nil,
	}
	if rec.Model != "" || rec.TotalTokens() > 0 {
		p.writer.Enqueue(storage.UpdateRequestUsageJob(s.requestID, ts, rec))
	}
	if resp.Started() || resultErr != nil {
		p.writer.Enqueue(storage.InsertResponseJob(s.requestID, ts, storage.NewResponseRecord(resp, resultErr)))
	}

	event := log.Debug()
	if resultErr != nil {
		event = log.Warn().Err(resultErr).Bool("fatal", response.IsFatal(resultErr))
	}
	event.
		Str("request_id", s.requestID.String()).
		Int("sse_events", len(s.frames)).
		Int("bytes", s.bytes).
		Str("model", rec.Model).
		Int("input_tokens", rec.InputTokens).
		Int("output_tokens", rec.OutputTokens).
		Int("tool_uses", len(resp.ToolUses())).
		Float64("cost_usd", rec.CostUSD).
		Msg("stream processing complete")
}
