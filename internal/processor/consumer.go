package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/claude-sidekick/internal/jetstream"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// errSessionIdle ends a session whose done marker never arrived.
var errSessionIdle = errors.New("no done marker before idle timeout")

// consumer owns the sessions of in-flight JetStream requests. mu serializes
// the subscription callback and the idle sweep.
type consumer struct {
	p    *Processor
	idle time.Duration

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

func newConsumer(p *Processor) *consumer {
	idle := p.SessionIdleTimeout
	if idle <= 0 {
		idle = DefaultSessionIdleTimeout
	}
	return &consumer{p: p, idle: idle, sessions: make(map[uuid.UUID]*session)}
}

// StartConsumer feeds JetStream chunks into per-request sessions until ctx
// is done. Sessions idle for longer than SessionIdleTimeout are finalized
// as incomplete.
func (p *Processor) StartConsumer(ctx context.Context, js nats.JetStreamContext) error {
	c := newConsumer(p)

	sub, err := js.Subscribe(jetstream.SubjectPrefix+">", func(msg *nats.Msg) {
		c.handle(msg, time.Now())
		if err := msg.Ack(); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("ack failed")
		}
	}, nats.Durable(jetstream.ConsumerName), nats.ManualAck())
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Info().Str("consumer", jetstream.ConsumerName).Dur("idle_timeout", c.idle).Msg("analytics consumer started")

	ticker := time.NewTicker(max(c.idle/4, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := sub.Drain(); err != nil {
				return fmt.Errorf("drain subscription: %w", err)
			}
			return nil
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}

func (c *consumer) handle(msg *nats.Msg, now time.Time) {
	requestID, done, err := jetstream.ParseSubject(msg.Subject)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring message on unexpected subject")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[requestID]
	if !ok {
		s = newSession(requestID, c.p.maxFrameBytes)
		c.sessions[requestID] = s
	}
	s.lastSeen = now
	if s.firstByte.IsZero() && !done {
		s.firstByte = now
	}
	if ts, ok := jetstream.RequestTS(msg); ok {
		s.ts = ts
	}
	if !done {
		s.feed(msg.Data)
		return
	}
	delete(c.sessions, requestID)

	var marker DoneMarker
	if err := json.Unmarshal(msg.Data, &marker); err != nil {
		log.Warn().Err(err).Str("request_id", requestID.String()).Msg("malformed done marker")
	}
	if marker.TS != 0 {
		s.ts = time.Unix(0, marker.TS)
	}
	if marker.ReadError != "" {
		s.abort(errors.New(marker.ReadError))
	}
	elapsed := time.Duration(marker.ElapsedMs) * time.Millisecond
	if elapsed == 0 && !s.firstByte.IsZero() {
		elapsed = now.Sub(s.firstByte)
	}
	c.p.finalize(s, s.ts, elapsed)
}

// sweep finalizes sessions that have not seen a message for c.idle.
func (c *consumer) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, s := range c.sessions {
		if now.Sub(s.lastSeen) < c.idle {
			continue
		}
		delete(c.sessions, id)
		log.Warn().Str("request_id", id.String()).Int("frames", len(s.frames)).Msg("session expired without done marker")
		s.fail(errSessionIdle)
		c.p.finalize(s, s.ts, s.lastSeen.Sub(s.firstByte))
	}
}

func (c *consumer) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
