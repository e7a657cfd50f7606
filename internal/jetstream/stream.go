package jetstream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
)

const (
	StreamName    = "SIDEKICK"
	SubjectPrefix = "sidekick.req."
	ConsumerName  = "sidekick-processor"

	// HeaderRequestTS carries the request timestamp (unix nanos) on every
	// chunk, so a session can be stored even if its done marker never arrives.
	HeaderRequestTS = "Sidekick-Request-Ts"

	doneSuffix = ".done"
)

// EnsureStream creates the work-queue stream carrying raw upstream chunks.
func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"sidekick.>"},
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) && !strings.Contains(err.Error(), "already exists") {
		return err
	}
	return nil
}

// ChunkSubject carries raw response bytes for one request, in order.
func ChunkSubject(requestID string) string {
	return SubjectPrefix + requestID
}

// DoneSubject marks the end of one request's response body.
func DoneSubject(requestID string) string {
	return SubjectPrefix + requestID + doneSuffix
}

// ChunkMsg builds the message for one chunk of a request's response body.
func ChunkMsg(requestID uuid.UUID, ts time.Time, data []byte) *nats.Msg {
	msg := nats.NewMsg(ChunkSubject(requestID.String()))
	msg.Header.Set(HeaderRequestTS, strconv.FormatInt(ts.UnixNano(), 10))
	msg.Data = data
	return msg
}

// RequestTS reads the request timestamp stamped by ChunkMsg.
func RequestTS(msg *nats.Msg) (time.Time, bool) {
	if msg.Header == nil {
		return time.Time{}, false
	}
	v := msg.Header.Get(HeaderRequestTS)
	if v == "" {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

// ParseSubject extracts the request id from a chunk or done subject.
func ParseSubject(subject string) (requestID uuid.UUID, done bool, err error) {
	rest, ok := strings.CutPrefix(subject, SubjectPrefix)
	if !ok {
		return uuid.Nil, false, fmt.Errorf("subject %q: missing prefix %q", subject, SubjectPrefix)
	}
	rest, done = strings.CutSuffix(rest, doneSuffix)
	requestID, err = uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("subject %q: %w", subject, err)
	}
	return requestID, done, nil
}
