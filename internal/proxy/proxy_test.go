package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/namikmesic/claude-sidekick/internal/config"
	"github.com/namikmesic/claude-sidekick/internal/processor"
	"github.com/namikmesic/claude-sidekick/internal/storage"
)

const sseBody = "event: message_start\n" +
	`data: {"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4-5","role":"assistant","usage":{"input_tokens":12,"output_tokens":1}}}` + "\n\n" +
	"event: content_block_start\n" +
	`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}` + "\n\n" +
	"event: content_block_delta\n" +
	`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}` + "\n\n" +
	"event: content_block_stop\n" +
	`data: {"type":"content_block_stop","index":0}` + "\n\n" +
	"event: message_delta\n" +
	`data: {"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":3}}` + "\n\n" +
	"event: message_stop\n" +
	`data: {"type":"message_stop"}` + "\n\n"

const messageBody = `{"id":"msg_2","type":"message","role":"assistant","model":"claude-haiku-4-5",` +
	`"content":[{"type":"text","text":"Hello"}],"stop_reason":"end_turn","stop_sequence":null,` +
	`"usage":{"input_tokens":5,"output_tokens":2}}`

type recorder struct {
	mu   sync.Mutex
	jobs []storage.WriteJob
}

func (r *recorder) Enqueue(job storage.WriteJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

func (r *recorder) responses() []*storage.ResponseJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*storage.ResponseJob
	for _, j := range r.jobs {
		if rj, ok := j.(*storage.ResponseJob); ok {
			out = append(out, rj)
		}
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		got := len(r.jobs)
		r.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d write jobs", n)
}

func newTestHandler(t *testing.T, upstream http.HandlerFunc) (*httptest.Server, *recorder) {
	t.Helper()
	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	cfg := &config.Config{
		AnthropicBaseURL: up.URL,
		AnthropicAPIKey:  "test-key",
		AnalyticsMode:    config.AnalyticsInline,
		MaxFrameBytes:    1 << 20,
	}
	rec := &recorder{}
	h := NewHandler(cfg, rec, processor.New(rec, cfg.MaxFrameBytes), nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestHandler_InlineStreaming(t *testing.T) {
	seen := make(chan [2]string, 1)
	srv, rec := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		seen <- [2]string{r.Header.Get("X-Api-Key"), r.URL.Path}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, part := range strings.SplitAfter(sseBody, "\n\n") {
			io.WriteString(w, part)
			flusher.Flush()
		}
	})

	resp, err := http.Post(srv.URL+"/v1/messages", "application/json",
		strings.NewReader(`{"model":"claude-sonnet-4-5","stream":true,"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	if string(body) != sseBody {
		t.Errorf("client body differs from upstream:\n%q", body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	got := <-seen
	if got[0] != "test-key" {
		t.Errorf("upstream X-Api-Key = %q, want injected key", got[0])
	}
	if got[1] != "/v1/messages" {
		t.Errorf("upstream path = %q", got[1])
	}

	// request, payload, frames, usage, response
	rec.waitFor(t, 5)
}

func TestHandler_NonStreaming(t *testing.T) {
	srv, rec := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, messageBody)
	})

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/messages", strings.NewReader(`{"model":"claude-haiku-4-5"}`))
	req.Header.Set("Authorization", "Bearer caller-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if string(body) != messageBody {
		t.Errorf("body = %q", body)
	}

	// request, payload, usage, response
	rec.waitFor(t, 4)
}

func TestHandler_UpstreamUnreachable(t *testing.T) {
	cfg := &config.Config{AnthropicBaseURL: "http://127.0.0.1:1", AnalyticsMode: config.AnalyticsInline}
	rec := &recorder{}
	h := NewHandler(cfg, rec, processor.New(rec, 0), nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader("{}")))

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	rec.waitFor(t, 1)
}

func TestHandler_ClientDisconnectStillRecordsWholeResponse(t *testing.T) {
	frames := strings.SplitAfter(sseBody, "\n\n")
	clientGone := make(chan struct{})
	upstreamCtxErr := make(chan error, 1)

	srv, rec := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		io.WriteString(w, frames[0])
		flusher.Flush()

		<-clientGone
		time.Sleep(100 * time.Millisecond)
		upstreamCtxErr <- r.Context().Err()

		for _, part := range frames[1:] {
			io.WriteString(w, part)
			flusher.Flush()
		}
	})

	resp, err := http.Post(srv.URL+"/v1/messages", "application/json", strings.NewReader(`{"stream":true}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	first := make([]byte, len(frames[0]))
	if _, err := io.ReadFull(resp.Body, first); err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	resp.Body.Close()
	close(clientGone)

	if err := <-upstreamCtxErr; err != nil {
		t.Errorf("upstream request context = %v after client disconnect, want live", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.responses()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	resps := rec.responses()
	if len(resps) != 1 {
		t.Fatalf("response jobs = %d, want 1", len(resps))
	}
	got := resps[0].Record
	if !got.Complete || got.StopReason != "end_turn" || got.Text != "Hi" {
		t.Errorf("stored response = %+v, want the complete message", got)
	}
}

func TestBuildTargetURL(t *testing.T) {
	tests := []struct {
		base, path, query, want string
	}{
		{"https://api.anthropic.com", "/v1/messages", "", "https://api.anthropic.com/v1/messages"},
		{"http://localhost:9000", "/v1/messages", "beta=true", "http://localhost:9000/v1/messages?beta=true"},
		{"https://gateway.internal/anthropic/", "/v1/messages", "", "https://gateway.internal/anthropic/v1/messages"},
		{"https://gateway.internal/anthropic", "/v1/messages/count_tokens", "", "https://gateway.internal/anthropic/v1/messages/count_tokens"},
		{"://bad", "/v1/models", "", "https://api.anthropic.com/v1/models"},
		{"api.anthropic.com", "/v1/models", "", "https://api.anthropic.com/v1/models"},
	}
	for _, tt := range tests {
		if got := buildTargetURL(tt.base, tt.path, tt.query); got != tt.want {
			t.Errorf("buildTargetURL(%q, %q, %q) = %q, want %q", tt.base, tt.path, tt.query, got, tt.want)
		}
	}
}

func TestPrepareUpstreamHeaders(t *testing.T) {
	orig := http.Header{}
	orig.Set("Connection", "keep-alive")
	orig.Set("Accept-Encoding", "gzip")
	orig.Set("Anthropic-Version", "2023-06-01")
	orig.Set("Host", "localhost")

	h := prepareUpstreamHeaders(orig, "k")
	for _, gone := range []string{"Connection", "Accept-Encoding", "Host"} {
		if v := h.Get(gone); v != "" {
			t.Errorf("%s = %q, want stripped", gone, v)
		}
	}
	if h.Get("Anthropic-Version") != "2023-06-01" {
		t.Errorf("Anthropic-Version not forwarded")
	}
	if h.Get("X-Api-Key") != "k" || h.Get("Authorization") != "" {
		t.Errorf("credentials = %q / %q, want injected X-Api-Key only", h.Get("X-Api-Key"), h.Get("Authorization"))
	}
	if orig.Get("Connection") == "" {
		t.Error("caller's headers were modified")
	}

	tests := []struct {
		name, key, value string
	}{
		{"caller_api_key", "X-Api-Key", "mine"},
		{"caller_bearer", "Authorization", "Bearer mine"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := http.Header{}
			in.Set(tt.key, tt.value)
			h := prepareUpstreamHeaders(in, "k")
			if got := h.Get(tt.key); got != tt.value {
				t.Errorf("%s = %q, caller's credential must win", tt.key, got)
			}
			if len(h) != 1 {
				t.Errorf("headers = %v, want no injected credential", h)
			}
		})
	}
}

func TestPrepareClientHeaders(t *testing.T) {
	up := http.Header{}
	up.Set("Content-Encoding", "gzip")
	up.Set("Content-Length", "10")
	up.Set("Transfer-Encoding", "chunked")
	up.Set("Request-Id", "req_1")

	h := prepareClientHeaders(up)
	for _, gone := range []string{"Content-Encoding", "Content-Length", "Transfer-Encoding"} {
		if v := h.Get(gone); v != "" {
			t.Errorf("%s = %q, want stripped", gone, v)
		}
	}
	if h.Get("Request-Id") != "req_1" {
		t.Errorf("Request-Id not forwarded")
	}
}

func TestRedactedHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("X-Api-Key", "secret")
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")
	h.Set("Anthropic-Beta", "tools")

	m := redactedHeaders(h)
	for _, k := range []string{"Authorization", "X-Api-Key", "Set-Cookie"} {
		if got := m[k]; len(got) != 1 || got[0] != redacted {
			t.Errorf("%s = %v, want redacted", k, got)
		}
	}
	if got := m["Anthropic-Beta"]; len(got) != 1 || got[0] != "tools" {
		t.Errorf("Anthropic-Beta = %v", got)
	}
	if _, ok := m["Cookie"]; ok {
		t.Error("absent header Cookie was added")
	}
	if h.Get("Authorization") != "Bearer secret" {
		t.Error("input header was modified")
	}
	if got := redactedHeaders(nil); got == nil {
		t.Error("redactedHeaders(nil) = nil, want empty header")
	}
}
