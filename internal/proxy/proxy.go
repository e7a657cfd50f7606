package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/claude-sidekick/internal/config"
	"github.com/namikmesic/claude-sidekick/internal/jetstream"
	"github.com/namikmesic/claude-sidekick/internal/processor"
	"github.com/namikmesic/claude-sidekick/internal/storage"
	"github.com/namikmesic/claude-sidekick/internal/stream"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Handler is the core reverse proxy. js is only used in jetstream
// analytics mode and may be nil otherwise.
type Handler struct {
	cfg       *config.Config
	client    *http.Client
	writer    processor.Enqueuer
	processor *processor.Processor
	js        nats.JetStreamContext
}

func NewHandler(cfg *config.Config, writer processor.Enqueuer, proc *processor.Processor, js nats.JetStreamContext) *Handler {
	return &Handler{
		cfg: cfg,
		client: &http.Client{
			// No timeout, streaming responses can be long-lived
			Timeout: 0,
			// Don't follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		writer:    writer,
		processor: proc,
		js:        js,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New()
	ts := time.Now()
	start := ts

	var reqBody []byte
	if r.Body != nil {
		var err error
		reqBody, err = io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			log.Error().Err(err).Msg("failed to read request body")
			http.Error(w, "failed to read request body", http.StatusBadGateway)
			return
		}
	}

	reqParsed := processor.ParseRequest(reqBody)

	targetURL := buildTargetURL(h.cfg.AnthropicBaseURL, r.URL.Path, r.URL.RawQuery)
	// Detached from the client so a disconnect does not cut the upstream
	// body short; analytics still records the whole response.
	upstreamReq, err := http.NewRequestWithContext(context.WithoutCancel(r.Context()), r.Method, targetURL, bytes.NewReader(reqBody))
	if err != nil {
		log.Error().Err(err).Msg("failed to create upstream request")
		http.Error(w, "failed to create upstream request", http.StatusBadGateway)
		return
	}

	upstreamReq.Header = prepareUpstreamHeaders(r.Header, h.cfg.AnthropicAPIKey)

	resp, err := h.client.Do(upstreamReq)
	if err != nil {
		log.Error().Err(err).Str("url", targetURL).Msg("upstream request failed")
		http.Error(w, "upstream request failed", http.StatusBadGateway)

		h.writer.Enqueue(storage.InsertRequestJob(&storage.RequestRecord{
			ID:             requestID,
			Timestamp:      ts,
			Method:         r.Method,
			Path:           r.URL.Path,
			StatusCode:     502,
			Success:        false,
			ErrorMessage:   err.Error(),
			ResponseTimeMs: int(time.Since(start).Milliseconds()),
		}))
		return
	}
	defer resp.Body.Close()

	isStreaming := isStreamingResponse(resp)

	h.writer.Enqueue(storage.InsertRequestJob(&storage.RequestRecord{
		ID:                   requestID,
		Timestamp:            ts,
		Method:               r.Method,
		Path:                 r.URL.Path,
		StatusCode:           resp.StatusCode,
		Success:              resp.StatusCode >= 200 && resp.StatusCode < 400,
		ResponseTimeMs:       int(time.Since(start).Milliseconds()),
		Model:                reqParsed.Model,
		IsStream:             isStreaming,
		ToolCount:            reqParsed.ToolCount,
		ThinkingBudgetTokens: reqParsed.ThinkingBudgetTokens,
	}))

	clientHeaders := prepareClientHeaders(resp.Header)
	for k, vv := range clientHeaders {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}

	if isStreaming {
		h.handleStreaming(w, resp, requestID, ts, r, reqBody, reqParsed)
	} else {
		h.handleNonStreaming(w, resp, requestID, ts, r, reqBody, reqParsed)
	}

	log.Info().
		Str("request_id", requestID.String()).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", resp.StatusCode).
		Bool("stream", isStreaming).
		Dur("duration", time.Since(start)).
		Msg("proxied request")
}

func (h *Handler) handleStreaming(w http.ResponseWriter, resp *http.Response, requestID uuid.UUID, ts time.Time, origReq *http.Request, reqBody []byte, reqParsed processor.ParsedRequest) {
	h.storePayload(requestID, ts, origReq, reqBody, resp, nil, reqParsed, nil)

	w.WriteHeader(resp.StatusCode)
	if h.cfg.AnalyticsMode == config.AnalyticsInline {
		body, analytics := stream.TeeBody(resp.Body)
		go h.processor.ProcessStream(requestID, ts, analytics)
		defer body.Close()
		relay(w, body, nil)
		return
	}

	start := time.Now()
	readErr := relay(w, resp.Body, func(chunk []byte) {
		if _, err := h.js.PublishMsg(jetstream.ChunkMsg(requestID, ts, chunk)); err != nil {
			log.Warn().Err(err).Str("request_id", requestID.String()).Msg("failed to publish response chunk")
		}
	})

	marker := processor.DoneMarker{TS: ts.UnixNano(), ElapsedMs: time.Since(start).Milliseconds()}
	if readErr != nil {
		marker.ReadError = readErr.Error()
	}
	done, _ := json.Marshal(marker)
	if _, err := h.js.Publish(jetstream.DoneSubject(requestID.String()), done); err != nil {
		log.Warn().Err(err).Str("request_id", requestID.String()).Msg("failed to publish done marker")
	}
}

// relay copies body to the client, flushing after every chunk, until EOF or
// a read error. A client write failure stops forwarding but body is still
// read to the end so analytics sees the whole response.
func relay(w http.ResponseWriter, body io.Reader, observe func([]byte)) error {
	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	clientGone := false

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if observe != nil {
				observe(buf[:n])
			}
			if !clientGone {
				if _, werr := w.Write(buf[:n]); werr != nil {
					log.Debug().Err(werr).Msg("client went away mid-stream")
					clientGone = true
				} else if canFlush {
					flusher.Flush()
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (h *Handler) handleNonStreaming(w http.ResponseWriter, resp *http.Response, requestID uuid.UUID, ts time.Time, origReq *http.Request, reqBody []byte, reqParsed processor.ParsedRequest) {
	start := time.Now()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().Err(err).Msg("failed to read response body")
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	elapsed := time.Since(start)

	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)

	var stopSequence *string
	var respParsed processor.AnthropicResponse
	if jsonErr := json.Unmarshal(respBody, &respParsed); jsonErr == nil {
		stopSequence = respParsed.StopSequence
	}

	go h.processor.ProcessNonStream(requestID, ts, respBody, elapsed)
	h.storePayload(requestID, ts, origReq, reqBody, resp, respBody, reqParsed, stopSequence)
}

func (h *Handler) storePayload(requestID uuid.UUID, ts time.Time, req *http.Request, reqBody []byte, resp *http.Response, respBody []byte, reqParsed processor.ParsedRequest, stopSequence *string) {
	reqHeaders := redactedHeaders(req.Header)
	respHeaders := redactedHeaders(resp.Header)
	extras := storage.PayloadExtras{
		SystemPrompt: reqParsed.SystemPrompt,
		MaxTokens:    reqParsed.MaxTokens,
		Temperature:  reqParsed.Temperature,
		TopP:         reqParsed.TopP,
		MessageCount: reqParsed.MessageCount,
		StopSequence: stopSequence,
	}
	h.writer.Enqueue(storage.InsertPayloadJob(requestID, ts, reqHeaders, respHeaders, reqBody, respBody, extras))
}

func isStreamingResponse(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	return strings.Contains(ct, "text/event-stream")
}
