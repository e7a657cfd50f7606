package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RequestRecord struct {
	ID                   uuid.UUID
	Timestamp            time.Time
	Method               string
	Path                 string
	AccountID            *uuid.UUID
	StatusCode           int
	Success              bool
	ErrorMessage         string
	ResponseTimeMs       int
	FailoverAttempts     int
	Model                string
	IsStream             bool
	AgentUsed            string
	ToolCount            int
	ThinkingBudgetTokens int
}

func InsertRequestJob(r *RequestRecord) WriteJob {
	return WriteJobFunc(func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `
			INSERT INTO requests (
				id, ts, method, path, account_id, status_code, success, error_message,
				response_time_ms, failover_attempts, model, is_stream, agent_used,
				tool_count, thinking_budget_tokens
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			r.ID, r.Timestamp, r.Method, r.Path, r.AccountID,
			r.StatusCode, r.Success, nilIfEmpty(r.ErrorMessage),
			r.ResponseTimeMs, r.FailoverAttempts, nilIfEmpty(r.Model),
			r.IsStream, nilIfEmpty(r.AgentUsed), r.ToolCount, r.ThinkingBudgetTokens,
		)
		return err
	})
}

// UsageRecord is the accounting produced once a response has been folded.
type UsageRecord struct {
	Model               string
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
	CostUSD             float64
	TokensPerSecond     float32
	Success             bool
}

func (u UsageRecord) TotalTokens() int {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheCreationTokens
}

func UpdateRequestUsageJob(requestID uuid.UUID, ts time.Time, u UsageRecord) WriteJob {
	return WriteJobFunc(func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `
			UPDATE requests SET
				model = COALESCE($1, model),
				input_tokens = $2,
				output_tokens = $3,
				cache_read_tokens = $4,
				cache_creation_tokens = $5,
				total_tokens = $6,
				cost_usd = $7,
				tokens_per_second = $8,
				success = $9
			WHERE id = $10 AND ts = $11`,
			nilIfEmpty(u.Model), u.InputTokens, u.OutputTokens, u.CacheReadTokens, u.CacheCreationTokens,
			u.TotalTokens(), u.CostUSD, u.TokensPerSecond, u.Success, requestID, ts,
		)
		return err
	})
}

// PayloadExtras are request fields lifted out of the body for querying.
type PayloadExtras struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  *float64
	TopP         *float64
	MessageCount int
	StopSequence *string
}

func InsertPayloadJob(requestID uuid.UUID, ts time.Time, reqHeaders, respHeaders map[string][]string, reqBody, respBody []byte, extras PayloadExtras) WriteJob {
	return WriteJobFunc(func(ctx context.Context, pool *pgxpool.Pool) error {
		reqH, _ := json.Marshal(reqHeaders)
		respH, _ := json.Marshal(respHeaders)
		_, err := pool.Exec(ctx, `
			INSERT INTO request_payloads (
				request_id, ts, request_headers, request_body, response_headers, response_body,
				system_prompt, max_tokens, temperature, top_p, message_count, stop_sequence
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			requestID, ts, reqH, nilIfEmptyBytes(reqBody), respH, nilIfEmptyBytes(respBody),
			nilIfEmpty(extras.SystemPrompt), extras.MaxTokens, extras.Temperature, extras.TopP,
			extras.MessageCount, extras.StopSequence,
		)
		return err
	})
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilIfEmptyBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
