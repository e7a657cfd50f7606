package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/namikmesic/claude-sidekick/internal/pricing"
	"github.com/namikmesic/claude-sidekick/internal/response"
	"github.com/namikmesic/claude-sidekick/internal/stream"
)

type summary struct {
	ID           string             `json:"id,omitempty"`
	Model        string             `json:"model,omitempty"`
	StopReason   string             `json:"stop_reason,omitempty"`
	StopSequence *string            `json:"stop_sequence,omitempty"`
	Text         string             `json:"text"`
	ToolUses     []response.ToolUse `json:"tool_uses"`
	Usage        stream.Usage       `json:"usage"`
	CostUSD      float64            `json:"cost_usd"`
	Complete     bool               `json:"complete"`
	Error        string             `json:"error,omitempty"`
}

func summarize(resp *response.Response, err error) summary {
	s := summary{
		ID:       resp.ID(),
		Model:    resp.Model(),
		Text:     resp.Text(),
		ToolUses: resp.ToolUses(),
		Usage:    resp.Usage(),
		CostUSD:  pricing.Cost(resp.Model(), resp.Usage()),
		Complete: resp.Stopped() && err == nil,
		Error:    response.UserMessage(err),
	}
	if s.ToolUses == nil {
		s.ToolUses = []response.ToolUse{}
	}
	if reason, ok := resp.StopReason(); ok {
		s.StopReason = string(reason)
	}
	if seq, ok := resp.StopSequence(); ok {
		s.StopSequence = &seq
	}
	return s
}

func (s summary) writeJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func (s summary) writeText(w io.Writer) error {
	var b strings.Builder
	if s.Text != "" {
		b.WriteString(s.Text)
		if !strings.HasSuffix(s.Text, "\n") {
			b.WriteByte('\n')
		}
	}
	for _, tu := range s.ToolUses {
		fmt.Fprintf(&b, "tool_use %s %s %s\n", tu.ID, tu.Name, tu.RawInput)
	}
	if s.StopReason != "" {
		fmt.Fprintf(&b, "stop_reason: %s", s.StopReason)
		if s.StopSequence != nil {
			fmt.Fprintf(&b, " (%q)", *s.StopSequence)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "usage: input=%d output=%d cache_write=%d cache_read=%d\n",
		s.Usage.InputTokens, s.Usage.OutputTokens, s.Usage.CacheCreation(), s.Usage.CacheRead())
	if s.Model != "" {
		fmt.Fprintf(&b, "cost: $%.6f (%s)\n", s.CostUSD, s.Model)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
