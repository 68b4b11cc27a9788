package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Stream event types from Claude Code's --output-format stream-json
// protocol. One "system" event opens the session, "assistant"/"user"
// events alternate through the turn loop, and one "result" event closes it
// with cost and usage totals.
const (
	StreamEventSystem    = "system"
	StreamEventAssistant = "assistant"
	StreamEventUser      = "user"
	StreamEventResult    = "result"
)

// StreamEvent is one decoded JSONL line of agent stream output. Which
// fields are populated depends on Type.
type StreamEvent struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// Populated for "assistant" and "user" events.
	Message *StreamMessage `json:"message,omitempty"`

	// Populated for the closing "result" event.
	CostUSD    float64 `json:"cost_usd,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
	IsError    bool    `json:"is_error,omitempty"`
	NumTurns   int     `json:"num_turns,omitempty"`
}

// StreamMessage is the message payload of an assistant or user event.
type StreamMessage struct {
	ID         string       `json:"id,omitempty"`
	Role       string       `json:"role,omitempty"`
	Model      string       `json:"model,omitempty"`
	StopReason string       `json:"stop_reason,omitempty"`
	Usage      *StreamUsage `json:"usage,omitempty"`
}

// StreamUsage is the per-message token accounting reported on the wire.
type StreamUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CacheRead    int `json:"cache_read_input_tokens,omitempty"`
	CacheCreate  int `json:"cache_creation_input_tokens,omitempty"`
}

// Tokens returns the event's (input, output) token counts, or zeros when
// the event carries no usage.
func (e *StreamEvent) Tokens() (in, out int64) {
	if e.Message == nil || e.Message.Usage == nil {
		return 0, 0
	}
	return int64(e.Message.Usage.InputTokens), int64(e.Message.Usage.OutputTokens)
}

// maxStreamLine bounds a single JSONL line. Tool results can run large,
// but an unbounded line would let a misbehaving agent exhaust memory.
const maxStreamLine = 1 << 20

// StreamDecoder reads stream events from JSONL input one line at a time.
type StreamDecoder struct {
	lines *bufio.Scanner
}

// NewStreamDecoder wraps r. Lines up to maxStreamLine bytes are accepted.
func NewStreamDecoder(r io.Reader) *StreamDecoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	return &StreamDecoder{lines: sc}
}

// Next returns the next event, skipping blank lines. It returns io.EOF at
// end of input and a decode error for a malformed line.
func (d *StreamDecoder) Next() (*StreamEvent, error) {
	for d.lines.Scan() {
		line := strings.TrimSpace(d.lines.Text())
		if line == "" {
			continue
		}
		var ev StreamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("decoding stream event: %w", err)
		}
		return &ev, nil
	}
	if err := d.lines.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	return nil, io.EOF
}
