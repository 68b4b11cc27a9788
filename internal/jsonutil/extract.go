// Package jsonutil pulls a well-formed JSON artifact out of the freeform
// text an agent invocation produces: a coding agent's output routinely
// wraps its structured verdict in prose, markdown code fences, or ANSI
// color codes, and the phase machinery downstream only wants the decoded
// payload.
package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// maxArtifactBytes caps how much text is scanned. Oversized artifacts are
// rejected rather than risking memory exhaustion on a runaway agent.
const maxArtifactBytes = 10 << 20

// ErrNoJSON is returned when the text holds no decodable JSON value.
var ErrNoJSON = errors.New("no valid JSON found")

var (
	ansiRe  = regexp.MustCompile(`\x1b\[[0-9;]*[mGKHF]`)
	fenceRe = regexp.MustCompile("(?s)```(?:json)?[ \\t]*\n(.*?)\n```")
)

// First returns the first JSON object or array found in text. Fenced
// blocks are preferred over bare JSON because a fence is an explicit
// signal from the agent about where its artifact lives.
func First(text string) (json.RawMessage, error) {
	if len(text) > maxArtifactBytes {
		return nil, fmt.Errorf("jsonutil: artifact exceeds %d bytes", maxArtifactBytes)
	}
	text = ansiRe.ReplaceAllString(strings.TrimPrefix(text, "\xef\xbb\xbf"), "")

	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		inner := strings.TrimSpace(m[1])
		if inner != "" && json.Valid([]byte(inner)) {
			return json.RawMessage(inner), nil
		}
	}

	// No usable fence: scan for the first bare top-level value. A
	// json.Decoder reads exactly one complete value and ignores whatever
	// trails it, so each candidate start position costs one decode.
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		var raw json.RawMessage
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		if err := dec.Decode(&raw); err == nil {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("jsonutil: %w", ErrNoJSON)
}

// Decode extracts the first JSON value from text and unmarshals it into
// target.
func Decode(text string, target any) error {
	raw, err := First(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("jsonutil: unmarshal: %w", err)
	}
	return nil
}

// DecodeFile reads path and decodes the first JSON value in its contents
// into target.
func DecodeFile(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("jsonutil: reading %q: %w", path, err)
	}
	return Decode(string(data), target)
}
