// Package sse reassembles chat-completion deltas from a chunked
// text/event-stream body. It knows nothing about the transport: callers feed
// it whatever chunks their reader produced.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"relay-api/internal/shared"

	"go.uber.org/zap"
)

var ErrLineTooLong = errors.New("sse line exceeds maximum length")

// LineBuffer splits chunks into lines and keeps the trailing partial line
// until its newline arrives
type LineBuffer struct {
	pending []byte
	max     int
}

func NewLineBuffer(max int) *LineBuffer {
	if max <= 0 {
		max = shared.MaxStreamLineLength
	}
	return &LineBuffer{max: max}
}

// Write returns the complete lines in chunk, without their line endings
func (b *LineBuffer) Write(chunk []byte) ([]string, error) {
	b.pending = append(b.pending, chunk...)
	var lines []string
	for {
		i := bytes.IndexByte(b.pending, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimSuffix(b.pending[:i], []byte("\r"))))
		b.pending = b.pending[i+1:]
	}
	if len(b.pending) > b.max {
		b.pending = nil
		return lines, ErrLineTooLong
	}
	return lines, nil
}

// Flush returns whatever is left, for streams that end without a newline
func (b *LineBuffer) Flush() []string {
	if len(b.pending) == 0 {
		return nil
	}
	rest := string(bytes.TrimSuffix(b.pending, []byte("\r")))
	b.pending = nil
	return []string{rest}
}

// Reassembler turns lines into text deltas. A data line whose JSON does not
// parse is held back and retried together with the next line that is
// neither blank nor a comment. If that retry also fails the held line is
// dropped so one bad frame cannot stall the rest of the stream.
type Reassembler struct {
	lines *LineBuffer
	held  string
	done  bool
	log   *zap.SugaredLogger
}

func NewReassembler(log *zap.SugaredLogger) *Reassembler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reassembler{lines: NewLineBuffer(shared.MaxStreamLineLength), log: log}
}

// Done reports whether the [DONE] sentinel was seen
func (r *Reassembler) Done() bool {
	return r.done
}

// Feed consumes one chunk and returns the deltas it completed, in order
func (r *Reassembler) Feed(chunk []byte) ([]string, error) {
	if r.done {
		return nil, nil
	}
	lines, err := r.lines.Write(chunk)
	deltas := r.process(lines)
	return deltas, err
}

// Finish runs the remaining partial line through the same logic once
func (r *Reassembler) Finish() []string {
	if r.done {
		return nil
	}
	deltas := r.process(r.lines.Flush())
	if r.held != "" {
		r.log.Debugw("Dropping unparseable frame at end of stream", "frame", shared.Truncate(r.held, 200))
		r.held = ""
	}
	return deltas
}

func (r *Reassembler) process(lines []string) []string {
	var deltas []string
	for _, line := range lines {
		if r.done {
			break
		}
		if r.held != "" && (strings.TrimSpace(line) == "" || strings.HasPrefix(line, ":")) {
			continue
		}
		if r.held != "" {
			joined := r.held + "\n" + line
			r.held = ""
			if delta, ok, parsed := parseFrame(joined); parsed {
				if ok {
					deltas = append(deltas, delta)
				}
				continue
			}
			r.log.Debugw("Dropping unparseable frame", "frame", shared.Truncate(joined, 200))
		}

		payload, isData := dataPayload(line)
		if !isData {
			continue
		}
		if payload == shared.SSEDoneToken {
			r.done = true
			break
		}
		delta, ok, parsed := parseFrame(payload)
		if !parsed {
			r.held = payload
			continue
		}
		if ok {
			deltas = append(deltas, delta)
		}
	}
	return deltas
}

// dataPayload skips blank lines, comments and non data fields
func dataPayload(line string) (string, bool) {
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, ":") {
		return "", false
	}
	payload, found := strings.CutPrefix(line, shared.SSEDataPrefix)
	if !found {
		return "", false
	}
	return strings.TrimSpace(payload), true
}

// parseFrame reports the delta text, whether the frame carried any, and
// whether the payload parsed at all
func parseFrame(payload string) (string, bool, bool) {
	var chunk shared.StreamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return "", false, false
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == nil {
		return "", false, true
	}
	content := *chunk.Choices[0].Delta.Content
	return content, content != "", true
}
