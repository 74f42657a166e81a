// Package codec implements the text framing shared by every wearable and
// server transport: newline-terminated UTF-8 lines and the comma-separated
// token lists carried inside them.
package codec

import (
	"bytes"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLine bounds how many bytes a [LineSplitter] buffers while waiting
// for a newline.
const DefaultMaxLine = 64 * 1024

// EncodeLine returns text as a single wire line. Any trailing CR/LF in text
// is replaced by exactly one "\n".
func EncodeLine(text string) []byte {
	text = strings.TrimRight(text, "\r\n")
	b := make([]byte, 0, len(text)+1)
	b = append(b, text...)
	return append(b, '\n')
}

// DecodeLine converts raw line bytes (without the newline) to a string. A
// trailing "\r" is removed. Invalid UTF-8 is replaced rather than rejected;
// valid reports whether the input was well-formed.
func DecodeLine(raw []byte) (line string, valid bool) {
	raw = bytes.TrimSuffix(raw, []byte{'\r'})
	if utf8.Valid(raw) {
		return string(raw), true
	}
	return strings.ToValidUTF8(string(raw), "�"), false
}

// Tokens splits a line on commas and returns the trimmed, non-empty tokens in
// order.
func Tokens(line string) []string {
	parts := strings.Split(line, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LineSplitter accumulates a byte stream and yields complete lines. It is
// not safe for concurrent use; each reader owns its own splitter.
type LineSplitter struct {
	buf     []byte
	maxLine int
	dropped int
	skip    bool // discarding the rest of an oversized line
}

// NewLineSplitter returns a splitter that discards any line growing beyond
// maxLine bytes, up to and including its terminating newline. maxLine <= 0
// selects [DefaultMaxLine].
func NewLineSplitter(maxLine int) *LineSplitter {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	return &LineSplitter{maxLine: maxLine}
}

// Feed appends p and returns every line completed by it, in order. Returned
// lines have "\n" and an optional trailing "\r" removed. Malformed UTF-8 is
// decoded best-effort and logged.
func (s *LineSplitter) Feed(p []byte) []string {
	s.buf = append(s.buf, p...)

	var lines []string
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		if s.skip {
			s.dropped += i + 1
			s.buf = s.buf[i+1:]
			s.skip = false
			continue
		}
		line, ok := DecodeLine(s.buf[:i])
		if !ok {
			slog.Warn("codec: line is not valid UTF-8, decoded best-effort", "bytes", i)
		}
		lines = append(lines, line)
		s.buf = s.buf[i+1:]
	}

	if len(s.buf) > s.maxLine {
		slog.Warn("codec: discarding oversized partial line", "bytes", len(s.buf), "max", s.maxLine)
		s.dropped += len(s.buf)
		s.buf = nil
		s.skip = true
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return lines
}

// Pending returns the number of buffered bytes not yet terminated by "\n".
func (s *LineSplitter) Pending() int { return len(s.buf) }

// Dropped returns how many bytes were discarded because a partial line
// exceeded the limit.
func (s *LineSplitter) Dropped() int { return s.dropped }

// Reset discards any partial line.
func (s *LineSplitter) Reset() {
	s.buf = nil
	s.skip = false
}
