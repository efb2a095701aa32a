package core

import (
	"strings"

	"pkt.systems/coxswain/schema"
)

// buffer stores bounded scrollback for one process key. The filtered
// output path feeds it line-wise; a trailing partial line is kept
// separate until its terminator arrives so snapshots never split a
// line mid-write.
type buffer struct {
	lines    []string
	partial  string
	maxLines int
}

func newBufferWithMaxLines(maxLines int) *buffer {
	if maxLines <= 0 {
		maxLines = schema.DefaultBufferMaxLines
	}
	return &buffer{maxLines: maxLines}
}

// AppendText splits text into lines on newline boundaries, folding
// carriage returns, and appends complete lines. The remainder stays
// pending as the partial line.
func (b *buffer) AppendText(text string) {
	if text == "" {
		return
	}
	combined := b.partial + text
	parts := strings.Split(combined, "\n")
	b.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		// The last \r-delimited segment wins, matching how a terminal
		// overwrites the line in place.
		if idx := strings.LastIndexByte(line, '\r'); idx >= 0 {
			line = line[idx+1:]
		}
		b.lines = append(b.lines, line)
	}
	b.trim()
}

// AppendLines appends full lines directly, bypassing line assembly.
// Used for markers and banners generated by the service itself.
func (b *buffer) AppendLines(lines ...string) {
	if len(lines) == 0 {
		return
	}
	b.lines = append(b.lines, lines...)
	b.trim()
}

func (b *buffer) trim() {
	if b.maxLines > 0 && len(b.lines) > b.maxLines {
		b.lines = b.lines[len(b.lines)-b.maxLines:]
	}
}

// Snapshot returns up to limit trailing lines plus any pending partial
// line. limit <= 0 means everything.
func (b *buffer) Snapshot(limit int) ([]string, int) {
	total := len(b.lines)
	if b.partial != "" {
		total++
	}
	lines := b.lines
	if b.partial != "" {
		lines = append(append([]string(nil), b.lines...), b.partial)
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	out := make([]string, len(lines))
	copy(out, lines)
	return out, total
}
