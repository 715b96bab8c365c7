package session

import "strings"

// DefaultMaxScrollback is the scrollback line cap used when the
// configuration does not override it.
const DefaultMaxScrollback = 10000

// Scrollback is a bounded, line-oriented buffer of raw terminal output.
// When the cap is exceeded the oldest lines are evicted, trading history
// retention for bounded memory instead of stalling the read path.
type Scrollback struct {
	max     int
	lines   []string
	partial string
}

// NewScrollback creates a buffer holding at most max lines. Non-positive
// max falls back to DefaultMaxScrollback.
func NewScrollback(max int) *Scrollback {
	if max <= 0 {
		max = DefaultMaxScrollback
	}
	return &Scrollback{max: max}
}

// Append adds raw output bytes. Data may arrive split anywhere,
// including mid-line and mid-escape-sequence; the unterminated remainder
// is held until the next write.
func (sb *Scrollback) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	text := sb.partial + string(p)
	parts := strings.Split(text, "\n")
	sb.partial = parts[len(parts)-1]
	sb.lines = append(sb.lines, parts[:len(parts)-1]...)

	// The partial line counts against the cap too.
	over := len(sb.lines) - sb.max
	if sb.partial != "" {
		over++
	}
	if over > 0 {
		sb.lines = append(sb.lines[:0], sb.lines[over:]...)
	}
}

// Len returns the number of buffered lines, including the partial line
// when non-empty.
func (sb *Scrollback) Len() int {
	n := len(sb.lines)
	if sb.partial != "" {
		n++
	}
	return n
}

// Lines returns a copy of all buffered lines.
func (sb *Scrollback) Lines() []string {
	out := make([]string, 0, sb.Len())
	out = append(out, sb.lines...)
	if sb.partial != "" {
		out = append(out, sb.partial)
	}
	return out
}

// Tail returns up to n of the most recent lines.
func (sb *Scrollback) Tail(n int) []string {
	all := sb.Lines()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Bytes serializes the buffer for log export.
func (sb *Scrollback) Bytes() []byte {
	return []byte(strings.Join(sb.Lines(), "\n"))
}
