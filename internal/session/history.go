package session

const defaultMaxHistory = 1000

// History is the ordered record of submitted input lines with a
// browsing cursor. The cursor (index) is always in [-1, len-1], where
// -1 means "not browsing".
type History struct {
	max   int
	lines []string
	index int
}

// NewHistory creates a History capped at max entries.
func NewHistory(max int) *History {
	if max <= 0 {
		max = defaultMaxHistory
	}
	return &History{max: max, index: -1}
}

// Append records a submitted line and resets browsing. Consecutive
// duplicates collapse, matching shell behavior.
func (h *History) Append(line string) {
	if line == "" {
		return
	}
	if n := len(h.lines); n > 0 && h.lines[n-1] == line {
		h.index = -1
		return
	}
	h.lines = append(h.lines, line)
	if len(h.lines) > h.max {
		h.lines = append(h.lines[:0], h.lines[len(h.lines)-h.max:]...)
	}
	h.index = -1
}

// Prev steps to an older entry, entering browsing from the newest.
// It reports false when there is nothing older.
func (h *History) Prev() (string, bool) {
	if len(h.lines) == 0 {
		return "", false
	}
	switch {
	case h.index == -1:
		h.index = len(h.lines) - 1
	case h.index > 0:
		h.index--
	default:
		return h.lines[0], true
	}
	return h.lines[h.index], true
}

// Next steps to a newer entry. Stepping past the newest ends browsing
// and reports false.
func (h *History) Next() (string, bool) {
	if h.index == -1 {
		return "", false
	}
	if h.index >= len(h.lines)-1 {
		h.index = -1
		return "", false
	}
	h.index++
	return h.lines[h.index], true
}

// Index returns the browsing cursor, -1 when not browsing.
func (h *History) Index() int { return h.index }

// Lines returns a copy of all recorded lines, oldest first.
func (h *History) Lines() []string {
	return append([]string(nil), h.lines...)
}
