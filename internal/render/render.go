// Package render draws session output onto a tcell screen. A Pane is
// the render adapter bound to one session: it keeps a bounded copy of
// the styled output, applies the active theme palette, and owns the
// line selection used for clipboard copy. Panes never touch the
// connection; they are bind/rebind targets for the UI layer.
package render

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gdamore/tcell/v2"

	"github.com/user/shellmux/internal/ansi"
	"github.com/user/shellmux/internal/theme"
)

// defaultMaxLines bounds the pane's styled line copy. The session's
// scrollback is the durable buffer; the pane only needs enough to fill
// a screen plus local scroll.
const defaultMaxLines = 2000

// Pane renders one session's byte stream.
type Pane struct {
	mu       sync.Mutex
	max      int
	lines    []string
	partial  string
	base     tcell.Style
	palette  [16]tcell.Color
	selStart int
	selEnd   int
	scroll   int // lines scrolled up from the bottom
	closed   bool
	onDirty  func()
}

// NewPane creates a pane with the default theme applied. onDirty, when
// non-nil, is invoked (without locks held) whenever the pane content
// changes and the screen should repaint.
func NewPane(onDirty func()) *Pane {
	p := &Pane{
		max:      defaultMaxLines,
		selStart: -1,
		selEnd:   -1,
		onDirty:  onDirty,
	}
	p.applyThemeLocked(theme.Default())
	return p
}

// Write receives remote output bytes in arrival order. Data may split
// anywhere, including mid-escape; the unterminated remainder is held
// until the next write.
func (p *Pane) Write(b []byte) {
	p.mu.Lock()
	if p.closed || len(b) == 0 {
		p.mu.Unlock()
		return
	}
	text := p.partial + string(b)
	parts := strings.Split(text, "\n")
	p.partial = parts[len(parts)-1]
	p.lines = append(p.lines, parts[:len(parts)-1]...)
	if over := len(p.lines) - p.max; over > 0 {
		p.lines = append(p.lines[:0], p.lines[over:]...)
		p.shiftSelectionLocked(-over)
	}
	dirty := p.onDirty
	p.mu.Unlock()

	if dirty != nil {
		dirty()
	}
}

// ApplyTheme restyles the pane from a validated theme configuration.
func (p *Pane) ApplyTheme(cfg theme.Config) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.applyThemeLocked(cfg)
	dirty := p.onDirty
	p.mu.Unlock()

	if dirty != nil {
		dirty()
	}
}

// BaseStyle derives the default drawing style from a theme.
func BaseStyle(cfg theme.Config) tcell.Style {
	style := tcell.StyleDefault
	if fg, ok := hexColor(cfg.Palette.Foreground); ok {
		style = style.Foreground(fg)
	}
	if bg, ok := hexColor(cfg.Palette.Background); ok {
		style = style.Background(bg)
	}
	return style
}

func (p *Pane) applyThemeLocked(cfg theme.Config) {
	p.base = BaseStyle(cfg)
	for i, hex := range cfg.Palette.ANSI {
		if c, ok := hexColor(hex); ok {
			p.palette[i] = c
		} else {
			p.palette[i] = tcell.PaletteColor(i)
		}
	}
}

// SetSelection marks an inclusive line range, indexed from the top of
// the buffered lines, as selected. Out-of-range values are clamped.
func (p *Pane) SetSelection(start, end int) {
	p.mu.Lock()
	if start > end {
		start, end = end, start
	}
	if start < 0 {
		start = 0
	}
	if n := len(p.lines); end >= n {
		end = n - 1
	}
	p.selStart, p.selEnd = start, end
	dirty := p.onDirty
	p.mu.Unlock()

	if dirty != nil {
		dirty()
	}
}

// ClearSelection removes the selection.
func (p *Pane) ClearSelection() {
	p.SetSelection(-1, -1)
}

// Selection returns the selected lines as plain text, escape sequences
// stripped, lines joined with newlines. Empty when nothing is selected.
func (p *Pane) Selection() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.selStart < 0 || p.selEnd < 0 || p.selStart >= len(p.lines) {
		return ""
	}
	out := make([]string, 0, p.selEnd-p.selStart+1)
	for _, line := range p.lines[p.selStart : p.selEnd+1] {
		out = append(out, ansi.Strip(line))
	}
	return strings.Join(out, "\n")
}

// ScrollUp moves the viewport up by n lines, clamped to the buffer.
func (p *Pane) ScrollUp(n int) {
	p.mu.Lock()
	p.scroll += n
	if max := len(p.lines); p.scroll > max {
		p.scroll = max
	}
	dirty := p.onDirty
	p.mu.Unlock()
	if dirty != nil {
		dirty()
	}
}

// ScrollDown moves the viewport back toward the live tail.
func (p *Pane) ScrollDown(n int) {
	p.mu.Lock()
	p.scroll -= n
	if p.scroll < 0 {
		p.scroll = 0
	}
	dirty := p.onDirty
	p.mu.Unlock()
	if dirty != nil {
		dirty()
	}
}

// ScrollToBottom snaps back to the live tail.
func (p *Pane) ScrollToBottom() {
	p.mu.Lock()
	p.scroll = 0
	dirty := p.onDirty
	p.mu.Unlock()
	if dirty != nil {
		dirty()
	}
}

// Close releases the binding. Later writes are ignored.
func (p *Pane) Close() {
	p.mu.Lock()
	p.closed = true
	p.lines = nil
	p.partial = ""
	p.selStart, p.selEnd = -1, -1
	p.mu.Unlock()
}

// shiftSelectionLocked adjusts the selected range after eviction.
func (p *Pane) shiftSelectionLocked(delta int) {
	if p.selStart < 0 {
		return
	}
	p.selStart += delta
	p.selEnd += delta
	if p.selEnd < 0 {
		p.selStart, p.selEnd = -1, -1
		return
	}
	if p.selStart < 0 {
		p.selStart = 0
	}
}

// Draw paints the pane into the given screen rectangle. The most recent
// lines fill the region bottom-up, offset by the local scroll position.
// SGR state carries across the drawn lines so multi-line color spans
// survive.
func (p *Pane) Draw(screen tcell.Screen, x, y, width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	p.mu.Lock()
	all := make([]string, 0, len(p.lines)+1)
	all = append(all, p.lines...)
	if p.partial != "" {
		all = append(all, p.partial)
	}
	base := p.base
	palette := p.palette
	selStart, selEnd := p.selStart, p.selEnd
	scroll := p.scroll
	p.mu.Unlock()

	end := len(all) - scroll
	if end < 0 {
		end = 0
	}
	start := end - height
	if start < 0 {
		start = 0
	}

	state := styleState{style: base}
	row := y
	for i := start; i < end; i++ {
		selected := i >= selStart && i <= selEnd && selStart >= 0
		state = drawLine(screen, x, row, width, all[i], base, palette, state, selected)
		row++
	}
	for ; row < y+height; row++ {
		for col := 0; col < width; col++ {
			screen.SetContent(x+col, row, ' ', nil, base)
		}
	}
}

// drawLine paints one raw line, interpreting SGR sequences, and returns
// the style state at end of line.
func drawLine(screen tcell.Screen, x, y, width int, text string, base tcell.Style, palette [16]tcell.Color, state styleState, selected bool) styleState {
	col := 0
	put := func(r rune) {
		if col >= width {
			return
		}
		style := state.style
		if selected {
			style = style.Reverse(true)
		}
		screen.SetContent(x+col, y, r, nil, style)
		col++
	}
	for i := 0; i < len(text); {
		if text[i] == 0x1b && i+1 < len(text) && text[i+1] == '[' {
			end := i + 2
			for end < len(text) && text[end] != 'm' && !isCSITerminator(text[end]) {
				end++
			}
			if end < len(text) {
				if text[end] == 'm' {
					state = applySGR(state, base, palette, parseSGRParams(text[i+2:end]))
				}
				// Non-SGR CSI sequences are cursor movement and erase
				// controls; the pane is line-oriented and skips them.
				i = end + 1
				continue
			}
			break
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size == 1 {
			i++
			continue
		}
		switch r {
		case '\r':
		case '\t':
			spaces := 8 - (col % 8)
			for s := 0; s < spaces; s++ {
				put(' ')
			}
		default:
			put(r)
		}
		i += size
	}
	fill := base
	if selected {
		fill = fill.Reverse(true)
	}
	for ; col < width; col++ {
		screen.SetContent(x+col, y, ' ', nil, fill)
	}
	return state
}

// isCSITerminator reports a final byte of a CSI sequence other than the
// SGR terminator.
func isCSITerminator(b byte) bool {
	return b >= 0x40 && b <= 0x7e && b != '['
}
