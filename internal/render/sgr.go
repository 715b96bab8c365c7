package render

import (
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
)

// styleState carries SGR attributes across escape sequences within a
// drawn region.
type styleState struct {
	style tcell.Style
}

func parseSGRParams(s string) []int {
	if s == "" {
		return []int{0}
	}
	parts := strings.Split(s, ";")
	params := make([]int, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			params = append(params, 0)
			continue
		}
		val, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		params = append(params, val)
	}
	if len(params) == 0 {
		return []int{0}
	}
	return params
}

// applySGR folds one SGR sequence into state. The 16 basic colors come
// from the active theme palette; 256-color and truecolor parameters map
// straight through.
func applySGR(state styleState, base tcell.Style, palette [16]tcell.Color, params []int) styleState {
	if len(params) == 0 {
		params = []int{0}
	}
	fgBase, bgBase, _ := base.Decompose()
	for i := 0; i < len(params); i++ {
		p := params[i]
		switch {
		case p == 0:
			state = styleState{style: base}
		case p == 1:
			state.style = state.style.Bold(true)
		case p == 22:
			state.style = state.style.Bold(false)
		case p == 3:
			state.style = state.style.Italic(true)
		case p == 23:
			state.style = state.style.Italic(false)
		case p == 4:
			state.style = state.style.Underline(true)
		case p == 24:
			state.style = state.style.Underline(false)
		case p == 7:
			state.style = state.style.Reverse(true)
		case p == 27:
			state.style = state.style.Reverse(false)
		case p >= 30 && p <= 37:
			state.style = state.style.Foreground(palette[p-30])
		case p >= 90 && p <= 97:
			state.style = state.style.Foreground(palette[p-90+8])
		case p == 39:
			state.style = state.style.Foreground(fgBase)
		case p >= 40 && p <= 47:
			state.style = state.style.Background(palette[p-40])
		case p >= 100 && p <= 107:
			state.style = state.style.Background(palette[p-100+8])
		case p == 49:
			state.style = state.style.Background(bgBase)
		case p == 38 || p == 48:
			if i+1 >= len(params) {
				continue
			}
			mode := params[i+1]
			if mode == 5 && i+2 < len(params) {
				idx := params[i+2]
				if idx < 0 {
					idx = 0
				}
				if idx > 255 {
					idx = 255
				}
				var color tcell.Color
				if idx < 16 {
					color = palette[idx]
				} else {
					color = tcell.PaletteColor(idx)
				}
				if p == 38 {
					state.style = state.style.Foreground(color)
				} else {
					state.style = state.style.Background(color)
				}
				i += 2
			} else if mode == 2 && i+4 < len(params) {
				r := clamp8(params[i+2])
				g := clamp8(params[i+3])
				b := clamp8(params[i+4])
				color := tcell.NewRGBColor(int32(r), int32(g), int32(b))
				if p == 38 {
					state.style = state.style.Foreground(color)
				} else {
					state.style = state.style.Background(color)
				}
				i += 4
			}
		}
	}
	return state
}

// hexColor parses a "#rrggbb" color. Reports false on anything else.
func hexColor(s string) (tcell.Color, bool) {
	if len(s) != 7 || s[0] != '#' {
		return 0, false
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return 0, false
	}
	return tcell.NewHexColor(int32(v)), true
}

func clamp8(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
