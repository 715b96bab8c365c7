package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// encodeKey translates a tcell key event into the byte sequence a
// terminal would send for it. Returns nil for keys that have no wire
// representation.
func encodeKey(ev *tcell.EventKey) []byte {
	switch ev.Key() {
	case tcell.KeyRune:
		buf := []byte(string(ev.Rune()))
		if ev.Modifiers()&tcell.ModAlt != 0 {
			return append([]byte{0x1b}, buf...)
		}
		return buf
	case tcell.KeyEnter:
		return []byte{'\r'}
	case tcell.KeyTab:
		return []byte{'\t'}
	case tcell.KeyBacktab:
		return []byte("\x1b[Z")
	case tcell.KeyEsc:
		return []byte{0x1b}
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		return []byte{0x7f}
	case tcell.KeyUp:
		return []byte("\x1b[A")
	case tcell.KeyDown:
		return []byte("\x1b[B")
	case tcell.KeyRight:
		return []byte("\x1b[C")
	case tcell.KeyLeft:
		return []byte("\x1b[D")
	case tcell.KeyHome:
		return []byte("\x1b[H")
	case tcell.KeyEnd:
		return []byte("\x1b[F")
	case tcell.KeyInsert:
		return []byte("\x1b[2~")
	case tcell.KeyDelete:
		return []byte("\x1b[3~")
	case tcell.KeyPgUp:
		return []byte("\x1b[5~")
	case tcell.KeyPgDn:
		return []byte("\x1b[6~")
	}

	if k := ev.Key(); k >= tcell.KeyF1 && k <= tcell.KeyF12 {
		return encodeFunctionKey(int(k-tcell.KeyF1) + 1)
	}
	// Control characters map straight through (KeyCtrlA == 0x01 and so
	// on up to 0x1f).
	if k := ev.Key(); k < 0x20 {
		return []byte{byte(k)}
	}
	return nil
}

// encodeFunctionKey returns the xterm sequence for F1..F12.
func encodeFunctionKey(n int) []byte {
	switch n {
	case 1:
		return []byte("\x1bOP")
	case 2:
		return []byte("\x1bOQ")
	case 3:
		return []byte("\x1bOR")
	case 4:
		return []byte("\x1bOS")
	case 5:
		return []byte("\x1b[15~")
	case 6, 7, 8:
		return []byte(fmt.Sprintf("\x1b[%d~", n+11))
	case 9, 10:
		return []byte(fmt.Sprintf("\x1b[%d~", n+11))
	case 11, 12:
		return []byte(fmt.Sprintf("\x1b[%d~", n+12))
	default:
		return nil
	}
}
