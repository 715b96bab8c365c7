// Package ansi provides helpers for working with raw terminal output:
// stripping escape sequences for plain-text previews and exports, and
// extracting the working directory advertised by OSC 7 sequences.
package ansi

import (
	"regexp"
	"strings"
)

var (
	reCSI     = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)
	reOSC     = regexp.MustCompile(`\x1b\].*?(?:\x07|\x1b\\)`)
	reDCS     = regexp.MustCompile(`\x1bP.*?\x1b\\`)
	reAPC     = regexp.MustCompile(`\x1b[_^].*?\x1b\\`)
	reCharset = regexp.MustCompile(`\x1b[()][0-9A-Za-z]`)
	reSingle  = regexp.MustCompile(`\x1b.`)

	reOSC7 = regexp.MustCompile(`\x1b\]7;file://[^/\x07\x1b]*([^\x07\x1b]*)(?:\x07|\x1b\\)`)
)

// Strip removes escape sequences and non-printing control bytes from s,
// leaving plain text with newlines and tabs intact. Backspaces erase the
// preceding character, matching what a terminal would display.
func Strip(s string) string {
	s = reCSI.ReplaceAllString(s, "")
	s = reOSC.ReplaceAllString(s, "")
	s = reDCS.ReplaceAllString(s, "")
	s = reAPC.ReplaceAllString(s, "")
	s = reCharset.ReplaceAllString(s, "")
	s = reSingle.ReplaceAllString(s, "")

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\r':
		case c == '\b':
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		case (c < 0x20 || c == 0x7f) && c != '\n' && c != '\t':
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// LastLine returns the last non-empty stripped line of s, truncated to
// max bytes. Used for one-line output previews in session lists.
func LastLine(s string, max int) string {
	plain := Strip(s)
	lines := strings.Split(plain, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if max > 0 && len(line) > max {
			line = line[:max]
		}
		return line
	}
	return ""
}

// WorkingDir extracts the path of the last OSC 7 working-directory report
// in p, if any. Shells configured to advertise their cwd emit
// ESC ] 7 ; file://host/path BEL on every prompt.
func WorkingDir(p []byte) (string, bool) {
	matches := reOSC7.FindAllSubmatch(p, -1)
	if len(matches) == 0 {
		return "", false
	}
	path := string(matches[len(matches)-1][1])
	if path == "" {
		return "", false
	}
	return path, true
}
