package ansi

import "testing"

func TestStrip(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain text untouched",
			input:    "hello world",
			expected: "hello world",
		},
		{
			name:     "SGR color codes",
			input:    "\x1b[31mred\x1b[0m plain",
			expected: "red plain",
		},
		{
			name:     "cursor movement and clear",
			input:    "\x1b[2J\x1b[Hprompt$ ",
			expected: "prompt$ ",
		},
		{
			name:     "OSC title with bell terminator",
			input:    "\x1b]0;my title\x07body",
			expected: "body",
		},
		{
			name:     "OSC title with ST terminator",
			input:    "\x1b]0;my title\x1b\\body",
			expected: "body",
		},
		{
			name:     "carriage returns dropped",
			input:    "one\r\ntwo\r",
			expected: "one\ntwo",
		},
		{
			name:     "backspace erases previous char",
			input:    "lsx\bs",
			expected: "lss",
		},
		{
			name:     "charset designation",
			input:    "\x1b(Babc\x1b)0def",
			expected: "abcdef",
		},
		{
			name:     "tabs and newlines kept",
			input:    "a\tb\nc",
			expected: "a\tb\nc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Strip(tt.input)
			if got != tt.expected {
				t.Errorf("Strip(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLastLine(t *testing.T) {
	out := "\x1b[32m$ make test\x1b[0m\nok  \tshellmux\t0.2s\n\n"
	got := LastLine(out, 40)
	if got != "ok  \tshellmux\t0.2s" {
		t.Errorf("unexpected preview: %q", got)
	}

	if got := LastLine("", 40); got != "" {
		t.Errorf("empty input should yield empty preview, got %q", got)
	}

	long := "a-very-long-line-of-output-from-a-build"
	if got := LastLine(long, 10); got != "a-very-lon" {
		t.Errorf("truncation failed: %q", got)
	}
}

func TestWorkingDir(t *testing.T) {
	p := []byte("before\x1b]7;file://host/home/dev/project\x07after")
	dir, ok := WorkingDir(p)
	if !ok || dir != "/home/dev/project" {
		t.Fatalf("WorkingDir = %q, %v", dir, ok)
	}

	p = []byte("\x1b]7;file:///tmp/a\x07mid\x1b]7;file:///tmp/b\x1b\\")
	dir, ok = WorkingDir(p)
	if !ok || dir != "/tmp/b" {
		t.Fatalf("expected last report to win, got %q, %v", dir, ok)
	}

	if _, ok := WorkingDir([]byte("no reports here")); ok {
		t.Fatal("expected no working dir in plain output")
	}
}
