package session

import "testing"

func TestHistoryBrowsing(t *testing.T) {
	h := NewHistory(10)
	h.Append("ls")
	h.Append("cd /tmp")
	h.Append("make test")

	if h.Index() != -1 {
		t.Fatalf("fresh history should not be browsing, index=%d", h.Index())
	}

	line, ok := h.Prev()
	if !ok || line != "make test" {
		t.Errorf("Prev = %q, %v", line, ok)
	}
	line, _ = h.Prev()
	if line != "cd /tmp" {
		t.Errorf("Prev = %q", line)
	}
	line, _ = h.Prev()
	if line != "ls" {
		t.Errorf("Prev = %q", line)
	}

	// At the oldest entry Prev stays put.
	line, ok = h.Prev()
	if !ok || line != "ls" || h.Index() != 0 {
		t.Errorf("Prev at oldest = %q index=%d", line, h.Index())
	}

	line, _ = h.Next()
	if line != "cd /tmp" {
		t.Errorf("Next = %q", line)
	}
	line, _ = h.Next()
	if line != "make test" {
		t.Errorf("Next = %q", line)
	}

	// Stepping past the newest ends browsing.
	if _, ok := h.Next(); ok {
		t.Error("Next past newest should report false")
	}
	if h.Index() != -1 {
		t.Errorf("index after leaving browsing = %d, want -1", h.Index())
	}
}

func TestHistoryIndexInvariant(t *testing.T) {
	h := NewHistory(3)
	ops := []func(){
		func() { h.Append("a") },
		func() { h.Prev() },
		func() { h.Prev() },
		func() { h.Append("b") },
		func() { h.Next() },
		func() { h.Prev() },
		func() { h.Append("c") },
		func() { h.Append("d") }, // evicts "a"
		func() { h.Prev() },
		func() { h.Next() },
	}
	for i, op := range ops {
		op()
		if idx := h.Index(); idx < -1 || idx >= len(h.Lines()) {
			t.Fatalf("op %d: index %d out of [-1, %d)", i, idx, len(h.Lines()))
		}
	}
}

func TestHistoryCollapsesDuplicatesAndCaps(t *testing.T) {
	h := NewHistory(3)
	h.Append("same")
	h.Append("same")
	if len(h.Lines()) != 1 {
		t.Errorf("consecutive duplicates should collapse: %v", h.Lines())
	}

	h.Append("one")
	h.Append("two")
	h.Append("three")
	lines := h.Lines()
	if len(lines) != 3 || lines[0] != "one" {
		t.Errorf("cap not applied oldest-first: %v", lines)
	}

	h.Append("")
	if len(h.Lines()) != 3 {
		t.Error("empty lines must not be recorded")
	}
}

func TestHistoryEmpty(t *testing.T) {
	h := NewHistory(5)
	if _, ok := h.Prev(); ok {
		t.Error("Prev on empty history should report false")
	}
	if _, ok := h.Next(); ok {
		t.Error("Next on empty history should report false")
	}
}
