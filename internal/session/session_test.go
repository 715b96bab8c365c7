package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/user/shellmux/internal/theme"
)

type fakeChannel struct {
	mu      sync.Mutex
	opened  int
	closed  int
	retries int
	sent    [][]byte
	resizes [][2]int
}

func (f *fakeChannel) Open() {
	f.mu.Lock()
	f.opened++
	f.mu.Unlock()
}

func (f *fakeChannel) Send(p []byte) {
	f.mu.Lock()
	buf := make([]byte, len(p))
	copy(buf, p)
	f.sent = append(f.sent, buf)
	f.mu.Unlock()
}

func (f *fakeChannel) Resize(cols, rows int) {
	f.mu.Lock()
	f.resizes = append(f.resizes, [2]int{cols, rows})
	f.mu.Unlock()
}

func (f *fakeChannel) Retry() {
	f.mu.Lock()
	f.retries++
	f.mu.Unlock()
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

type fakeAdapter struct {
	mu        sync.Mutex
	written   []byte
	themes    []theme.Config
	closed    int
	selection string
}

func (f *fakeAdapter) Write(p []byte) {
	f.mu.Lock()
	f.written = append(f.written, p...)
	f.mu.Unlock()
}

func (f *fakeAdapter) ApplyTheme(cfg theme.Config) {
	f.mu.Lock()
	f.themes = append(f.themes, cfg)
	f.mu.Unlock()
}

func (f *fakeAdapter) Selection() string { return f.selection }

func (f *fakeAdapter) Close() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func newTestSession() (*Session, *fakeChannel) {
	s := New("sess-1", "Main Shell", 100)
	ch := &fakeChannel{}
	s.BindChannel(ch)
	return s, ch
}

func TestLifecycleCreatedToOpen(t *testing.T) {
	s, ch := newTestSession()
	if s.State() != StateCreated {
		t.Fatalf("initial state = %v", s.State())
	}

	s.Connect()
	if ch.opened != 1 {
		t.Fatal("Connect must open the channel")
	}

	s.ChannelConnecting()
	if s.State() != StateConnecting {
		t.Errorf("state = %v, want connecting", s.State())
	}

	s.ChannelOpened()
	if s.State() != StateOpen {
		t.Errorf("state = %v, want open", s.State())
	}
}

func TestSendInputOnlyWhileOpen(t *testing.T) {
	s, ch := newTestSession()

	s.SendInput([]byte("early\n"))
	if len(ch.sent) != 0 {
		t.Fatal("input before open must be dropped, not queued")
	}

	s.ChannelConnecting()
	s.ChannelOpened()
	s.SendInput([]byte("ls\n"))
	if len(ch.sent) != 1 || string(ch.sent[0]) != "ls\n" {
		t.Fatalf("sent = %q", ch.sent)
	}

	s.ChannelDown(errors.New("gone"), time.Second)
	s.SendInput([]byte("while degraded\n"))
	if len(ch.sent) != 1 {
		t.Error("input while degraded must be dropped")
	}
}

func TestSubmittedLinesRecordedInHistory(t *testing.T) {
	s, _ := newTestSession()
	s.ChannelOpened()

	var observed []string
	s.OnSubmit(func(line string) { observed = append(observed, line) })

	s.SendInput([]byte("ls -"))
	s.SendInput([]byte("la\r"))
	s.SendInput([]byte("echo hi\r"))

	line, ok := s.HistoryPrev()
	if !ok || line != "echo hi" {
		t.Errorf("HistoryPrev = %q, %v", line, ok)
	}
	line, _ = s.HistoryPrev()
	if line != "ls -la" {
		t.Errorf("HistoryPrev = %q", line)
	}

	if len(observed) != 2 || observed[0] != "ls -la" || observed[1] != "echo hi" {
		t.Errorf("submit hook saw %v", observed)
	}
}

func TestOutputBuffersAndForwards(t *testing.T) {
	s, _ := newTestSession()
	a := &fakeAdapter{}
	s.BindAdapter(a)
	s.ChannelOpened()

	s.ChannelOutput([]byte("\x1b[32mok\x1b[0m\n"))
	if string(a.written) != "\x1b[32mok\x1b[0m\n" {
		t.Errorf("adapter got %q", a.written)
	}
	if got := s.Preview(40); got != "ok" {
		t.Errorf("preview = %q", got)
	}

	// No adapter attached: output still buffers.
	s.BindAdapter(nil)
	s.ChannelOutput([]byte("background\n"))
	lines := s.Lines()
	if lines[len(lines)-1] != "background" {
		t.Errorf("lines = %v", lines)
	}
}

func TestWorkingDirTracked(t *testing.T) {
	s, _ := newTestSession()
	s.ChannelOutput([]byte("\x1b]7;file://box/srv/app\x07$ "))
	if s.WorkingDir() != "/srv/app" {
		t.Errorf("cwd = %q", s.WorkingDir())
	}
}

func TestDegradedRecordsErrorAndRetryTime(t *testing.T) {
	s, _ := newTestSession()
	s.ChannelConnecting()

	failure := errors.New("connection refused")
	before := time.Now()
	s.ChannelDown(failure, 2*time.Second)

	if s.State() != StateDegraded {
		t.Fatalf("state = %v", s.State())
	}
	err, retryAt := s.LastError()
	if !errors.Is(err, failure) {
		t.Errorf("lastErr = %v", err)
	}
	if retryAt.Before(before.Add(time.Second)) {
		t.Errorf("retryAt = %v, too early", retryAt)
	}

	s.ChannelOpened()
	err, retryAt = s.LastError()
	if err != nil || !retryAt.IsZero() {
		t.Error("reopen must clear the error and retry deadline")
	}
}

func TestRetryOnlyWhileDegraded(t *testing.T) {
	s, ch := newTestSession()
	s.Retry()
	if ch.retries != 0 {
		t.Error("retry outside degraded should be ignored")
	}

	s.ChannelDown(errors.New("x"), time.Second)
	s.Retry()
	if ch.retries != 1 {
		t.Error("retry while degraded must reach the channel")
	}
}

func TestResizeRecordsGeometry(t *testing.T) {
	s, ch := newTestSession()
	s.Resize(120, 40)

	geo := s.Geometry()
	if geo.Cols != 120 || geo.Rows != 40 {
		t.Errorf("geometry = %+v", geo)
	}
	if len(ch.resizes) != 1 || ch.resizes[0] != [2]int{120, 40} {
		t.Errorf("channel resizes = %v", ch.resizes)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	s, ch := newTestSession()
	a := &fakeAdapter{}
	s.BindAdapter(a)
	s.ChannelOpened()

	s.Close()
	if s.State() != StateClosed {
		t.Fatalf("state = %v", s.State())
	}
	if ch.closed != 1 || a.closed != 1 {
		t.Errorf("channel closed=%d adapter closed=%d", ch.closed, a.closed)
	}

	// Late callbacks after close are ignored.
	s.ChannelOpened()
	s.ChannelOutput([]byte("late\n"))
	s.ChannelDown(errors.New("late"), time.Second)
	if s.State() != StateClosed {
		t.Error("closed is terminal; no transition may follow")
	}
	if len(s.Lines()) != 0 {
		t.Error("output after close must be discarded")
	}

	s.Close()
	if ch.closed != 1 {
		t.Error("Close must be idempotent")
	}
}

func TestExportLog(t *testing.T) {
	s, _ := newTestSession()
	s.ChannelOutput([]byte("\x1b[31merror\x1b[0m line\nnext\n"))

	raw := s.ExportLog(false)
	if string(raw) != "\x1b[31merror\x1b[0m line\nnext" {
		t.Errorf("raw export = %q", raw)
	}
	plain := s.ExportLog(true)
	if string(plain) != "error line\nnext" {
		t.Errorf("plain export = %q", plain)
	}
}

func TestSelectionDelegates(t *testing.T) {
	s, _ := newTestSession()
	if s.Selection() != "" {
		t.Error("selection with no adapter should be empty")
	}
	s.BindAdapter(&fakeAdapter{selection: "copied text"})
	if s.Selection() != "copied text" {
		t.Errorf("selection = %q", s.Selection())
	}
}
