// Package session implements the per-terminal domain record: the
// connection state machine, the bounded scrollback buffer, the input
// history, and the last-applied geometry. A Session owns exactly one
// stream channel and is the only mutator of its own state; the registry
// in internal/manager owns membership and activation.
package session

import (
	"bytes"
	"strings"
	"sync"
	"time"

	"github.com/user/shellmux/internal/ansi"
	"github.com/user/shellmux/internal/theme"
	"github.com/user/shellmux/internal/viewport"
)

// State is the connection lifecycle of a session.
type State int

const (
	StateCreated State = iota
	StateConnecting
	StateOpen
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is the streaming connection owned by a Session, satisfied by
// *stream.Channel.
type Channel interface {
	Open()
	Send(p []byte)
	Resize(cols, rows int)
	Retry()
	Close()
}

// RenderAdapter binds a session's byte stream to a terminal widget. It
// is owned by the UI layer; sessions run fine with none attached.
type RenderAdapter interface {
	// Write receives remote output bytes in arrival order.
	Write(p []byte)
	// ApplyTheme restyles the widget. Never affects the connection.
	ApplyTheme(cfg theme.Config)
	// Selection returns the currently highlighted text, if any.
	Selection() string
	// Close releases the widget binding.
	Close()
}

// Session is one logical terminal.
type Session struct {
	id        string
	createdAt time.Time

	mu         sync.Mutex
	name       string
	state      State
	cwd        string
	lastErr    error
	retryAt    time.Time
	geometry   viewport.Geometry
	scrollback *Scrollback
	history    *History
	channel    Channel
	adapter    RenderAdapter

	// pending accumulates input bytes until a line terminator, so
	// submitted lines can be recorded in history.
	pending bytes.Buffer

	// onSubmit, when set, observes each completed input line (used for
	// history persistence).
	onSubmit func(line string)
}

// New constructs a Session in the Created state. The channel is bound
// separately with BindChannel because the channel needs the session as
// its event sink.
func New(id, name string, maxScrollback int) *Session {
	return &Session{
		id:         id,
		name:       name,
		createdAt:  time.Now(),
		state:      StateCreated,
		scrollback: NewScrollback(maxScrollback),
		history:    NewHistory(defaultMaxHistory),
	}
}

// BindChannel attaches the owned stream channel. Must be called exactly
// once, before Connect.
func (s *Session) BindChannel(ch Channel) {
	s.mu.Lock()
	s.channel = ch
	s.mu.Unlock()
}

// BindAdapter attaches (or with nil, detaches) the render adapter.
func (s *Session) BindAdapter(a RenderAdapter) {
	s.mu.Lock()
	s.adapter = a
	s.mu.Unlock()
}

// OnSubmit installs an observer for completed input lines.
func (s *Session) OnSubmit(fn func(line string)) {
	s.mu.Lock()
	s.onSubmit = fn
	s.mu.Unlock()
}

// Connect starts the first connection attempt.
func (s *Session) Connect() {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch != nil {
		ch.Open()
	}
}

// ID returns the stable session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the creation time, used for most-recent activation.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Name returns the display label.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetName updates the display label.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WorkingDir returns the last working directory reported by the remote
// side, advisory only.
func (s *Session) WorkingDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// LastError returns the most recent transport error and the time of the
// next automatic retry, both zero while healthy.
func (s *Session) LastError() (error, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr, s.retryAt
}

// Geometry returns the last geometry applied to this session.
func (s *Session) Geometry() viewport.Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geometry
}

// SendInput forwards raw input bytes to the remote side. Input is
// accepted only while Open; in any other state it is silently dropped,
// never queued, so stale keystrokes are not replayed into a re-spawned
// shell. Completed lines are recorded in the input history.
func (s *Session) SendInput(p []byte) {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	ch := s.channel
	submitted, hook := s.recordInputLocked(p)
	s.mu.Unlock()

	if ch != nil {
		ch.Send(p)
	}
	if hook != nil {
		for _, line := range submitted {
			hook(line)
		}
	}
}

// recordInputLocked accumulates input and returns any lines completed
// by this write. Caller holds s.mu.
func (s *Session) recordInputLocked(p []byte) ([]string, func(string)) {
	s.pending.Write(p)
	if !bytes.ContainsAny(p, "\r\n") {
		return nil, nil
	}

	var submitted []string
	raw := s.pending.String()
	s.pending.Reset()
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	parts := strings.Split(raw, "\n")
	// The final element is an unterminated remainder; keep it pending.
	s.pending.WriteString(parts[len(parts)-1])
	for _, part := range parts[:len(parts)-1] {
		line := strings.TrimSpace(ansi.Strip(part))
		if line == "" {
			continue
		}
		s.history.Append(line)
		submitted = append(submitted, line)
	}
	return submitted, s.onSubmit
}

// Resize records the geometry and propagates it to the channel, which
// forwards it when connected and re-applies it on the next open.
func (s *Session) Resize(cols, rows int) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.geometry = viewport.Geometry{Cols: cols, Rows: rows}
	ch := s.channel
	s.mu.Unlock()

	if ch != nil {
		ch.Resize(cols, rows)
	}
}

// Retry forces an immediate reconnection attempt, resetting backoff.
func (s *Session) Retry() {
	s.mu.Lock()
	ch := s.channel
	degraded := s.state == StateDegraded
	s.mu.Unlock()
	if degraded && ch != nil {
		ch.Retry()
	}
}

// Selection delegates to the bound render adapter.
func (s *Session) Selection() string {
	s.mu.Lock()
	a := s.adapter
	s.mu.Unlock()
	if a == nil {
		return ""
	}
	return a.Selection()
}

// ApplyTheme forwards a theme broadcast to the bound adapter. It never
// touches connection state.
func (s *Session) ApplyTheme(cfg theme.Config) {
	s.mu.Lock()
	a := s.adapter
	s.mu.Unlock()
	if a != nil {
		a.ApplyTheme(cfg)
	}
}

// ExportLog serializes the scrollback. With plain set, escape sequences
// are stripped for a readable text file.
func (s *Session) ExportLog(plain bool) []byte {
	s.mu.Lock()
	raw := s.scrollback.Bytes()
	s.mu.Unlock()
	if !plain {
		return raw
	}
	return []byte(ansi.Strip(string(raw)))
}

// Lines returns a copy of the scrollback lines for rendering.
func (s *Session) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrollback.Lines()
}

// Preview returns a one-line ANSI-stripped tail of the output.
func (s *Session) Preview(max int) string {
	s.mu.Lock()
	tail := s.scrollback.Tail(4)
	s.mu.Unlock()
	return ansi.LastLine(strings.Join(tail, "\n"), max)
}

// HistoryPrev steps backwards through submitted input lines.
func (s *Session) HistoryPrev() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Prev()
}

// HistoryNext steps forwards; leaving the newest entry ends browsing.
func (s *Session) HistoryNext() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Next()
}

// SeedHistory preloads persisted history lines, oldest first.
func (s *Session) SeedHistory(lines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range lines {
		s.history.Append(line)
	}
}

// Close is the terminal transition: the channel is disposed (retry
// timers cancelled, socket closed), the adapter binding released, and
// every later channel callback ignored. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	ch := s.channel
	a := s.adapter
	s.adapter = nil
	s.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	if a != nil {
		a.Close()
	}
}

// ChannelConnecting implements stream.Events.
func (s *Session) ChannelConnecting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateConnecting
}

// ChannelOpened implements stream.Events.
func (s *Session) ChannelOpened() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateOpen
	s.lastErr = nil
	s.retryAt = time.Time{}
}

// ChannelOutput implements stream.Events: buffer, track cwd, forward to
// the renderer. The network path never blocks on rendering; scrollback
// eviction is the backpressure valve.
func (s *Session) ChannelOutput(p []byte) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if dir, ok := ansi.WorkingDir(p); ok {
		s.cwd = dir
	}
	s.scrollback.Append(p)
	a := s.adapter
	s.mu.Unlock()

	if a != nil {
		a.Write(p)
	}
}

// ChannelDown implements stream.Events.
func (s *Session) ChannelDown(err error, retryIn time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateDegraded
	s.lastErr = err
	s.retryAt = time.Now().Add(retryIn)
}
