// Package manager implements the session registry: the ordered
// collection of terminal sessions, the single active-session pointer,
// and the manager-level operations the UI layer consumes. The registry
// is the only mutator of session membership; everything a session owns
// (buffer, history, geometry, connection) is mutated through the
// session itself.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/shellmux/internal/session"
	"github.com/user/shellmux/internal/store"
	"github.com/user/shellmux/internal/stream"
	"github.com/user/shellmux/internal/theme"
	"github.com/user/shellmux/internal/viewport"
)

var (
	// ErrSessionLimit reports that the configured maximum number of
	// concurrent sessions has been reached.
	ErrSessionLimit = errors.New("manager: session limit reached")
	// ErrUnknownSession reports an id not present in the registry.
	ErrUnknownSession = errors.New("manager: unknown session")
)

// DefaultMaxSessions bounds concurrent sessions when the configuration
// does not override it.
const DefaultMaxSessions = 16

// ChannelFactory builds the stream channel for a new session. The
// returned channel must report into events.
type ChannelFactory func(id string, events stream.Events) session.Channel

// AdapterFactory builds the render adapter bound to a new session. It
// may return nil; sessions run fine unrendered in the background.
type AdapterFactory func(id string) session.RenderAdapter

// Options configures a Manager. Channels is required unless Endpoint is
// set, in which case a websocket channel factory is derived from it.
type Options struct {
	Endpoint      string
	MaxSessions   int
	MaxScrollback int
	Channels      ChannelFactory
	Adapters      AdapterFactory
	Themes        *theme.Manager
	Viewport      *viewport.Coordinator
	Store         *store.Store
	Logger        *slog.Logger
}

// Summary is the read-only projection of one session for list UIs. It
// is recomputed on every call to Sessions, never cached.
type Summary struct {
	ID         string
	Name       string
	State      session.State
	Active     bool
	Preview    string
	WorkingDir string
}

// Manager is the session registry.
type Manager struct {
	channels      ChannelFactory
	adapters      AdapterFactory
	themes        *theme.Manager
	coordinator   *viewport.Coordinator
	store         *store.Store
	logger        *slog.Logger
	maxSessions   int
	maxScrollback int

	mu       sync.Mutex
	sessions []*session.Session // creation order
	active   string
	created  int
}

// New constructs a Manager from opts.
func New(opts Options) (*Manager, error) {
	channels := opts.Channels
	if channels == nil {
		if opts.Endpoint == "" {
			return nil, errors.New("manager: either Channels or Endpoint is required")
		}
		endpoint := opts.Endpoint
		channels = func(id string, events stream.Events) session.Channel {
			dial, err := stream.EndpointDialer(endpoint, id)
			if err != nil {
				// The endpoint was parseable at startup or we would
				// not be here; fail every attempt instead of panicking.
				dial = func(ctx context.Context) (stream.Conn, error) { return nil, err }
			}
			return stream.New(dial, events)
		}
		if _, err := stream.EndpointDialer(endpoint, "probe"); err != nil {
			return nil, err
		}
	}

	themes := opts.Themes
	if themes == nil {
		themes = theme.NewManager()
	}
	coordinator := opts.Viewport
	if coordinator == nil {
		coordinator = viewport.NewCoordinator(viewport.CellMetrics{})
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxSessions := opts.MaxSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}

	return &Manager{
		channels:      channels,
		adapters:      opts.Adapters,
		themes:        themes,
		coordinator:   coordinator,
		store:         opts.Store,
		logger:        logger,
		maxSessions:   maxSessions,
		maxScrollback: opts.MaxScrollback,
	}, nil
}

// CreateSession creates a session, makes it active, and starts its
// connection. An empty name gets a generated "Shell N" label. The only
// synchronous failure is ErrSessionLimit; connection failures surface
// through the session's own state transitions.
func (m *Manager) CreateSession(name string) (string, error) {
	return m.create(name, false, nil)
}

// CreateBackgroundSession creates a session without stealing activation
// (unless the registry was empty, which must always have an active
// session once non-empty).
func (m *Manager) CreateBackgroundSession(name string) (string, error) {
	return m.create(name, true, nil)
}

// RestoreSession creates a session seeded with persisted input history.
// The session gets a fresh id; ids are never reused.
func (m *Manager) RestoreSession(name string, history []string) (string, error) {
	return m.create(name, false, history)
}

func (m *Manager) create(name string, background bool, seedHistory []string) (string, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return "", fmt.Errorf("%w (%d)", ErrSessionLimit, m.maxSessions)
	}
	m.created++
	if name == "" {
		name = fmt.Sprintf("Shell %d", m.created)
	}
	id := uuid.NewString()

	s := session.New(id, name, m.maxScrollback)
	if len(seedHistory) > 0 {
		s.SeedHistory(seedHistory)
	}
	s.BindChannel(m.channels(id, s))
	if m.adapters != nil {
		if a := m.adapters(id); a != nil {
			s.BindAdapter(a)
			a.ApplyTheme(m.themes.Current())
		}
	}
	if m.store != nil {
		st := m.store
		s.OnSubmit(func(line string) {
			if err := st.AppendInput(context.Background(), id, line); err != nil {
				m.logger.Warn("failed to persist input line", "session_id", id, "error", err)
			}
		})
	}

	m.sessions = append(m.sessions, s)
	if !background || m.active == "" {
		m.active = id
	}
	geo := m.coordinator.Current()
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.RecordSession(context.Background(), id, name, s.CreatedAt()); err != nil {
			m.logger.Warn("failed to persist session", "session_id", id, "error", err)
		}
	}

	// Record the current viewport geometry before the first open so the
	// remote PTY starts at the right size.
	if !geo.Zero() {
		s.Resize(geo.Cols, geo.Rows)
	}
	s.Connect()

	m.logger.Info("session created", "session_id", id, "name", name)
	return id, nil
}

// CloseSession disposes the session's channel (cancelling retry timers
// and closing the socket), releases its render binding, and removes it.
// Closing an unknown id is a no-op. If the closed session was active,
// the most recently created remaining session becomes active.
func (m *Manager) CloseSession(id string) {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	s := m.sessions[idx]
	m.sessions = append(m.sessions[:idx], m.sessions[idx+1:]...)

	var promoted *session.Session
	if m.active == id {
		if n := len(m.sessions); n > 0 {
			promoted = m.sessions[n-1]
			m.active = promoted.ID()
		} else {
			m.active = ""
		}
	}
	geo := m.coordinator.Current()
	m.mu.Unlock()

	s.Close()
	if promoted != nil && !geo.Zero() && promoted.Geometry() != geo {
		promoted.Resize(geo.Cols, geo.Rows)
	}
	if m.store != nil {
		if err := m.store.MarkClosed(context.Background(), id, time.Now()); err != nil {
			m.logger.Warn("failed to persist session close", "session_id", id, "error", err)
		}
	}
	m.logger.Info("session closed", "session_id", id)
}

// SetActive switches the active session. Unknown or already-active ids
// are no-ops. Connection state of both sessions is untouched; a
// background session whose geometry went stale is resized lazily here.
func (m *Manager) SetActive(id string) {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 || m.active == id {
		m.mu.Unlock()
		return
	}
	m.active = id
	s := m.sessions[idx]
	geo := m.coordinator.Current()
	m.mu.Unlock()

	if !geo.Zero() && s.Geometry() != geo {
		s.Resize(geo.Cols, geo.Rows)
	}
}

// Active returns the active session id, empty when the registry is empty.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx := m.indexLocked(id); idx >= 0 {
		return m.sessions[idx], true
	}
	return nil, false
}

// Sessions returns summaries in creation order, freshly computed.
func (m *Manager) Sessions() []Summary {
	m.mu.Lock()
	sessions := append([]*session.Session(nil), m.sessions...)
	active := m.active
	m.mu.Unlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, Summary{
			ID:         s.ID(),
			Name:       s.Name(),
			State:      s.State(),
			Active:     s.ID() == active,
			Preview:    s.Preview(64),
			WorkingDir: s.WorkingDir(),
		})
	}
	return out
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// SendInput forwards input bytes to a session. Dropped unless the
// session exists and is open.
func (m *Manager) SendInput(id string, p []byte) {
	if s, ok := m.Get(id); ok {
		s.SendInput(p)
	}
}

// Resize applies geometry to one session.
func (m *Manager) Resize(id string, cols, rows int) {
	if s, ok := m.Get(id); ok {
		s.Resize(cols, rows)
	}
}

// Retry forces an immediate reconnect of a degraded session.
func (m *Manager) Retry(id string) {
	if s, ok := m.Get(id); ok {
		s.Retry()
	}
}

// RenameSession updates a session's display label.
func (m *Manager) RenameSession(id, name string) {
	s, ok := m.Get(id)
	if !ok || name == "" {
		return
	}
	s.SetName(name)
	if m.store != nil {
		if err := m.store.RenameSession(context.Background(), id, name); err != nil {
			m.logger.Warn("failed to persist rename", "session_id", id, "error", err)
		}
	}
}

// HandleViewportChange recomputes geometry from the hosting surface and
// applies it to the active session only. Background sessions are
// resized lazily on activation.
func (m *Manager) HandleViewportChange(widthPx, heightPx int) {
	geo, changed := m.coordinator.Update(widthPx, heightPx)
	if !changed {
		return
	}
	m.mu.Lock()
	idx := m.indexLocked(m.active)
	var s *session.Session
	if idx >= 0 {
		s = m.sessions[idx]
	}
	m.mu.Unlock()
	if s != nil {
		s.Resize(geo.Cols, geo.Rows)
	}
}

// SetTheme validates and broadcasts a new appearance configuration to
// every session's render adapter. Zero reconnects, zero state
// transitions: themes are purely a rendering concern.
func (m *Manager) SetTheme(cfg theme.Config) error {
	if err := m.themes.Set(cfg); err != nil {
		return err
	}
	m.broadcastTheme()
	return nil
}

// SetThemePreset activates a loaded preset by name and broadcasts it.
func (m *Manager) SetThemePreset(name string) error {
	if err := m.themes.SetPreset(name); err != nil {
		return err
	}
	m.broadcastTheme()
	return nil
}

// Theme returns the active appearance configuration.
func (m *Manager) Theme() theme.Config {
	return m.themes.Current()
}

func (m *Manager) broadcastTheme() {
	cfg := m.themes.Current()
	m.mu.Lock()
	sessions := append([]*session.Session(nil), m.sessions...)
	m.mu.Unlock()
	for _, s := range sessions {
		s.ApplyTheme(cfg)
	}
}

// ExportLog serializes a session's scrollback for download.
func (m *Manager) ExportLog(id string, plain bool) ([]byte, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s.ExportLog(plain), nil
}

// Selection returns the highlighted text of a session's renderer, for
// clipboard copy.
func (m *Manager) Selection(id string) (string, error) {
	s, ok := m.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s.Selection(), nil
}

// Close tears down every session. Called when the hosting surface goes
// away so no connection or retry timer outlives the manager.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = nil
	m.active = ""
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// indexLocked returns the position of id, or -1. Caller holds m.mu.
func (m *Manager) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, s := range m.sessions {
		if s.ID() == id {
			return i
		}
	}
	return -1
}
