// Package ptyhost implements the shellmuxd side of the wire: it accepts
// websocket attachments on /shell, spawns the configured shell command
// inside a PTY per attachment, and relays bytes both ways. Binary
// messages carry raw terminal bytes; text messages carry JSON control
// frames (currently only resize). Reconnects always get a fresh shell.
package ptyhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/kballard/go-shellquote"
	"nhooyr.io/websocket"
)

// maxMessageSize bounds inbound websocket frames. Terminal input is
// tiny; anything larger is a misbehaving client.
const maxMessageSize = 1 << 20

// Options configures a Server.
type Options struct {
	// Command is the shell command line, split with shell quoting rules.
	// Empty falls back to $SHELL, then /bin/sh.
	Command string
	// WorkDir is the initial working directory for spawned shells.
	WorkDir string
	// Env overrides the child environment when non-empty.
	Env    []string
	Logger *slog.Logger
}

// Server hosts shell sessions over websockets.
type Server struct {
	argv    []string
	workDir string
	env     []string
	logger  *slog.Logger

	mu       sync.Mutex
	closed   bool
	attached map[string]*shell // by session id
}

// NewServer validates the command line and constructs a Server.
func NewServer(opts Options) (*Server, error) {
	command := opts.Command
	if command == "" {
		command = os.Getenv("SHELL")
	}
	if command == "" {
		command = "/bin/sh"
	}
	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("ptyhost: invalid shell command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("ptyhost: empty shell command")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		argv:     argv,
		workDir:  opts.WorkDir,
		env:      opts.Env,
		logger:   logger,
		attached: make(map[string]*shell),
	}, nil
}

// Handler returns the HTTP mux serving /shell and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/shell", s.handleShell)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.attached)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": n,
	})
}

func (s *Server) handleShell(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "session_id", sessionID, "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	sh, err := startShell(s.argv, s.workDir, s.env)
	if err != nil {
		s.logger.Error("failed to start shell", "session_id", sessionID, "error", err)
		conn.Close(websocket.StatusInternalError, "failed to start shell")
		return
	}

	if !s.attach(sessionID, sh) {
		sh.Close()
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.logger.Info("shell attached", "session_id", sessionID, "command", s.argv[0])

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// When the child exits, close the socket cleanly so the client sees
	// a connection loss and schedules its reconnect.
	go func() {
		select {
		case <-sh.Done():
			conn.Close(websocket.StatusNormalClosure, "shell exited")
		case <-ctx.Done():
		}
	}()

	go s.writePump(ctx, conn, sh, sessionID, cancel)
	s.readPump(ctx, conn, sh, sessionID)

	cancel()
	s.detach(sessionID, sh)
	sh.Close()
	conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("shell detached", "session_id", sessionID)
}

// writePump copies PTY output to the socket as binary messages.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, sh *shell, sessionID string, cancel context.CancelFunc) {
	defer cancel()
	buf := make([]byte, 4096)
	for {
		n, err := sh.Read(buf)
		if n > 0 {
			if werr := conn.Write(ctx, websocket.MessageBinary, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// readPump copies socket input to the PTY and applies control frames.
// Returns when the socket closes.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, sh *shell, sessionID string) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			if _, err := sh.Write(data); err != nil {
				return
			}
		case websocket.MessageText:
			s.handleControl(sh, sessionID, data)
		}
	}
}

type controlFrame struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

func (s *Server) handleControl(sh *shell, sessionID string, data []byte) {
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Warn("bad control frame", "session_id", sessionID, "error", err)
		return
	}
	switch frame.Type {
	case "resize":
		if frame.Cols < 1 || frame.Rows < 1 || frame.Cols > 0xffff || frame.Rows > 0xffff {
			s.logger.Warn("resize out of range", "session_id", sessionID, "cols", frame.Cols, "rows", frame.Rows)
			return
		}
		if err := sh.Resize(uint16(frame.Cols), uint16(frame.Rows)); err != nil {
			s.logger.Warn("resize failed", "session_id", sessionID, "error", err)
		}
	default:
		s.logger.Warn("unknown control frame", "session_id", sessionID, "type", frame.Type)
	}
}

// attach records the session's current shell, disposing any previous
// attachment for the same id so a reconnecting client takes over.
func (s *Server) attach(id string, sh *shell) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	prev := s.attached[id]
	s.attached[id] = sh
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return true
}

// detach removes the attachment if sh is still the current one.
func (s *Server) detach(id string, sh *shell) {
	s.mu.Lock()
	if s.attached[id] == sh {
		delete(s.attached, id)
	}
	s.mu.Unlock()
}

// Close terminates every attached shell. In-flight handlers unwind as
// their PTYs close.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	shells := make([]*shell, 0, len(s.attached))
	for _, sh := range s.attached {
		shells = append(shells, sh)
	}
	s.attached = make(map[string]*shell)
	s.mu.Unlock()

	for _, sh := range shells {
		sh.Close()
	}
}
