package ptyhost

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"

	creackpty "github.com/creack/pty"
)

// defaultCols and defaultRows size a PTY whose client has not reported
// geometry yet.
const (
	defaultCols = 80
	defaultRows = 24
)

// shell wraps one command running inside a PTY. Each websocket
// attachment gets a fresh shell; nothing is shared across reconnects.
type shell struct {
	cmd  *exec.Cmd
	ptmx *os.File

	done chan struct{}

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// startShell spawns argv inside a new PTY.
func startShell(argv []string, workDir string, env []string) (*shell, error) {
	if len(argv) == 0 {
		return nil, errors.New("ptyhost: argv must not be empty")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workDir
	if len(env) > 0 {
		cmd.Env = env
	}

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Cols: defaultCols,
		Rows: defaultRows,
	})
	if err != nil {
		return nil, err
	}

	s := &shell{
		cmd:  cmd,
		ptmx: ptmx,
		done: make(chan struct{}),
	}
	go s.waitExit()
	return s, nil
}

func (s *shell) waitExit() {
	_ = s.cmd.Wait()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	close(s.done)
}

// Done is closed when the child process has exited.
func (s *shell) Done() <-chan struct{} { return s.done }

// Read pulls output bytes from the PTY. Returns an error once the PTY
// is closed.
func (s *shell) Read(p []byte) (int, error) {
	return s.ptmx.Read(p)
}

// Write sends input bytes to the child process's stdin.
func (s *shell) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New("ptyhost: shell is closed")
	}
	return s.ptmx.Write(p)
}

// Resize changes the PTY window size.
func (s *shell) Resize(cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("ptyhost: shell is closed")
	}
	return creackpty.Setsize(s.ptmx, &creackpty.Winsize{
		Cols: cols,
		Rows: rows,
	})
}

// Close terminates the child process (SIGTERM) and closes the PTY fd.
// Safe to call multiple times.
func (s *shell) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(syscall.SIGTERM)
		}
		err = s.ptmx.Close()
	})
	return err
}
