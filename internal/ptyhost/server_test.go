package ptyhost

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func newTestServer(t *testing.T, command string) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewServer(Options{
		Command: command,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts
}

func dialShell(t *testing.T, ts *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/shell?sessionId=" + sessionID
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

// readUntil reads binary frames until the accumulated output contains
// want or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, want string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out strings.Builder
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read (have %q): %v", out.String(), err)
		}
		if typ == websocket.MessageBinary {
			out.Write(data)
		}
		if strings.Contains(out.String(), want) {
			return out.String()
		}
	}
}

func TestNewServerRejectsBadCommand(t *testing.T) {
	if _, err := NewServer(Options{Command: "sh -c 'unterminated"}); err == nil {
		t.Fatal("expected error for unbalanced quoting")
	}
}

func TestShellRequiresSessionID(t *testing.T) {
	_, ts := newTestServer(t, "/bin/cat")
	resp, err := http.Get(ts.URL + "/shell")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, "/bin/cat")
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Sessions != 0 {
		t.Fatalf("body = %+v", body)
	}
}

func TestShellRoundTrip(t *testing.T) {
	_, ts := newTestServer(t, "/bin/cat")
	conn := dialShell(t, ts, "s-1")
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, []byte("hello-roundtrip\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, "hello-roundtrip")
}

func TestResizeControlFrame(t *testing.T) {
	_, ts := newTestServer(t, "sh -c 'stty size; cat'")
	conn := dialShell(t, ts, "s-resize")
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The shell starts at the default size before any control frame.
	readUntil(t, conn, "24 80")

	frame, _ := json.Marshal(controlFrame{Type: "resize", Cols: 132, Rows: 43})
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write control: %v", err)
	}

	// The connection survives the resize; the PTY still relays bytes.
	if err := conn.Write(ctx, websocket.MessageBinary, []byte("still-alive\n")); err != nil {
		t.Fatalf("write input: %v", err)
	}
	readUntil(t, conn, "still-alive")
}

func TestBadControlFrameIgnored(t *testing.T) {
	_, ts := newTestServer(t, "/bin/cat")
	conn := dialShell(t, ts, "s-ctl")
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, bad := range []string{"not json", `{"type":"resize","cols":0,"rows":0}`, `{"type":"mystery"}`} {
		if err := conn.Write(ctx, websocket.MessageText, []byte(bad)); err != nil {
			t.Fatalf("write %q: %v", bad, err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageBinary, []byte("after-bad-frames\n")); err != nil {
		t.Fatalf("write input: %v", err)
	}
	readUntil(t, conn, "after-bad-frames")
}

func TestShellExitClosesSocket(t *testing.T) {
	_, ts := newTestServer(t, "sh -c 'exit 0'")
	conn := dialShell(t, ts, "s-exit")
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.Fatalf("close status = %v, want normal closure", err)
			}
			return
		}
	}
}

func TestReconnectTakesOver(t *testing.T) {
	_, ts := newTestServer(t, "/bin/cat")
	first := dialShell(t, ts, "s-shared")
	defer first.Close(websocket.StatusNormalClosure, "")

	second := dialShell(t, ts, "s-shared")
	defer second.Close(websocket.StatusNormalClosure, "")

	// The first attachment's shell is disposed; its socket closes.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, _, err := first.Read(ctx)
		if err != nil {
			break
		}
	}

	// The second attachment is live and gets a fresh shell.
	if err := second.Write(ctx, websocket.MessageBinary, []byte("takeover\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, second, "takeover")
}

func TestDefaultCommandFallback(t *testing.T) {
	t.Setenv("SHELL", "")
	srv, err := NewServer(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if srv.argv[0] != "/bin/sh" {
		t.Fatalf("argv = %v", srv.argv)
	}
}
