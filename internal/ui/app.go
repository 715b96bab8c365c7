// Package ui is the tcell front end: a tab bar of sessions, the active
// session's pane, and a status line. It owns the screen event loop and
// translates key events into session input.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/user/shellmux/internal/manager"
	"github.com/user/shellmux/internal/render"
	"github.com/user/shellmux/internal/session"
	"github.com/user/shellmux/internal/store"
	"github.com/user/shellmux/internal/theme"
	"github.com/user/shellmux/internal/viewport"
)

// chromeRows is the screen space reserved for the tab bar and the
// status line.
const chromeRows = 2

// Options configures the App.
type Options struct {
	Endpoint      string
	MaxSessions   int
	MaxScrollback int
	Themes        *theme.Manager
	Store         *store.Store
	Logger        *slog.Logger

	// Screen overrides the real terminal screen (used by tests).
	Screen tcell.Screen
	// Channels overrides the websocket channel factory (used by tests).
	Channels manager.ChannelFactory
}

// App drives the terminal UI.
type App struct {
	screen  tcell.Screen
	mgr     *manager.Manager
	themes  *theme.Manager
	logger  *slog.Logger
	coord   *viewport.Coordinator
	store   *store.Store
	panes   map[string]*render.Pane
	ownsScr bool

	status      string
	statusUntil time.Time

	selAnchor int // drag anchor line, -1 when no drag in progress
}

// New wires the screen, the session registry, and the pane registry
// together.
func New(opts Options) (*App, error) {
	screen := opts.Screen
	ownsScr := false
	if screen == nil {
		s, err := tcell.NewScreen()
		if err != nil {
			return nil, fmt.Errorf("ui: failed to create screen: %w", err)
		}
		screen = s
		ownsScr = true
	}

	themes := opts.Themes
	if themes == nil {
		themes = theme.NewManager()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{
		screen:    screen,
		themes:    themes,
		logger:    logger,
		store:     opts.Store,
		coord:     viewport.NewCoordinator(viewport.CellMetrics{}),
		panes:     make(map[string]*render.Pane),
		ownsScr:   ownsScr,
		selAnchor: -1,
	}

	mgr, err := manager.New(manager.Options{
		Endpoint:      opts.Endpoint,
		MaxSessions:   opts.MaxSessions,
		MaxScrollback: opts.MaxScrollback,
		Channels:      opts.Channels,
		Adapters:      app.newPane,
		Themes:        themes,
		Viewport:      app.coord,
		Store:         opts.Store,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	app.mgr = mgr
	return app, nil
}

// Manager exposes the session registry, mainly for tests.
func (a *App) Manager() *manager.Manager { return a.mgr }

// newPane is the render adapter factory handed to the registry.
func (a *App) newPane(id string) session.RenderAdapter {
	p := render.NewPane(a.wake)
	a.panes[id] = p
	return p
}

// wake nudges the event loop to repaint after background output.
func (a *App) wake() {
	_ = a.screen.PostEvent(tcell.NewEventInterrupt(nil))
}

// Run initializes the screen and blocks in the event loop until the
// user quits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.ownsScr {
		if err := a.screen.Init(); err != nil {
			return fmt.Errorf("ui: failed to init screen: %w", err)
		}
		defer a.screen.Fini()
	}
	a.screen.EnableMouse()

	w, h := a.screen.Size()
	a.mgr.HandleViewportChange(w, h-chromeRows)
	if err := a.openInitialSession(ctx); err != nil {
		return err
	}

	// Repaint once a second so retry countdowns tick.
	tickCtx, cancelTick := context.WithCancel(ctx)
	defer cancelTick()
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				a.wake()
			}
		}
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			a.wake()
		case <-stop:
		}
	}()

	for {
		a.draw()
		if ctx.Err() != nil {
			a.mgr.Close()
			return ctx.Err()
		}
		ev := a.screen.PollEvent()
		switch ev := ev.(type) {
		case *tcell.EventResize:
			w, h := ev.Size()
			a.mgr.HandleViewportChange(w, h-chromeRows)
			a.screen.Sync()
		case *tcell.EventKey:
			if quit := a.handleKey(ev); quit {
				a.mgr.Close()
				return nil
			}
		case *tcell.EventMouse:
			a.handleMouse(ev)
		case *tcell.EventInterrupt:
		case nil:
			// Screen finalized out from under us.
			a.mgr.Close()
			return nil
		}
	}
}

// openInitialSession bootstraps the first session. With a store
// configured, the most recent persisted session is restored (same name
// and input history, fresh id and shell); otherwise a fresh session is
// created.
func (a *App) openInitialSession(ctx context.Context) error {
	if a.store != nil {
		records, err := a.store.RecentSessions(ctx, 1)
		if err != nil {
			a.logger.Warn("failed to read persisted sessions", "error", err)
		} else if len(records) > 0 {
			history, err := a.store.History(ctx, records[0].ID, 200)
			if err != nil {
				a.logger.Warn("failed to read persisted history", "session_id", records[0].ID, "error", err)
			}
			if _, err := a.mgr.RestoreSession(records[0].Name, history); err == nil {
				return nil
			}
		}
	}
	_, err := a.mgr.CreateSession("")
	return err
}

// handleKey dispatches one key event. Alt-modified keys are UI-level
// commands; everything else goes to the active session's shell.
// Returns true when the app should exit.
func (a *App) handleKey(ev *tcell.EventKey) bool {
	active := a.mgr.Active()

	if ev.Modifiers()&tcell.ModAlt != 0 {
		switch ev.Key() {
		case tcell.KeyRune:
			switch r := ev.Rune(); {
			case r == 'q':
				return true
			case r == 't':
				a.newSession()
				return false
			case r == 'w':
				a.mgr.CloseSession(active)
				delete(a.panes, active)
				return false
			case r == 'r':
				a.mgr.Retry(active)
				return false
			case r == 'e':
				a.exportActive()
				return false
			case r == 'c':
				a.copySelection()
				return false
			case r == '[':
				a.switchRelative(-1)
				return false
			case r == ']':
				a.switchRelative(1)
				return false
			case r >= '1' && r <= '9':
				a.switchIndex(int(r - '1'))
				return false
			}
		case tcell.KeyUp:
			a.recallHistory(true)
			return false
		case tcell.KeyDown:
			a.recallHistory(false)
			return false
		}
	}

	switch ev.Key() {
	case tcell.KeyPgUp:
		if p := a.panes[active]; p != nil {
			_, h := a.screen.Size()
			p.ScrollUp(h - chromeRows)
		}
		return false
	case tcell.KeyPgDn:
		if p := a.panes[active]; p != nil {
			_, h := a.screen.Size()
			p.ScrollDown(h - chromeRows)
		}
		return false
	}

	if data := encodeKey(ev); data != nil {
		if p := a.panes[active]; p != nil {
			p.ScrollToBottom()
		}
		a.mgr.SendInput(active, data)
	}
	return false
}

func (a *App) handleMouse(ev *tcell.EventMouse) {
	active := a.mgr.Active()
	p := a.panes[active]
	if p == nil {
		return
	}
	_, y := ev.Position()
	line := y - 1 // below the tab bar

	switch {
	case ev.Buttons()&tcell.WheelUp != 0:
		p.ScrollUp(3)
	case ev.Buttons()&tcell.WheelDown != 0:
		p.ScrollDown(3)
	case ev.Buttons()&tcell.Button1 != 0:
		if a.selAnchor < 0 {
			a.selAnchor = line
		}
		p.SetSelection(a.selAnchor, line)
	default:
		a.selAnchor = -1
	}
}

func (a *App) newSession() {
	if _, err := a.mgr.CreateSession(""); err != nil {
		a.notify(err.Error())
	}
}

func (a *App) switchRelative(delta int) {
	sums := a.mgr.Sessions()
	if len(sums) == 0 {
		return
	}
	idx := 0
	for i, s := range sums {
		if s.Active {
			idx = i
			break
		}
	}
	idx = (idx + delta + len(sums)) % len(sums)
	a.mgr.SetActive(sums[idx].ID)
}

func (a *App) switchIndex(idx int) {
	sums := a.mgr.Sessions()
	if idx >= 0 && idx < len(sums) {
		a.mgr.SetActive(sums[idx].ID)
	}
}

// recallHistory steps the active session's input history and replaces
// the shell's pending line (kill-line, then the recalled text).
func (a *App) recallHistory(prev bool) {
	active := a.mgr.Active()
	s, ok := a.mgr.Get(active)
	if !ok {
		return
	}
	var line string
	if prev {
		line, ok = s.HistoryPrev()
		if !ok {
			return
		}
	} else {
		// Stepping past the newest entry leaves an empty line.
		line, _ = s.HistoryNext()
	}
	a.mgr.SendInput(active, append([]byte{0x15}, line...))
}

func (a *App) exportActive() {
	active := a.mgr.Active()
	data, err := a.mgr.ExportLog(active, true)
	if err != nil {
		a.notify(err.Error())
		return
	}
	name := fmt.Sprintf("shellmux-%s.log", time.Now().Format("20060102-150405"))
	if err := os.WriteFile(name, data, 0o600); err != nil {
		a.notify(fmt.Sprintf("export failed: %v", err))
		return
	}
	a.notify("exported " + name)
}

func (a *App) copySelection() {
	active := a.mgr.Active()
	sel, err := a.mgr.Selection(active)
	if err != nil || sel == "" {
		a.notify("nothing selected")
		return
	}
	a.screen.SetClipboard([]byte(sel))
	a.notify(fmt.Sprintf("copied %d bytes", len(sel)))
}

// notify shows a transient status line message.
func (a *App) notify(msg string) {
	a.status = msg
	a.statusUntil = time.Now().Add(4 * time.Second)
}

func (a *App) draw() {
	w, h := a.screen.Size()
	if w <= 0 || h < chromeRows {
		return
	}
	cfg := a.themes.Current()
	base := render.BaseStyle(cfg)
	barStyle := base.Reverse(true)

	sums := a.mgr.Sessions()
	a.drawTabBar(sums, w, barStyle, base)

	active := a.mgr.Active()
	if p := a.panes[active]; p != nil {
		p.Draw(a.screen, 0, 1, w, h-chromeRows)
	} else {
		for y := 1; y < h-1; y++ {
			drawText(a.screen, 0, y, w, "", base)
		}
	}

	a.drawStatusLine(sums, w, h-1, barStyle)
	a.screen.Show()
}

func (a *App) drawTabBar(sums []manager.Summary, w int, barStyle, base tcell.Style) {
	var b strings.Builder
	for i, s := range sums {
		marker := ""
		switch s.State {
		case session.StateConnecting:
			marker = "…"
		case session.StateDegraded:
			marker = "!"
		}
		label := fmt.Sprintf(" %d:%s%s ", i+1, s.Name, marker)
		if s.Active {
			label = "[" + strings.TrimSpace(label) + "]"
		}
		b.WriteString(label)
	}
	drawText(a.screen, 0, 0, w, b.String(), barStyle)
}

func (a *App) drawStatusLine(sums []manager.Summary, w, y int, style tcell.Style) {
	if a.status != "" && time.Now().Before(a.statusUntil) {
		drawText(a.screen, 0, y, w, " "+a.status, style)
		return
	}

	var active *manager.Summary
	for i := range sums {
		if sums[i].Active {
			active = &sums[i]
			break
		}
	}
	if active == nil {
		drawText(a.screen, 0, y, w, " no sessions, Alt-t to open one", style)
		return
	}

	text := fmt.Sprintf(" %s  %s", active.State, active.Name)
	if active.WorkingDir != "" {
		text += "  " + active.WorkingDir
	}
	if active.State == session.StateDegraded {
		if s, ok := a.mgr.Get(active.ID); ok {
			if err, retryAt := s.LastError(); err != nil {
				wait := time.Until(retryAt).Round(time.Second)
				if wait < 0 {
					wait = 0
				}
				text += fmt.Sprintf("  %v (retry in %s, Alt-r now)", err, wait)
			}
		}
	}
	drawText(a.screen, 0, y, w, text, style)
}

// drawText paints one padded line of text.
func drawText(screen tcell.Screen, x, y, width int, text string, style tcell.Style) {
	col := 0
	for _, r := range text {
		if col >= width {
			break
		}
		screen.SetContent(x+col, y, r, nil, style)
		col++
	}
	for ; col < width; col++ {
		screen.SetContent(x+col, y, ' ', nil, style)
	}
}
