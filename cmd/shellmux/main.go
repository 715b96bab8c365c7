package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/shellmux/internal/config"
	"github.com/user/shellmux/internal/store"
	"github.com/user/shellmux/internal/theme"
	"github.com/user/shellmux/internal/ui"
)

func main() {
	// The screen owns stdout; logs go to a file so they do not corrupt
	// the UI.
	logOut := os.Stderr
	if f, err := os.OpenFile("shellmux.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err == nil {
		logOut = f
		defer f.Close()
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	themes := theme.NewManager()
	if err := themes.LoadShippedPresets(); err != nil {
		slog.Warn("failed to load shipped theme presets", "error", err)
	}
	if cfg.ThemeDir != "" {
		if err := themes.LoadPresets(cfg.ThemeDir); err != nil {
			slog.Warn("failed to load theme presets", "dir", cfg.ThemeDir, "error", err)
		}
	}
	if cfg.Theme != "" {
		if err := themes.SetPreset(cfg.Theme); err != nil {
			slog.Warn("unknown theme preset", "name", cfg.Theme, "error", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var st *store.Store
	if cfg.DBPath != "" {
		st, err = store.Open(ctx, cfg.DBPath)
		if err != nil {
			slog.Error("failed to open store", "path", cfg.DBPath, "error", err)
			os.Exit(1)
		}
		defer st.Close()
	}

	app, err := ui.New(ui.Options{
		Endpoint:      cfg.Endpoint,
		MaxSessions:   cfg.MaxSessions,
		MaxScrollback: cfg.Scrollback,
		Themes:        themes,
		Store:         st,
	})
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("ui error", "error", err)
		os.Exit(1)
	}
}
