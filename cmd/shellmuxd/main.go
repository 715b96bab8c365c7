package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/user/shellmux/internal/config"
	"github.com/user/shellmux/internal/ptyhost"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	host, err := ptyhost.NewServer(ptyhost.Options{
		Command: cfg.Host.Command,
		WorkDir: cfg.Host.WorkDir,
	})
	if err != nil {
		slog.Error("failed to configure host", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Host.Listen,
		Handler:           host.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		host.Close()
	}()

	slog.Info("shellmuxd listening", "addr", cfg.Host.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
