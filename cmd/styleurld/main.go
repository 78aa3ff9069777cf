package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/styleurl/internal/api"
	"github.com/dgnsrekt/styleurl/internal/backend"
	"github.com/dgnsrekt/styleurl/internal/config"
	"github.com/dgnsrekt/styleurl/internal/engine"
	"github.com/dgnsrekt/styleurl/internal/host"
	"github.com/dgnsrekt/styleurl/internal/metrics"
	"github.com/dgnsrekt/styleurl/internal/netutil"
	"github.com/dgnsrekt/styleurl/internal/notify"
	"github.com/dgnsrekt/styleurl/internal/transport"
	"github.com/dgnsrekt/styleurl/internal/upload"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("styleurld config loaded",
		"backend_url", cfg.BackendURL,
		"version", cfg.Version,
		"environment", cfg.Environment,
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"cdp_url", cfg.CDPURL(),
		"notify", cfg.NotifyEndpoint != "",
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	if err := run(cfg); err != nil {
		slog.Error("styleurld failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		return err
	}

	browser := host.NewCDP(cfg.CDPURL())
	if err := browser.Connect(ctx); err != nil {
		_ = ln.Close()
		return err
	}
	defer func() { _ = browser.Close() }()

	m := metrics.New(prometheus.DefaultRegisterer)
	notifier := notify.New(cfg.NotifyEndpoint, nil)

	client := backend.NewClient(backend.Options{
		BaseURL:     cfg.BackendURL,
		Version:     cfg.Version,
		Environment: cfg.Environment,
		Cookies:     browser,
		Metrics:     m,
	})
	uploader := upload.New(upload.Config{
		Server:     client.BaseURL(),
		HTTPClient: client.HTTPClient(),
		Decorate:   client.Decorate,
	})

	eng := engine.New(engine.Options{
		Backend:  client,
		Uploader: uploader,
		Host:     browser,
		Notifier: notifier,
		Metrics:  m,
	})
	adapter := transport.NewAdapter(eng, notifier, m)

	srv := &http.Server{
		Handler: api.NewServer(api.Deps{
			Version:   cfg.Version,
			Transport: adapter,
			Workflows: eng,
			Tabs:      browser,
			Metrics:   promhttp.Handler(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		addr := ln.Addr().String()
		slog.Info("styleurld listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("styleurld shutdown failed", "error", err)
		}
		return nil
	})
	return g.Wait()
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
