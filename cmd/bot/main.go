package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"olx_bot/internal/bot"
	"olx_bot/internal/config"
	"olx_bot/internal/fetcher"
	"olx_bot/internal/metrics"
	"olx_bot/internal/parser"
	"olx_bot/internal/scheduler"
	"olx_bot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// One limiter for every request to the source site, scheduler and /add alike.
	limiter := rate.NewLimiter(rate.Limit(cfg.SourceRPS), 1)
	f := fetcher.New(&http.Client{},
		fetcher.WithUserAgent(cfg.UserAgent),
		fetcher.WithLimiter(limiter),
	)
	p := parser.New(cfg.SourceBaseURL, log)

	b, err := bot.New(cfg, store, f, p, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(store, f, p, b, m, log,
		scheduler.WithInterval(cfg.PollInterval),
		scheduler.WithEnrichment(cfg.EnrichDetails),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case cfg.MetricsAddr != "":
		go serveMetrics(ctx, cfg.MetricsAddr, metrics.Handler(reg), log)
	case cfg.WebhookMode():
		b.Mount("/metrics", metrics.Handler(reg))
	}

	log.Info("starting bot", "webhook", cfg.WebhookMode(), "interval", cfg.PollInterval)

	go sched.Run(ctx)

	if err := b.Run(ctx); err != nil {
		log.Error("bot stopped with error", "error", err)
		cancel()
		os.Exit(1)
	}

	log.Info("bot stopped")
}

func serveMetrics(ctx context.Context, addr string, h http.Handler, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics server started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
