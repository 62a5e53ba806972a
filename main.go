package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"feedbarn/internal/config"
	"feedbarn/internal/fetch"
	"feedbarn/internal/refresh"
	"feedbarn/internal/repo"
	"feedbarn/internal/server"
	"feedbarn/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "err", err)
		os.Exit(1)
	}

	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "err", err)
			os.Exit(1)
		}
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("open database", "path", cfg.DBPath, "err", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	r := repo.New(st)
	fetcher := fetch.New(&http.Client{Timeout: 30 * time.Second})
	pipeline := refresh.NewPipeline(r, fetcher, cfg.FetchWorkers)

	poller := refresh.NewPoller(pipeline, time.Duration(cfg.IntervalMinutes)*time.Minute)
	poller.Start()
	defer poller.Stop()

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.New(r, pipeline, cfg.Username, cfg.Password),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		log.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
}
