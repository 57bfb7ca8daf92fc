package main

import (
	"context"
	"fmt"

	"github.com/efebarandurmaz/eos/internal/archive"
	"github.com/efebarandurmaz/eos/internal/bridge"
	"github.com/efebarandurmaz/eos/internal/observability"
	"github.com/efebarandurmaz/eos/internal/server"
	"github.com/efebarandurmaz/eos/internal/speech"
)

func runServe(a *app) error {
	cfg := a.cfg

	shutdown := server.NewShutdownHandler(&server.ShutdownConfig{
		Timeout: server.DefaultShutdownConfig().Timeout,
		Signals: server.DefaultShutdownConfig().Signals,
		Logger:  a.logger,
	})
	shutdown.Register(server.TracingShutdownHook(a.tracer.Shutdown))

	health := server.NewHealthServer(&server.HealthConfig{Version: version})
	health.RegisterCheck("completion", server.CompletionHealthChecker(a.client.Endpoint(), a.client.Ping))
	if url, err := speech.HealthURL(cfg.Speech.URL); err == nil {
		health.RegisterCheck("speech", server.SpeechHealthChecker(nil, url))
	} else {
		a.logger.Warn("speech health check disabled", "error", err)
	}

	hub := bridge.NewHub()
	opts := bridge.Options{
		Asker:         a.gw,
		Window:        bridge.NewEventWindow(hub, shutdown.Shutdown),
		Metrics:       observability.NewMetrics(),
		Hub:           hub,
		Logger:        a.logger,
		HistoryWindow: cfg.History.Window,
		EmptyReply:    cfg.UI.EmptyReply,
	}

	if cfg.Archive.Path != "" {
		store, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		opts.Archive = store
		health.RegisterCheck("archive", server.ArchiveHealthChecker(store.Ping))
		shutdown.Register(server.ArchiveShutdownHook(store.Close))
		a.logger.Info("archive enabled", "path", cfg.Archive.Path)
	}

	srv := bridge.NewServer(bridge.Config{
		Addr:     cfg.Server.Addr,
		Commands: bridge.NewCommands(opts),
		Hub:      hub,
		Health:   health,
		Metrics:  opts.Metrics,
		Logger:   a.logger,
	})
	shutdown.Register(server.HTTPServerShutdownHook("bridge", func(ctx context.Context) error {
		health.SetReady(false)
		return srv.Shutdown(ctx)
	}))

	shutdown.Start()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
			shutdown.Shutdown()
		}
	}()
	health.SetReady(true)

	shutdown.Wait()
	select {
	case err := <-errCh:
		return err
	default:
		a.logger.Info("bridge stopped")
		return nil
	}
}
