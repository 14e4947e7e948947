package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robertmeta/podcatch/bus"
	"github.com/robertmeta/podcatch/detector"
	"github.com/robertmeta/podcatch/download"
	"github.com/robertmeta/podcatch/export"
	"github.com/robertmeta/podcatch/overlay"
	"github.com/robertmeta/podcatch/server"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 5 * time.Second

func serve(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitUsageError)
	}
	if c.IsSet("proxy-addr") {
		cfg.Server.ProxyAddr = c.String("proxy-addr")
	}
	if c.IsSet("control-addr") {
		cfg.Server.ControlAddr = c.String("control-addr")
	}

	s, err := getStore(cfg)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.New(logger)
	det := detector.New(b, logger)

	manager := download.NewManager(cfg.Download.Dir, cfg.Download.Workers, cfg.Download.QueueSize, nil, logger)
	manager.Start(ctx)
	exporter := export.New(s, manager, b, cfg.SampleOptions(), logger)

	var view overlay.View = overlay.NopView{}
	if cfg.Overlay.Render {
		view = overlay.NewTableView(os.Stderr)
	}

	// One session per serve process; visibility flags do not outlive it.
	session := uuid.NewString()
	srv, err := server.New(ctx, server.Deps{
		Records:  s,
		Flags:    s,
		Bus:      b,
		Detector: det,
		Exporter: exporter,
	}, server.Options{
		Overlay: overlay.Config{
			InferDelay:     cfg.Overlay.InferDelay(),
			AdvanceCursor:  cfg.Overlay.AdvanceCursor,
			DefaultVisible: cfg.Overlay.DefaultVisible,
			Session:        session,
		},
		Rules:     cfg.TitleTable(),
		View:      view,
		ExportDir: cfg.Export.CreatorDir,
	}, logger)
	if err != nil {
		return cli.Exit(err.Error(), ExitGeneralError)
	}
	defer srv.Close()

	servers := []*http.Server{
		{Addr: cfg.Server.ControlAddr, Handler: srv.Handler()},
		{Addr: cfg.Server.ProxyAddr, Handler: det.Proxy(nil)},
	}

	errCh := make(chan error, len(servers))
	for _, hs := range servers {
		go func(hs *http.Server) {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen on %s: %w", hs.Addr, err)
			}
		}(hs)
	}

	logger.Info("podcatch serving",
		slog.String("control_addr", cfg.Server.ControlAddr),
		slog.String("proxy_addr", cfg.Server.ProxyAddr),
		slog.String("session", session))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, hs := range servers {
		if err := hs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown failed", slog.String("addr", hs.Addr), slog.Any("error", err))
		}
	}

	if runErr != nil {
		return cli.Exit(runErr.Error(), ExitGeneralError)
	}
	return nil
}
