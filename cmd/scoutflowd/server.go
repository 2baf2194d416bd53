package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/scoutflow/scoutflow"
	"github.com/scoutflow/scoutflow/api"
	"github.com/scoutflow/scoutflow/config"
	"github.com/scoutflow/scoutflow/pipeline"
	"github.com/scoutflow/scoutflow/stream"
	"github.com/scoutflow/scoutflow/tool"
)

const shutdownTimeout = 15 * time.Second

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	listen := fs.String("listen", ":8080", "listen address")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	core, err := scoutflow.New(cfg,
		scoutflow.WithSteps(pipeline.Steps(pipeline.Options{})),
		scoutflow.WithRegistry(tool.NewRegistry()),
		scoutflow.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("start core", zap.Error(err))
	}

	logger.Info("starting scoutflowd",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
		zap.String("listen", *listen),
	)

	mux := http.NewServeMux()
	api.NewHandler(core.Sessions, logger).Register(mux)
	mux.Handle("GET /stream", stream.NewHandler(core.Sessions, core.Broker, logger))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if serr := srv.ListenAndServe(); !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case serr := <-errCh:
		logger.Error("server failed", zap.Error(serr))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(ctx); serr != nil {
		logger.Warn("http shutdown", zap.Error(serr))
	}
	if cerr := core.Close(); cerr != nil {
		logger.Warn("core shutdown", zap.Error(cerr))
	}
	logger.Info("scoutflowd stopped")
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = level
	return zcfg.Build()
}
