package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"edurag/internal/api"
	"edurag/internal/app"
	"edurag/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the ingestion workers",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.Observability.ServiceName,
		Environment: cfg.Observability.Environment,
		Version:     app.Version,
	})

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	workers := a.NewWorkers()
	if _, err := a.Recover(ctx, workers); err != nil {
		log.Warn("startup recovery incomplete", "error", err)
	}
	a.StartCleaner(ctx)

	if strings.EqualFold(cfg.BasicConfig.LogMode, "prod") || strings.EqualFold(cfg.BasicConfig.LogMode, "production") {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(api.Options{
		Documents:      a.Documents,
		Tracker:        a.Tracker,
		Jobs:           workers,
		QA:             a.QA,
		Store:          a.Store,
		Checks:         a.HealthChecks(),
		FileBaseDir:    cfg.BasicConfig.FileBaseDir,
		MaxUploadBytes: cfg.Ingestion.MaxUploadBytes,
		AllowedTypes:   cfg.Ingestion.AllowedTypes,
		Version:        app.Version,
		Log:            log,
	})
	router := api.NewRouter(handler, api.RouterConfig{ServiceName: cfg.Observability.ServiceName})

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Warn("http shutdown", "error", serr)
	}
	if werr := workers.Shutdown(shutdownCtx); werr != nil {
		log.Warn("worker shutdown", "error", werr)
	}
	if oerr := shutdownOTel(shutdownCtx); oerr != nil {
		log.Warn("otel shutdown", "error", oerr)
	}
	if cerr := a.Close(shutdownCtx); cerr != nil {
		log.Warn("close resources", "error", cerr)
	}
	return err
}
