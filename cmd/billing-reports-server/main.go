package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/billing-reports/internal/config"
	"github.com/dvloznov/billing-reports/internal/gcsusage"
	"github.com/dvloznov/billing-reports/internal/httpserver"
	infraBQ "github.com/dvloznov/billing-reports/internal/infra/bigquery"
	"github.com/dvloznov/billing-reports/internal/logger"
	"github.com/dvloznov/billing-reports/internal/reports"
)

func main() {
	var (
		port    = flag.String("port", "8080", "HTTP server port")
		cfgPath = flag.String("config", os.Getenv("BILLING_REPORTS_CONFIG"), "path to the YAML config file (or set BILLING_REPORTS_CONFIG)")
	)
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()

	repo, err := infraBQ.NewRepository(ctx, cfg.ProjectID, cfg.BillingProjectID, cfg.BillingDatasetID, cfg.JobsRegion)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create warehouse repository")
	}
	defer repo.Close()

	objects, err := gcsusage.NewService(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage service")
	}
	defer objects.Close()

	runner := reports.NewRunner(cfg, reports.Deps{
		Checker: repo,
		Writer:  repo,
		Jobs:    repo,
		Sizer:   repo,
		Objects: objects,
	})

	runHandler := httpserver.NewRunHandler(runner, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			runHandler.Run(w, r)
		} else {
			httpserver.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			runHandler.Status(w, r)
		} else {
			httpserver.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		runHandler.Health(w, r)
	})

	// Apply middleware
	handler := httpserver.Recovery(log)(
		httpserver.Logger(log)(
			httpserver.RequestID(mux),
		),
	)

	// A report run holds the /run request open, so the write timeout must
	// outlast the longest plausible run.
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting report server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
