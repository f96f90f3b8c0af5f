package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/observatory/internal/api"
	"github.com/rewired-gh/observatory/internal/logger"
	"github.com/rewired-gh/observatory/internal/tracing"
)

var serveNoIngest bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the flows API with background ingestion",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoIngest, "no-ingest", false, "serve stored data only, without the ingestion loop")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Options{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("Failed to flush traces: %v", err)
		}
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	gin.SetMode(cfg.API.Mode)

	checks := map[string]api.Pinger{"storage": a.store}
	if a.redis != nil {
		checks["redis"] = a.redis
	}
	routerCfg := api.RouterConfig{
		FlowsHandler:  api.NewFlowsHandler(a.detector, cfg.Detector.DefaultTimeWindow),
		HealthHandler: api.NewHealthHandler(checks),
		Metrics:       a.metrics,
	}
	if cfg.Metrics.Enabled {
		routerCfg.MetricsPath = cfg.Metrics.Path
	}
	if cfg.Tracing.Enabled {
		routerCfg.ServiceName = cfg.Tracing.ServiceName
	}
	server := api.NewServer(routerCfg, api.ServerOptions{
		Addr:            cfg.API.Addr,
		ReadTimeout:     cfg.API.ReadTimeout,
		WriteTimeout:    cfg.API.WriteTimeout,
		ShutdownTimeout: cfg.API.ShutdownTimeout,
	})

	var wg sync.WaitGroup
	if serveNoIngest {
		logger.Info("Ingestion disabled, serving stored observations only")
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.ingestLoop(ctx)
		}()
	}

	err = server.Run(ctx)
	stop()
	wg.Wait()
	if err != nil {
		return err
	}
	logger.Info("Observatory stopped")
	return nil
}
