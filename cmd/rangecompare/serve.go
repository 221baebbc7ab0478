package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"rangecompare/internal/api"
	"rangecompare/internal/compare"
	"rangecompare/internal/metrics"
	"rangecompare/internal/refresh"
)

func serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the comparison service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides server.listen")
	return cmd
}

func serve(listen string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	src, closeSource, err := buildSource(cfg, m)
	if err != nil {
		return err
	}
	defer closeSource()

	opts, err := cfg.CompareOptions()
	if err != nil {
		return err
	}
	opts.Metrics = m
	coord, err := compare.New(src, opts)
	if err != nil {
		return err
	}

	server := api.NewServer(coord, api.Options{
		Title:       cfg.Title,
		UnitLabel:   cfg.UnitLabel,
		Theme:       cfg.ChartTheme(),
		CORSOrigins: cfg.Server.CORSOrigins,
		TokenHash:   cfg.Server.TokenHash,
		RateLimit:   cfg.Server.RateLimit,
		Metrics:     m,
		Gatherer:    reg,
	})

	var sched *refresh.Scheduler
	if cfg.RefreshCron != "" {
		sched = refresh.NewScheduler(coord)
		if err := sched.Register(cfg.RefreshCron); err != nil {
			return err
		}
		sched.Start()
	}

	coord.Start(time.Now())

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"addr":   cfg.Server.Listen,
			"entity": cfg.Entity,
			"unit":   opts.Unit,
			"order":  opts.Ordering.String(),
		}).Info("starting rangecompare server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		log.WithError(err).Error("HTTP server error")
	}

	log.Info("shutting down server")

	if sched != nil {
		sched.Stop()
	}
	server.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown error")
	}

	coord.Close()
	log.Info("server shutdown complete")
	return nil
}
