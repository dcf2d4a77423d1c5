package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"sfm/internal/bus"
	"sfm/internal/consumer"
	"sfm/internal/logging"
	"sfm/internal/records"
)

func newConsumeCommand(ctx *commandContext) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Apply harvest status and warc events from the message bus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsumer(cmd.Context(), ctx, metricsAddr, cmd.Flags().Changed("metrics-addr"))
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for the Prometheus metrics endpoint (empty disables)")
	return cmd
}

func runConsumer(cmdCtx context.Context, ctx *commandContext, metricsAddr string, metricsAddrSet bool) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return err
	}
	if !metricsAddrSet {
		metricsAddr = cfg.Consumer.MetricsAddr
	}

	lock := flock.New(cfg.ConsumerLockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire consumer lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another consumer holds %s", cfg.ConsumerLockPath())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release consumer lock", logging.Error(err))
		}
	}()

	store, err := records.Open(cfg)
	if err != nil {
		logger.Error("open record store", logging.Error(err))
		return err
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	handler := consumer.New(store, logger, consumer.WithMetrics(consumer.NewMetrics(registry)))

	if metricsAddr != "" {
		stop, err := serveMetrics(metricsAddr, registry, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	client, err := bus.NewClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	subscriber := bus.NewSubscriber(client, handler.Handle, bus.SubscriberConfig{
		Channels:          cfg.Redis.Channels,
		ReconnectDelay:    cfg.ReconnectDelay(),
		MaxReconnectDelay: cfg.MaxReconnectDelay(),
	}, logger)

	logger.Info("consumer started",
		logging.String("lock", cfg.ConsumerLockPath()),
		logging.Any("channels", cfg.Redis.Channels),
	)
	err = subscriber.Run(cmdCtx)
	logger.Info("consumer shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveMetrics exposes the registry on addr and returns a shutdown func.
func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", logging.Error(err))
		}
	}()
	logger.Info("metrics endpoint listening", logging.String("addr", listener.Addr().String()))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}, nil
}
