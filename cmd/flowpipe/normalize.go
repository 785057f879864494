package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"flowpipe/internal/config"
	"flowpipe/internal/metrics"
	"flowpipe/internal/normalizer"
	"flowpipe/internal/stream"
)

func runNormalize(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadNormalize(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.With(zap.String("role", "normalize"))

	registry, err := normalizer.NewRegistry(cfg.DomainMap)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := newRegistry()
	m := metrics.New(reg)

	nc, err := stream.Connect(cfg.NATSURL, "flowpipe-normalize-"+cfg.Network, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	limits := stream.Limits{MaxAge: cfg.StreamMaxAge, MaxBytes: cfg.StreamMaxBytes}
	if err := nc.EnsureStream(ctx, stream.RawStreamName, stream.RawSubjects(), limits); err != nil {
		return err
	}

	var publisher stream.Publisher = nc
	if cfg.Sink == config.SinkJSONL {
		publisher = stream.NewJSONLPublisher(cfg.Out)
	} else if err := nc.EnsureStream(ctx, stream.NormStreamName, stream.NormSubjects(), limits); err != nil {
		return err
	}

	n := normalizer.New(normalizer.Config{
		Network:      cfg.Network,
		Durable:      cfg.Durable,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, registry, publisher, normalizer.NewDropLog(cfg.Errors), m, logger)

	logger.Info("normalize start",
		zap.String("network", cfg.Network),
		zap.String("durable", cfg.Durable),
		zap.String("sink", cfg.Sink),
		zap.String("errors", cfg.Errors),
		zap.Any("domain_map", cfg.DomainMap),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return metrics.Serve(gctx, cfg.MetricsAddr, reg, logger)
	})
	g.Go(func() error {
		defer stop()
		return n.Run(gctx, nc)
	})
	return g.Wait()
}
