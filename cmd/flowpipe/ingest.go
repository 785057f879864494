package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"flowpipe/internal/chain"
	"flowpipe/internal/checkpoint"
	"flowpipe/internal/config"
	"flowpipe/internal/ingestor"
	"flowpipe/internal/metrics"
	"flowpipe/internal/source"
	"flowpipe/internal/stream"
)

func runIngest(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadIngest(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.With(zap.String("role", "ingest"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := newRegistry()
	m := metrics.New(reg)

	access, err := chain.NewClient(cfg.AccessURL, nil)
	if err != nil {
		return err
	}
	defer access.Close()
	access.OnMalformed(ingestor.DropMalformed(m, logger))

	var nc *stream.Client
	if cfg.NeedsNATS() {
		nc, err = stream.Connect(cfg.NATSURL, "flowpipe-ingest-"+cfg.Network, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
	}

	publisher, err := rawPublisher(ctx, cfg, nc)
	if err != nil {
		return err
	}

	store, closeStore, err := checkpointStore(ctx, cfg, nc)
	if err != nil {
		return err
	}
	defer closeStore()

	src := eventSource(cfg, access, m, logger)

	ing := ingestor.New(ingestor.Config{
		Network:         cfg.Network,
		Consumer:        cfg.Consumer,
		EventTypes:      cfg.EventTypes,
		StartHeight:     cfg.StartHeight,
		ResetCheckpoint: cfg.CheckpointReset,
		MaxRetries:      cfg.MaxRetries,
		RetryBackoff:    cfg.RetryBackoff,
	}, src, publisher, store, access, m, logger)

	logger.Info("ingest start",
		zap.String("network", cfg.Network),
		zap.String("access", cfg.AccessURL),
		zap.String("ws", cfg.WSURL),
		zap.String("mode", cfg.Mode),
		zap.Int("event_types", len(cfg.EventTypes)),
		zap.String("checkpoint_backend", cfg.CheckpointBackend),
		zap.String("sink", cfg.Sink),
		zap.Uint64("start_height", cfg.StartHeight),
		zap.Bool("checkpoint_reset", cfg.CheckpointReset),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return metrics.Serve(gctx, cfg.MetricsAddr, reg, logger)
	})
	g.Go(func() error {
		defer stop()
		return ing.Run(gctx)
	})
	return g.Wait()
}

func rawPublisher(ctx context.Context, cfg config.IngestConfig, nc *stream.Client) (stream.Publisher, error) {
	if cfg.Sink == config.SinkJSONL {
		return stream.NewJSONLPublisher(cfg.Out), nil
	}
	err := nc.EnsureStream(ctx, stream.RawStreamName, stream.RawSubjects(), stream.Limits{
		MaxAge:   cfg.StreamMaxAge,
		MaxBytes: cfg.StreamMaxBytes,
	})
	if err != nil {
		return nil, err
	}
	return nc, nil
}

func checkpointStore(ctx context.Context, cfg config.IngestConfig, nc *stream.Client) (checkpoint.Store, func(), error) {
	noop := func() {}
	switch cfg.CheckpointBackend {
	case config.BackendPostgres:
		store, err := checkpoint.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, noop, fmt.Errorf("open postgres checkpoint store: %w", err)
		}
		return store, store.Close, nil
	case config.BackendFile:
		return checkpoint.NewFileStore(cfg.CheckpointFile), noop, nil
	default:
		store, err := checkpoint.NewKVStore(ctx, nc.JetStream(), checkpoint.DefaultBucket)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	}
}

// eventSource builds the poll strategy, or push with poll as the fallback
// for a failed first connection.
func eventSource(cfg config.IngestConfig, access *chain.Client, m *metrics.Metrics, logger *zap.Logger) source.Source {
	poller := source.NewPoller(source.PollConfig{
		EventTypes:   cfg.EventTypes,
		Interval:     cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, access, logger.Named("poll"))
	if cfg.Mode == config.ModePoll {
		return poller
	}

	dialer := chain.WSDialer{URL: cfg.WSURL, PingInterval: cfg.PingInterval, Logger: logger.Named("ws")}
	dial := func(ctx context.Context) (source.Stream, error) {
		s, err := dialer.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	pusher := source.NewPusher(source.PushConfig{
		EventTypes:        cfg.EventTypes,
		Reconnect:         source.Backoff{Base: cfg.ReconnectBase, Max: cfg.ReconnectMax},
		HeartbeatInterval: cfg.HeartbeatInterval,
		OnMalformed:       ingestor.DropMalformed(m, logger.Named("push")),
	}, dial, logger.Named("push"), func() { m.Reconnect(cfg.Network) })

	return &source.Fallback{Primary: pusher, Secondary: poller, Logger: logger}
}
