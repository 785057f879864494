package main

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"flowpipe/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "flowpipe",
		Short:        "Flow event ingestion and normalization pipeline",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Stream chain events into the raw event log",
		RunE:  runIngest,
	}

	ingestCmd.Flags().String("network", "testnet", "network identifier (emulator, testnet, mainnet)")
	ingestCmd.Flags().String("nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	ingestCmd.Flags().String("access-url", "https://rest-testnet.onflow.org", "access node REST URL")
	ingestCmd.Flags().String("ws-url", "", "access node websocket URL (derived from access-url when empty)")
	ingestCmd.Flags().String("mode", config.ModePush, "event source (push, poll)")
	ingestCmd.Flags().Duration("poll-interval", 2*time.Second, "poll interval")
	ingestCmd.Flags().Uint64("batch-size", 250, "max heights per range query")
	ingestCmd.Flags().StringSlice("event-types", nil, "event types to ingest (comma-separated)")
	ingestCmd.Flags().String("event-types-file", "", "file with one event type per line")
	ingestCmd.Flags().Uint64("start-height", 0, "first height to ingest when no checkpoint exists")
	ingestCmd.Flags().Bool("checkpoint-reset", false, "overwrite the checkpoint with start-height - 1")
	ingestCmd.Flags().String("consumer", "ingestor", "checkpoint consumer name")
	ingestCmd.Flags().String("checkpoint-backend", config.BackendKV, "checkpoint store (kv, postgres, file)")
	ingestCmd.Flags().String("checkpoint-file", "./data/checkpoints.json", "checkpoint file for the file backend")
	ingestCmd.Flags().String("pg-dsn", "", "Postgres DSN for the postgres backend")
	ingestCmd.Flags().String("sink", config.SinkJetStream, "raw event sink (jetstream, jsonl)")
	ingestCmd.Flags().String("out", "./data/raw_events.jsonl", "output JSONL path for the jsonl sink")
	ingestCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	ingestCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	ingestCmd.Flags().Duration("reconnect-base", 500*time.Millisecond, "initial reconnect delay")
	ingestCmd.Flags().Duration("reconnect-max", 30*time.Second, "reconnect delay cap")
	ingestCmd.Flags().Duration("ping-interval", 20*time.Second, "websocket keep-alive interval")
	ingestCmd.Flags().Uint64("heartbeat-interval", 10, "blocks between empty event heartbeats")
	ingestCmd.Flags().Duration("stream-max-age", 72*time.Hour, "raw stream retention")
	ingestCmd.Flags().Int64("stream-max-bytes", 0, "raw stream size bound, 0 means unlimited")
	ingestCmd.Flags().String("metrics-addr", ":9102", "metrics and health listen address, empty disables")
	ingestCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(ingestCmd)

	normalizeCmd := &cobra.Command{
		Use:   "normalize",
		Short: "Normalize raw events into domain events",
		RunE:  runNormalize,
	}

	normalizeCmd.Flags().String("network", "testnet", "network identifier")
	normalizeCmd.Flags().String("nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	normalizeCmd.Flags().String("durable", "", "durable consumer name (default normalizer-<network>)")
	normalizeCmd.Flags().String("domain-map", "", "extra contract->domain mappings (comma-separated key=value)")
	normalizeCmd.Flags().String("errors", "", "JSONL file for dropped messages")
	normalizeCmd.Flags().String("sink", config.SinkJetStream, "normalized event sink (jetstream, jsonl)")
	normalizeCmd.Flags().String("out", "./data/norm_events.jsonl", "output JSONL path for the jsonl sink")
	normalizeCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	normalizeCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	normalizeCmd.Flags().Duration("stream-max-age", 72*time.Hour, "stream retention")
	normalizeCmd.Flags().Int64("stream-max-bytes", 0, "stream size bound, 0 means unlimited")
	normalizeCmd.Flags().String("metrics-addr", ":9103", "metrics and health listen address, empty disables")
	normalizeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(normalizeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
