package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Source modes.
const (
	ModePush = "push"
	ModePoll = "poll"
)

// Checkpoint backends.
const (
	BackendKV       = "kv"
	BackendPostgres = "postgres"
	BackendFile     = "file"
)

// Sinks.
const (
	SinkJetStream = "jetstream"
	SinkJSONL     = "jsonl"
)

// IngestConfig holds settings for the ingest command.
type IngestConfig struct {
	Network           string
	NATSURL           string
	AccessURL         string
	WSURL             string
	Mode              string
	PollInterval      time.Duration
	BatchSize         uint64
	EventTypes        []string
	EventTypesFile    string
	StartHeight       uint64
	CheckpointReset   bool
	Consumer          string
	CheckpointBackend string
	CheckpointFile    string
	PGDSN             string
	Sink              string
	Out               string
	MaxRetries        int
	RetryBackoff      time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	PingInterval      time.Duration
	HeartbeatInterval uint64
	StreamMaxAge      time.Duration
	StreamMaxBytes    int64
	MetricsAddr       string
	LogLevel          string
}

// IngestDefaults are the ingest defaults, shared with flag registration.
var IngestDefaults = map[string]interface{}{
	"network":            "testnet",
	"nats-url":           "nats://127.0.0.1:4222",
	"access-url":         "https://rest-testnet.onflow.org",
	"mode":               ModePush,
	"poll-interval":      2 * time.Second,
	"batch-size":         uint64(250),
	"consumer":           "ingestor",
	"checkpoint-backend": BackendKV,
	"checkpoint-file":    "./data/checkpoints.json",
	"sink":               SinkJetStream,
	"out":                "./data/raw_events.jsonl",
	"max-retries":        5,
	"retry-backoff":      500 * time.Millisecond,
	"reconnect-base":     500 * time.Millisecond,
	"reconnect-max":      30 * time.Second,
	"ping-interval":      20 * time.Second,
	"heartbeat-interval": uint64(10),
	"stream-max-age":     72 * time.Hour,
	"stream-max-bytes":   int64(0),
	"metrics-addr":       ":9102",
	"log-level":          "info",
}

// LoadIngest merges config file, environment variables, and flags into
// IngestConfig. Event types from the inline list and the file are merged.
func LoadIngest(cfgFile string, flags *pflag.FlagSet) (IngestConfig, error) {
	v, err := newViper(cfgFile, flags, IngestDefaults)
	if err != nil {
		return IngestConfig{}, err
	}

	cfg := IngestConfig{
		Network:           strings.TrimSpace(v.GetString("network")),
		NATSURL:           v.GetString("nats-url"),
		AccessURL:         v.GetString("access-url"),
		WSURL:             v.GetString("ws-url"),
		Mode:              strings.ToLower(v.GetString("mode")),
		PollInterval:      v.GetDuration("poll-interval"),
		BatchSize:         v.GetUint64("batch-size"),
		EventTypesFile:    v.GetString("event-types-file"),
		StartHeight:       v.GetUint64("start-height"),
		CheckpointReset:   v.GetBool("checkpoint-reset"),
		Consumer:          v.GetString("consumer"),
		CheckpointBackend: strings.ToLower(v.GetString("checkpoint-backend")),
		CheckpointFile:    v.GetString("checkpoint-file"),
		PGDSN:             v.GetString("pg-dsn"),
		Sink:              strings.ToLower(v.GetString("sink")),
		Out:               v.GetString("out"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		ReconnectBase:     v.GetDuration("reconnect-base"),
		ReconnectMax:      v.GetDuration("reconnect-max"),
		PingInterval:      v.GetDuration("ping-interval"),
		HeartbeatInterval: v.GetUint64("heartbeat-interval"),
		StreamMaxAge:      v.GetDuration("stream-max-age"),
		StreamMaxBytes:    v.GetInt64("stream-max-bytes"),
		MetricsAddr:       v.GetString("metrics-addr"),
		LogLevel:          v.GetString("log-level"),
	}

	inline := getStringSlice(v, "event-types")
	var fromFile []string
	if cfg.EventTypesFile != "" {
		fromFile, err = ReadEventTypes(cfg.EventTypesFile)
		if err != nil {
			return IngestConfig{}, err
		}
	}
	cfg.EventTypes = mergeTypes(inline, fromFile)

	if cfg.WSURL == "" {
		cfg.WSURL = DeriveWSURL(cfg.AccessURL)
	}

	return cfg, cfg.Validate()
}

// Validate checks enumerated options and backend requirements. An empty
// event type list is not checked here.
func (c IngestConfig) Validate() error {
	if c.Network == "" {
		return fmt.Errorf("network is required")
	}
	if err := oneOf("mode", c.Mode, ModePush, ModePoll); err != nil {
		return err
	}
	if err := oneOf("checkpoint-backend", c.CheckpointBackend, BackendKV, BackendPostgres, BackendFile); err != nil {
		return err
	}
	if err := oneOf("sink", c.Sink, SinkJetStream, SinkJSONL); err != nil {
		return err
	}
	if c.AccessURL == "" {
		return fmt.Errorf("access url is required")
	}
	if c.CheckpointBackend == BackendPostgres && c.PGDSN == "" {
		return fmt.Errorf("pg-dsn is required for the postgres checkpoint backend")
	}
	if c.CheckpointBackend == BackendFile && c.CheckpointFile == "" {
		return fmt.Errorf("checkpoint-file is required for the file checkpoint backend")
	}
	if c.Sink == SinkJSONL && c.Out == "" {
		return fmt.Errorf("out is required for the jsonl sink")
	}
	if c.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	return nil
}

// NeedsNATS reports whether the run touches the NATS server at all.
func (c IngestConfig) NeedsNATS() bool {
	return c.Sink == SinkJetStream || c.CheckpointBackend == BackendKV
}

// DeriveWSURL maps a REST access URL to its streaming endpoint,
// https://host -> wss://host/v1/ws.
func DeriveWSURL(accessURL string) string {
	u, err := url.Parse(strings.TrimSpace(accessURL))
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws"
	u.RawQuery = ""
	return u.String()
}
