package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// NormalizeConfig holds settings for the normalize command.
type NormalizeConfig struct {
	Network        string
	NATSURL        string
	Durable        string
	DomainMap      map[string]string
	Errors         string
	Sink           string
	Out            string
	MaxRetries     int
	RetryBackoff   time.Duration
	StreamMaxAge   time.Duration
	StreamMaxBytes int64
	MetricsAddr    string
	LogLevel       string
}

var NormalizeDefaults = map[string]interface{}{
	"network":          "testnet",
	"nats-url":         "nats://127.0.0.1:4222",
	"sink":             SinkJetStream,
	"out":              "./data/norm_events.jsonl",
	"max-retries":      5,
	"retry-backoff":    500 * time.Millisecond,
	"stream-max-age":   72 * time.Hour,
	"stream-max-bytes": int64(0),
	"metrics-addr":     ":9103",
	"log-level":        "info",
}

// LoadNormalize merges config file, environment variables, and flags into
// NormalizeConfig.
func LoadNormalize(cfgFile string, flags *pflag.FlagSet) (NormalizeConfig, error) {
	v, err := newViper(cfgFile, flags, NormalizeDefaults)
	if err != nil {
		return NormalizeConfig{}, err
	}

	cfg := NormalizeConfig{
		Network:        strings.TrimSpace(v.GetString("network")),
		NATSURL:        v.GetString("nats-url"),
		Durable:        v.GetString("durable"),
		DomainMap:      getStringMap(v, "domain-map"),
		Errors:         v.GetString("errors"),
		Sink:           strings.ToLower(v.GetString("sink")),
		Out:            v.GetString("out"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		StreamMaxAge:   v.GetDuration("stream-max-age"),
		StreamMaxBytes: v.GetInt64("stream-max-bytes"),
		MetricsAddr:    v.GetString("metrics-addr"),
		LogLevel:       v.GetString("log-level"),
	}
	if cfg.Durable == "" {
		cfg.Durable = "normalizer-" + cfg.Network
	}

	return cfg, cfg.Validate()
}

func (c NormalizeConfig) Validate() error {
	if c.Network == "" {
		return fmt.Errorf("network is required")
	}
	if c.NATSURL == "" {
		return fmt.Errorf("nats url is required")
	}
	if err := oneOf("sink", c.Sink, SinkJetStream, SinkJSONL); err != nil {
		return err
	}
	if c.Sink == SinkJSONL && c.Out == "" {
		return fmt.Errorf("out is required for the jsonl sink")
	}
	return nil
}
