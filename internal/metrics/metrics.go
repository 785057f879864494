package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "flowpipe"

// Metrics holds the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	rawPublished      *prometheus.CounterVec
	normPublished     *prometheus.CounterVec
	checkpointHeight  *prometheus.GaugeVec
	checkpointFailure *prometheus.CounterVec
	reconnects        *prometheus.CounterVec
	dropped           *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rawPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_events_published_total",
			Help:      "Raw events published to the raw log.",
		}, []string{"network", "contract", "event"}),
		normPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "norm_events_published_total",
			Help:      "Normalized events published to the normalized log.",
		}, []string{"network", "domain"}),
		checkpointHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_height",
			Help:      "Last persisted ingestion checkpoint.",
		}, []string{"network", "consumer"}),
		checkpointFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_write_failures_total",
			Help:      "Checkpoint writes abandoned after the retry schedule.",
		}, []string{"network", "consumer"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_reconnects_total",
			Help:      "Push subscription reconnect attempts.",
		}, []string{"network"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped without publication.",
		}, []string{"stage", "reason"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.rawPublished,
			m.normPublished,
			m.checkpointHeight,
			m.checkpointFailure,
			m.reconnects,
			m.dropped,
		)
	}
	return m
}

func (m *Metrics) RawPublished(network, contract, event string) {
	if m == nil {
		return
	}
	m.rawPublished.WithLabelValues(network, contract, event).Inc()
}

func (m *Metrics) NormPublished(network, domain string) {
	if m == nil {
		return
	}
	m.normPublished.WithLabelValues(network, domain).Inc()
}

func (m *Metrics) CheckpointSaved(network, consumer string, height uint64) {
	if m == nil {
		return
	}
	m.checkpointHeight.WithLabelValues(network, consumer).Set(float64(height))
}

func (m *Metrics) CheckpointFailed(network, consumer string) {
	if m == nil {
		return
	}
	m.checkpointFailure.WithLabelValues(network, consumer).Inc()
}

func (m *Metrics) Reconnect(network string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(network).Inc()
}

func (m *Metrics) Dropped(stage, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(stage, reason).Inc()
}
