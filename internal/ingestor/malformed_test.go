package ingestor

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"flowpipe/internal/chain"
	"flowpipe/internal/metrics"
)

func TestDropMalformedLogsAndCounts(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	reg := prometheus.NewRegistry()
	report := DropMalformed(metrics.New(reg), zap.New(core))

	report(chain.MalformedEntry{Height: 103, Type: vaultCreated, TransactionID: "tx2", Err: errors.New("bad index")})

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, uint64(103), fields["height"])
	require.Equal(t, vaultCreated, fields["event_type"])
	require.Equal(t, "tx2", fields["tx_id"])

	expected := `
# HELP flowpipe_events_dropped_total Events dropped without publication.
# TYPE flowpipe_events_dropped_total counter
flowpipe_events_dropped_total{reason="malformed_entry",stage="ingest"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "flowpipe_events_dropped_total"))

	// nil metrics and logger are allowed
	DropMalformed(nil, nil)(chain.MalformedEntry{Height: 1})
}
