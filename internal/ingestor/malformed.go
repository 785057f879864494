package ingestor

import (
	"go.uber.org/zap"

	"flowpipe/internal/chain"
	"flowpipe/internal/metrics"
)

// ReasonMalformedEntry labels event entries the access layer could not convert.
const ReasonMalformedEntry = "malformed_entry"

// DropMalformed returns a chain.MalformedFunc that logs and counts skipped
// event entries. The rest of their block is still delivered.
func DropMalformed(m *metrics.Metrics, logger *zap.Logger) chain.MalformedFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(e chain.MalformedEntry) {
		m.Dropped("ingest", ReasonMalformedEntry)
		logger.Warn("skip malformed event entry",
			zap.Uint64("height", e.Height),
			zap.String("event_type", e.Type),
			zap.String("tx_id", e.TransactionID),
			zap.Error(e.Err),
		)
	}
}
