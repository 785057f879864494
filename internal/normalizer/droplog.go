package normalizer

import (
	"time"

	"flowpipe/internal/model"
	"flowpipe/internal/stream"
)

// DropLog appends dropped messages to a JSONL file. A nil *DropLog
// discards records.
type DropLog struct {
	w   *stream.JSONLWriter
	now func() time.Time
}

func NewDropLog(path string) *DropLog {
	if path == "" {
		return nil
	}
	return &DropLog{w: stream.NewJSONLWriter(path), now: time.Now}
}

func (d *DropLog) Write(rec model.DropRecord) error {
	if d == nil {
		return nil
	}
	if rec.DroppedAt == "" {
		rec.DroppedAt = d.now().UTC().Format(time.RFC3339Nano)
	}
	return d.w.Append(rec)
}
