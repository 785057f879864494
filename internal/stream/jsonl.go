package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLWriter appends JSON records to a file, one per line.
type JSONLWriter struct {
	path string
	mu   sync.Mutex
}

func NewJSONLWriter(path string) *JSONLWriter {
	return &JSONLWriter{path: path}
}

// Append writes records as JSON lines in one flush.
func (w *JSONLWriter) Append(records ...any) error {
	if len(records) == 0 {
		return nil
	}

	dir := filepath.Dir(w.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// JSONLRecord is one line written by JSONLPublisher.
type JSONLRecord struct {
	Subject string          `json:"subject"`
	MsgID   string          `json:"msg_id,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// JSONLPublisher writes published records to a local file instead of a
// server. Used for dry runs and fixtures.
type JSONLPublisher struct {
	w *JSONLWriter
}

func NewJSONLPublisher(path string) *JSONLPublisher {
	return &JSONLPublisher{w: NewJSONLWriter(path)}
}

func (p *JSONLPublisher) Publish(ctx context.Context, subject string, data []byte, msgID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !json.Valid(data) {
		return fmt.Errorf("publish %s: data is not json", subject)
	}
	return p.w.Append(JSONLRecord{Subject: subject, MsgID: msgID, Data: json.RawMessage(data)})
}
