package chain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"flowpipe/internal/model"
)

// EventsBlock is the per-block event envelope shared by the REST events
// endpoint and the WebSocket events topic.
type EventsBlock struct {
	BlockID        string       `json:"block_id"`
	BlockHeight    string       `json:"block_height"`
	BlockTimestamp string       `json:"block_timestamp"`
	Events         []EventEntry `json:"events"`
}

// EventEntry is one event inside an EventsBlock.
type EventEntry struct {
	Type             string          `json:"type"`
	TransactionID    string          `json:"transaction_id"`
	TransactionIndex string          `json:"transaction_index"`
	EventIndex       string          `json:"event_index"`
	Payload          json.RawMessage `json:"payload"`
}

// Height returns the parsed block height.
func (b EventsBlock) Height() (uint64, error) {
	return parseUint(b.BlockHeight)
}

// MalformedEntry describes an event entry that could not be converted.
type MalformedEntry struct {
	Height        uint64
	Type          string
	TransactionID string
	Err           error
}

// MalformedFunc receives entries skipped during conversion.
type MalformedFunc func(MalformedEntry)

// ChainEvents converts the envelope into ChainEvents. Both delivery paths go
// through here so they produce identical records. Entries with unparsable
// indices are skipped and returned separately; only a bad block height fails
// the envelope.
func (b EventsBlock) ChainEvents() ([]model.ChainEvent, []MalformedEntry, error) {
	height, err := b.Height()
	if err != nil {
		return nil, nil, fmt.Errorf("block height %q: %w", b.BlockHeight, err)
	}

	events := make([]model.ChainEvent, 0, len(b.Events))
	var skipped []MalformedEntry
	for _, entry := range b.Events {
		txIndex, err := parseUint(entry.TransactionIndex)
		if err != nil {
			skipped = append(skipped, entry.malformed(height, fmt.Errorf("transaction index %q: %w", entry.TransactionIndex, err)))
			continue
		}
		evIndex, err := parseUint(entry.EventIndex)
		if err != nil {
			skipped = append(skipped, entry.malformed(height, fmt.Errorf("event index %q: %w", entry.EventIndex, err)))
			continue
		}
		events = append(events, model.ChainEvent{
			Type:             entry.Type,
			TransactionID:    entry.TransactionID,
			TransactionIndex: txIndex,
			EventIndex:       evIndex,
			BlockHeight:      height,
			Payload:          entry.Payload,
		})
	}
	return events, skipped, nil
}

func (e EventEntry) malformed(height uint64, err error) MalformedEntry {
	return MalformedEntry{Height: height, Type: e.Type, TransactionID: e.TransactionID, Err: err}
}

// BlockDigest is the payload of the block digests topic.
type BlockDigest struct {
	BlockID   string `json:"block_id"`
	Height    string `json:"height"`
	Timestamp string `json:"timestamp"`
}

// parseUint accepts decimal strings; Flow encodes uint64 values as strings.
func parseUint(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

// ParseHeight parses a height string as sent by the access API.
func ParseHeight(s string) (uint64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty height")
	}
	return parseUint(s)
}
