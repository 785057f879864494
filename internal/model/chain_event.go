package model

import (
	"encoding/json"
	"sort"
)

// ChainEvent is an event as delivered by the chain access layer, before routing.
type ChainEvent struct {
	Type             string          `json:"type"`
	TransactionID    string          `json:"transaction_id"`
	TransactionIndex uint64          `json:"transaction_index"`
	EventIndex       uint64          `json:"event_index"`
	BlockHeight      uint64          `json:"block_height"`
	Payload          json.RawMessage `json:"payload"`
}

// Block carries every tracked event at Height. Receiving a Block means all
// heights at or below Height have been delivered, so an empty Block still
// lets the cursor move forward.
type Block struct {
	Height uint64
	Events []ChainEvent
}

// SortEvents orders events by transaction index, then event index.
func SortEvents(events []ChainEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].TransactionIndex != events[j].TransactionIndex {
			return events[i].TransactionIndex < events[j].TransactionIndex
		}
		return events[i].EventIndex < events[j].EventIndex
	})
}

// GroupByHeight buckets events into blocks in ascending height order.
func GroupByHeight(events []ChainEvent) []Block {
	byHeight := make(map[uint64][]ChainEvent)
	for _, ev := range events {
		byHeight[ev.BlockHeight] = append(byHeight[ev.BlockHeight], ev)
	}

	heights := make([]uint64, 0, len(byHeight))
	for h := range byHeight {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	blocks := make([]Block, 0, len(heights))
	for _, h := range heights {
		evs := byHeight[h]
		SortEvents(evs)
		blocks = append(blocks, Block{Height: h, Events: evs})
	}
	return blocks
}
