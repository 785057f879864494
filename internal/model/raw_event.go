package model

import (
	"encoding/json"
)

// ContractRef names the contract that emitted an event.
type ContractRef struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// RawEvent is one on-chain event, routed by contract and name with its payload left undecoded.
type RawEvent struct {
	Network     string          `json:"network"`
	BlockHeight uint64          `json:"blockHeight"`
	TxIndex     uint64          `json:"txIndex"`
	EvIndex     uint64          `json:"evIndex"`
	TxID        string          `json:"txId"`
	Contract    ContractRef     `json:"contract"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
}

// Position returns the event's place in the network-wide total order.
func (e RawEvent) Position() Position {
	return Position{Height: e.BlockHeight, TxIndex: e.TxIndex, EvIndex: e.EvIndex}
}

// MarshalJSON keeps an absent payload encoded as null instead of failing on an empty RawMessage.
func (e RawEvent) MarshalJSON() ([]byte, error) {
	type Alias RawEvent
	a := Alias(e)
	if len(a.Payload) == 0 {
		a.Payload = json.RawMessage("null")
	}
	return json.Marshal(a)
}
