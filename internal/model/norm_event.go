package model

// NormEvent is a raw event with its payload flattened and classified into a domain.
type NormEvent struct {
	Network     string         `json:"network"`
	Type        string         `json:"type"`
	VaultID     string         `json:"vaultId,omitempty"`
	BlockHeight uint64         `json:"blockHeight"`
	TxIndex     uint64         `json:"txIndex"`
	EvIndex     uint64         `json:"evIndex"`
	TxID        string         `json:"txId"`
	Payload     map[string]any `json:"payload"`
}

// Position returns the event's place in the network-wide total order.
func (e NormEvent) Position() Position {
	return Position{Height: e.BlockHeight, TxIndex: e.TxIndex, EvIndex: e.EvIndex}
}
