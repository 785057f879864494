package model

// DropRecord describes a message the pipeline acknowledged without publishing.
type DropRecord struct {
	Stage       string `json:"stage"`
	Reason      string `json:"reason"`
	Subject     string `json:"subject"`
	Network     string `json:"network,omitempty"`
	BlockHeight uint64 `json:"block_height,omitempty"`
	TxID        string `json:"tx_id,omitempty"`
	Type        string `json:"type,omitempty"`
	Contract    string `json:"contract,omitempty"`
	Error       string `json:"error"`
	DroppedAt   string `json:"dropped_at"`
}
