package model

import "fmt"

// Position is the (height, tx index, event index) triple that totally orders
// events within one network.
type Position struct {
	Height  uint64
	TxIndex uint64
	EvIndex uint64
}

// Compare returns -1, 0 or 1 comparing p to o lexicographically.
func (p Position) Compare(o Position) int {
	switch {
	case p.Height != o.Height:
		return cmpUint(p.Height, o.Height)
	case p.TxIndex != o.TxIndex:
		return cmpUint(p.TxIndex, o.TxIndex)
	default:
		return cmpUint(p.EvIndex, o.EvIndex)
	}
}

// Less reports whether p sorts before o.
func (p Position) Less(o Position) bool {
	return p.Compare(o) < 0
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d:%d", p.Height, p.TxIndex, p.EvIndex)
}

// MessageID is the dedup key used when the same event is published twice.
func MessageID(network string, p Position) string {
	return network + ":" + p.String()
}

func cmpUint(a, b uint64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
