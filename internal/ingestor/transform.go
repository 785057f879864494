package ingestor

import (
	"flowpipe/internal/model"
)

func buildRawEvent(network string, height uint64, et EventType, ev model.ChainEvent) model.RawEvent {
	return model.RawEvent{
		Network:     network,
		BlockHeight: height,
		TxIndex:     ev.TransactionIndex,
		EvIndex:     ev.EventIndex,
		TxID:        ev.TransactionID,
		Contract: model.ContractRef{
			Name:    et.Contract,
			Address: et.Address,
		},
		Type:    et.Event,
		Payload: ev.Payload,
	}
}
