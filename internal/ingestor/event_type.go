package ingestor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrMalformedEventType is returned for type strings that are neither
// A.<address>.<Contract>.<Event> nor <address>.<Contract>.<Event>.
var ErrMalformedEventType = errors.New("malformed event type")

const flowAddressLength = 8

// EventType is a parsed fully-qualified event type.
type EventType struct {
	Address  string
	Contract string
	Event    string
}

// ParseEventType splits a fully-qualified event type. The address is
// returned as 0x-prefixed hex, left-padded to a Flow address width.
func ParseEventType(value string) (EventType, error) {
	parts := strings.Split(strings.TrimSpace(value), ".")
	switch {
	case len(parts) == 4 && parts[0] == "A":
		parts = parts[1:]
	case len(parts) == 3:
	default:
		return EventType{}, fmt.Errorf("%w: %q", ErrMalformedEventType, value)
	}

	address, err := normalizeAddress(parts[0])
	if err != nil {
		return EventType{}, fmt.Errorf("%w: %q: %v", ErrMalformedEventType, value, err)
	}
	if parts[1] == "" || parts[2] == "" {
		return EventType{}, fmt.Errorf("%w: %q", ErrMalformedEventType, value)
	}
	return EventType{Address: address, Contract: parts[1], Event: parts[2]}, nil
}

func normalizeAddress(input string) (string, error) {
	hex := strings.TrimPrefix(strings.TrimPrefix(input, "0x"), "0X")
	if hex == "" {
		return "", fmt.Errorf("empty address")
	}
	if len(hex) > flowAddressLength*2 {
		return "", fmt.Errorf("address longer than %d bytes", flowAddressLength)
	}
	hex = strings.Repeat("0", flowAddressLength*2-len(hex)) + hex

	data, err := hexutil.Decode("0x" + hex)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(data), nil
}
