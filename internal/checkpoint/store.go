package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidHeight is returned when a stored value is not a decimal height.
var ErrInvalidHeight = errors.New("invalid checkpoint height")

// Store persists the last fully processed height per key.
type Store interface {
	// Load returns the stored height and whether one exists.
	Load(ctx context.Context, key string) (uint64, bool, error)
	Save(ctx context.Context, key string, height uint64) error
}

// Key builds the "<network>.<consumer>" storage key.
func Key(network, consumer string) string {
	return network + "." + consumer
}

func encodeHeight(height uint64) []byte {
	return []byte(strconv.FormatUint(height, 10))
}

func decodeHeight(value []byte) (uint64, error) {
	h, err := strconv.ParseUint(strings.TrimSpace(string(value)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHeight, string(value))
	}
	return h, nil
}
