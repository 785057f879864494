package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the JetStream key-value bucket holding checkpoints.
const DefaultBucket = "flowpipe_checkpoints"

// KVStore keeps checkpoints in a JetStream key-value bucket. Values are
// decimal height strings.
type KVStore struct {
	kv jetstream.KeyValue
}

// NewKVStore opens (or creates) bucket on js.
func NewKVStore(ctx context.Context, js jetstream.JetStream, bucket string) (*KVStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "ingestor checkpoints",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("open kv bucket %s: %w", bucket, err)
	}
	return &KVStore{kv: kv}, nil
}

func (s *KVStore) Load(ctx context.Context, key string) (uint64, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get checkpoint %s: %w", key, err)
	}
	height, err := decodeHeight(entry.Value())
	if err != nil {
		return 0, false, err
	}
	return height, true, nil
}

func (s *KVStore) Save(ctx context.Context, key string, height uint64) error {
	if _, err := s.kv.Put(ctx, key, encodeHeight(height)); err != nil {
		return fmt.Errorf("put checkpoint %s: %w", key, err)
	}
	return nil
}
