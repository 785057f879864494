package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONLPublisherAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "raw.jsonl")
	pub := NewJSONLPublisher(path)
	ctx := context.Background()

	require.NoError(t, pub.Publish(ctx, "flow.events.raw.testnet.Fractional.VaultCreated", []byte(`{"blockHeight":100}`), "testnet:100:0:0"))
	require.NoError(t, pub.Publish(ctx, "flow.events.raw.testnet.Fractional.VaultCreated", []byte(`{"blockHeight":101}`), ""))
	require.Error(t, pub.Publish(ctx, "x", []byte("not json"), ""))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var records []JSONLRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec JSONLRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, records, 2)
	require.Equal(t, "testnet:100:0:0", records[0].MsgID)
	require.JSONEq(t, `{"blockHeight":101}`, string(records[1].Data))
}

func TestJSONLPublisherCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub := NewJSONLPublisher(filepath.Join(t.TempDir(), "x.jsonl"))
	require.ErrorIs(t, pub.Publish(ctx, "s", []byte(`{}`), ""), context.Canceled)
}
