package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestWSStreamSubscribeAndSkipMalformed(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan subscribeRequest, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req subscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		received <- req

		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"subscription_id":"`+req.SubscriptionID+`","topic":"block_digests","payload":{"block_id":"b","height":"105"}}`))

		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	dialer := WSDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), PingInterval: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := dialer.Dial(ctx)
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.Subscribe(ctx, TopicBlocks, map[string]interface{}{"start_block_height": "100"}))

	req := <-received
	require.Equal(t, "subscribe", req.Action)
	require.Equal(t, TopicBlocks, req.Topic)
	require.Equal(t, "100", req.Arguments["start_block_height"])

	msg, err := stream.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, TopicBlocks, msg.Topic)
	require.JSONEq(t, `{"block_id":"b","height":"105"}`, string(msg.Payload))

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
}

func TestWSDialFailure(t *testing.T) {
	dialer := WSDialer{URL: "ws://127.0.0.1:1/v1/ws"}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := dialer.Dial(ctx)
	require.Error(t, err)
}
