package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeReconnects(t *testing.T) {
	defer func(interval time.Duration) {
		connectionRetryInterval = interval
	}(connectionRetryInterval)
	connectionRetryInterval = 10 * time.Millisecond

	var connections int64
	config := testPool(t, func(conn *websocket.Conn) {
		n := atomic.AddInt64(&connections, 1)

		// Wait for the register message, then hang up.  Every other
		// connection confirms the registration first.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if n%2 == 0 {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"registered"}`))
		}
	})

	miner := &fakeMiner{}
	c := newTestCoordinator(t, newTestChain(t, checkpointBlock()), miner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Serve(ctx, config)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&connections) >= 4
	}, 10*time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	assert.Equal(t, StateDisconnected, c.State())
	assert.LessOrEqual(t, atomic.LoadInt64(&c.retryCount), int64(2))

	miner.mtx.Lock()
	defer miner.mtx.Unlock()
	assert.GreaterOrEqual(t, miner.stops, 4)
}

func TestServeDialFailure(t *testing.T) {
	defer func(interval time.Duration) {
		connectionRetryInterval = interval
	}(connectionRetryInterval)
	connectionRetryInterval = time.Millisecond

	c := newTestCoordinator(t, newTestChain(t, checkpointBlock()), &fakeMiner{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Nothing listens on port 1.
	c.Serve(ctx, &ConnConfig{Host: "127.0.0.1:1", DisableTLS: true})
	assert.Greater(t, atomic.LoadInt64(&c.retryCount), int64(1))
}
