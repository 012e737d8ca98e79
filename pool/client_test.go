package pool

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MonteCarloClub/plutonium/pooljson"
	"github.com/btcsuite/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var serverDate = time.Date(2020, time.September, 13, 12, 26, 40, 0, time.UTC)

// testPool is an in-process websocket server.  Each connection is handed to
// serve.
func testPool(t *testing.T, serve func(conn *websocket.Conn)) *ConnConfig {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := http.Header{}
		header.Set("Date", serverDate.Format(http.TimeFormat))
		conn, err := websocket.Upgrade(w, r, header, 0, 0)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(srv.Close)

	return &ConnConfig{
		Host:       strings.TrimPrefix(srv.URL, "http://"),
		DisableTLS: true,
	}
}

func receive(t *testing.T, c *Client) (interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Receive(ctx)
}

func TestClientExchange(t *testing.T) {
	received := make(chan string, 1)
	config := testPool(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(data)

		conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"registered"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"settings",`+
			`"address":"NQ07 0000","extraData":"","targetCompact":520159231,"nonce":1}`))

		// Wait for the client to hang up.
		conn.ReadMessage()
	})

	c, err := Dial(config)
	require.NoError(t, err)
	defer c.Shutdown()

	serverTime, ok := c.ServerTime()
	require.True(t, ok)
	assert.True(t, serverTime.Equal(serverDate))
	assert.Equal(t, config.Host, c.Host())

	register := pooljson.NewRegisterMsg(pooljson.ModeNano, "NQ07 0000", 1, nil, "AA==")
	require.NoError(t, c.Send(register))

	select {
	case data := <-received:
		assert.Equal(t, `{"message":"register","mode":"nano","address":"NQ07 0000",`+
			`"deviceId":1,"genesisHash":"AA=="}`, data)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not receive the register message")
	}

	msg, err := receive(t, c)
	require.NoError(t, err)
	assert.IsType(t, &pooljson.RegisteredMsg{}, msg)

	msg, err = receive(t, c)
	require.NoError(t, err)
	settings, ok := msg.(*pooljson.SettingsMsg)
	require.True(t, ok)
	assert.Equal(t, uint32(0x1f00ffff), settings.TargetCompact)

	assert.False(t, c.Disconnected())
}

func TestClientMalformedMessage(t *testing.T) {
	config := testPool(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"balance",`+
			`"balance":1,"confirmedBalance":1,"payoutRequestActive":false}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"error","code":5}`))
		conn.ReadMessage()
	})

	c, err := Dial(config)
	require.NoError(t, err)
	defer c.Shutdown()

	// Messages read before the bad one are still delivered.
	msg, err := receive(t, c)
	require.NoError(t, err)
	assert.IsType(t, &pooljson.BalanceMsg{}, msg)

	_, err = receive(t, c)
	var jerr pooljson.Error
	require.True(t, errors.As(err, &jerr), "%v", err)
	assert.Equal(t, pooljson.ErrUnknownField, jerr.ErrorCode)

	c.WaitForShutdown()
	assert.True(t, c.Disconnected())
	assert.Equal(t, ErrClientDisconnect, c.Send(&pooljson.RegisteredMsg{}))
}

func TestClientPoolHangsUp(t *testing.T) {
	config := testPool(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"registered"}`))
	})

	c, err := Dial(config)
	require.NoError(t, err)
	defer c.Shutdown()

	msg, err := receive(t, c)
	require.NoError(t, err)
	assert.IsType(t, &pooljson.RegisteredMsg{}, msg)

	_, err = receive(t, c)
	assert.True(t, errors.Is(err, ErrClientDisconnect), "%v", err)
}

func TestClientDisconnect(t *testing.T) {
	config := testPool(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	c, err := Dial(config)
	require.NoError(t, err)

	c.Shutdown()
	assert.True(t, c.Disconnected())

	_, err = receive(t, c)
	assert.Equal(t, ErrClientDisconnect, err)

	// Disconnecting twice is harmless.
	c.Disconnect()
}

func TestClientSendUnregistered(t *testing.T) {
	config := testPool(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	c, err := Dial(config)
	require.NoError(t, err)
	defer c.Shutdown()

	type hello struct{}
	var jerr pooljson.Error
	require.True(t, errors.As(c.Send(&hello{}), &jerr))
	assert.Equal(t, pooljson.ErrUnregisteredMethod, jerr.ErrorCode)
}

func TestDialErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := Dial(&ConnConfig{
		Host:       strings.TrimPrefix(srv.URL, "http://"),
		DisableTLS: true,
	})
	assert.Equal(t, ErrInvalidEndpoint, err)

	srv404 := httptest.NewServer(http.NotFoundHandler())
	defer srv404.Close()

	_, err = Dial(&ConnConfig{
		Host:       strings.TrimPrefix(srv404.URL, "http://"),
		DisableTLS: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestConnConfigURL(t *testing.T) {
	config := &ConnConfig{Host: "pool.nimiq.watch:8443"}
	assert.Equal(t, "wss://pool.nimiq.watch:8443/", config.URL())

	config.DisableTLS = true
	config.Endpoint = "ws"
	assert.Equal(t, "ws://pool.nimiq.watch:8443/ws", config.URL())
}
