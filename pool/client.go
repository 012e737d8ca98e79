package pool

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MonteCarloClub/plutonium/pooljson"
	"github.com/btcsuite/go-socks/socks"
	"github.com/btcsuite/websocket"
)

var (
	// ErrInvalidEndpoint is an error to describe the condition where the
	// websocket handshake failed with the specified endpoint.
	ErrInvalidEndpoint = errors.New("the endpoint either does not support " +
		"websockets or does not exist")

	// ErrClientDisconnect is an error to describe the condition where the
	// client has been disconnected from the pool.  Receive returns it once
	// every message read before the disconnect is consumed.
	ErrClientDisconnect = errors.New("the client has been disconnected")
)

const (
	// sendBufferSize is the number of elements the websocket send channel
	// can queue before blocking.
	sendBufferSize = 50

	// closeWriteTimeout bounds how long the close frame may take to send
	// on disconnect.
	closeWriteTimeout = time.Second
)

// ConnConfig describes the connection configuration parameters for the pool
// client.
type ConnConfig struct {
	// Host is the host and port of the pool, for example
	// pool.nimiq.watch:8443.
	Host string

	// Endpoint is the websocket path on the pool.  It is usually empty.
	Endpoint string

	// DisableTLS specifies whether transport layer security should be
	// disabled.
	DisableTLS bool

	// Certificates are the bytes for a PEM-encoded certificate chain used
	// for the TLS connection.  When empty, the system roots are used.
	Certificates []byte

	// Proxy specifies to connect through a SOCKS 5 proxy server.  It may
	// be an empty string if a proxy is not required.
	Proxy string

	// ProxyUser is an optional username to use for the proxy server if it
	// requires authentication.
	ProxyUser string

	// ProxyPass is an optional password to use for the proxy server if it
	// requires authentication.
	ProxyPass string
}

// URL returns the websocket url the configuration dials.
func (config *ConnConfig) URL() string {
	scheme := "wss"
	if config.DisableTLS {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, config.Host, config.Endpoint)
}

// Client is a websocket connection to a mining pool.  Outgoing messages are
// serialized by a writer goroutine; incoming messages are parsed by a reader
// goroutine and queued until the caller receives them, so a slow consumer
// never stalls the socket.
type Client struct {
	// config holds the connection configuration associated with this
	// client.
	config *ConnConfig

	// wsConn is the underlying websocket connection.
	wsConn *websocket.Conn

	// serverTime is the time the pool reported in its handshake response,
	// or the zero time.
	serverTime time.Time

	// mtx is a mutex to protect access to connection related fields.
	mtx sync.Mutex

	// disconnected indicates whether or not the pool is disconnected.
	disconnected bool

	// queue holds parsed messages until they are received.
	queue *msgQueue

	// Networking infrastructure.
	sendChan   chan []byte
	disconnect chan struct{}
	wg         sync.WaitGroup
}

// dial opens a websocket connection using the passed connection
// configuration details.
func dial(config *ConnConfig) (*websocket.Conn, *http.Response, error) {
	// Setup TLS if not disabled.
	var tlsConfig *tls.Config
	if !config.DisableTLS {
		tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if len(config.Certificates) > 0 {
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(config.Certificates)
			tlsConfig.RootCAs = pool
		}
	}

	// Create a websocket dialer that will be used to make the connection.
	// It is modified by the proxy setting below as needed.
	dialer := websocket.Dialer{TLSClientConfig: tlsConfig}

	// Setup the proxy if one is configured.
	if config.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     config.Proxy,
			Username: config.ProxyUser,
			Password: config.ProxyPass,
		}
		dialer.NetDial = proxy.Dial
	}

	wsConn, resp, err := dialer.Dial(config.URL(), nil)
	if err != nil {
		if err != websocket.ErrBadHandshake || resp == nil {
			return nil, nil, err
		}

		// The status response was ok, but the websocket handshake
		// still failed, so the endpoint is invalid in some way.
		if resp.StatusCode == http.StatusOK {
			return nil, nil, ErrInvalidEndpoint
		}

		// Return the status text from the pool if none of the special
		// cases above apply.
		return nil, nil, errors.New(resp.Status)
	}
	return wsConn, resp, nil
}

// Dial connects to the pool described by config and starts the goroutines
// that read and write the connection.
func Dial(config *ConnConfig) (*Client, error) {
	wsConn, resp, err := dial(config)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:     config,
		wsConn:     wsConn,
		queue:      newMsgQueue(),
		sendChan:   make(chan []byte, sendBufferSize),
		disconnect: make(chan struct{}),
	}
	if date := resp.Header.Get("Date"); date != "" {
		if t, err := http.ParseTime(date); err == nil {
			c.serverTime = t
		}
	}

	log.Infof("Established connection to pool %s", config.Host)
	c.start()
	return c, nil
}

// Host returns the pool host the client is connected to.
func (c *Client) Host() string {
	return c.config.Host
}

// ServerTime returns the time the pool reported when the connection was
// established.  The second return value is false when the pool sent none.
func (c *Client) ServerTime() (time.Time, bool) {
	return c.serverTime, !c.serverTime.IsZero()
}

// start begins processing input and output messages.
func (c *Client) start() {
	log.Tracef("Starting pool client %s", c.config.Host)

	c.wg.Add(2)
	go c.wsInHandler()
	go c.wsOutHandler()
}

// shouldLogReadError returns whether or not the passed error, which is
// expected to have come from reading from the websocket connection in
// wsInHandler, should be logged.
func (c *Client) shouldLogReadError(err error) bool {
	// No logging when the connection is being forcibly disconnected.
	if c.Disconnected() {
		return false
	}

	// No logging when the connection has been disconnected.
	if err == io.EOF {
		return false
	}
	if opErr, ok := err.(*net.OpError); ok && !opErr.Temporary() {
		return false
	}

	return true
}

// wsInHandler handles all incoming messages for the websocket connection
// associated with the client.  It must be run as a goroutine.
func (c *Client) wsInHandler() {
	for {
		_, data, err := c.wsConn.ReadMessage()
		if err != nil {
			// Log the error if it's not due to disconnecting.
			if c.shouldLogReadError(err) {
				log.Errorf("Websocket receive error from %s: %v",
					c.config.Host, err)
			}
			if c.Disconnected() {
				c.queue.close(ErrClientDisconnect)
			} else {
				c.queue.close(fmt.Errorf("%w: %v", ErrClientDisconnect, err))
			}
			break
		}

		msg, err := pooljson.UnmarshalMsg(data)
		if err != nil {
			log.Errorf("Unparseable message from %s: %v", c.config.Host, err)
			log.Debugf("Unparseable message: %s", data)
			c.queue.close(err)
			break
		}
		log.Tracef("Received %T from %s", msg, c.config.Host)
		c.queue.push(msg)
	}

	// Ensure the connection is closed.
	c.Disconnect()
	c.wg.Done()
	log.Tracef("Pool client input handler done for %s", c.config.Host)
}

// wsOutHandler handles all outgoing messages for the websocket connection.  It
// uses a buffered channel to serialize output messages while allowing the
// sender to continue running asynchronously.  It must be run as a goroutine.
func (c *Client) wsOutHandler() {
out:
	for {
		// Send any messages ready for send until the client is
		// disconnected.
		select {
		case msg := <-c.sendChan:
			err := c.wsConn.WriteMessage(websocket.TextMessage, msg)
			if err != nil {
				log.Errorf("Websocket send error to %s: %v",
					c.config.Host, err)
				c.Disconnect()
				break out
			}

		case <-c.disconnect:
			break out
		}
	}

	// Drain any channels before exiting so nothing is left waiting around
	// to send.
cleanup:
	for {
		select {
		case <-c.sendChan:
		default:
			break cleanup
		}
	}
	c.wg.Done()
	log.Tracef("Pool client output handler done for %s", c.config.Host)
}

// Send marshals msg and queues it for sending.  It returns
// ErrClientDisconnect when the connection is gone.
//
// This function is safe for concurrent access.
func (c *Client) Send(msg interface{}) error {
	marshalled, err := pooljson.MarshalMsg(msg)
	if err != nil {
		return err
	}

	// Don't send the message if disconnected.
	select {
	case <-c.disconnect:
		return ErrClientDisconnect
	default:
	}

	select {
	case c.sendChan <- marshalled:
		log.Tracef("Sending %s to %s", marshalled, c.config.Host)
		return nil
	case <-c.disconnect:
		return ErrClientDisconnect
	}
}

// Receive returns the next message from the pool, waiting until one arrives
// or ctx is done.  Once the connection is lost and every queued message was
// received, it returns the reason: ErrClientDisconnect, possibly wrapped, or
// the pooljson.Error of a message that could not be parsed.
func (c *Client) Receive(ctx context.Context) (interface{}, error) {
	return c.queue.pop(ctx)
}

// Disconnected returns whether or not the pool is disconnected.
func (c *Client) Disconnected() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.disconnected
}

// doDisconnect disconnects the websocket associated with the client if it
// hasn't already been disconnected.  It will return false if the disconnect is
// not needed.
//
// This function is safe for concurrent access.
func (c *Client) doDisconnect() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	// Nothing to do if already disconnected.
	if c.disconnected {
		return false
	}

	log.Tracef("Disconnecting pool client %s", c.config.Host)
	c.disconnected = true
	close(c.disconnect)

	deadline := time.Now().Add(closeWriteTimeout)
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.wsConn.WriteControl(websocket.CloseMessage, closeMsg, deadline)
	c.wsConn.Close()
	return true
}

// Disconnect disconnects the websocket associated with the client.  It does
// not wait for the connection goroutines to finish.
func (c *Client) Disconnect() {
	if c.doDisconnect() {
		log.Infof("Disconnected from pool %s", c.config.Host)
	}
}

// WaitForShutdown blocks until the connection goroutines have finished.
func (c *Client) WaitForShutdown() {
	c.wg.Wait()
}

// Shutdown disconnects the client and waits for its goroutines to finish.
func (c *Client) Shutdown() {
	c.Disconnect()
	c.WaitForShutdown()
}
