// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package ws implements a websocket connection wrapper that sequences
// outgoing JSON messages and dispatches incoming ones to a handler.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"vendue.org/vendue/mkt"
	"vendue.org/vendue/mkt/msg"
)

// outBufferSize is the size of the WSLink's buffered channel for outgoing
// messages.
const outBufferSize = 128

const writeWait = 5 * time.Second

// websocket.Upgrader is the preferred method of upgrading a request to a
// websocket connection.
var upgrader = websocket.Upgrader{}

// ErrPeerDisconnected will be returned if Send is called on a disconnected
// link.
const ErrPeerDisconnected = mkt.ErrorKind("peer disconnected")

// Connection represents a websocket connection to a remote peer. In practice,
// it is satisfied by *websocket.Conn. For testing, a stub can be used.
type Connection interface {
	Close() error

	SetReadDeadline(t time.Time) error
	ReadMessage() (int, []byte, error)

	SetWriteDeadline(t time.Time) error
	WriteMessage(int, []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// WSLink is the local, per-connection representation of a websocket peer.
type WSLink struct {
	// ip is the peer's IP address.
	ip string
	// conn is the gorilla websocket.Conn, or a stub for testing.
	conn Connection
	// on is used internally to prevent multiple Close calls on the underlying
	// connection.
	on uint32
	// quit is used to cancel the Context.
	quit context.CancelFunc
	// stopped is closed when quit is called.
	stopped chan struct{}
	// outChan is used to sequence sent messages.
	outChan chan *sendData
	// The WSLink has a read, a write, and a ping goroutine. The WaitGroup is
	// used to synchronize cleanup on disconnection.
	wg sync.WaitGroup
	// A master message handler.
	handler func(*msg.Message) *msg.Error
	// pingPeriod is how often to ping the peer.
	pingPeriod time.Duration
}

type sendData struct {
	data []byte
	ret  chan<- error
}

// NewWSLink is a constructor for a new WSLink.
func NewWSLink(addr string, conn Connection, pingPeriod time.Duration, handler func(*msg.Message) *msg.Error) *WSLink {
	return &WSLink{
		ip:         addr,
		conn:       conn,
		outChan:    make(chan *sendData, outBufferSize),
		pingPeriod: pingPeriod,
		handler:    handler,
	}
}

// Send sends the passed Message to the websocket peer. The actual writing of
// the message on the peer's link occurs asynchronously. As such, a nil error
// only indicates that the link is believed to be up and the message was
// successfully marshalled.
func (c *WSLink) Send(m *msg.Message) error {
	return c.send(m, nil)
}

// SendNow is like Send, but it waits for the message to be written on the
// peer's link, returning any error from the write.
func (c *WSLink) SendNow(m *msg.Message) error {
	writeErrChan := make(chan error, 1)
	if err := c.send(m, writeErrChan); err != nil {
		return err
	}
	return <-writeErrChan
}

func (c *WSLink) send(m *msg.Message, writeErr chan<- error) error {
	if c.Off() {
		return ErrPeerDisconnected
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}

	select {
	case c.outChan <- &sendData{b, writeErr}:
	case <-c.stopped:
		return ErrPeerDisconnected
	}

	return nil
}

// SendError sends the msg.Error to the peer.
func (c *WSLink) SendError(id uint64, rpcErr *msg.Error) {
	m, err := msg.NewResponse(id, nil, rpcErr)
	if err != nil {
		log.Errorf("SendError: failed to create message: %v", err)
		return
	}
	if err = c.Send(m); err != nil {
		log.Debugf("SendError: failed to send message to peer %s: %v", c.ip, err)
	}
}

// Connect begins processing input and output messages. The shutdown process
// is complete when the returned WaitGroup is Done.
func (c *WSLink) Connect(ctx context.Context) (*sync.WaitGroup, error) {
	if !atomic.CompareAndSwapUint32(&c.on, 0, 1) {
		return nil, fmt.Errorf("attempted to start a running WSLink")
	}
	linkCtx, quit := context.WithCancel(ctx)
	c.quit = quit
	c.stopped = make(chan struct{})
	// Set the initial read deadline now that the ping ticker is about to be
	// started. The pong handler sets subsequent read deadlines.
	err := c.conn.SetReadDeadline(time.Now().Add(c.pingPeriod * 2))
	if err != nil {
		quit()
		return nil, fmt.Errorf("failed to set initial read deadline for %v: %v", c.ip, err)
	}

	log.Tracef("Starting websocket messaging with peer %s", c.ip)
	c.wg.Add(3)
	go c.inHandler(linkCtx)
	go c.outHandler(linkCtx)
	go c.pingHandler(linkCtx)
	return &c.wg, nil
}

func (c *WSLink) stop() bool {
	if !atomic.CompareAndSwapUint32(&c.on, 1, 0) {
		return false
	}
	// Signal to senders we are done, and begin shutdown of the goroutines.
	close(c.stopped)
	c.quit()
	return true
}

// Disconnect begins shutdown of the WSLink, preventing new messages from
// entering the outgoing queue, and ultimately closing the underlying
// connection when all queued messages have been handled.
func (c *WSLink) Disconnect() {
	if !c.stop() {
		log.Debugf("Disconnect attempted on stopped WSLink.")
	}
}

// inHandler handles all incoming messages for the websocket connection. It
// must be run as a goroutine.
func (c *WSLink) inHandler(ctx context.Context) {
	defer c.wg.Done()
	defer c.stop()
	for {
		if ctx.Err() != nil {
			return
		}
		// Block until a message is received or an error occurs.
		_, msgBytes, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway,
				websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Errorf("Websocket receive error from peer %s: %v", c.ip, err)
			}
			return
		}
		// Failure to decode does not force a disconnect.
		m, err := msg.DecodeMessage(msgBytes)
		if err != nil {
			c.SendError(1, msg.NewError(msg.RPCParseError,
				"failed to parse message: %v", err))
			continue
		}
		if m == nil || m.ID == 0 {
			c.SendError(1, msg.NewError(msg.RPCParseError, "request id cannot be zero"))
			continue
		}
		if rpcErr := c.handler(m); rpcErr != nil {
			c.SendError(m.ID, rpcErr)
		}
	}
}

// outHandler sequences writes on the connection. On shutdown, queued messages
// are flushed before the connection closes.
func (c *WSLink) outHandler(ctx context.Context) {
	defer c.wg.Done()
	defer c.conn.Close()
	defer c.stop() // in the event of context cancellation vs Disconnect call

	write := func(sd *sendData) {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.conn.WriteMessage(websocket.TextMessage, sd.data)
		if sd.ret != nil {
			if err != nil {
				sd.ret <- err
			} else {
				close(sd.ret)
			}
		}
		if err != nil {
			// No more Sends should queue messages.
			c.stop()
		}
	}

	for {
		select {
		case sd := <-c.outChan:
			write(sd)
		case <-ctx.Done():
			// Drain anything buffered before closing so SendNow never hangs.
			for {
				select {
				case sd := <-c.outChan:
					write(sd)
				default:
					return
				}
			}
		}
	}
}

// pingHandler sends periodic pings to the client.
func (c *WSLink) pingHandler(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
			if err != nil {
				c.stop()
				log.Debugf("WriteControl ping error: %v", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Off will return true if the link has disconnected.
func (c *WSLink) Off() bool {
	return atomic.LoadUint32(&c.on) == 0
}

// IP is the peer address passed to the constructor.
func (c *WSLink) IP() string {
	return c.ip
}

// NewConnection creates a new Connection by upgrading the http request to a
// websocket.
func NewConnection(w http.ResponseWriter, r *http.Request, readTimeout time.Duration) (Connection, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		var hsErr websocket.HandshakeError
		if errors.As(err, &hsErr) {
			log.Errorf("Unexpected websocket error: %v", err)
		}
		return nil, err
	}
	// Configure the pong handler.
	reqAddr := r.RemoteAddr
	conn.SetPongHandler(func(string) error {
		log.Tracef("got pong from %v", reqAddr)
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	// Do not set an initial read deadline until pinging begins.

	return conn, nil
}
