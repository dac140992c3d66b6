// Package janus contains the client of the media backend.
package janus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bluenviron/whipgate/internal/logger"
	"github.com/bluenviron/whipgate/internal/nonce"
)

const (
	defaultKeepAlivePeriod = 15 * time.Second
	writeTimeout           = 10 * time.Second
)

// client errors.
var (
	ErrBackendGone       = errors.New("backend is gone")
	ErrAlreadyConnecting = errors.New("already connecting or connected")
)

// State is the connection state of a Client.
type State int

// connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// Client maintains the WebSocket connection with the media backend
// and a backend-level session on top of it.
type Client struct {
	Address         string
	Plugin          string
	KeepAlivePeriod time.Duration
	OnDisconnected  func()
	OnHandleClosed  func(handleID uint64)
	Parent          logger.Writer

	mutex        sync.Mutex
	state        State
	conn         *websocket.Conn
	sessionID    uint64
	transactions map[string]chan *frame
	terminate    chan struct{}
	readerDone   chan struct{}
	closeOnce    *sync.Once

	writeMutex sync.Mutex
}

// Initialize initializes a Client.
func (c *Client) Initialize() {
	if c.Plugin == "" {
		c.Plugin = "janus.plugin.videoroom"
	}
	if c.KeepAlivePeriod == 0 {
		c.KeepAlivePeriod = defaultKeepAlivePeriod
	}
	c.transactions = make(map[string]chan *frame)
}

// Log implements logger.Writer.
func (c *Client) Log(level logger.Level, format string, args ...interface{}) {
	c.Parent.Log(level, "[backend] "+format, args...)
}

// State returns the connection state.
func (c *Client) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Connected reports whether the backend session is established.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// Connect dials the backend, creates the backend-level session and
// starts the keep-alive task. It refuses overlapping calls.
func (c *Client) Connect(ctx context.Context) error {
	c.mutex.Lock()
	if c.state != StateDisconnected {
		c.mutex.Unlock()
		return ErrAlreadyConnecting
	}
	c.state = StateConnecting
	prevReaderDone := c.readerDone
	c.mutex.Unlock()

	// let the previous connection's reader return before installing a
	// new connection, so its teardown cannot touch the new one.
	if prevReaderDone != nil {
		<-prevReaderDone
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{"janus-protocol"},
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.Address, nil)
	if err != nil {
		c.mutex.Lock()
		c.state = StateDisconnected
		c.mutex.Unlock()
		return err
	}

	once := &sync.Once{}
	terminate := make(chan struct{})
	readerDone := make(chan struct{})

	c.mutex.Lock()
	c.conn = conn
	c.terminate = terminate
	c.readerDone = readerDone
	c.closeOnce = once
	c.mutex.Unlock()

	go c.runReader(conn, once, readerDone)

	res, err := c.do(ctx, request{Janus: "create"})
	if err != nil {
		c.disconnect(conn, once, false)
		return fmt.Errorf("session creation failed: %w", err)
	}
	if res.Data == nil {
		c.disconnect(conn, once, false)
		return fmt.Errorf("session creation failed: malformed response")
	}

	c.mutex.Lock()
	c.sessionID = res.Data.ID
	c.state = StateConnected
	c.mutex.Unlock()

	go c.runKeepAlive(conn, terminate, once)

	c.Log(logger.Info, "connected, session %d", res.Data.ID)
	return nil
}

// Close tears the connection down.
func (c *Client) Close() {
	c.mutex.Lock()
	conn := c.conn
	once := c.closeOnce
	c.mutex.Unlock()

	if conn != nil {
		c.disconnect(conn, once, false)
	}
}

func (c *Client) writeJSON(conn *websocket.Conn, req request) error {
	byts, err := json.Marshal(req)
	if err != nil {
		return err
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
	return conn.WriteMessage(websocket.TextMessage, byts)
}

// send writes a request without waiting for a response.
func (c *Client) send(conn *websocket.Conn, req request) error {
	req.Transaction = nonce.Generate()
	return c.writeJSON(conn, req)
}

// do writes a request and waits for its terminal response frame.
// Acknowledgment frames received in the meantime are skipped.
func (c *Client) do(ctx context.Context, req request) (*frame, error) {
	req.Transaction = nonce.Generate()
	ch := make(chan *frame, 4)

	c.mutex.Lock()
	if c.conn == nil {
		c.mutex.Unlock()
		return nil, ErrBackendGone
	}
	conn := c.conn
	c.transactions[req.Transaction] = ch
	c.mutex.Unlock()

	removeWaiter := func() {
		c.mutex.Lock()
		delete(c.transactions, req.Transaction)
		c.mutex.Unlock()
	}

	err := c.writeJSON(conn, req)
	if err != nil {
		removeWaiter()
		return nil, err
	}

	for {
		select {
		case res, ok := <-ch:
			if !ok {
				return nil, ErrBackendGone
			}
			if res.Error != nil {
				return nil, *res.Error
			}
			return res, nil

		case <-ctx.Done():
			removeWaiter()
			return nil, ctx.Err()
		}
	}
}

func (c *Client) runReader(conn *websocket.Conn, once *sync.Once, readerDone chan struct{}) {
	defer close(readerDone)

	for {
		_, byts, err := conn.ReadMessage()
		if err != nil {
			c.disconnect(conn, once, true)
			return
		}

		var f frame
		err = json.Unmarshal(byts, &f)
		if err != nil {
			c.Log(logger.Warn, "malformed frame: %v", err)
			continue
		}

		c.routeFrame(conn, once, &f)
	}
}

// routeFrame delivers a frame to its transaction waiter, or
// dispatches it as an unsolicited event. The waiter is removed
// before any event handler runs.
func (c *Client) routeFrame(conn *websocket.Conn, once *sync.Once, f *frame) {
	if f.Transaction != "" {
		c.mutex.Lock()
		ch, ok := c.transactions[f.Transaction]
		if ok && f.isTerminal() {
			delete(c.transactions, f.Transaction)
		}
		c.mutex.Unlock()

		if ok {
			if f.isTerminal() {
				ch <- f
			}
			return
		}

		// response to a fire-and-forget request (keep-alive, trickle)
		if f.Janus == "ack" || f.Janus == "success" {
			return
		}
	}

	switch f.Janus {
	case "hangup", "detached":
		c.Log(logger.Debug, "handle %d closed by the backend", f.Sender)
		if c.OnHandleClosed != nil && f.Sender != 0 {
			go c.OnHandleClosed(f.Sender)
		}

	case "timeout":
		c.Log(logger.Warn, "session timed out")
		c.disconnect(conn, once, true)

	case "event", "media", "webrtcup", "slowlink":
		c.Log(logger.Debug, "event: %s", f.Janus)

	default:
		c.Log(logger.Debug, "unhandled frame: %s", f.Janus)
	}
}

func (c *Client) runKeepAlive(conn *websocket.Conn, terminate chan struct{}, once *sync.Once) {
	ticker := time.NewTicker(c.KeepAlivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mutex.Lock()
			sessionID := c.sessionID
			c.mutex.Unlock()

			err := c.send(conn, request{
				Janus:     "keepalive",
				SessionID: sessionID,
			})
			if err != nil {
				c.disconnect(conn, once, true)
				return
			}

		case <-terminate:
			return
		}
	}
}

// disconnect transitions to DISCONNECTED, drains every waiter and
// fires OnDisconnected. once belongs to the connection being torn
// down, so a late caller can never act on a newer connection.
func (c *Client) disconnect(conn *websocket.Conn, once *sync.Once, notify bool) {
	once.Do(func() {
		conn.Close() //nolint:errcheck

		c.mutex.Lock()
		if c.conn != conn {
			// a newer connection took over in the meantime
			c.mutex.Unlock()
			return
		}
		c.state = StateDisconnected
		c.conn = nil
		c.sessionID = 0
		close(c.terminate)
		for tx, ch := range c.transactions {
			close(ch)
			delete(c.transactions, tx)
		}
		c.mutex.Unlock()

		c.Log(logger.Info, "disconnected")

		if notify && c.OnDisconnected != nil {
			go c.OnDisconnected()
		}
	})
}
