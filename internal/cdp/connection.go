// Package cdp implements CdpConnection: a single websocket duplex
// channel to the browser's CDP endpoint, multiplexed into per-target
// CdpSessions, with request/response correlation and event fan-out.
package cdp

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// maxMessageSize allows for large screenshot payloads carried inline
// in CDP responses.
const maxMessageSize = 10 * 1024 * 1024

const (
	readDeadline  = 120 * time.Second
	pingInterval  = 30 * time.Second
)

// CdpError is the error surfaced to a caller of SendCommand when the
// browser's reply carries an "error" member.
type CdpError struct {
	Code    int64
	Message string
}

func (e *CdpError) Error() string {
	if e.Code == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// ErrDisconnected is returned to every pending and future SendCommand
// call once the transport has closed.
type disconnectedError struct{}

func (disconnectedError) Error() string { return "cdp: disconnected" }

// ErrDisconnected is the sentinel error for a closed transport.
var ErrDisconnected error = disconnectedError{}

// rawMessage is the wire shape of a CDP message in either direction.
type rawMessage struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *rawError       `json:"error,omitempty"`
}

type rawError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// EventListener receives CDP events for one (sessionId, method) pair.
type EventListener func(params json.RawMessage)

// Connection is a CdpConnection: one websocket duplex channel to the
// browser, multiplexed into per-session listener tables.
type Connection struct {
	conn *websocket.Conn
	log  *logrus.Entry

	writeMu sync.Mutex
	closed  bool
	done    chan struct{}

	nextID int64

	pendingMu sync.Mutex
	pending   map[int64]chan *rawMessage

	listenersMu sync.Mutex
	// listeners[sessionID][method] -> subscribers. sessionID "" is the
	// browser-level (null-session) client.
	listeners map[string]map[string][]EventListener
}

// Dial establishes the CDP connection to the given websocket endpoint
// (e.g. the browser's "webSocketDebuggerUrl").
func Dial(endpoint string, log *logrus.Entry) (*Connection, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:   maxMessageSize,
		WriteBufferSize:  maxMessageSize,
		HandshakeTimeout: 30 * time.Second,
	}
	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("cdp: dial %s: %w", endpoint, err)
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	c := &Connection{
		conn:      conn,
		log:       log,
		done:      make(chan struct{}),
		nextID:    1,
		pending:   make(map[int64]chan *rawMessage),
		listeners: make(map[string]map[string][]EventListener),
	}
	go c.pingLoop()
	go c.readLoop()
	return c, nil
}

func (c *Connection) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			closed := c.closed
			if !closed {
				_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			}
			c.writeMu.Unlock()
			if closed {
				return
			}
		}
	}
}

func (c *Connection) readLoop() {
	defer c.teardown()
	for {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.log.WithError(err).Debug("cdp: read loop ending")
			return
		}
		c.dispatch(data)
	}
}

func (c *Connection) dispatch(data []byte) {
	var m rawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		c.log.WithError(err).Warn("cdp: malformed message from browser")
		return
	}
	if m.Method == "" {
		// Solicited response: resolve the pending sink for m.ID exactly once.
		c.pendingMu.Lock()
		ch, ok := c.pending[m.ID]
		if ok {
			delete(c.pending, m.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- &m
			close(ch)
		}
		return
	}

	// Unsolicited event: fan out by sessionId.
	c.listenersMu.Lock()
	subs := append([]EventListener(nil), c.listeners[m.SessionID][m.Method]...)
	c.listenersMu.Unlock()
	for _, fn := range subs {
		fn(m.Params)
	}
}

func (c *Connection) teardown() {
	c.writeMu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.writeMu.Unlock()
	if alreadyClosed {
		return
	}
	close(c.done)

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.pendingMu.Unlock()
}

// Close closes the underlying transport. All pending and future
// SendCommand calls fail with ErrDisconnected.
func (c *Connection) Close() error {
	c.teardown()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// SendCommand sends a CDP command scoped to sessionID ("" for the
// browser-level client) and blocks for its correlated reply. Multiple
// goroutines may call this concurrently: commands sent sequentially
// within a session arrive sequentially, but replies may arrive out of
// order and are matched back up by id.
func (c *Connection) SendCommand(sessionID, method string, params any) (json.RawMessage, error) {
	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return nil, ErrDisconnected
	}
	id := c.nextID
	c.nextID++

	paramBytes, err := json.Marshal(params)
	if err != nil {
		c.writeMu.Unlock()
		return nil, fmt.Errorf("cdp: marshal params for %s: %w", method, err)
	}
	msg := rawMessage{ID: id, SessionID: sessionID, Method: method, Params: paramBytes}
	body, err := json.Marshal(msg)
	if err != nil {
		c.writeMu.Unlock()
		return nil, fmt.Errorf("cdp: marshal command %s: %w", method, err)
	}

	ch := make(chan *rawMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	writeErr := c.conn.WriteMessage(websocket.TextMessage, body)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("cdp: send %s: %w", method, writeErr)
	}

	reply, ok := <-ch
	if !ok {
		return nil, ErrDisconnected
	}
	if reply.Error != nil {
		return nil, &CdpError{Code: reply.Error.Code, Message: reply.Error.Message}
	}
	return reply.Result, nil
}

// Subscribe registers fn for every event named method delivered for
// sessionID ("" for the browser-level client).
func (c *Connection) Subscribe(sessionID, method string, fn EventListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	if c.listeners[sessionID] == nil {
		c.listeners[sessionID] = make(map[string][]EventListener)
	}
	c.listeners[sessionID][method] = append(c.listeners[sessionID][method], fn)
}

// DropSession removes all listeners registered for sessionID, called
// when a CdpSession is torn down.
func (c *Connection) DropSession(sessionID string) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	delete(c.listeners, sessionID)
}
