package mediator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bidicdp/mediator/internal/cdp"
)

const (
	waitTimeout = 2 * time.Second
	waitTick    = 10 * time.Millisecond
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// rawJSON marshals v for use as a handler's json.RawMessage argument.
func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// newTestContext builds a Context with no live CDP connection, for
// tests that only exercise storage/session bookkeeping.
func newTestContext(t *testing.T) *Context {
	t.Helper()
	return New(testLog(), nil, "")
}

// fakeCdpMessage mirrors the wire shape cdp.Connection speaks, so a
// fake browser server can be driven from this package's tests too.
type fakeCdpMessage struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *fakeCdpError   `json:"error,omitempty"`
}

type fakeCdpError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

type fakeBrowser struct {
	t    *testing.T
	conn *websocket.Conn
}

func (fb *fakeBrowser) reply(id int64, result any) {
	body, _ := json.Marshal(result)
	b, _ := json.Marshal(fakeCdpMessage{ID: id, Result: body})
	_ = fb.conn.WriteMessage(websocket.TextMessage, b)
}

func (fb *fakeBrowser) replyError(id int64, message string) {
	b, _ := json.Marshal(fakeCdpMessage{ID: id, Error: &fakeCdpError{Code: -32000, Message: message}})
	_ = fb.conn.WriteMessage(websocket.TextMessage, b)
}

func (fb *fakeBrowser) emit(sessionID, method string, params any) {
	body, _ := json.Marshal(params)
	b, _ := json.Marshal(fakeCdpMessage{SessionID: sessionID, Method: method, Params: body})
	_ = fb.conn.WriteMessage(websocket.TextMessage, b)
}

// newTestConnection dials a fake browser server driven by handle, which
// is invoked once per inbound CDP command.
func newTestConnection(t *testing.T, handle func(fb *fakeBrowser, m fakeCdpMessage)) (*cdp.Connection, func()) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		fb := &fakeBrowser{t: t, conn: c}
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			var m fakeCdpMessage
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			handle(fb, m)
		}
	}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := cdp.Dial(url, testLog())
	require.NoError(t, err)
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}
