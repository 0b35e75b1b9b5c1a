package cdp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageSize,
	WriteBufferSize: maxMessageSize,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// fakeBrowser is a minimal CDP-speaking websocket peer for exercising
// Connection without a real browser.
type fakeBrowser struct {
	t    *testing.T
	conn *websocket.Conn
}

func newFakeBrowserServer(t *testing.T, handle func(fb *fakeBrowser, msg rawMessage)) (wsURL string, close func()) {
	t.Helper()
	var fb *fakeBrowser
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		fb = &fakeBrowser{t: t, conn: c}
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			var m rawMessage
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			handle(fb, m)
		}
	}))
	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, srv.Close
}

func (fb *fakeBrowser) reply(id int64, result any) {
	body, _ := json.Marshal(result)
	msg := rawMessage{ID: id, Result: body}
	b, _ := json.Marshal(msg)
	_ = fb.conn.WriteMessage(websocket.TextMessage, b)
}

func (fb *fakeBrowser) replyError(id int64, code int64, message string) {
	msg := rawMessage{ID: id, Error: &rawError{Code: code, Message: message}}
	b, _ := json.Marshal(msg)
	_ = fb.conn.WriteMessage(websocket.TextMessage, b)
}

func (fb *fakeBrowser) emit(sessionID, method string, params any) {
	body, _ := json.Marshal(params)
	msg := rawMessage{SessionID: sessionID, Method: method, Params: body}
	b, _ := json.Marshal(msg)
	_ = fb.conn.WriteMessage(websocket.TextMessage, b)
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestSendCommandRoundTrip(t *testing.T) {
	url, closeSrv := newFakeBrowserServer(t, func(fb *fakeBrowser, m rawMessage) {
		if m.Method == "Target.getTargets" {
			fb.reply(m.ID, map[string]any{"targetInfos": []any{}})
		}
	})
	defer closeSrv()

	conn, err := Dial(url, testLog())
	require.NoError(t, err)
	defer conn.Close()

	result, err := conn.SendCommand("", "Target.getTargets", map[string]any{})
	require.NoError(t, err)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(result, &parsed))
	assert.Contains(t, parsed, "targetInfos")
}

func TestSendCommandSurfacesCdpError(t *testing.T) {
	url, closeSrv := newFakeBrowserServer(t, func(fb *fakeBrowser, m rawMessage) {
		fb.replyError(m.ID, -32000, "Target closed")
	})
	defer closeSrv()

	conn, err := Dial(url, testLog())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.SendCommand("session-1", "Page.navigate", map[string]any{"url": "about:blank"})
	require.Error(t, err)
	var cdpErr *CdpError
	require.ErrorAs(t, err, &cdpErr)
	assert.Equal(t, "Target closed", cdpErr.Message)
}

func TestSubscribeFansOutBySessionAndMethod(t *testing.T) {
	url, closeSrv := newFakeBrowserServer(t, func(fb *fakeBrowser, m rawMessage) {
		if m.Method == "trigger" {
			fb.emit("session-a", "Page.loadEventFired", map[string]any{})
			fb.emit("session-b", "Page.loadEventFired", map[string]any{})
			fb.emit("session-a", "Page.frameNavigated", map[string]any{})
			fb.reply(m.ID, map[string]any{})
		}
	})
	defer closeSrv()

	conn, err := Dial(url, testLog())
	require.NoError(t, err)
	defer conn.Close()

	gotA := make(chan struct{}, 4)
	gotB := make(chan struct{}, 4)
	conn.Subscribe("session-a", "Page.loadEventFired", func(json.RawMessage) { gotA <- struct{}{} })
	conn.Subscribe("session-b", "Page.loadEventFired", func(json.RawMessage) { gotB <- struct{}{} })

	_, err = conn.SendCommand("", "trigger", nil)
	require.NoError(t, err)

	select {
	case <-gotA:
	case <-time.After(2 * time.Second):
		t.Fatal("session-a listener never fired")
	}
	select {
	case <-gotB:
	case <-time.After(2 * time.Second):
		t.Fatal("session-b listener never fired")
	}
}

func TestDropSessionStopsDelivery(t *testing.T) {
	url, closeSrv := newFakeBrowserServer(t, func(fb *fakeBrowser, m rawMessage) {
		if m.Method == "trigger" {
			fb.emit("session-a", "Page.loadEventFired", map[string]any{})
			fb.reply(m.ID, map[string]any{})
		}
		if m.Method == "ack" {
			fb.reply(m.ID, map[string]any{})
		}
	})
	defer closeSrv()

	conn, err := Dial(url, testLog())
	require.NoError(t, err)
	defer conn.Close()

	var fired bool
	conn.Subscribe("session-a", "Page.loadEventFired", func(json.RawMessage) { fired = true })
	conn.DropSession("session-a")

	_, err = conn.SendCommand("", "trigger", nil)
	require.NoError(t, err)
	// Round-trip through a second command to give the dropped-session
	// emit time to have been (not) delivered.
	_, err = conn.SendCommand("", "ack", nil)
	require.NoError(t, err)
	assert.False(t, fired, "a dropped session must not receive further events")
}

func TestCloseFailsPendingAndFutureCommands(t *testing.T) {
	url, closeSrv := newFakeBrowserServer(t, func(fb *fakeBrowser, m rawMessage) {
		// Never reply, so Close must unblock the pending SendCommand.
	})
	defer closeSrv()

	conn, err := Dial(url, testLog())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, sendErr := conn.SendCommand("", "Page.never replies", nil)
		done <- sendErr
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock a pending SendCommand")
	}

	_, err = conn.SendCommand("", "Page.navigate", nil)
	assert.ErrorIs(t, err, ErrDisconnected)
}
