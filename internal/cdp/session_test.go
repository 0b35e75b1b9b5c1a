package cdp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionSendScopesToItsSessionID(t *testing.T) {
	url, closeSrv := newFakeBrowserServer(t, func(fb *fakeBrowser, m rawMessage) {
		if m.Method == "Page.enable" {
			fb.reply(m.ID, map[string]any{"sessionSeen": m.SessionID})
		}
	})
	defer closeSrv()

	conn, err := Dial(url, testLog())
	require.NoError(t, err)
	defer conn.Close()

	sess := NewSession(conn, "target-session-1")
	result, err := sess.Send("Page.enable", map[string]any{})
	require.NoError(t, err)
	var parsed map[string]string
	require.NoError(t, json.Unmarshal(result, &parsed))
	assert.Equal(t, "target-session-1", parsed["sessionSeen"])
}

func TestSessionOnOnlyReceivesOwnSessionEvents(t *testing.T) {
	url, closeSrv := newFakeBrowserServer(t, func(fb *fakeBrowser, m rawMessage) {
		if m.Method == "trigger" {
			fb.emit("target-session-1", "Page.loadEventFired", map[string]any{})
			fb.emit("other-session", "Page.loadEventFired", map[string]any{})
			fb.reply(m.ID, map[string]any{})
		}
	})
	defer closeSrv()

	conn, err := Dial(url, testLog())
	require.NoError(t, err)
	defer conn.Close()

	sess := NewSession(conn, "target-session-1")
	got := make(chan struct{}, 2)
	sess.On("Page.loadEventFired", func(json.RawMessage) { got <- struct{}{} })

	_, err = sess.Send("trigger", nil)
	require.NoError(t, err)

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("session listener never fired")
	}
	select {
	case <-got:
		t.Fatal("session must not receive another session's events")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionCloseDropsListeners(t *testing.T) {
	url, closeSrv := newFakeBrowserServer(t, func(fb *fakeBrowser, m rawMessage) {
		switch m.Method {
		case "trigger":
			fb.emit("target-session-1", "Page.loadEventFired", map[string]any{})
			fb.reply(m.ID, map[string]any{})
		case "ack":
			fb.reply(m.ID, map[string]any{})
		}
	})
	defer closeSrv()

	conn, err := Dial(url, testLog())
	require.NoError(t, err)
	defer conn.Close()

	sess := NewSession(conn, "target-session-1")
	var fired bool
	sess.On("Page.loadEventFired", func(json.RawMessage) { fired = true })
	sess.Close()

	// Close only drops this session's listeners; the shared connection
	// keeps working for other callers.
	_, err = sess.Send("trigger", nil)
	require.NoError(t, err)
	_, err = conn.SendCommand("", "ack", nil)
	require.NoError(t, err)
	assert.False(t, fired, "a closed session must not receive events after Close")
}

func TestBrowserSessionUsesEmptySessionID(t *testing.T) {
	url, closeSrv := newFakeBrowserServer(t, func(fb *fakeBrowser, m rawMessage) {
		fb.reply(m.ID, map[string]any{"sessionSeen": m.SessionID})
	})
	defer closeSrv()

	conn, err := Dial(url, testLog())
	require.NoError(t, err)
	defer conn.Close()

	sess := BrowserSession(conn)
	assert.Equal(t, "", sess.SessionID)
	result, err := sess.Send("Target.getTargets", nil)
	require.NoError(t, err)
	var parsed map[string]string
	require.NoError(t, json.Unmarshal(result, &parsed))
	assert.Equal(t, "", parsed["sessionSeen"])
}
