package mediator

import "encoding/json"

// handleRequestWillBeSent forwards CDP Network.requestWillBeSent as a
// minimal network.beforeRequestSent BiDi event — no body buffering or
// interception, per SPEC_FULL.md's supplemented network.* surface,
// grounded on the teacher's handlers_network.go forwarding shape.
func (c *Context) handleRequestWillBeSent(t *CdpTarget, raw json.RawMessage) {
	var ev struct {
		RequestID string `json:"requestId"`
		Request   struct {
			URL    string            `json:"url"`
			Method string            `json:"method"`
			Headers map[string]string `json:"headers"`
		} `json:"request"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.Log.WithError(err).Warn("malformed requestWillBeSent event")
		return
	}
	c.registerEvent("network.beforeRequestSent", t.ContextID, map[string]any{
		"context": t.ContextID,
		"request": map[string]any{
			"request": ev.RequestID,
			"url":     ev.Request.URL,
			"method":  ev.Request.Method,
		},
	})
}

// handleLogEntryAdded forwards CDP Log.entryAdded as log.entryAdded.
func (c *Context) handleLogEntryAdded(t *CdpTarget, raw json.RawMessage) {
	var ev struct {
		Entry struct {
			Source  string `json:"source"`
			Level   string `json:"level"`
			Text    string `json:"text"`
			Timestamp float64 `json:"timestamp"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.Log.WithError(err).Warn("malformed Log.entryAdded event")
		return
	}
	c.registerEvent("log.entryAdded", t.ContextID, map[string]any{
		"level":  ev.Entry.Level,
		"source": "javascript",
		"text":   ev.Entry.Text,
		"type":   "log",
	})
}

// handleConsoleAPICalled forwards CDP Runtime.consoleAPICalled as
// log.entryAdded, matching the BiDi spec's console-to-log mapping.
func (c *Context) handleConsoleAPICalled(t *CdpTarget, raw json.RawMessage) {
	var ev struct {
		Type string `json:"type"`
		Args []struct {
			Type  string `json:"type"`
			Value any    `json:"value"`
		} `json:"args"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.Log.WithError(err).Warn("malformed consoleAPICalled event")
		return
	}
	var text string
	if len(ev.Args) > 0 {
		if s, ok := ev.Args[0].Value.(string); ok {
			text = s
		}
	}
	c.registerEvent("log.entryAdded", t.ContextID, map[string]any{
		"level":  consoleLevel(ev.Type),
		"source": "console",
		"text":   text,
		"type":   "console",
		"method": ev.Type,
	})
}

func consoleLevel(method string) string {
	switch method {
	case "error", "assert":
		return "error"
	case "warning":
		return "warn"
	default:
		return "info"
	}
}
