package cdp

import "encoding/json"

// Session is a thin, sessionId-scoped view over a shared Connection.
// One Session exists per attached target for the lifetime of that
// target: a CdpTarget and its CdpSession are always 1:1.
type Session struct {
	conn      *Connection
	SessionID string
}

// NewSession wraps conn with the given sessionId.
func NewSession(conn *Connection, sessionID string) *Session {
	return &Session{conn: conn, SessionID: sessionID}
}

// Send issues a CDP command scoped to this session and blocks for the result.
func (s *Session) Send(method string, params any) (json.RawMessage, error) {
	return s.conn.SendCommand(s.SessionID, method, params)
}

// On subscribes fn to events named method within this session.
func (s *Session) On(method string, fn EventListener) {
	s.conn.Subscribe(s.SessionID, method, fn)
}

// Close drops this session's event listeners. It sends no CDP command:
// Target.detachFromTarget is not issued here or by any caller.
func (s *Session) Close() {
	s.conn.DropSession(s.SessionID)
}

// BrowserSession is the null-sessionId client used for commands that
// are not scoped to any target (e.g. Target.attachToTarget itself).
func BrowserSession(conn *Connection) *Session {
	return NewSession(conn, "")
}
