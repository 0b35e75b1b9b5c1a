package mediator

import (
	"fmt"

	"github.com/bidicdp/mediator/internal/bidierr"
)

// NewSession implements session.new (SPEC_FULL.md supplement). Since
// there is no multi-client fan-out (§1 Non-goal), a second session.new
// without an intervening session.end fails with session not created.
func (c *Context) NewSession(capabilities map[string]any) (map[string]any, *bidierr.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return nil, bidierr.SessionNotCreated("a session is already active")
	}
	c.sessionID = fmt.Sprintf("session-%p", c)
	return map[string]any{
		"sessionId":    c.sessionID,
		"capabilities": capabilities,
	}, nil
}

// Status implements session.status.
func (c *Context) Status() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"ready":   c.sessionID == "",
		"message": "",
	}
}

// EndSession implements session.end: clears the session id and tears
// down every target (its contexts, realms and input state), so a
// subsequent session.new can succeed. Event subscriptions are not
// removed.
func (c *Context) EndSession() *bidierr.Error {
	c.mu.Lock()
	c.sessionID = ""
	targetIDs := make([]string, 0, len(c.targets))
	for id := range c.targets {
		targetIDs = append(targetIDs, id)
	}
	c.mu.Unlock()

	for _, id := range targetIDs {
		if t, ok := c.targetByID(id); ok {
			c.teardownTarget(t)
		}
	}
	return nil
}
