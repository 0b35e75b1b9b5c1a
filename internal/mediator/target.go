package mediator

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bidicdp/mediator/internal/cdp"
	"github.com/bidicdp/mediator/internal/storage"
)

// CdpTarget owns the CdpSession for one attached browser target (§3,
// invariant 4: a target and its session are 1:1 for the target's
// lifetime).
type CdpTarget struct {
	TargetID  string
	ContextID string // the top-level BrowsingContext this target backs
	Session   *cdp.Session

	ready   chan struct{}
	readyMu sync.Mutex
	failed  bool
}

type attachedToTargetEvent struct {
	SessionID        string `json:"sessionId"`
	TargetInfo       targetInfo `json:"targetInfo"`
	WaitingForDebugger bool `json:"waitingForDebugger"`
}

type targetInfo struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	OpenerID string `json:"openerId"`
}

type detachedFromTargetEvent struct {
	SessionID string `json:"sessionId"`
	TargetID  string `json:"targetId"`
}

// attachTarget runs the CdpTarget startup sequence from §4.3: subscribe
// to the fixed event list, enable Page/Runtime/lifecycle events
// concurrently, install preload scripts, then release
// waitForDebuggerOnStart. parentContextID is "" for a new top-level
// target.
func (c *Context) attachTarget(targetID, sessionID, parentContextID string) (*CdpTarget, error) {
	session := cdp.NewSession(c.Conn, sessionID)
	t := &CdpTarget{TargetID: targetID, Session: session, ready: make(chan struct{})}

	// Step 1: subscribe before enabling, so no event between enable and
	// subscribe is missed (teacher's router.go subscribes before it lets
	// the client send any command, for the same reason).
	c.wireTargetEvents(t)

	var ctxID string
	if existing := c.contextForTarget(targetID); existing != "" {
		// OOPIF swap (§4.3): same targetId as a live context, just retarget.
		ctxID = existing
		if bc := c.Contexts.FindContext(ctxID); bc != nil {
			bc.TargetID = targetID
		}
	} else {
		bc, err := c.Contexts.AddContext(targetID, parentContextID, targetID)
		if err != nil {
			t.failed = true
			return nil, fmt.Errorf("mediator: add context for target %s: %w", targetID, err)
		}
		ctxID = bc.ID
		// Top-level attaches get their own contextCreated here; child
		// frames get theirs from handleFrameAttached. registerEvent
		// filters the self target out per invariant 6.
		c.registerEvent("browsingContext.contextCreated", bc.ID, map[string]any{
			"context": bc.ID, "url": bc.URL, "parent": nullableString(bc.ParentID),
		})
	}
	t.ContextID = ctxID

	// Step 2: enable domains concurrently.
	var wg sync.WaitGroup
	errs := make([]error, 3)
	wg.Add(3)
	go func() { defer wg.Done(); _, errs[0] = session.Send("Page.enable", struct{}{}) }()
	go func() { defer wg.Done(); _, errs[1] = session.Send("Runtime.enable", struct{}{}) }()
	go func() {
		defer wg.Done()
		_, errs[2] = session.Send("Page.setLifecycleEventsEnabled", map[string]bool{"enabled": true})
	}()
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.failed = true
			c.Log.WithError(err).WithField("targetId", targetID).Error("cdp target setup failed")
			c.teardownFailedTarget(t)
			return nil, fmt.Errorf("mediator: target %s setup: %w", targetID, err)
		}
	}

	// Step 3: install applicable preload scripts.
	c.installPreloadScripts(t)

	c.registerTarget(t)
	close(t.ready)

	// Step 4: release any waitForDebuggerOnStart pause.
	if _, err := session.Send("Runtime.runIfWaitingForDebugger", struct{}{}); err != nil {
		c.Log.WithError(err).WithField("targetId", targetID).Debug("runIfWaitingForDebugger failed (likely already running)")
	}

	return t, nil
}

// Bootstrap wires the browser-level Target.attachedToTarget listener
// and turns on discovery/auto-attach, so every existing and future
// top-level target — including the self target supplied by the host
// environment's startup handshake (§6) — runs through attachTarget.
// Grounded on the teacher's router.go OnClientConnect, which performed
// the equivalent one-time setAutoAttach call before handing the
// browser session to its command loop.
func (c *Context) Bootstrap() error {
	browser := cdp.BrowserSession(c.Conn)
	browser.On("Target.attachedToTarget", func(raw json.RawMessage) {
		var ev attachedToTargetEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.Log.WithError(err).Warn("malformed Target.attachedToTarget event")
			return
		}
		if ev.TargetInfo.Type != "page" {
			return
		}
		if _, err := c.attachTarget(ev.TargetInfo.TargetID, ev.SessionID, ""); err != nil {
			c.Log.WithError(err).WithField("targetId", ev.TargetInfo.TargetID).Error("failed to attach target")
		}
	})
	if _, err := browser.Send("Target.setDiscoverTargets", map[string]any{"discover": true}); err != nil {
		return fmt.Errorf("mediator: Target.setDiscoverTargets: %w", err)
	}
	_, err := browser.Send("Target.setAutoAttach", map[string]any{
		"autoAttach":             true,
		"waitForDebuggerOnStart": true,
		"flatten":                true,
	})
	if err != nil {
		return fmt.Errorf("mediator: Target.setAutoAttach: %w", err)
	}
	return nil
}

// contextForTarget returns the id of the existing BrowsingContext that
// already owns targetID, if this is an OOPIF re-attach.
func (c *Context) contextForTarget(targetID string) string {
	if bc := c.Contexts.FindContext(targetID); bc != nil {
		return bc.ID
	}
	return ""
}

func (c *Context) teardownFailedTarget(t *CdpTarget) {
	removed := c.Contexts.DeleteContext(t.ContextID)
	for _, id := range removed {
		c.Realms.DeleteRealmsForContext(id)
		c.Events.DiscardContext(id)
	}
	c.Preloads.RemoveCdpPreloadScripts(t.TargetID)
	t.Session.Close()
}

// wireTargetEvents subscribes to the fixed event list from §4.3 step 1.
func (c *Context) wireTargetEvents(t *CdpTarget) {
	s := t.Session
	s.On("Runtime.executionContextCreated", func(p json.RawMessage) { c.handleExecutionContextCreated(t, p) })
	s.On("Runtime.executionContextDestroyed", func(p json.RawMessage) { c.handleExecutionContextDestroyed(p) })
	s.On("Runtime.executionContextsCleared", func(p json.RawMessage) { c.handleExecutionContextsCleared(t) })
	s.On("Page.frameAttached", func(p json.RawMessage) { c.handleFrameAttached(t, p) })
	s.On("Page.frameDetached", func(p json.RawMessage) { c.handleFrameDetached(t, p) })
	s.On("Page.frameNavigated", func(p json.RawMessage) { c.handleFrameNavigated(t, p) })
	s.On("Page.lifecycleEvent", func(p json.RawMessage) { c.handleLifecycleEvent(t, p) })
	s.On("Page.fileChooserOpened", func(p json.RawMessage) { /* no BiDi surface named in scope */ })
	s.On("Target.attachedToTarget", func(p json.RawMessage) { c.handleChildAttached(t, p) })
	s.On("Target.detachedFromTarget", func(p json.RawMessage) { c.handleTargetDetached(t, p) })
	s.On("Network.requestWillBeSent", func(p json.RawMessage) { c.handleRequestWillBeSent(t, p) })
	s.On("Log.entryAdded", func(p json.RawMessage) { c.handleLogEntryAdded(t, p) })
	s.On("Runtime.consoleAPICalled", func(p json.RawMessage) { c.handleConsoleAPICalled(t, p) })
}

// handleChildAttached handles a nested Target.attachedToTarget fired
// for an OOPIF or a popup; it recurses attachTarget for that nested
// target, parented under t's context.
func (c *Context) handleChildAttached(parent *CdpTarget, raw json.RawMessage) {
	var ev attachedToTargetEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.Log.WithError(err).Warn("malformed attachedToTarget event")
		return
	}
	if ev.TargetInfo.Type != "page" && ev.TargetInfo.Type != "iframe" {
		return
	}
	parentCtx := parent.ContextID
	if _, err := c.attachTarget(ev.TargetInfo.TargetID, ev.SessionID, parentCtx); err != nil {
		c.Log.WithError(err).WithField("targetId", ev.TargetInfo.TargetID).Warn("failed to attach child target")
	}
}

// handleTargetDetached destroys the CdpSession, deletes the context
// subtree, purges realms/handles, and removes target-scoped preload
// script materializations (§3 lifecycle: "Target detach").
func (c *Context) handleTargetDetached(t *CdpTarget, raw json.RawMessage) {
	var ev detachedFromTargetEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.Log.WithError(err).Warn("malformed detachedFromTarget event")
		return
	}
	if ev.TargetID != "" && ev.TargetID != t.TargetID {
		return
	}
	c.teardownTarget(t)
}

func (c *Context) teardownTarget(t *CdpTarget) {
	removed := c.Contexts.DeleteContext(t.ContextID)
	for _, id := range removed {
		c.Realms.DeleteRealmsForContext(id)
		c.Events.DiscardContext(id)
		c.dropInputState(id)
	}
	c.Preloads.RemoveCdpPreloadScripts(t.TargetID)
	t.Session.Close()
	c.dropTarget(t.TargetID)
}

func (c *Context) contextOf(id string) (*storage.Context, error) {
	bc, err := c.Contexts.GetContext(id)
	if err != nil {
		return nil, err
	}
	return bc, nil
}
