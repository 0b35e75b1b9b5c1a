// Package mediator implements the domain handlers that turn BiDi
// commands into CDP traffic: BrowsingContextProcessor,
// BrowsingContextImpl, CdpTarget, the ScriptEvaluator/Realm, input
// dispatch wiring, preload-script installation, and the
// session/network/log surfaces.
package mediator

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bidicdp/mediator/internal/cdp"
	"github.com/bidicdp/mediator/internal/events"
	"github.com/bidicdp/mediator/internal/input"
	"github.com/bidicdp/mediator/internal/storage"
)

// sharedIDDivider is the literal separator used to build a node's
// sharedId from its owning navigableId and CDP backendNodeId (§4.4).
const sharedIDDivider = "_element_"

// Context is the single, explicitly-constructed collaborator bundle
// named in §9's design note: every singleton (storages, the CDP
// connection, the event manager) is a field here, threaded through as
// a *Context to every handler — never a package-level global.
type Context struct {
	Log    *logrus.Entry
	Conn   *cdp.Connection
	Events *events.Manager

	Contexts *storage.ContextStorage
	Realms   *storage.RealmStorage
	Preloads *storage.PreloadScriptStorage

	// SelfTargetID is filtered out of every public response and never
	// generates client-visible events (invariant 6).
	SelfTargetID string

	mu             sync.Mutex
	targets        map[string]*CdpTarget   // targetId -> owning CdpTarget
	attachWaiters  map[string]chan struct{} // targetId -> notified once attached
	inputs         map[string]*input.State  // top-level contextId -> InputState
	sessionID      string                   // the one synthesized BiDi session, "" if none (session.new/end)
	emit           func(events.Outbound)

	navMu      sync.Mutex
	navWaiters map[string]*navWaiter // contextId -> in-flight navigate() waiter
}

// New constructs a Context with empty storages, ready to attach targets.
func New(log *logrus.Entry, conn *cdp.Connection, selfTargetID string) *Context {
	c := &Context{
		Log:          log,
		Conn:         conn,
		Contexts:     storage.NewContextStorage(),
		Realms:       storage.NewRealmStorage(),
		Preloads:     storage.NewPreloadScriptStorage(),
		SelfTargetID: selfTargetID,
		targets:       make(map[string]*CdpTarget),
		attachWaiters: make(map[string]chan struct{}),
		inputs:        make(map[string]*input.State),
		navWaiters:    make(map[string]*navWaiter),
	}
	c.Events = events.NewManager(func(o events.Outbound) {
		if c.emit != nil {
			c.emit(o)
		}
	})
	return c
}

// SetEmit is assigned by the caller (internal/mediatorapp) to route
// produced events to the command.Processor's SendEvent.
func (c *Context) SetEmit(fn func(events.Outbound)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emit = fn
}

// inputStateFor returns (creating if absent) the InputState for a
// top-level context.
func (c *Context) inputStateFor(contextID string) *input.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.inputs[contextID]
	if !ok {
		st = input.NewState()
		c.inputs[contextID] = st
	}
	return st
}

func (c *Context) dropInputState(contextID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inputs, contextID)
}

func (c *Context) registerTarget(t *CdpTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets[t.TargetID] = t
	if ch, ok := c.attachWaiters[t.TargetID]; ok {
		close(ch)
		delete(c.attachWaiters, t.TargetID)
	}
}

// waitForAttach returns a channel closed once targetID has an attached
// CdpTarget (already closed if it is attached now).
func (c *Context) waitForAttach(targetID string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.targets[targetID]; ok {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	if ch, ok := c.attachWaiters[targetID]; ok {
		return ch
	}
	ch := make(chan struct{})
	c.attachWaiters[targetID] = ch
	return ch
}

func (c *Context) targetByID(targetID string) (*CdpTarget, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.targets[targetID]
	return t, ok
}

func (c *Context) dropTarget(targetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.targets, targetID)
}

// isSelfContext reports whether contextID is the self target's own
// context, or a same-process descendant of it (invariant 6: the self
// target "never generates client-visible events").
func (c *Context) isSelfContext(contextID string) bool {
	if c.SelfTargetID == "" {
		return false
	}
	for id := contextID; id != ""; {
		bc := c.Contexts.FindContext(id)
		if bc == nil {
			return false
		}
		if bc.TargetID == c.SelfTargetID {
			return true
		}
		id = bc.ParentID
	}
	return false
}

// registerEvent forwards to Events.RegisterEvent, filtering out events
// for the self target and its descendants (invariant 6) before they
// ever reach the subscription/buffer machinery.
func (c *Context) registerEvent(event, contextID string, params any) {
	if c.isSelfContext(contextID) {
		return
	}
	c.Events.RegisterEvent(event, contextID, params)
}

// visibleTopLevelContexts returns top-level contexts excluding the self
// target's own hosting context (invariant 6).
func (c *Context) visibleTopLevelContexts() []*storage.Context {
	all := c.Contexts.GetTopLevelContexts()
	out := make([]*storage.Context, 0, len(all))
	for _, ctx := range all {
		if ctx.TargetID == c.SelfTargetID {
			continue
		}
		out = append(out, ctx)
	}
	return out
}
