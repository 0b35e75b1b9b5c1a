// Package events implements the EventManager: subscription
// bookkeeping, per-(context,event) buffering for late subscribers, and
// delivery ordering. Every outbound event is checked against a
// subscription set addressed by (event name, context id, channel)
// before it reaches a client.
package events

import "sync"

// alwaysBuffered lists the events buffered even with no matching
// subscription, so a late subscriber still sees the creation history
// of still-live contexts.
var alwaysBuffered = map[string]bool{
	"browsingContext.contextCreated":   true,
	"browsingContext.domContentLoaded": true,
	"browsingContext.load":             true,
}

// subscriptionKey is one (event, contextId|"", channel) entry. An empty
// contextID means "all contexts".
type subscriptionKey struct {
	event   string
	context string
	channel string
}

// Outbound is a fully-addressed outbound event ready for the transport.
type Outbound struct {
	Method  string
	Params  any
	Channel string
}

// Manager is the EventManager.
type Manager struct {
	mu            sync.Mutex
	subscriptions map[subscriptionKey]bool
	// buffer holds events recorded before any matching subscription
	// existed, keyed by (event, contextID), in registration order.
	buffer map[bufferKey][]Outbound
	// emit is called for every event that matches a live subscription,
	// in registration order: outbound BiDi events preserve the order
	// they were registered.
	emit func(Outbound)
}

type bufferKey struct {
	event   string
	context string
}

// NewManager creates an EventManager that calls emit for every event
// delivered to a live subscription.
func NewManager(emit func(Outbound)) *Manager {
	return &Manager{
		subscriptions: make(map[subscriptionKey]bool),
		buffer:        make(map[bufferKey][]Outbound),
		emit:          emit,
	}
}

// Subscribe adds subscription entries for every (event × context)
// combination (contexts == nil means "all contexts"). For each
// newly-subscribed (event, context) pair, any buffered event matching
// it is flushed immediately, in original order, then consumed.
func (m *Manager) Subscribe(eventNames, contexts []string, channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctxList := contexts
	if len(ctxList) == 0 {
		ctxList = []string{""}
	}

	for _, ev := range eventNames {
		for _, ctx := range ctxList {
			key := subscriptionKey{event: ev, context: ctx, channel: channel}
			if m.subscriptions[key] {
				continue
			}
			m.subscriptions[key] = true
			m.flushBufferLocked(ev, ctx, channel)
		}
	}
}

// flushBufferLocked emits and clears buffered events matching the new
// subscription. When ctx == "" (subscribe to all contexts), every
// per-context buffer for this event is flushed.
func (m *Manager) flushBufferLocked(event, ctx, channel string) {
	if ctx != "" {
		key := bufferKey{event: event, context: ctx}
		for _, o := range m.buffer[key] {
			o.Channel = channel
			m.emit(o)
		}
		delete(m.buffer, key)
		return
	}
	for key, evs := range m.buffer {
		if key.event != event {
			continue
		}
		for _, o := range evs {
			o.Channel = channel
			m.emit(o)
		}
		delete(m.buffer, key)
	}
}

// Unsubscribe removes subscription entries, symmetric with Subscribe.
func (m *Manager) Unsubscribe(eventNames, contexts []string, channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctxList := contexts
	if len(ctxList) == 0 {
		ctxList = []string{""}
	}
	for _, ev := range eventNames {
		for _, ctx := range ctxList {
			delete(m.subscriptions, subscriptionKey{event: ev, context: ctx, channel: channel})
		}
	}
}

// RegisterEvent is called once per CDP-derived BiDi event occurrence.
// It delivers to every matching subscription (exact context match or
// an "all contexts" subscription), deduplicating so a client subscribed
// both ways is not notified twice. If nothing matches and event is one
// of the always-buffered kinds, it is stored for a later subscriber.
func (m *Manager) RegisterEvent(event, contextID string, params any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delivered := false
	seenChannels := make(map[string]bool)
	for key := range m.subscriptions {
		if key.event != event {
			continue
		}
		if key.context != "" && key.context != contextID {
			continue
		}
		if seenChannels[key.channel] {
			continue
		}
		seenChannels[key.channel] = true
		delivered = true
		m.emit(Outbound{Method: event, Params: params, Channel: key.channel})
	}

	if !delivered && alwaysBuffered[event] {
		key := bufferKey{event: event, context: contextID}
		m.buffer[key] = append(m.buffer[key], Outbound{Method: event, Params: params})
	}
}

// DiscardContext drops the buffer for a deleted context.
func (m *Manager) DiscardContext(contextID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.buffer {
		if key.context == contextID {
			delete(m.buffer, key)
		}
	}
}
