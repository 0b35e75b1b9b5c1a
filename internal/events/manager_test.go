package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterEventDeliversToMatchingSubscription(t *testing.T) {
	var got []Outbound
	m := NewManager(func(o Outbound) { got = append(got, o) })

	m.Subscribe([]string{"log.entryAdded"}, []string{"ctx-1"}, "")
	m.RegisterEvent("log.entryAdded", "ctx-1", map[string]any{"text": "hi"})
	m.RegisterEvent("log.entryAdded", "ctx-2", map[string]any{"text": "not subscribed"})

	require.Len(t, got, 1)
	assert.Equal(t, "log.entryAdded", got[0].Method)
}

func TestRegisterEventDedupesAcrossContextAndAllContextsSubscription(t *testing.T) {
	var got []Outbound
	m := NewManager(func(o Outbound) { got = append(got, o) })

	m.Subscribe([]string{"log.entryAdded"}, []string{"ctx-1"}, "")
	m.Subscribe([]string{"log.entryAdded"}, nil, "") // all-contexts, same channel
	m.RegisterEvent("log.entryAdded", "ctx-1", nil)

	assert.Len(t, got, 1, "a client subscribed both ways must not be notified twice")
}

func TestRegisterEventDeliversOncePerDistinctChannel(t *testing.T) {
	var got []Outbound
	m := NewManager(func(o Outbound) { got = append(got, o) })

	m.Subscribe([]string{"log.entryAdded"}, []string{"ctx-1"}, "chan-a")
	m.Subscribe([]string{"log.entryAdded"}, []string{"ctx-1"}, "chan-b")
	m.RegisterEvent("log.entryAdded", "ctx-1", nil)

	assert.Len(t, got, 2)
}

func TestAlwaysBufferedEventFlushedToLateSubscriber(t *testing.T) {
	var got []Outbound
	m := NewManager(func(o Outbound) { got = append(got, o) })

	m.RegisterEvent("browsingContext.load", "ctx-1", map[string]any{"context": "ctx-1"})
	assert.Empty(t, got, "no subscriber yet, so nothing should be emitted")

	m.Subscribe([]string{"browsingContext.load"}, []string{"ctx-1"}, "")
	require.Len(t, got, 1, "a late subscriber should see the buffered event")
	assert.Equal(t, "browsingContext.load", got[0].Method)
}

func TestNonBufferedEventWithNoSubscriberIsDropped(t *testing.T) {
	var got []Outbound
	m := NewManager(func(o Outbound) { got = append(got, o) })

	m.RegisterEvent("log.entryAdded", "ctx-1", nil)
	m.Subscribe([]string{"log.entryAdded"}, []string{"ctx-1"}, "")
	assert.Empty(t, got, "log.entryAdded is not in the always-buffered set")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	var got []Outbound
	m := NewManager(func(o Outbound) { got = append(got, o) })

	m.Subscribe([]string{"log.entryAdded"}, []string{"ctx-1"}, "")
	m.Unsubscribe([]string{"log.entryAdded"}, []string{"ctx-1"}, "")
	m.RegisterEvent("log.entryAdded", "ctx-1", nil)

	assert.Empty(t, got)
}

func TestDiscardContextDropsBufferedEvents(t *testing.T) {
	var got []Outbound
	m := NewManager(func(o Outbound) { got = append(got, o) })

	m.RegisterEvent("browsingContext.load", "ctx-1", nil)
	m.DiscardContext("ctx-1")
	m.Subscribe([]string{"browsingContext.load"}, []string{"ctx-1"}, "")

	assert.Empty(t, got, "a discarded context's buffered events must not resurface")
}

func TestSubscribeToAllContextsFlushesEveryPerContextBuffer(t *testing.T) {
	var got []Outbound
	m := NewManager(func(o Outbound) { got = append(got, o) })

	m.RegisterEvent("browsingContext.load", "ctx-1", nil)
	m.RegisterEvent("browsingContext.load", "ctx-2", nil)
	m.Subscribe([]string{"browsingContext.load"}, nil, "")

	assert.Len(t, got, 2)
}
