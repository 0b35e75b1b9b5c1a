package command

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidicdp/mediator/internal/bidierr"
	"github.com/bidicdp/mediator/internal/events"
	"github.com/bidicdp/mediator/internal/wire"
)

type fakeClient struct {
	sent chan string
}

func newFakeClient() *fakeClient { return &fakeClient{sent: make(chan string, 16)} }

func (f *fakeClient) Send(msg string) error { f.sent <- msg; return nil }
func (f *fakeClient) Close() error          { return nil }

type fakeDispatcher struct {
	fn func(ctx context.Context, cmd *wire.Command) (any, *bidierr.Error)
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, cmd *wire.Command) (any, *bidierr.Error) {
	return d.fn(ctx, cmd)
}

func newTestLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestProcessorDispatchesSuccess(t *testing.T) {
	client := newFakeClient()
	disp := &fakeDispatcher{fn: func(ctx context.Context, cmd *wire.Command) (any, *bidierr.Error) {
		assert.Equal(t, "session.status", cmd.Method)
		return map[string]any{"ready": true}, nil
	}}
	mgr := events.NewManager(func(events.Outbound) {})
	p := New(newTestLogger(), disp, mgr)
	p.OnConnect(client)

	p.OnMessage(`{"id":1,"method":"session.status","params":{}}`)

	select {
	case msg := <-client.sent:
		var resp struct {
			ID     int64          `json:"id"`
			Result map[string]any `json:"result"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg), &resp))
		assert.EqualValues(t, 1, resp.ID)
		assert.Equal(t, true, resp.Result["ready"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestProcessorDispatchError(t *testing.T) {
	client := newFakeClient()
	disp := &fakeDispatcher{fn: func(ctx context.Context, cmd *wire.Command) (any, *bidierr.Error) {
		return nil, bidierr.NoSuchFrame("abc")
	}}
	mgr := events.NewManager(func(events.Outbound) {})
	p := New(newTestLogger(), disp, mgr)
	p.OnConnect(client)

	p.OnMessage(`{"id":2,"method":"browsingContext.navigate","params":{"context":"abc","url":"x"}}`)

	select {
	case msg := <-client.sent:
		var resp bidierr.Response
		require.NoError(t, json.Unmarshal([]byte(msg), &resp))
		require.NotNil(t, resp.ID)
		assert.EqualValues(t, 2, *resp.ID)
		assert.Equal(t, bidierr.CodeNoSuchFrame, resp.Error)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestProcessorMalformedEnvelope(t *testing.T) {
	client := newFakeClient()
	disp := &fakeDispatcher{fn: func(ctx context.Context, cmd *wire.Command) (any, *bidierr.Error) {
		t.Fatal("dispatcher should not be called for a malformed envelope")
		return nil, nil
	}}
	mgr := events.NewManager(func(events.Outbound) {})
	p := New(newTestLogger(), disp, mgr)
	p.OnConnect(client)

	p.OnMessage(`not json`)

	select {
	case msg := <-client.sent:
		var resp bidierr.Response
		require.NoError(t, json.Unmarshal([]byte(msg), &resp))
		assert.Nil(t, resp.ID)
		assert.Equal(t, bidierr.CodeInvalidArgument, resp.Error)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error response")
	}
}

func TestProcessorEmitsEvents(t *testing.T) {
	client := newFakeClient()
	var mgr *events.Manager
	var p *Processor
	mgr = events.NewManager(func(o events.Outbound) { p.SendEvent(o) })
	p = New(newTestLogger(), &fakeDispatcher{}, mgr)
	p.OnConnect(client)

	mgr.Subscribe([]string{"browsingContext.load"}, nil, "")
	mgr.RegisterEvent("browsingContext.load", "ctx-1", map[string]any{"context": "ctx-1"})

	select {
	case msg := <-client.sent:
		var evt wire.Event
		require.NoError(t, json.Unmarshal([]byte(msg), &evt))
		assert.Equal(t, "browsingContext.load", evt.Method)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}
