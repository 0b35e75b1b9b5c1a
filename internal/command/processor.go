// Package command implements the Command Processor: the
// transport.Handler that turns inbound BiDi JSON strings into
// validated wire.Command values, dispatches each concurrently to the
// mediator's domain dispatcher, and writes back success/error
// responses and forwarded events.
package command

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bidicdp/mediator/internal/bidierr"
	"github.com/bidicdp/mediator/internal/events"
	"github.com/bidicdp/mediator/internal/transport"
	"github.com/bidicdp/mediator/internal/wire"
)

// Dispatcher executes one parsed BiDi command and returns its result
// value (marshaled as the response's "result") or a typed BiDi error.
// internal/mediator's App implements this by routing on cmd.Method.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd *wire.Command) (any, *bidierr.Error)
}

// Processor is the transport.Handler that owns the one active client
// connection's command lifecycle. Commands may be processed out of
// arrival order — each runs on its own goroutine and replies
// independently; no FIFO guarantee is made by this mediator.
type Processor struct {
	log        *logrus.Entry
	dispatcher Dispatcher
	events     *events.Manager

	mu     sync.Mutex
	client transport.ClientTransport
	runCtx context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// New creates a Processor. The events.Manager's emit callback should
// be wired by the caller to Processor.SendEvent before the transport
// server is started, since subscription state is shared across the
// connection's lifetime: session.subscribe applies for the duration
// of the BiDi session.
func New(log *logrus.Entry, dispatcher Dispatcher, mgr *events.Manager) *Processor {
	return &Processor{log: log, dispatcher: dispatcher, events: mgr}
}

// OnConnect implements transport.Handler, called once a client
// connects. The mediator attaches to an already-running CDP target;
// it never launches a browser itself.
func (p *Processor) OnConnect(client transport.ClientTransport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	p.client = client
	p.runCtx = ctx
	p.cancel = cancel
}

// SendEvent marshals and writes an outbound event, wired as the
// events.Manager's emit callback.
func (p *Processor) SendEvent(out events.Outbound) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return
	}
	data, err := wire.MarshalEvent(out.Method, out.Params, out.Channel)
	if err != nil {
		p.log.WithError(err).WithField("method", out.Method).Error("failed to marshal event")
		return
	}
	if err := client.Send(string(data)); err != nil {
		p.log.WithError(err).Debug("failed to send event, client likely disconnected")
	}
}

// OnMessage implements transport.Handler: parses the envelope and
// dispatches it on its own goroutine, replying independently of any
// other in-flight command. Suspension points are CDP round-trips, so
// a slow command must not block others.
func (p *Processor) OnMessage(msg string) {
	p.mu.Lock()
	client := p.client
	ctx := p.ctx()
	p.mu.Unlock()
	if client == nil {
		return
	}

	cmd, recoveredID, parseErr := wire.ParseCommand([]byte(msg))
	if parseErr != nil {
		p.replyError(client, parseErr, recoveredID, "")
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.handle(ctx, client, cmd)
	}()
}

func (p *Processor) ctx() context.Context {
	if p.runCtx == nil {
		return context.Background()
	}
	return p.runCtx
}

func (p *Processor) handle(ctx context.Context, client transport.ClientTransport, cmd *wire.Command) {
	result, dispatchErr := p.dispatcher.Dispatch(ctx, cmd)
	if dispatchErr != nil {
		p.replyError(client, dispatchErr, &cmd.ID, cmd.Channel)
		return
	}
	data, err := wire.MarshalSuccess(cmd.ID, result, cmd.Channel)
	if err != nil {
		p.log.WithError(err).WithField("method", cmd.Method).Error("failed to marshal success response")
		return
	}
	if err := client.Send(string(data)); err != nil {
		p.log.WithError(err).Debug("failed to send response, client likely disconnected")
	}
}

func (p *Processor) replyError(client transport.ClientTransport, e *bidierr.Error, id *int64, channel string) {
	data, err := wire.MarshalError(e, id, channel)
	if err != nil {
		p.log.WithError(err).Error("failed to marshal error response")
		return
	}
	if err := client.Send(string(data)); err != nil {
		p.log.WithError(err).Debug("failed to send error response, client likely disconnected")
	}
}

// OnClose implements transport.Handler: cancels any in-flight
// dispatch context and waits for outstanding goroutines so the
// mediator doesn't leak a command handler writing to a dead client.
func (p *Processor) OnClose() {
	p.mu.Lock()
	cancel := p.cancel
	p.client = nil
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}
