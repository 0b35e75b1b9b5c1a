// Package mediatorapp wires the mediator's singletons into one
// explicitly-constructed App, avoiding package-level globals.
package mediatorapp

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bidicdp/mediator/internal/cdp"
	"github.com/bidicdp/mediator/internal/command"
	"github.com/bidicdp/mediator/internal/mediator"
	"github.com/bidicdp/mediator/internal/transport"
)

// Config bundles the mediator's runtime options: a listen address for
// the BiDi-facing transport, the CDP endpoint to dial, and an optional
// self-target-id override for the startup handshake.
type Config struct {
	Transport TransportKind

	// Port is the TCP port for TransportWebSocket (0 picks one).
	Port int
	// PipeAddr is the unix socket path or Windows pipe name for
	// TransportPipe.
	PipeAddr string

	// CdpEndpoint is the browser's CDP websocket debugger URL
	// (e.g. its "webSocketDebuggerUrl").
	CdpEndpoint string

	// SelfTargetID is the mediator's own target id, which is filtered
	// from public responses. It comes only from here; Bootstrap does
	// not discover it.
	SelfTargetID string
}

// TransportKind selects which BidiTransport implementation fronts the
// mediator.
type TransportKind int

const (
	TransportWebSocket TransportKind = iota
	TransportPipe
)

// App bundles every singleton the mediator needs for one run: the CDP
// connection, the mediator.Context, the command.Processor, and the
// BiDi-facing transport server. Nothing here is a package-level
// global — New constructs one App per invocation.
type App struct {
	Log       *logrus.Entry
	Conn      *cdp.Connection
	Mediator  *mediator.Context
	Processor *command.Processor
	Server    bidiServer
}

// bidiServer is the subset of WebSocketServer/PipeServer's API Run needs.
type bidiServer interface {
	Start() error
}

// Port returns the bound TCP port when running over TransportWebSocket,
// or 0 for TransportPipe.
func (a *App) Port() int {
	if ws, ok := a.Server.(*transport.WebSocketServer); ok {
		return ws.Port()
	}
	return 0
}

// New dials the CDP endpoint and wires the mediator.Context,
// command.Processor and BiDi transport together, but does not yet
// start accepting connections or attach any target (see Run).
func New(cfg Config, log *logrus.Entry) (*App, error) {
	conn, err := cdp.Dial(cfg.CdpEndpoint, log.WithField("component", "cdp"))
	if err != nil {
		return nil, fmt.Errorf("mediatorapp: dial cdp endpoint: %w", err)
	}

	med := mediator.New(log.WithField("component", "mediator"), conn, cfg.SelfTargetID)
	mgr := med.Events
	proc := command.New(log.WithField("component", "command"), med, mgr)
	med.SetEmit(proc.SendEvent)

	var server bidiServer
	switch cfg.Transport {
	case TransportPipe:
		server = transport.NewPipeServer(cfg.PipeAddr, proc)
	default:
		server = transport.NewWebSocketServer(cfg.Port, proc)
	}

	return &App{Log: log, Conn: conn, Mediator: med, Processor: proc, Server: server}, nil
}

// Run starts the transport server and runs Target discovery/auto-attach
// against the browser. It returns once the listener is up; the rest
// of the mediator's work happens on event-driven goroutines.
func (a *App) Run() error {
	if err := a.Server.Start(); err != nil {
		return fmt.Errorf("mediatorapp: start transport: %w", err)
	}
	if err := a.Mediator.Bootstrap(); err != nil {
		return fmt.Errorf("mediatorapp: bootstrap targets: %w", err)
	}
	return nil
}

// Close tears down the CDP connection.
func (a *App) Close() error {
	return a.Conn.Close()
}
