package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// maxMessageSize allows for large screenshot payloads carried inline
// in BiDi responses.
const maxMessageSize = 10 * 1024 * 1024

// clientReadDeadline is generous since a BiDi client may sit idle
// between commands.
const clientReadDeadline = 300 * time.Second

// WebSocketServer accepts exactly one BiDi client connection at a time;
// there is no multi-client fan-out.
type WebSocketServer struct {
	port       int
	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	client  *wsClient
	handler Handler
}

// NewWebSocketServer creates a server listening on port (0 = OS-assigned).
func NewWebSocketServer(port int, handler Handler) *WebSocketServer {
	return &WebSocketServer{
		port:    port,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxMessageSize,
			WriteBufferSize: maxMessageSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Port returns the bound port (resolved after Start).
func (s *WebSocketServer) Port() int { return s.port }

// Start binds the listener and begins serving in the background.
func (s *WebSocketServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("transport: listen on port %d: %w", s.port, err)
	}
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.httpServer = &http.Server{Handler: mux}
	go s.httpServer.Serve(listener)
	return nil
}

// Stop closes the active client connection (if any) and shuts the
// HTTP server down.
func (s *WebSocketServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.client != nil {
		s.client.Close()
	}
	s.mu.Unlock()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxMessageSize)

	s.mu.Lock()
	if s.client != nil {
		// Single-client Non-goal: reject a second concurrent connection.
		s.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "a client is already connected"))
		conn.Close()
		return
	}
	client := &wsClient{conn: conn, server: s}
	s.client = client
	s.mu.Unlock()

	s.handler.OnConnect(client)
	s.handleClient(client)
}

func (s *WebSocketServer) handleClient(client *wsClient) {
	defer func() {
		s.mu.Lock()
		if s.client == client {
			s.client = nil
		}
		s.mu.Unlock()
		client.Close()
		s.handler.OnClose()
	}()

	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(clientReadDeadline))
		return nil
	})

	for {
		client.conn.SetReadDeadline(time.Now().Add(clientReadDeadline))
		msgType, msg, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.handler.OnMessage(string(msg))
	}
}

// wsClient is the ClientTransport implementation over a websocket.
type wsClient struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
	server *WebSocketServer
}

func (c *wsClient) Send(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("transport: connection closed")
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *wsClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
