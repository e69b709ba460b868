package mixer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	eventsource "github.com/stalexteam/eventsource_go"
	"go.uber.org/zap"
)

const (
	apiPath     = "/api"
	wsPath      = "/ws"
	eventsPath  = "/events"
	metricsPath = "/metrics"

	// SSE retry timeout in milliseconds
	sseRetryTimeout = 30000

	pingInterval = 10 * time.Second

	maxRequestSize    = 1 << 20
	wsWriteTimeout    = 10 * time.Second
	serverStopTimeout = 5 * time.Second
)

// Server exposes the dispatcher over HTTP and WebSocket, and streams server events over SSE
type Server struct {
	logger     *zap.SugaredLogger
	dispatcher *Dispatcher
	events     *Broadcaster
	handler    http.Handler

	// manages all active SSE connections
	manager  *eventsource.ConnectionManager
	upgrader websocket.Upgrader

	// SSE id field counter
	eventID int64

	mu      sync.Mutex // Protects server, addr, bound and done
	server  *http.Server
	addr    string
	bound   string
	done    chan struct{}
	running int32
}

// NewServer creates the network front of the dispatcher. gatherer backs /metrics and may be nil
func NewServer(logger *zap.SugaredLogger, dispatcher *Dispatcher, events *Broadcaster, gatherer prometheus.Gatherer) *Server {
	logger = logger.Named("server")

	manager := eventsource.NewConnectionManager()

	manager.SetOnConnect(func(encoder *eventsource.Encoder) {
		logger.Infow("New SSE client connected",
			"remote", encoder.RemoteAddr(),
			"path", encoder.Path())
	})

	manager.SetOnDisconnect(func(encoder *eventsource.Encoder) {
		logger.Debugw("SSE client disconnected",
			"remote", encoder.RemoteAddr(),
			"path", encoder.Path())
	})

	srv := &Server{
		logger:     logger,
		dispatcher: dispatcher,
		events:     events,
		manager:    manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(apiPath, srv.serveAPI)
	mux.HandleFunc(wsPath, srv.serveWebSocket)
	sseHandler := eventsource.HandlerV2(srv.serveSSE)
	mux.HandleFunc(eventsPath, eventsource.HandlerWithManager(manager, sseHandler).ServeHTTP)
	if gatherer != nil {
		mux.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/", srv.serveNotFound)

	srv.handler = mux

	logger.Debug("Created server instance")

	return srv
}

// Handler returns the HTTP handler serving every endpoint
func (srv *Server) Handler() http.Handler {
	return srv.handler
}

// Addr returns the configured address the server was started with, or "" when stopped
func (srv *Server) Addr() string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.addr
}

// BoundAddr returns the address the listener actually bound, or "" when stopped
func (srv *Server) BoundAddr() string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.bound
}

// IsRunning returns whether the server is currently running
func (srv *Server) IsRunning() bool {
	return atomic.LoadInt32(&srv.running) == 1
}

// Start binds the given address and serves in the background. it restarts the server when it
// already runs on a different address
func (srv *Server) Start(addr string) error {
	if srv.IsRunning() {
		if srv.Addr() == addr {
			srv.logger.Debugw("Server already running on the same address", "addr", addr)
			return nil
		}

		srv.logger.Infow("Listen address changed, restarting", "old", srv.Addr(), "new", addr)
		srv.Stop()
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		srv.logger.Warnw("Failed to bind listen address", "addr", addr, "error", err)
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	done := make(chan struct{})
	server := &http.Server{
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srv.mu.Lock()
	srv.server = server
	srv.addr = addr
	srv.bound = listener.Addr().String()
	srv.done = done
	srv.mu.Unlock()

	atomic.StoreInt32(&srv.running, 1)

	go func() {
		srv.logger.Infow("Starting server", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.logger.Errorw("Server error", "error", err)
			atomic.StoreInt32(&srv.running, 0)
		}
	}()

	go srv.forwardEvents(done)

	return nil
}

// Stop closes every streaming connection and shuts the HTTP server down
func (srv *Server) Stop() {
	if !atomic.CompareAndSwapInt32(&srv.running, 1, 0) {
		return
	}

	srv.logger.Debug("Stopping server")

	srv.mu.Lock()
	server := srv.server
	done := srv.done
	srv.server = nil
	srv.addr = ""
	srv.bound = ""
	srv.done = nil
	srv.mu.Unlock()

	if done != nil {
		close(done)
	}

	srv.manager.CloseAll()
	srv.logger.Debugw("Closed all SSE connections", "count", srv.manager.Count())

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			srv.logger.Warnw("Error during server shutdown", "error", err)
			server.Close()
		}
	}

	srv.logger.Info("Server stopped")
}

func (srv *Server) serveAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		srv.serveNotFound(w, r)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestSize))
	if err != nil {
		srv.logger.Debugw("Failed to read request body", "remote", r.RemoteAddr, "error", err)
		writeOutcome(w, srv.logger, Fail(CodeBadRequest, errorMessageInvalidRequest, ""))
		return
	}

	writeOutcome(w, srv.logger, srv.dispatcher.HandleRequest(body))
}

func (srv *Server) serveNotFound(w http.ResponseWriter, r *http.Request) {
	srv.logger.Debugw("Unknown resource requested", "method", r.Method, "path", r.URL.Path)
	writeOutcome(w, srv.logger, NotFound())
}

// writeOutcome sends the envelope with an HTTP status mirroring its code
func writeOutcome(w http.ResponseWriter, logger *zap.SugaredLogger, outcome Outcome) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(outcome.StatusCode())

	if _, err := w.Write(EncodeOutcome(logger, outcome)); err != nil {
		logger.Debugw("Failed to write response", "error", err)
	}
}

// serveWebSocket answers each text frame with one response frame and pushes server events
// on the same socket
func (srv *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Debugw("Failed to upgrade websocket connection", "remote", r.RemoteAddr, "error", err)
		return
	}

	logger := srv.logger.With("remote", conn.RemoteAddr().String())
	logger.Info("New websocket client connected")

	client := &wsClient{conn: conn}
	subscription := srv.events.Subscribe()

	defer func() {
		subscription.Close()
		conn.Close()
		logger.Debug("Websocket client disconnected")
	}()

	go func() {
		for event := range subscription.Events() {
			data, err := json.Marshal(event)
			if err != nil {
				logger.Warnw("Failed to marshal server event", "event", event.Type, "error", err)
				continue
			}

			if err := client.write(data); err != nil {
				logger.Debugw("Failed to push server event", "error", err)
				return
			}
		}
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugw("Websocket read error", "error", err)
			}
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if err := client.write(srv.dispatcher.Handle(message)); err != nil {
			logger.Debugw("Failed to write websocket response", "error", err)
			return
		}
	}
}

// wsClient serializes writes, gorilla connections allow one concurrent writer
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}

	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// serveSSE primes a new event stream client and holds the connection until it goes away
func (srv *Server) serveSSE(
	info *eventsource.ConnectionInfo,
	encoder *eventsource.Encoder,
	stop <-chan bool,
) {
	if err := encoder.SetRetry(sseRetryTimeout); err != nil {
		if eventsource.IsConnectionError(err) {
			srv.logger.Debugw("Error sending retry, connection closed", "error", err)
		} else {
			srv.logger.Debugw("Error sending retry field", "error", err)
		}
		return
	}

	if err := encoder.Encode(srv.pingEvent()); err != nil {
		if eventsource.IsConnectionError(err) {
			srv.logger.Debugw("Error sending ping, connection closed", "error", err)
		} else {
			srv.logger.Debugw("Error sending ping event", "error", err)
		}
		return
	}

	srv.mu.Lock()
	done := srv.done
	srv.mu.Unlock()

	// wait for client disconnect or server stop
	select {
	case <-stop:
	case <-done:
	}
}

func (srv *Server) nextEventID() string {
	return fmt.Sprintf("%d", atomic.AddInt64(&srv.eventID, 1))
}

func (srv *Server) pingEvent() eventsource.Event {
	return eventsource.Event{
		ID:   srv.nextEventID(),
		Type: "ping",
		Data: []byte(fmt.Sprintf(`{"time":%d}`, now().Unix())),
	}
}

// forwardEvents relays broadcaster events and periodic pings to every SSE client until done
func (srv *Server) forwardEvents(done chan struct{}) {
	subscription := srv.events.Subscribe()
	defer subscription.Close()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ticker.C:
			srv.broadcastSSE(srv.pingEvent())

		case event, ok := <-subscription.Events():
			if !ok {
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				srv.logger.Warnw("Failed to marshal server event", "event", event.Type, "error", err)
				continue
			}

			srv.broadcastSSE(eventsource.Event{
				ID:   srv.nextEventID(),
				Type: string(event.Type),
				Data: data,
			})
		}
	}
}

func (srv *Server) broadcastSSE(event eventsource.Event) {
	if srv.manager.Count() == 0 {
		return
	}

	// failed connections are dropped by the manager
	if err := srv.manager.Broadcast(event); err != nil && eventsource.IsConnectionError(err) {
		srv.logger.Debugw("Some connections failed during broadcast", "type", event.Type, "error", err)
	}
}
