// Package ws accepts browser WebSocket connections and bridges each one to
// the relay event loop.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/AiWizardDK/elastoclash-mp-server/internal/config"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/observability"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/session"
)

// StatusText is served on GET / so hosting platforms can probe the process.
const StatusText = "ElastoClash multiplayer server is running."

// Hub is the relay surface a connection drives.
type Hub interface {
	Connect(ctx context.Context, sessionID string) (*session.Outbox, error)
	Submit(ctx context.Context, sessionID string, frame []byte) error
	Disconnect(ctx context.Context, sessionID string) error
}

// Acceptor serves the HTTP status routes and upgrades WebSocket requests,
// handing each connection to the Hub.
type Acceptor struct {
	server   config.ServerConfig
	relay    config.RelayConfig
	hub      Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
	newID    func() string

	httpSrv     *http.Server
	listener    net.Listener
	onListening func(addr string)
	wg          sync.WaitGroup
	quit        chan struct{}
	mu          sync.Mutex
	running     bool
	stopped     bool
}

// NewAcceptor creates a WebSocket acceptor.
//
// Precondition: server and relay must be validated; hub and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(server config.ServerConfig, relay config.RelayConfig, hub Hub, logger *zap.Logger) *Acceptor {
	a := &Acceptor{
		server: server,
		relay:  relay,
		hub:    hub,
		logger: logger,
		newID:  func() string { return uuid.New().String() },
		quit:   make(chan struct{}),
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
	return a
}

// OnListening registers fn to run once the listener is bound, before the
// first connection is served. It is not called when binding fails.
//
// Precondition: Must be called before ListenAndServe.
func (a *Acceptor) OnListening(fn func(addr string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onListening = fn
}

// Handler returns the HTTP routes served by the acceptor.
func (a *Acceptor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", a.serveHTTP)
	return mux
}

func (a *Acceptor) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == a.server.WSPath && websocket.IsWebSocketUpgrade(r) {
		a.handleUpgrade(w, r)
		return
	}
	if r.URL.Path != "/" || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(StatusText))
}

func (a *Acceptor) checkOrigin(r *http.Request) bool {
	if a.server.AllowsAnyOrigin() {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no Origin.
		return true
	}
	return slices.Contains(a.server.AllowedOrigins, origin)
}

// ListenAndServe starts the HTTP listener and serves until Stop is called.
// This method blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns. Returns nil
// without serving if Stop was called first.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.server.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.server.Addr(), err)
	}

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(a.logger.Named("http")),
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		_ = listener.Close()
		a.logger.Info("websocket acceptor stopped before listening")
		return nil
	}
	a.listener = listener
	a.httpSrv = srv
	a.running = true
	onListening := a.onListening
	a.mu.Unlock()

	if onListening != nil {
		onListening(listener.Addr().String())
	}

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.server.WSPath),
		zap.Strings("allowed_origins", a.server.AllowedOrigins),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// handleUpgrade runs one WebSocket connection to completion.
func (a *Acceptor) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	a.wg.Add(1)
	defer a.wg.Done()
	start := time.Now()
	addr := r.RemoteAddr

	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		a.logger.Debug("websocket upgrade rejected",
			observability.RemoteAddr(addr),
			zap.String("origin", r.Header.Get("Origin")),
			zap.Error(err),
		)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := a.newID()
	outbox, err := a.hub.Connect(ctx, id)
	if err != nil {
		a.logger.Error("registering connection",
			observability.RemoteAddr(addr),
			observability.Session(id),
			zap.Error(err),
		)
		_ = ws.Close()
		return
	}

	a.logger.Info("client connected",
		observability.RemoteAddr(addr),
		observability.Session(id),
	)

	conn := newConn(ws, id, a.relay, a.logger)

	// Close the socket on shutdown so the read pump unblocks.
	go func() {
		select {
		case <-a.quit:
			conn.closeWith(websocket.CloseGoingAway, "server shutting down")
		case <-ctx.Done():
		}
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		conn.writePump(outbox, ctx.Done())
	}()

	err = conn.readPump(ctx, a.hub)
	cancel()
	<-writeDone
	_ = ws.Close()

	// Disconnect must outlive the connection context.
	if derr := a.hub.Disconnect(context.Background(), id); derr != nil {
		a.logger.Debug("queueing disconnect", observability.Session(id), zap.Error(derr))
	}

	if err != nil {
		a.logger.Debug("session ended",
			observability.RemoteAddr(addr),
			observability.Session(id),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		a.logger.Info("session ended cleanly",
			observability.RemoteAddr(addr),
			observability.Session(id),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// Stop gracefully stops the acceptor, closing the listener and every open
// WebSocket, then waiting for connection goroutines until ctx expires.
//
// Postcondition: No new connections are accepted, including by a
// ListenAndServe call that has not bound its listener yet.
func (a *Acceptor) Stop(ctx context.Context) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.running = false
	close(a.quit)
	srv := a.httpSrv
	a.mu.Unlock()

	if srv == nil {
		a.logger.Info("websocket acceptor stopped before listening")
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.logger.Info("websocket acceptor stopped")
	case <-ctx.Done():
		a.logger.Warn("websocket acceptor stop timed out", zap.Error(ctx.Err()))
	}
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
