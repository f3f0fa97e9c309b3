package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/AiWizardDK/elastoclash-mp-server/internal/config"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/observability"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/session"
)

// closeGrace bounds how long a close frame may take to write.
const closeGrace = time.Second

// conn pairs one upgraded socket with its session. The write pump is the
// only goroutine that calls WriteMessage; closes go through WriteControl,
// which gorilla allows concurrently.
type conn struct {
	ws           *websocket.Conn
	sessionID    string
	readLimit    int64
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *zap.Logger
}

func newConn(ws *websocket.Conn, sessionID string, cfg config.RelayConfig, logger *zap.Logger) *conn {
	return &conn{
		ws:           ws,
		sessionID:    sessionID,
		readLimit:    cfg.ReadLimit,
		writeTimeout: cfg.WriteTimeout,
		pingInterval: cfg.PingInterval,
		logger:       logger,
	}
}

// pongWait is how long the peer may stay silent before the read fails.
func (c *conn) pongWait() time.Duration {
	return c.pingInterval * 2
}

func (c *conn) extendReadDeadline() error {
	if c.pingInterval <= 0 {
		return nil
	}
	return c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
}

// readPump submits every inbound frame to the hub until the socket fails.
//
// Postcondition: Returns nil on a normal close, otherwise the read or submit error.
func (c *conn) readPump(ctx context.Context, hub Hub) error {
	c.ws.SetReadLimit(c.readLimit)
	if err := c.extendReadDeadline(); err != nil {
		return fmt.Errorf("setting read deadline: %w", err)
	}
	c.ws.SetPongHandler(func(string) error { return c.extendReadDeadline() })

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		if err := c.extendReadDeadline(); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}
		if err := hub.Submit(ctx, c.sessionID, frame); err != nil {
			return fmt.Errorf("submitting frame: %w", err)
		}
	}
}

// writePump drains the outbox to the socket and sends keepalive pings.
// It returns when the outbox closes, a write fails, or stop is closed.
func (c *conn) writePump(outbox *session.Outbox, stop <-chan struct{}) {
	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	frames := outbox.Frames()
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				c.closeWith(websocket.CloseNormalClosure, "")
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("writing frame", observability.Session(c.sessionID), zap.Error(err))
				_ = c.ws.Close()
				return
			}
		case <-ping:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug("writing ping", observability.Session(c.sessionID), zap.Error(err))
				_ = c.ws.Close()
				return
			}
		case <-stop:
			return
		}
	}
}

// closeWith sends a close frame and closes the socket.
func (c *conn) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	_ = c.ws.Close()
}
