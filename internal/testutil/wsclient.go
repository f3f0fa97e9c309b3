// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/protocol"
)

// WSClient is a minimal WebSocket test client speaking the relay envelope.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWSClient dials the given ws:// URL and returns a test client.
//
// Precondition: url must point at a listening relay endpoint.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, url string, header http.Header) *WSClient {
	t.Helper()
	start := time.Now()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("connecting to %s: %v (status %d) [%s]", url, err, status, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("websocket client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Send wraps data in an envelope of the given type and writes it.
//
// Postcondition: One text frame is written, or the test fails.
func (c *WSClient) Send(typ protocol.Type, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("encoding %s payload: %v", typ, err)
	}
	frame, err := json.Marshal(protocol.Envelope{Type: typ, Data: raw})
	if err != nil {
		c.t.Fatalf("encoding %s envelope: %v", typ, err)
	}
	c.SendRaw(string(frame))
}

// SendRaw writes text as a single frame without validation.
func (c *WSClient) SendRaw(text string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// Read returns the next envelope or fails on timeout.
func (c *WSClient) Read(timeout time.Duration) protocol.Envelope {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, frame, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	env, err := protocol.DecodeEnvelope(frame)
	if err != nil {
		c.t.Fatalf("decoding frame %q: %v", frame, err)
	}
	return env
}

// ReadUntil skips envelopes until one of type typ arrives.
//
// Postcondition: Returns the matching envelope, or fails on timeout.
func (c *WSClient) ReadUntil(typ protocol.Type, timeout time.Duration) protocol.Envelope {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("timed out waiting for %s", typ)
		}
		if env := c.Read(remaining); env.Type == typ {
			return env
		}
	}
}

// ExpectSilence fails if any frame arrives within d. A timed-out read
// poisons the connection, so call it last.
func (c *WSClient) ExpectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	_, frame, err := c.conn.ReadMessage()
	if err == nil {
		c.t.Fatalf("expected no frame, got %q", frame)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		c.t.Fatalf("expected read timeout, got %v", err)
	}
}

// Close drops the connection without a close handshake, like a crashed tab.
func (c *WSClient) Close() {
	c.conn.Close()
}
