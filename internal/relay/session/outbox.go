// Package session tracks connected relay clients and the room each one
// currently belongs to.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutboxClosed is returned by Push after the session has been torn down.
var ErrOutboxClosed = errors.New("outbox closed")

// ErrOutboxFull is returned by Push when the client is not draining frames.
var ErrOutboxFull = errors.New("outbox full")

// Outbox is a bounded queue of encoded frames waiting to be written to one
// client connection. Pushes never block: a slow client loses frames.
type Outbox struct {
	id     string
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox for the given session.
//
// Precondition: id must be non-empty.
// Postcondition: Returns an Outbox with an open frames channel.
func NewOutbox(id string, bufferSize int) *Outbox {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Outbox{
		id:     id,
		frames: make(chan []byte, bufferSize),
	}
}

// Push enqueues an encoded frame.
//
// Postcondition: The frame is enqueued, or ErrOutboxClosed / ErrOutboxFull is returned.
func (o *Outbox) Push(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("session %s: %w", o.id, ErrOutboxClosed)
	}
	select {
	case o.frames <- frame:
		return nil
	default:
		return fmt.Errorf("session %s: %w", o.id, ErrOutboxFull)
	}
}

// Frames returns the read side drained by the connection's write pump.
// The channel is closed once the session is removed.
func (o *Outbox) Frames() <-chan []byte {
	return o.frames
}

// Close marks the outbox closed and closes the frames channel.
// Close is idempotent.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.frames)
	}
}

// IsClosed reports whether the outbox has been closed.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
