package session

import (
	"errors"
	"fmt"
	"sync"
)

// Session is the server-side record of one client connection.
type Session struct {
	// ID is the connection-scoped identifier assigned by the transport.
	ID string
	// Name is the client-supplied display name; empty until the first join.
	Name string
	// RoomID is the room the session belongs to; empty before join.
	RoomID string
	// Outbox queues frames for the connection's write pump.
	Outbox *Outbox
}

// Registry maps connection identifiers to sessions for the lifetime of each
// connection. All methods are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	bufferSize int
}

// NewRegistry creates an empty Registry whose sessions get outboxes of the
// given capacity.
func NewRegistry(bufferSize int) *Registry {
	return &Registry{
		sessions:   make(map[string]*Session),
		bufferSize: bufferSize,
	}
}

// Register creates a session with an empty name and no room.
//
// Precondition: id must be non-empty.
// Postcondition: Returns the new Session, or an error if id is already registered.
func (r *Registry) Register(id string) (*Session, error) {
	if id == "" {
		return nil, errors.New("session id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return nil, fmt.Errorf("session %q already registered", id)
	}
	sess := &Session{
		ID:     id,
		Outbox: NewOutbox(id, r.bufferSize),
	}
	r.sessions[id] = sess
	return sess, nil
}

// AttachToRoom records the session's display name and room.
// Unknown ids are ignored.
func (r *Registry) AttachToRoom(id, roomID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[id]; ok {
		sess.RoomID = roomID
		sess.Name = name
	}
}

// ClearRoom empties the session's room if it is currently roomID.
//
// Postcondition: Returns true if the room was cleared.
func (r *Registry) ClearRoom(id, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok || sess.RoomID != roomID || roomID == "" {
		return false
	}
	sess.RoomID = ""
	return true
}

// Remove deletes the session and closes its outbox.
//
// Postcondition: Returns the room the session was in (empty if none) and
// whether the session existed.
func (r *Registry) Remove(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	delete(r.sessions, id)
	sess.Outbox.Close()
	return sess.RoomID, true
}

// Get returns a copy of the session for the given id.
//
// Postcondition: Returns (session, true) if found, or (Session{}, false) otherwise.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Outbox returns the outbox of a registered session.
func (r *Registry) Outbox(id string) (*Outbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Outbox, true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
