// Package room holds per-room membership and the aggregate of the latest
// snapshot reported by every member.
package room

import (
	"slices"
	"sync"
)

// LeaveOutcome describes what a Leave call changed.
type LeaveOutcome int

const (
	// NotMember means the room does not exist or the session was not in it.
	NotMember LeaveOutcome = iota
	// Left means the session was removed and the room still has members.
	Left
	// Deleted means the session was the last member and the room is gone.
	Deleted
)

// String implements fmt.Stringer.
func (o LeaveOutcome) String() string {
	switch o {
	case Left:
		return "left"
	case Deleted:
		return "deleted"
	default:
		return "not_member"
	}
}

type room struct {
	order []string          // member ids in join order
	names map[string]string // member id → display name
	state map[string]Snapshot
}

func (r *room) roster() []Member {
	out := make([]Member, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, Member{ID: id, Name: r.names[id]})
	}
	return out
}

// Store maps room identifiers to rooms. A room exists exactly while it has
// at least one member, and its state map only holds keys of current members.
// All methods are safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{rooms: make(map[string]*room)}
}

// Join adds sessionID to roomID, creating the room if needed. A repeated join
// by the same session only replaces its name.
//
// Precondition: roomID and sessionID must be non-empty.
// Postcondition: Returns the roster in join order.
func (s *Store) Join(roomID, sessionID, name string) []Member {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		r = &room{
			names: make(map[string]string),
			state: make(map[string]Snapshot),
		}
		s.rooms[roomID] = r
	}

	if _, member := r.names[sessionID]; !member {
		r.order = append(r.order, sessionID)
	}
	r.names[sessionID] = name
	if snap, ok := r.state[sessionID]; ok {
		snap.Name = name
		r.state[sessionID] = snap
	}
	return r.roster()
}

// Leave removes sessionID from roomID along with its stored snapshot. The
// room is deleted when its last member leaves.
//
// Postcondition: Returns the remaining roster (nil unless the outcome is Left).
func (s *Store) Leave(roomID, sessionID string) ([]Member, LeaveOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil, NotMember
	}
	if _, member := r.names[sessionID]; !member {
		return nil, NotMember
	}

	delete(r.names, sessionID)
	delete(r.state, sessionID)
	r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == sessionID })

	if len(r.order) == 0 {
		delete(s.rooms, roomID)
		return nil, Deleted
	}
	return r.roster(), Left
}

// MergeState shallow-merges patch into the snapshot stored for sessionID.
// The first merge seeds the snapshot with the session id and member name.
//
// Postcondition: Returns the merged snapshot and true, or false when the room
// does not exist or sessionID is not a member of it.
func (s *Store) MergeState(roomID, sessionID string, patch Patch) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return Snapshot{}, false
	}
	name, member := r.names[sessionID]
	if !member {
		return Snapshot{}, false
	}

	snap, ok := r.state[sessionID]
	if !ok {
		snap = Snapshot{ID: sessionID, Name: name}
	}
	snap = snap.Apply(patch)
	snap.ID = sessionID
	r.state[sessionID] = snap
	return snap, true
}

// Membership returns the roster of roomID in join order, or an empty slice.
func (s *Store) Membership(roomID string) []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return []Member{}
	}
	return r.roster()
}

// IsMember reports whether sessionID currently belongs to roomID.
func (s *Store) IsMember(roomID, sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	_, member := r.names[sessionID]
	return member
}

// State returns a copy of the aggregate state of roomID.
func (s *Store) State(roomID string) map[string]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return map[string]Snapshot{}
	}
	out := make(map[string]Snapshot, len(r.state))
	for id, snap := range r.state {
		out[id] = snap
	}
	return out
}

// Has reports whether roomID exists.
func (s *Store) Has(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Len returns the number of live rooms.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
