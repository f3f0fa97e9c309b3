// Package protocol defines the relay's wire contract: a JSON envelope
// {"type": ..., "data": ...} carrying one message of the catalogue below.
package protocol

import (
	"encoding/json"

	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/room"
)

// Type tags the payload carried by an Envelope.
type Type string

// Client → relay.
const (
	TypeJoinRoom  Type = "join_room"
	TypeSyncState Type = "sync_state"
	TypeLeaveRoom Type = "leave_room"
	// TypePlayerAction is shared by the inbound action and its relayed form.
	TypePlayerAction Type = "player_action"
)

// Relay → client.
const (
	TypeJoined      Type = "joined"
	TypePlayerList  Type = "player_list"
	TypeStateUpdate Type = "state_update"
	// TypePlayerDisconnected is the single-departure notice of older relays.
	// This relay always sends a full player_list instead; clients still accept it.
	TypePlayerDisconnected Type = "player_disconnected"
)

// Envelope is the frame wrapper for every message.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is implemented by every variant of the catalogue.
type Message interface {
	MessageType() Type
}

// Inbound is a validated client → relay message.
type Inbound interface {
	Message
	// RoomID returns the room the message addresses.
	RoomID() string
}

// JoinRoom asks to enter a room under a display name.
type JoinRoom struct {
	Room string `json:"room"`
	Name string `json:"name"`
}

// SyncState reports the sender's latest snapshot fields.
type SyncState struct {
	Room  string      `json:"room"`
	State *room.Patch `json:"state"`
}

// PlayerAction carries an opaque gameplay event, conventionally {type, data}.
type PlayerAction struct {
	Room   string          `json:"room"`
	Action json.RawMessage `json:"action"`
}

// LeaveRoom asks to exit a room.
type LeaveRoom struct {
	Room string `json:"room"`
}

func (JoinRoom) MessageType() Type     { return TypeJoinRoom }
func (SyncState) MessageType() Type    { return TypeSyncState }
func (PlayerAction) MessageType() Type { return TypePlayerAction }
func (LeaveRoom) MessageType() Type    { return TypeLeaveRoom }

func (m JoinRoom) RoomID() string     { return m.Room }
func (m SyncState) RoomID() string    { return m.Room }
func (m PlayerAction) RoomID() string { return m.Room }
func (m LeaveRoom) RoomID() string    { return m.Room }

// Joined acknowledges a join to the joining client with its session id.
type Joined struct {
	ID   string `json:"id"`
	Room string `json:"room"`
}

// PlayerList is the full roster of a room in join order.
type PlayerList []room.Member

// StateUpdate maps session ids to their merged snapshots.
type StateUpdate map[string]room.Snapshot

// ActionRelay is a PlayerAction forwarded to the sender's room peers.
type ActionRelay struct {
	ID     string          `json:"id"`
	Action json.RawMessage `json:"action"`
}

// PlayerDisconnected announces a single departure.
type PlayerDisconnected struct {
	ID string `json:"id"`
}

func (Joined) MessageType() Type             { return TypeJoined }
func (PlayerList) MessageType() Type         { return TypePlayerList }
func (StateUpdate) MessageType() Type        { return TypeStateUpdate }
func (ActionRelay) MessageType() Type        { return TypePlayerAction }
func (PlayerDisconnected) MessageType() Type { return TypePlayerDisconnected }

// InboundTypes lists every type a client may send.
func InboundTypes() []Type {
	return []Type{TypeJoinRoom, TypeSyncState, TypePlayerAction, TypeLeaveRoom}
}
