package relay

import (
	"errors"

	"go.uber.org/zap"

	"github.com/AiWizardDK/elastoclash-mp-server/internal/observability"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/protocol"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/room"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/session"
)

// handlerFunc applies one validated client message. Handlers run on the
// event loop and must not block.
type handlerFunc func(r *Relay, sessionID string, msg protocol.Inbound)

// handlerMap is the single source of truth for inbound dispatch.
// Adding a type to protocol.InboundTypes requires an entry here.
var handlerMap = map[protocol.Type]handlerFunc{
	protocol.TypeJoinRoom:     (*Relay).handleJoin,
	protocol.TypeSyncState:    (*Relay).handleSync,
	protocol.TypePlayerAction: (*Relay).handleAction,
	protocol.TypeLeaveRoom:    (*Relay).handleLeave,
}

// message decodes a frame and dispatches it. Malformed frames are dropped.
func (r *Relay) message(sessionID string, frame []byte) {
	if !r.sessions.Has(sessionID) {
		r.logger.Debug("message from unknown session", observability.Session(sessionID))
		return
	}

	msg, err := protocol.DecodeInbound(frame, r.defaultRoom)
	if err != nil {
		level := r.logger.Debug
		if errors.Is(err, protocol.ErrMalformed) || errors.Is(err, protocol.ErrUnknownType) {
			level = r.logger.Warn
		}
		level("dropping client message",
			observability.Session(sessionID),
			zap.Int("bytes", len(frame)),
			zap.Error(err),
		)
		return
	}

	handler, ok := handlerMap[msg.MessageType()]
	if !ok {
		r.logger.Error("no handler registered",
			observability.Session(sessionID),
			observability.MessageType(string(msg.MessageType())),
		)
		return
	}
	handler(r, sessionID, msg)
}

func (r *Relay) handleJoin(sessionID string, msg protocol.Inbound) {
	m := msg.(protocol.JoinRoom)

	sess, ok := r.sessions.Get(sessionID)
	if !ok {
		return
	}
	// A session belongs to one room at a time.
	if sess.RoomID != "" && sess.RoomID != m.Room {
		r.leaveRoom(sessionID, sess.RoomID)
	}

	r.sessions.AttachToRoom(sessionID, m.Room, m.Name)
	members := r.rooms.Join(m.Room, sessionID, m.Name)

	r.send(sessionID, protocol.Joined{ID: sessionID, Room: m.Room})
	r.broadcast(members, protocol.PlayerList(members), "")

	r.logger.Info("session joined room",
		observability.Session(sessionID),
		observability.Room(m.Room),
		zap.String("name", m.Name),
		observability.Members(len(members)),
	)
}

func (r *Relay) handleSync(sessionID string, msg protocol.Inbound) {
	m := msg.(protocol.SyncState)

	snap, ok := r.rooms.MergeState(m.Room, sessionID, *m.State)
	if !ok {
		r.logger.Debug("state sync outside membership",
			observability.Session(sessionID),
			observability.Room(m.Room),
		)
		return
	}
	r.broadcast(r.rooms.Membership(m.Room), protocol.StateUpdate{sessionID: snap}, sessionID)
}

func (r *Relay) handleAction(sessionID string, msg protocol.Inbound) {
	m := msg.(protocol.PlayerAction)

	if !r.rooms.IsMember(m.Room, sessionID) {
		r.logger.Debug("action outside membership",
			observability.Session(sessionID),
			observability.Room(m.Room),
		)
		return
	}
	r.broadcast(r.rooms.Membership(m.Room), protocol.ActionRelay{ID: sessionID, Action: m.Action}, sessionID)
}

func (r *Relay) handleLeave(sessionID string, msg protocol.Inbound) {
	r.leaveRoom(sessionID, msg.RoomID())
}

// leaveRoom removes the session from roomID in both the store and the
// registry and sends the new roster to whoever remains.
func (r *Relay) leaveRoom(sessionID, roomID string) {
	members, outcome := r.rooms.Leave(roomID, sessionID)
	r.sessions.ClearRoom(sessionID, roomID)

	switch outcome {
	case room.Left:
		r.broadcast(members, protocol.PlayerList(members), "")
		r.logger.Info("session left room",
			observability.Session(sessionID),
			observability.Room(roomID),
			observability.Members(len(members)),
		)
	case room.Deleted:
		r.logger.Info("room deleted",
			observability.Session(sessionID),
			observability.Room(roomID),
			zap.Int("rooms", r.rooms.Len()),
		)
	default:
		r.logger.Debug("leave outside membership",
			observability.Session(sessionID),
			observability.Room(roomID),
		)
	}
}

// broadcast encodes m once and pushes it to every member except exclude.
func (r *Relay) broadcast(members []room.Member, m protocol.Message, exclude string) {
	frame, err := protocol.Encode(m)
	if err != nil {
		r.logger.Error("encoding broadcast", observability.MessageType(string(m.MessageType())), zap.Error(err))
		return
	}
	for _, member := range members {
		if member.ID == exclude {
			continue
		}
		r.push(member.ID, m.MessageType(), frame)
	}
}

func (r *Relay) send(sessionID string, m protocol.Message) {
	frame, err := protocol.Encode(m)
	if err != nil {
		r.logger.Error("encoding message", observability.MessageType(string(m.MessageType())), zap.Error(err))
		return
	}
	r.push(sessionID, m.MessageType(), frame)
}

func (r *Relay) push(sessionID string, typ protocol.Type, frame []byte) {
	outbox, ok := r.sessions.Outbox(sessionID)
	if !ok {
		return
	}
	if err := outbox.Push(frame); err != nil {
		level := r.logger.Debug
		if errors.Is(err, session.ErrOutboxFull) {
			level = r.logger.Warn
		}
		level("dropping outbound frame",
			observability.Session(sessionID),
			observability.MessageType(string(typ)),
			zap.Error(err),
		)
	}
}
