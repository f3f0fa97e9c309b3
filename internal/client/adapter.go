// Package client is a Go implementation of the game-side multiplayer
// adapter: it joins a room, streams the local rider's snapshot at a bounded
// rate and mirrors the remote riders reported by the relay.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/AiWizardDK/elastoclash-mp-server/internal/observability"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/protocol"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/room"
)

// DefaultTickRate is the snapshot rate used when Config.TickRate is unset.
const DefaultTickRate = 60

// MaxTickRate caps Config.TickRate so the tick period stays positive.
const MaxTickRate = 1000

// ErrNotConnected is returned by operations that need a live connection.
var ErrNotConnected = errors.New("multiplayer not connected")

// Config holds adapter settings.
type Config struct {
	// URL is the relay's ws:// or wss:// endpoint.
	URL string
	// Room defaults to "main".
	Room string
	// Name defaults to "Player".
	Name string
	// TickRate is the maximum number of sync_state messages per second.
	// Unset selects DefaultTickRate; values above MaxTickRate are clamped.
	TickRate int
	// Header is sent with the handshake, e.g. an Origin.
	Header http.Header
	// SendBuffer bounds queued outbound frames. Defaults to 32.
	SendBuffer int
	// WriteTimeout bounds each frame write. Defaults to 5s.
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Room == "" {
		c.Room = "main"
	}
	if c.Name == "" {
		c.Name = "Player"
	}
	if c.TickRate <= 0 {
		c.TickRate = DefaultTickRate
	}
	c.TickRate = min(c.TickRate, MaxTickRate)
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// tickPeriod is the interval between snapshot sends.
//
// Precondition: withDefaults has been applied.
func (c Config) tickPeriod() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

// Adapter owns one relay connection. None of its methods block on the
// network, so it can be driven from a game loop.
type Adapter struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	link      *link
	connected bool
	selfID    string
	players   map[string]room.Snapshot
	pending   *room.Patch
	onPlayers func(map[string]room.Snapshot)
	onAction  func(id string, action json.RawMessage)
}

// link is the state of one connection attempt, so loops left over from a
// previous connection never touch the next one.
type link struct {
	conn       *websocket.Conn
	send       chan []byte
	leaving    chan struct{}
	leaveOnce  sync.Once
	writerDone chan struct{}
	readerDone chan struct{}
}

// New creates an unconnected adapter.
//
// Precondition: cfg.URL must be a ws:// or wss:// URL; logger must be non-nil.
func New(cfg Config, logger *zap.Logger) *Adapter {
	return &Adapter{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		players: make(map[string]room.Snapshot),
	}
}

// OnPlayersUpdate registers fn to receive a copy of the remote players after
// every change. fn runs on the adapter's read goroutine.
func (a *Adapter) OnPlayersUpdate(fn func(map[string]room.Snapshot)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onPlayers = fn
}

// OnAction registers fn to receive actions relayed from other riders.
func (a *Adapter) OnAction(fn func(id string, action json.RawMessage)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onAction = fn
}

// Connect dials the relay and sends join_room.
//
// Precondition: The adapter must not be connected.
// Postcondition: On success Connected reports true and the read and write
// loops are running.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.connected {
		a.mu.Unlock()
		return errors.New("already connected")
	}
	a.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, a.cfg.URL, a.cfg.Header)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", a.cfg.URL, err)
	}

	l := &link{
		conn:       conn,
		send:       make(chan []byte, a.cfg.SendBuffer),
		leaving:    make(chan struct{}),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
	}

	a.mu.Lock()
	a.link = l
	a.connected = true
	a.selfID = ""
	a.players = make(map[string]room.Snapshot)
	a.pending = nil
	a.mu.Unlock()

	a.logger.Info("connected to relay",
		zap.String("url", a.cfg.URL),
		observability.Room(a.cfg.Room),
	)

	go a.readLoop(l)
	go a.writeLoop(l)

	return a.enqueue(protocol.TypeJoinRoom, protocol.JoinRoom{Room: a.cfg.Room, Name: a.cfg.Name})
}

// Connected reports whether the relay connection is live. False means the
// game should run single-player.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// SelfID returns the session id assigned by the relay, or "" before joined.
func (a *Adapter) SelfID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selfID
}

// Players returns a copy of the remote riders keyed by session id.
func (a *Adapter) Players() map[string]room.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.players)
}

// UpdateLocal records the local rider's latest snapshot. Only the newest
// snapshot is kept; it is sent on the next tick.
func (a *Adapter) UpdateLocal(p room.Patch) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return
	}
	if p.Name == nil {
		name := a.cfg.Name
		p.Name = &name
	}
	a.pending = &p
}

// Action sends a gameplay event {type, data} to the other riders.
//
// Postcondition: The frame is queued, or an error is returned if the
// adapter is disconnected or its queue is full.
func (a *Adapter) Action(actionType string, data any) error {
	action, err := json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data,omitempty"`
	}{actionType, data})
	if err != nil {
		return fmt.Errorf("encoding action %q: %w", actionType, err)
	}
	return a.enqueue(protocol.TypePlayerAction, protocol.PlayerAction{Room: a.cfg.Room, Action: action})
}

// Leave sends leave_room, closes the connection and clears remote players.
// It is a no-op when not connected.
func (a *Adapter) Leave() {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return
	}
	l := a.link
	a.mu.Unlock()

	_ = a.enqueue(protocol.TypeLeaveRoom, protocol.LeaveRoom{Room: a.cfg.Room})
	l.leaveOnce.Do(func() { close(l.leaving) })
	<-l.writerDone
	<-l.readerDone
}

func (a *Adapter) enqueue(typ protocol.Type, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", typ, err)
	}
	frame, err := json.Marshal(protocol.Envelope{Type: typ, Data: data})
	if err != nil {
		return fmt.Errorf("encoding %s envelope: %w", typ, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return ErrNotConnected
	}
	select {
	case a.link.send <- frame:
		return nil
	default:
		return fmt.Errorf("queueing %s: send buffer full", typ)
	}
}

// writeLoop is the only writer on conn.
func (a *Adapter) writeLoop(l *link) {
	defer close(l.writerDone)
	conn := l.conn

	ticker := time.NewTicker(a.cfg.tickPeriod())
	defer ticker.Stop()

	write := func(frame []byte) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			a.logger.Debug("writing to relay", zap.Error(err))
			_ = conn.Close()
			return false
		}
		return true
	}

	for {
		select {
		case frame := <-l.send:
			if !write(frame) {
				return
			}
		case <-ticker.C:
			frame, ok := a.takePending()
			if ok && !write(frame) {
				return
			}
		case <-l.leaving:
		drain:
			for {
				select {
				case frame := <-l.send:
					if !write(frame) {
						return
					}
				default:
					break drain
				}
			}
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
			return
		case <-l.readerDone:
			_ = conn.Close()
			return
		}
	}
}

// takePending encodes and clears the pending snapshot.
func (a *Adapter) takePending() ([]byte, bool) {
	a.mu.Lock()
	p := a.pending
	a.pending = nil
	a.mu.Unlock()
	if p == nil {
		return nil, false
	}

	data, err := json.Marshal(protocol.SyncState{Room: a.cfg.Room, State: p})
	if err != nil {
		a.logger.Error("encoding snapshot", zap.Error(err))
		return nil, false
	}
	frame, err := json.Marshal(protocol.Envelope{Type: protocol.TypeSyncState, Data: data})
	if err != nil {
		a.logger.Error("encoding snapshot envelope", zap.Error(err))
		return nil, false
	}
	return frame, true
}

func (a *Adapter) readLoop(l *link) {
	defer close(l.readerDone)
	defer a.markDisconnected(l)

	for {
		_, frame, err := l.conn.ReadMessage()
		if err != nil {
			a.logger.Info("disconnected from relay", zap.Error(err))
			return
		}
		env, err := protocol.DecodeEnvelope(frame)
		if err != nil {
			a.logger.Debug("ignoring relay frame", zap.Error(err))
			continue
		}
		a.handle(env)
	}
}

func (a *Adapter) handle(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeJoined:
		var m protocol.Joined
		if err := json.Unmarshal(env.Data, &m); err != nil {
			a.logger.Debug("decoding joined", zap.Error(err))
			return
		}
		a.mu.Lock()
		a.selfID = m.ID
		delete(a.players, m.ID)
		a.mu.Unlock()
		a.logger.Info("joined room", observability.Session(m.ID), observability.Room(m.Room))

	case protocol.TypePlayerList:
		var list protocol.PlayerList
		if err := json.Unmarshal(env.Data, &list); err != nil {
			a.logger.Debug("decoding player_list", zap.Error(err))
			return
		}
		a.applyRoster(list)

	case protocol.TypeStateUpdate:
		var update protocol.StateUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			a.logger.Debug("decoding state_update", zap.Error(err))
			return
		}
		a.applyState(update)

	case protocol.TypePlayerDisconnected:
		var m protocol.PlayerDisconnected
		if err := json.Unmarshal(env.Data, &m); err != nil {
			a.logger.Debug("decoding player_disconnected", zap.Error(err))
			return
		}
		a.mu.Lock()
		delete(a.players, m.ID)
		a.mu.Unlock()
		a.notifyPlayers()

	case protocol.TypePlayerAction:
		var m protocol.ActionRelay
		if err := json.Unmarshal(env.Data, &m); err != nil {
			a.logger.Debug("decoding player_action", zap.Error(err))
			return
		}
		a.mu.Lock()
		fn := a.onAction
		a.mu.Unlock()
		if fn != nil {
			fn(m.ID, m.Action)
		}

	default:
		a.logger.Debug("ignoring relay message", observability.MessageType(string(env.Type)))
	}
}

// applyRoster makes the roster authoritative for who is present, keeping
// the last known snapshot of riders that remain.
func (a *Adapter) applyRoster(list protocol.PlayerList) {
	a.mu.Lock()
	next := make(map[string]room.Snapshot, len(list))
	for _, m := range list {
		if m.ID == a.selfID {
			continue
		}
		snap, ok := a.players[m.ID]
		if !ok {
			snap = room.Snapshot{ID: m.ID}
		}
		snap.Name = m.Name
		next[m.ID] = snap
	}
	a.players = next
	a.mu.Unlock()
	a.notifyPlayers()
}

// applyState merges reported snapshots. Riders are only removed by roster
// changes because each update carries a single sender.
func (a *Adapter) applyState(update protocol.StateUpdate) {
	a.mu.Lock()
	for id, snap := range update {
		if id == a.selfID {
			continue
		}
		prev, ok := a.players[id]
		if !ok {
			a.players[id] = snap
			continue
		}
		a.players[id] = prev.Apply(room.Patch{
			Name:  &snap.Name,
			X:     snap.X,
			Y:     snap.Y,
			Angle: snap.Angle,
			Alive: snap.Alive,
		})
	}
	a.mu.Unlock()
	a.notifyPlayers()
}

func (a *Adapter) markDisconnected(l *link) {
	a.mu.Lock()
	if a.link != l {
		a.mu.Unlock()
		return
	}
	wasConnected := a.connected
	a.connected = false
	a.pending = nil
	a.players = make(map[string]room.Snapshot)
	a.mu.Unlock()
	if wasConnected {
		a.notifyPlayers()
	}
}

func (a *Adapter) notifyPlayers() {
	a.mu.Lock()
	fn := a.onPlayers
	players := maps.Clone(a.players)
	a.mu.Unlock()
	if fn != nil {
		fn(players)
	}
}
