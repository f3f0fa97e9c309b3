// Package relay applies the room protocol: it owns the session registry and
// room store, applies client events one at a time on a single goroutine, and
// fans the resulting frames out to session outboxes.
package relay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/AiWizardDK/elastoclash-mp-server/internal/config"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/observability"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/room"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/session"
)

// ErrStopped is returned when an event is submitted after Run has returned.
var ErrStopped = errors.New("relay stopped")

type eventKind int

const (
	eventConnect eventKind = iota
	eventMessage
	eventDisconnect
)

type connectResult struct {
	outbox *session.Outbox
	err    error
}

type event struct {
	kind      eventKind
	sessionID string
	frame     []byte
	reply     chan<- connectResult
}

// Relay is the authoritative hub for every connected session.
type Relay struct {
	defaultRoom string
	sessions    *session.Registry
	rooms       *room.Store
	logger      *zap.Logger

	events chan event
	done   chan struct{}
}

// New creates a Relay over the given registry and store.
//
// Precondition: sessions, rooms and logger must be non-nil; cfg must be validated.
// Postcondition: Returns a Relay whose events are applied once Run is called.
func New(cfg config.RelayConfig, sessions *session.Registry, rooms *room.Store, logger *zap.Logger) *Relay {
	return &Relay{
		defaultRoom: cfg.DefaultRoom,
		sessions:    sessions,
		rooms:       rooms,
		logger:      logger,
		events:      make(chan event, cfg.InboxBuffer),
		done:        make(chan struct{}),
	}
}

// Run applies queued events until ctx is cancelled.
//
// Postcondition: Further Connect, Submit and Disconnect calls return ErrStopped.
func (r *Relay) Run(ctx context.Context) error {
	defer close(r.done)
	r.logger.Info("relay event loop started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay event loop stopped",
				zap.Int("sessions", r.sessions.Count()),
				zap.Int("rooms", r.rooms.Len()),
			)
			return nil
		case ev := <-r.events:
			r.apply(ev)
		}
	}
}

// Connect registers a new session and returns the outbox its connection
// must drain. It blocks until the event loop has processed the registration.
func (r *Relay) Connect(ctx context.Context, sessionID string) (*session.Outbox, error) {
	reply := make(chan connectResult, 1)
	if err := r.enqueue(ctx, event{kind: eventConnect, sessionID: sessionID, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.outbox, res.err
	case <-r.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit queues a raw client frame for the session. Frames from one session
// are applied in the order they are submitted.
func (r *Relay) Submit(ctx context.Context, sessionID string, frame []byte) error {
	return r.enqueue(ctx, event{kind: eventMessage, sessionID: sessionID, frame: frame})
}

// Disconnect queues the teardown of a session; it acts as an implicit leave.
func (r *Relay) Disconnect(ctx context.Context, sessionID string) error {
	return r.enqueue(ctx, event{kind: eventDisconnect, sessionID: sessionID})
}

// Sessions returns the number of connected sessions.
func (r *Relay) Sessions() int { return r.sessions.Count() }

// Rooms returns the number of live rooms.
func (r *Relay) Rooms() int { return r.rooms.Len() }

func (r *Relay) enqueue(ctx context.Context, ev event) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}
	select {
	case r.events <- ev:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// apply runs one event to completion. A panicking handler is logged and the
// loop carries on with the next event.
func (r *Relay) apply(ev event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("relay handler panic",
				observability.Session(ev.sessionID),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			if ev.reply != nil {
				ev.reply <- connectResult{err: fmt.Errorf("registering session %s: %v", ev.sessionID, rec)}
			}
		}
	}()

	switch ev.kind {
	case eventConnect:
		outbox, err := r.connect(ev.sessionID)
		ev.reply <- connectResult{outbox: outbox, err: err}
	case eventMessage:
		r.message(ev.sessionID, ev.frame)
	case eventDisconnect:
		r.disconnect(ev.sessionID)
	}
}

func (r *Relay) connect(sessionID string) (*session.Outbox, error) {
	sess, err := r.sessions.Register(sessionID)
	if err != nil {
		return nil, fmt.Errorf("registering session: %w", err)
	}
	r.logger.Info("session connected",
		observability.Session(sessionID),
		zap.Int("sessions", r.sessions.Count()),
	)
	return sess.Outbox, nil
}

func (r *Relay) disconnect(sessionID string) {
	roomID, ok := r.sessions.Remove(sessionID)
	if !ok {
		r.logger.Debug("disconnect for unknown session", observability.Session(sessionID))
		return
	}
	r.logger.Info("session disconnected",
		observability.Session(sessionID),
		observability.Room(roomID),
		zap.Int("sessions", r.sessions.Count()),
	)
	if roomID != "" {
		r.leaveRoom(sessionID, roomID)
	}
}
