package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Decode errors. Every one of them means "drop the frame"; none is fatal to
// the connection.
var (
	ErrMalformed     = errors.New("malformed message")
	ErrUnknownType   = errors.New("unknown message type")
	ErrMissingRoom   = errors.New("missing room id")
	ErrMissingState  = errors.New("missing state")
	ErrMissingAction = errors.New("missing action")
)

// Encode wraps m in an Envelope and marshals it.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", m.MessageType(), err)
	}
	frame, err := json.Marshal(Envelope{Type: m.MessageType(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", m.MessageType(), err)
	}
	return frame, nil
}

// DecodeEnvelope parses the outer frame without interpreting the payload.
// Frames that are not valid UTF-8 are rejected: raw payloads are relayed
// verbatim and a browser fails the socket on an invalid text frame.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	if !utf8.Valid(frame) {
		return Envelope{}, fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// DecodeInbound parses and validates a client frame. A join without a room
// is placed in defaultRoom; every other message without a room is rejected
// with ErrMissingRoom.
//
// Postcondition: Returns one of JoinRoom, SyncState, PlayerAction or
// LeaveRoom, or an error wrapping one of the package's sentinel errors.
func DecodeInbound(frame []byte, defaultRoom string) (Inbound, error) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeJoinRoom:
		var m JoinRoom
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		if m.Room == "" {
			m.Room = defaultRoom
		}
		return m, nil

	case TypeSyncState:
		var m SyncState
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		if m.Room == "" {
			return nil, fmt.Errorf("%s: %w", env.Type, ErrMissingRoom)
		}
		if m.State == nil {
			return nil, fmt.Errorf("%s: %w", env.Type, ErrMissingState)
		}
		return m, nil

	case TypePlayerAction:
		var m PlayerAction
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		if m.Room == "" {
			return nil, fmt.Errorf("%s: %w", env.Type, ErrMissingRoom)
		}
		if isAbsent(m.Action) {
			return nil, fmt.Errorf("%s: %w", env.Type, ErrMissingAction)
		}
		return m, nil

	case TypeLeaveRoom:
		var m LeaveRoom
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		if m.Room == "" {
			return nil, fmt.Errorf("%s: %w", env.Type, ErrMissingRoom)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// decodePayload unmarshals env.Data into v. An absent payload leaves v zero.
func decodePayload(env Envelope, v any) error {
	if isAbsent(env.Data) {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
