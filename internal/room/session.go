package room

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Session.
type State int32

const (
	// StateConnecting means the handshake succeeded but the room has not
	// resolved an identity yet.
	StateConnecting State = iota
	// StateActive sessions receive broadcasts and count towards presence.
	StateActive
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sender is the outbound side of a connection. Send must not block; a failed
// Send means the payload was not queued for that connection.
type Sender interface {
	Send(payload []byte) error
	Close() error
}

// Session is one connected client as seen by a room.
type Session struct {
	id        string
	requested string
	conn      Sender

	// Written by the coordinator before the session becomes Active.
	identity  string
	allocated bool
	joinedAt  time.Time

	state atomic.Int32
}

// NewSession wraps conn in a Connecting session. A non-empty identity is used
// as-is on join; an empty one is replaced by an allocated nickname.
func NewSession(conn Sender, identity string) *Session {
	return &Session{
		id:        uuid.NewString(),
		requested: identity,
		conn:      conn,
	}
}

// ID returns the connection handle.
func (s *Session) ID() string { return s.id }

// Identity returns the resolved identity. It is empty until the session joined.
func (s *Session) Identity() string { return s.identity }

// Allocated reports whether the identity holds a nickname allocator id.
func (s *Session) Allocated() bool { return s.allocated }

// JoinedAt returns when the session became Active.
func (s *Session) JoinedAt() time.Time { return s.joinedAt }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }
