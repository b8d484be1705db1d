package domain

import (
	"time"

	"github.com/google/uuid"
)

type CallID string

func NewCallID() CallID {
	return CallID(uuid.NewString())
}

// CallState is the lifecycle position of one call attempt.
type CallState string

const (
	StateRequested CallState = "requested"
	StateRinging   CallState = "ringing"
	StateAccepted  CallState = "accepted"
	StateActive    CallState = "active"
	StateEnded     CallState = "ended"
	StateRejected  CallState = "rejected"
	StateTimedOut  CallState = "timed_out"
	StateCancelled CallState = "cancelled"
)

// Terminal states accept no further transitions.
func (s CallState) Terminal() bool {
	switch s {
	case StateEnded, StateRejected, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// End reasons recorded on terminal transitions.
const (
	ReasonHangup       = "hangup"
	ReasonTimeout      = "timeout"
	ReasonCancelled    = "cancelled"
	ReasonDisconnected = "disconnected"
	ReasonShutdown     = "shutdown"
)

// Call is the authoritative record of one call attempt between two
// identities. Context carries an opaque external reference (e.g. an
// appointment id) that this layer never interprets.
type Call struct {
	ID         CallID    `json:"id"`
	Caller     UserID    `json:"caller"`
	Callee     UserID    `json:"callee"`
	State      CallState `json:"state"`
	Context    string    `json:"context,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	AcceptedAt time.Time `json:"accepted_at,omitzero"`
	EndedAt    time.Time `json:"ended_at,omitzero"`
}

// Participant reports whether u is one of the two call parties.
func (c *Call) Participant(u UserID) bool {
	return u == c.Caller || u == c.Callee
}

// Other returns the peer of u within the call.
func (c *Call) Other(u UserID) UserID {
	if u == c.Caller {
		return c.Callee
	}
	return c.Caller
}

// PairKey builds an order-independent key for a (caller, callee) pair.
// At most one live call may exist per key.
func PairKey(a, b UserID) string {
	if b < a {
		a, b = b, a
	}
	return string(a) + "|" + string(b)
}
