package core

import "github.com/telecare/consult/internal/domain"

// Frame is a raw JSON payload already encoded for the wire.
type Frame []byte

// ConnID identifies one physical real-time connection. Assigned on
// open, never reused.
type ConnID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Client binds an identity and its transport endpoint.
// This is what presence and rooms store and fan out to.
type Client interface {
	ID() ConnID
	User() domain.UserID
	Role() domain.Role
	// Anonymous clients carried no usable identity in the handshake.
	// They stay connected but are ineligible for call traffic.
	Anonymous() bool
	Signal() SignalConnection
}

// PeerDTO is a read-only view for APIs (no transport fields).
type PeerDTO struct {
	ID   domain.UserID `json:"id"`
	Role domain.Role   `json:"role"`
}

// PublishResult reports delivery stats/backpressure to the router.
type PublishResult struct {
	SentTo  int
	Dropped []ConnID
}
