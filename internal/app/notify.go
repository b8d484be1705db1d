package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telecare/consult/internal/domain"
)

// Notification types persisted by the external Notification Service.
const (
	NotifyIncomingCall = "incoming_call"
	NotifyCallAccepted = "call_accepted"
	NotifyCallRejected = "call_rejected"
	NotifyCallEnded    = "call_ended"
	NotifyCallMissed   = "call_missed"
)

// Notifier is the external Notification Service boundary. It persists a
// durable record and fans out its own delivery; this layer only asks.
type Notifier interface {
	CreateNotification(ctx context.Context, recipient domain.UserID, kind string, payload map[string]any) error
}

// Dispatcher decouples lifecycle side effects from the signaling path.
// Every dispatch is fire-and-forget: a slow or failing Notification
// Service must never delay or fail a real-time event.
type Dispatcher struct {
	notifier Notifier
	presence *Presence
	timeout  time.Duration
}

func NewDispatcher(notifier Notifier, presence *Presence, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{notifier: notifier, presence: presence, timeout: timeout}
}

// Dispatch persists the notification in the background and pushes a
// lightweight hint to the recipient's live connections so open tabs can
// refresh their notification badge.
func (d *Dispatcher) Dispatch(recipient domain.UserID, kind string, payload map[string]any) {
	if d == nil {
		return
	}
	if d.notifier != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := d.notifier.CreateNotification(ctx, recipient, kind, payload); err != nil {
				log.Error().Err(err).Str("module", "app.notify").Str("recipient", string(recipient)).Str("kind", kind).Msg("notification create failed")
			}
		}()
	}
	d.hint(recipient, kind, payload)
}

func (d *Dispatcher) hint(recipient domain.UserID, kind string, payload map[string]any) {
	if d.presence == nil {
		return
	}
	frame, err := json.Marshal(struct {
		Type    string         `json:"type"`
		Kind    string         `json:"kind"`
		Payload map[string]any `json:"payload,omitempty"`
	}{
		Type:    "notification",
		Kind:    kind,
		Payload: payload,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.notify").Msg("hint marshal")
		return
	}
	for _, c := range d.presence.Lookup(recipient) {
		if err := c.Signal().TrySend(frame); err != nil {
			log.Warn().Str("module", "app.notify").Str("conn", string(c.ID())).Msg("hint dropped")
		}
	}
}
