package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/telecare/consult/internal/core"
	"github.com/telecare/consult/internal/domain"
)

// Router is the single entry point for inbound signaling events and the
// only component that mutates call sessions. Every guard failure turns
// into a targeted error event to the offending sender; other calls and
// connections are never affected.
type Router struct {
	Presence *Presence
	Sessions *SessionStore
	Rooms    *RoomSet
	Notify   *Dispatcher
}

func NewRouter(presence *Presence, sessions *SessionStore, rooms *RoomSet, notify *Dispatcher) *Router {
	rt := &Router{
		Presence: presence,
		Sessions: sessions,
		Rooms:    rooms,
		Notify:   notify,
	}
	sessions.OnTimeout(rt.handleTimeout)
	return rt
}

// Request starts a call from the sender to callee. The callee must be
// reachable; otherwise only the sender hears about it and no session is
// created.
func (rt *Router) Request(c core.Client, callee domain.UserID, contextRef string) {
	if c.Anonymous() {
		rt.SendError(c, "connection carries no identity")
		return
	}
	if callee == c.User() {
		rt.SendError(c, "cannot call yourself")
		return
	}
	targets := rt.Presence.Lookup(callee)
	if len(targets) == 0 {
		rt.send(c, struct {
			Type   string        `json:"type"`
			Callee domain.UserID `json:"callee"`
		}{"unreachable", callee})
		return
	}

	call, err := rt.Sessions.Create(c.User(), callee, contextRef)
	if err != nil {
		rt.SendError(c, err.Error())
		return
	}

	incoming := struct {
		Type    string        `json:"type"`
		CallID  domain.CallID `json:"call_id"`
		Caller  domain.UserID `json:"caller"`
		Role    domain.Role   `json:"caller_role"`
		Context string        `json:"context,omitempty"`
	}{"incoming_call", call.ID, call.Caller, c.Role(), call.Context}
	for _, t := range targets {
		rt.send(t, incoming)
	}

	rt.send(c, struct {
		Type   string        `json:"type"`
		CallID domain.CallID `json:"call_id"`
		Callee domain.UserID `json:"callee"`
	}{"request_acknowledged", call.ID, call.Callee})

	rt.Notify.Dispatch(callee, NotifyIncomingCall, map[string]any{
		"call_id": call.ID,
		"caller":  call.Caller,
		"context": call.Context,
	})
}

// Accept confirms a ringing call on behalf of the callee. A repeat
// accept reconfirms to the sender only, with no duplicate side effects.
func (rt *Router) Accept(c core.Client, cid domain.CallID) {
	call, first, err := rt.Sessions.Accept(cid, c.User())
	if err != nil {
		rt.SendError(c, err.Error())
		return
	}
	accepted := struct {
		Type   string        `json:"type"`
		CallID domain.CallID `json:"call_id"`
	}{"accepted", call.ID}
	if !first {
		rt.send(c, accepted)
		return
	}
	// Caller learns the call was taken; the callee's other tabs learn
	// they lost the race and stop ringing.
	rt.sendToUser(call.Caller, accepted)
	rt.sendToUserExcept(call.Callee, c.ID(), accepted)

	rt.Notify.Dispatch(call.Caller, NotifyCallAccepted, map[string]any{
		"call_id": call.ID,
		"callee":  call.Callee,
	})
}

// Reject declines a ringing call on behalf of the callee.
func (rt *Router) Reject(c core.Client, cid domain.CallID, reason string) {
	call, err := rt.Sessions.Reject(cid, c.User(), reason)
	if err != nil {
		rt.SendError(c, err.Error())
		return
	}
	rt.sendToUser(call.Caller, struct {
		Type   string        `json:"type"`
		CallID domain.CallID `json:"call_id"`
		Reason string        `json:"reason,omitempty"`
	}{"rejected", call.ID, reason})
	// Stop the ring on the callee's other tabs.
	rt.sendToUserExcept(call.Callee, c.ID(), rt.endedEvent(call))
	rt.Rooms.Drop(call.ID)

	rt.Notify.Dispatch(call.Caller, NotifyCallRejected, map[string]any{
		"call_id": call.ID,
		"callee":  call.Callee,
		"reason":  reason,
	})
}

// Cancel withdraws a still-ringing request on behalf of the caller.
func (rt *Router) Cancel(c core.Client, cid domain.CallID) {
	call, err := rt.Sessions.Cancel(cid, c.User())
	if err != nil {
		rt.SendError(c, err.Error())
		return
	}
	ended := rt.endedEvent(call)
	rt.sendToUser(call.Callee, ended)
	rt.sendToUser(call.Caller, ended)
	rt.Rooms.Drop(call.ID)
}

// JoinRoom admits a participant's connection into the call's signaling
// room. The joiner gets the member list that existed before it joined,
// so join and presence broadcast cannot disagree.
func (rt *Router) JoinRoom(c core.Client, cid domain.CallID) {
	call, ok := rt.Sessions.Get(cid)
	if !ok || call.State.Terminal() {
		rt.SendError(c, ErrUnknownCall.Error())
		return
	}
	if !call.Participant(c.User()) {
		rt.SendError(c, ErrNotParticipant.Error())
		return
	}
	room := rt.Rooms.GetOrCreate(cid)
	others := room.Members()
	room.Add(c)

	joined := struct {
		Type   string        `json:"type"`
		CallID domain.CallID `json:"call_id"`
		User   domain.UserID `json:"user"`
		Role   domain.Role   `json:"role"`
	}{"peer_joined", cid, c.User(), c.Role()}
	for _, m := range others {
		rt.send(m, joined)
	}

	members := make([]core.PeerDTO, 0, len(others))
	for _, m := range others {
		members = append(members, core.PeerDTO{ID: m.User(), Role: m.Role()})
	}
	rt.send(c, struct {
		Type    string         `json:"type"`
		CallID  domain.CallID  `json:"call_id"`
		Members []core.PeerDTO `json:"members"`
	}{"room_members", cid, members})
}

// LeaveRoom removes the connection from the call's room. Unknown rooms
// and non-members are a silent no-op.
func (rt *Router) LeaveRoom(c core.Client, cid domain.CallID) {
	room, ok := rt.Rooms.Get(cid)
	if !ok {
		return
	}
	if _, ok := room.Remove(c.ID()); !ok {
		return
	}
	room.Broadcast(c.ID(), rt.marshal(struct {
		Type   string        `json:"type"`
		CallID domain.CallID `json:"call_id"`
		User   domain.UserID `json:"user"`
	}{"peer_left", cid, c.User()}))
	if room.MemberCount() == 0 {
		rt.Rooms.Drop(cid)
	}
}

// Relay authorizes and forwards a negotiation payload (offer, answer,
// ICE candidate) verbatim to the other room members. The payload is
// never interpreted here; the first relayed offer marks the call
// active. Clients race ahead of the accept confirmation, so the only
// gate is a live session plus current room membership.
func (rt *Router) Relay(c core.Client, cid domain.CallID, kind string, raw core.Frame) {
	call, ok := rt.Sessions.Get(cid)
	if !ok || call.State.Terminal() {
		rt.SendError(c, ErrUnknownCall.Error())
		return
	}
	room, ok := rt.Rooms.Get(cid)
	if !ok || !room.Contains(c.ID()) {
		rt.SendError(c, "not a member of this call's room")
		return
	}
	if kind == "offer" {
		rt.Sessions.Activate(cid)
	}
	room.Broadcast(c.ID(), raw)
}

// End hangs up a live call on behalf of either participant.
func (rt *Router) End(c core.Client, cid domain.CallID) {
	call, err := rt.Sessions.End(cid, c.User(), domain.ReasonHangup)
	if err != nil {
		rt.SendError(c, err.Error())
		return
	}
	ended := rt.endedEvent(call)
	rt.sendToUserExcept(call.Caller, c.ID(), ended)
	rt.sendToUserExcept(call.Callee, c.ID(), ended)
	rt.Rooms.Drop(call.ID)

	rt.Notify.Dispatch(call.Other(c.User()), NotifyCallEnded, map[string]any{
		"call_id":  call.ID,
		"ended_by": c.User(),
		"duration": callDuration(call),
	})
}

// Disconnect handles a closed connection: implicit leave of every room
// it belonged to and unregistration from presence. If it was the user's
// last connection, the user's live calls are terminated too.
func (rt *Router) Disconnect(c core.Client) {
	for _, room := range rt.Rooms.RoomsOf(c.ID()) {
		rt.LeaveRoom(c, room.CallID())
	}
	rt.Presence.Unregister(c.ID())

	if c.Anonymous() || rt.Presence.ConnectionCount(c.User()) > 0 {
		return
	}
	for _, call := range rt.Sessions.CallsOf(c.User()) {
		rt.dropParticipant(call, c.User())
	}
}

// dropParticipant finalizes one call whose participant lost their last
// connection. A ringing call resolves as rejected (callee vanished) or
// cancelled (caller vanished); anything else ends.
func (rt *Router) dropParticipant(call domain.Call, user domain.UserID) {
	var (
		final domain.Call
		err   error
	)
	switch {
	case call.State == domain.StateRinging && user == call.Callee:
		final, err = rt.Sessions.Reject(call.ID, user, domain.ReasonDisconnected)
		if err == nil {
			rt.sendToUser(final.Caller, struct {
				Type   string        `json:"type"`
				CallID domain.CallID `json:"call_id"`
				Reason string        `json:"reason"`
			}{"rejected", final.ID, domain.ReasonDisconnected})
		}
	case call.State == domain.StateRinging:
		final, err = rt.Sessions.Cancel(call.ID, user)
		if err == nil {
			rt.sendToUser(final.Callee, rt.endedEvent(final))
		}
	default:
		final, err = rt.Sessions.End(call.ID, user, domain.ReasonDisconnected)
		if err == nil {
			rt.sendToUser(final.Other(user), rt.endedEvent(final))
		}
	}
	if err != nil {
		// Lost the finality race to another transition; nothing to do.
		return
	}
	rt.Rooms.Drop(final.ID)
	rt.Notify.Dispatch(final.Other(user), NotifyCallEnded, map[string]any{
		"call_id": final.ID,
		"reason":  final.Reason,
	})
}

// Shutdown ends every live call so clients see a clean hangup instead
// of a dead socket.
func (rt *Router) Shutdown() {
	for _, call := range rt.Sessions.Live() {
		final, err := rt.Sessions.End(call.ID, call.Caller, domain.ReasonShutdown)
		if err != nil {
			continue
		}
		ended := rt.endedEvent(final)
		rt.sendToUser(final.Caller, ended)
		rt.sendToUser(final.Callee, ended)
		rt.Rooms.Drop(final.ID)
	}
}

// handleTimeout is the ring-timer callback: the callee never answered.
func (rt *Router) handleTimeout(call domain.Call) {
	ended := rt.endedEvent(call)
	rt.sendToUser(call.Caller, ended)
	rt.sendToUser(call.Callee, ended)
	rt.Rooms.Drop(call.ID)

	rt.Notify.Dispatch(call.Callee, NotifyCallMissed, map[string]any{
		"call_id": call.ID,
		"caller":  call.Caller,
	})
}

// SendError delivers a targeted error event to one connection.
func (rt *Router) SendError(c core.Client, message string) {
	rt.send(c, struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{"error", message})
}

func (rt *Router) endedEvent(call domain.Call) any {
	return struct {
		Type   string        `json:"type"`
		CallID domain.CallID `json:"call_id"`
		Reason string        `json:"reason,omitempty"`
	}{"call_ended", call.ID, call.Reason}
}

func (rt *Router) send(c core.Client, v any) {
	frame := rt.marshal(v)
	if frame == nil {
		return
	}
	if err := c.Signal().TrySend(frame); err != nil {
		log.Warn().Str("module", "app.router").Str("conn", string(c.ID())).Msg("event dropped")
	}
}

func (rt *Router) sendToUser(user domain.UserID, v any) {
	rt.sendToUserExcept(user, "", v)
}

func (rt *Router) sendToUserExcept(user domain.UserID, except core.ConnID, v any) {
	frame := rt.marshal(v)
	if frame == nil {
		return
	}
	for _, c := range rt.Presence.Lookup(user) {
		if c.ID() == except {
			continue
		}
		if err := c.Signal().TrySend(frame); err != nil {
			log.Warn().Str("module", "app.router").Str("conn", string(c.ID())).Str("user", string(user)).Msg("event dropped")
		}
	}
}

func (rt *Router) marshal(v any) core.Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("event marshal")
		return nil
	}
	return b
}

func callDuration(call domain.Call) int64 {
	if call.AcceptedAt.IsZero() {
		return 0
	}
	return int64(call.EndedAt.Sub(call.AcceptedAt).Seconds())
}
