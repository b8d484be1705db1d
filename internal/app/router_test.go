package app

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telecare/consult/internal/core"
	"github.com/telecare/consult/internal/domain"
)

func newTestRouter() *Router {
	// No ring timer and no notification hints: scenarios drive every
	// transition explicitly.
	return NewRouter(NewPresence(), NewSessionStore(0), NewRoomSet(), NewDispatcher(nil, nil, 0))
}

func register(rt *Router, id core.ConnID, user domain.UserID, role domain.Role) *fakeClient {
	c := newFakeClient(id, user, role)
	rt.Presence.Register(c)
	return c
}

func requestedCallID(t *testing.T, caller *fakeClient) domain.CallID {
	t.Helper()
	acks := caller.conn.eventsOfType("request_acknowledged")
	require.NotEmpty(t, acks, "caller never got request_acknowledged")
	return domain.CallID(acks[len(acks)-1]["call_id"].(string))
}

func TestRequestFansOutToEveryCalleeConnection(t *testing.T) {
	rt := newTestRouter()
	a := register(rt, "a1", "alice", domain.RolePatient)
	b1 := register(rt, "b1", "dr-bob", domain.RoleDoctor)
	b2 := register(rt, "b2", "dr-bob", domain.RoleDoctor)

	rt.Request(a, "dr-bob", "appt-42")

	cid := requestedCallID(t, a)
	for _, b := range []*fakeClient{b1, b2} {
		incoming := b.conn.eventsOfType("incoming_call")
		require.Len(t, incoming, 1)
		assert.Equal(t, string(cid), incoming[0]["call_id"])
		assert.Equal(t, "alice", incoming[0]["caller"])
		assert.Equal(t, "appt-42", incoming[0]["context"])
	}
}

func TestRequestUnreachableCreatesNoSession(t *testing.T) {
	rt := newTestRouter()
	a := register(rt, "a1", "alice", domain.RolePatient)

	rt.Request(a, "dr-carol", "")

	unreachable := a.conn.eventsOfType("unreachable")
	require.Len(t, unreachable, 1)
	assert.Equal(t, "dr-carol", unreachable[0]["callee"])
	assert.Empty(t, a.conn.eventsOfType("request_acknowledged"))
	assert.Equal(t, 0, rt.Sessions.Count())

	// accepting a guessed identifier is a benign no-op error
	carol := register(rt, "c1", "dr-carol", domain.RoleDoctor)
	rt.Accept(carol, "guessed-id")
	errs := carol.conn.eventsOfType("error")
	require.Len(t, errs, 1)
	assert.Equal(t, "call not found", errs[0]["message"])
}

func TestRequestGuards(t *testing.T) {
	rt := newTestRouter()
	a := register(rt, "a1", "alice", domain.RolePatient)
	register(rt, "b1", "dr-bob", domain.RoleDoctor)

	rt.Request(a, "alice", "")
	errs := a.conn.eventsOfType("error")
	require.Len(t, errs, 1)
	assert.Equal(t, "cannot call yourself", errs[0]["message"])

	rt.Request(a, "dr-bob", "")
	rt.Request(a, "dr-bob", "")
	errs = a.conn.eventsOfType("error")
	require.Len(t, errs, 2)
	assert.Equal(t, "call already in progress", errs[1]["message"])
}

func TestAcceptNotifiesCallerOnceAndStopsOtherTabs(t *testing.T) {
	rt := newTestRouter()
	a := register(rt, "a1", "alice", domain.RolePatient)
	b1 := register(rt, "b1", "dr-bob", domain.RoleDoctor)
	b2 := register(rt, "b2", "dr-bob", domain.RoleDoctor)

	rt.Request(a, "dr-bob", "")
	cid := requestedCallID(t, a)

	rt.Accept(b1, cid)
	require.Len(t, a.conn.eventsOfType("accepted"), 1)
	// the losing tab hears the call was taken
	require.Len(t, b2.conn.eventsOfType("accepted"), 1)

	// B2's later accept reconfirms to B2 only, no duplicate fan-out
	rt.Accept(b2, cid)
	assert.Len(t, a.conn.eventsOfType("accepted"), 1)
	assert.Len(t, b2.conn.eventsOfType("accepted"), 2)
	assert.Empty(t, b2.conn.eventsOfType("error"))

	call, ok := rt.Sessions.Get(cid)
	require.True(t, ok)
	assert.Equal(t, domain.StateAccepted, call.State)
}

func TestRejectReachesCallerAndFreesPair(t *testing.T) {
	rt := newTestRouter()
	a := register(rt, "a1", "alice", domain.RolePatient)
	b := register(rt, "b1", "dr-bob", domain.RoleDoctor)

	rt.Request(a, "dr-bob", "")
	cid := requestedCallID(t, a)
	rt.Reject(b, cid, "busy")

	rejected := a.conn.eventsOfType("rejected")
	require.Len(t, rejected, 1)
	assert.Equal(t, "busy", rejected[0]["reason"])

	// terminal: any further event is a no-op error
	rt.Accept(b, cid)
	errs := b.conn.eventsOfType("error")
	require.Len(t, errs, 1)
	assert.Equal(t, "call not found", errs[0]["message"])

	// pair free for a fresh attempt
	rt.Request(a, "dr-bob", "")
	assert.Len(t, a.conn.eventsOfType("request_acknowledged"), 2)
}

func TestJoinRoomValidationAndMemberList(t *testing.T) {
	rt := newTestRouter()
	a := register(rt, "a1", "alice", domain.RolePatient)
	b := register(rt, "b1", "dr-bob", domain.RoleDoctor)
	m := register(rt, "m1", "mallory", domain.RolePatient)

	rt.Request(a, "dr-bob", "")
	cid := requestedCallID(t, a)
	rt.Accept(b, cid)

	rt.JoinRoom(m, cid)
	errs := m.conn.eventsOfType("error")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrNotParticipant.Error(), errs[0]["message"])

	rt.JoinRoom(a, cid)
	first := a.conn.eventsOfType("room_members")
	require.Len(t, first, 1)
	assert.Empty(t, first[0]["members"])

	rt.JoinRoom(b, cid)
	// existing member hears about the newcomer
	joined := a.conn.eventsOfType("peer_joined")
	require.Len(t, joined, 1)
	assert.Equal(t, "dr-bob", joined[0]["user"])
	// newcomer sees who was already there
	list := b.conn.eventsOfType("room_members")
	require.Len(t, list, 1)
	members := list[0]["members"].([]any)
	require.Len(t, members, 1)
	assert.Equal(t, "alice", members[0].(map[string]any)["id"])
}

func TestRelayRoundTripAndOrdering(t *testing.T) {
	rt := newTestRouter()
	a := register(rt, "a1", "alice", domain.RolePatient)
	b := register(rt, "b1", "dr-bob", domain.RoleDoctor)
	outsider := register(rt, "x1", "mallory", domain.RolePatient)

	rt.Request(a, "dr-bob", "")
	cid := requestedCallID(t, a)
	rt.Accept(b, cid)
	rt.JoinRoom(a, cid)
	rt.JoinRoom(b, cid)

	before := len(b.conn.raw())

	offer := core.Frame(fmt.Sprintf(`{"type":"offer","call_id":"%s","sdp":"v=0 offer"}`, cid))
	rt.Relay(a, cid, "offer", offer)

	answer := core.Frame(fmt.Sprintf(`{"type":"answer","call_id":"%s","sdp":"v=0 answer"}`, cid))
	rt.Relay(b, cid, "answer", answer)

	var candidates []core.Frame
	for i := 0; i < 3; i++ {
		f := core.Frame(fmt.Sprintf(`{"type":"candidate","call_id":"%s","candidate":"candidate:%d"}`, cid, i))
		candidates = append(candidates, f)
		rt.Relay(a, cid, "candidate", f)
	}

	got := b.conn.raw()[before:]
	require.Len(t, got, 4)
	assert.Equal(t, offer, got[0])
	assert.Equal(t, candidates[0], got[1])
	assert.Equal(t, candidates[1], got[2])
	assert.Equal(t, candidates[2], got[3])

	require.Len(t, a.conn.eventsOfType("answer"), 1)
	assert.Empty(t, outsider.conn.raw())

	// the first relayed offer marked the call active
	call, ok := rt.Sessions.Get(cid)
	require.True(t, ok)
	assert.Equal(t, domain.StateActive, call.State)
}

func TestRelayRequiresRoomMembership(t *testing.T) {
	rt := newTestRouter()
	a := register(rt, "a1", "alice", domain.RolePatient)
	b := register(rt, "b1", "dr-bob", domain.RoleDoctor)

	rt.Request(a, "dr-bob", "")
	cid := requestedCallID(t, a)
	rt.Accept(b, cid)

	rt.Relay(a, cid, "offer", core.Frame(`{"type":"offer"}`))
	errs := a.conn.eventsOfType("error")
	require.Len(t, errs, 1)
	assert.Equal(t, "not a member of this call's room", errs[0]["message"])
}

func TestEndTearsDownRoomAndNotifiesPeers(t *testing.T) {
	rt := newTestRouter()
	a := register(rt, "a1", "alice", domain.RolePatient)
	b := register(rt, "b1", "dr-bob", domain.RoleDoctor)

	rt.Request(a, "dr-bob", "")
	cid := requestedCallID(t, a)
	rt.Accept(b, cid)
	rt.JoinRoom(a, cid)
	rt.JoinRoom(b, cid)

	rt.End(a, cid)

	ended := b.conn.eventsOfType("call_ended")
	require.Len(t, ended, 1)
	assert.Equal(t, domain.ReasonHangup, ended[0]["reason"])

	_, ok := rt.Rooms.Get(cid)
	assert.False(t, ok)

	// joining the torn-down call is a no-op error
	rt.JoinRoom(b, cid)
	errs := b.conn.eventsOfType("error")
	require.Len(t, errs, 1)
	assert.Equal(t, "call not found", errs[0]["message"])
}

func TestDisconnectOfLastCalleeConnectionWhileRinging(t *testing.T) {
	rt := newTestRouter()
	a := register(rt, "a1", "alice", domain.RolePatient)
	b := register(rt, "b1", "dr-bob", domain.RoleDoctor)

	rt.Request(a, "dr-bob", "")
	_ = requestedCallID(t, a)

	rt.Disconnect(b)

	rejected := a.conn.eventsOfType("rejected")
	require.Len(t, rejected, 1)
	assert.Equal(t, domain.ReasonDisconnected, rejected[0]["reason"])
	assert.Equal(t, 0, rt.Sessions.Count())
	assert.False(t, rt.Presence.Online("dr-bob"))
}

func TestDisconnectSparedByRemainingConnection(t *testing.T) {
	rt := newTestRouter()
	a := register(rt, "a1", "alice", domain.RolePatient)
	b1 := register(rt, "b1", "dr-bob", domain.RoleDoctor)
	register(rt, "b2", "dr-bob", domain.RoleDoctor)

	rt.Request(a, "dr-bob", "")
	cid := requestedCallID(t, a)

	// one tab closes, the other still rings
	rt.Disconnect(b1)
	assert.Empty(t, a.conn.eventsOfType("rejected"))
	call, ok := rt.Sessions.Get(cid)
	require.True(t, ok)
	assert.Equal(t, domain.StateRinging, call.State)
}

func TestDisconnectDuringActiveCallEndsIt(t *testing.T) {
	rt := newTestRouter()
	a := register(rt, "a1", "alice", domain.RolePatient)
	b := register(rt, "b1", "dr-bob", domain.RoleDoctor)

	rt.Request(a, "dr-bob", "")
	cid := requestedCallID(t, a)
	rt.Accept(b, cid)
	rt.JoinRoom(a, cid)
	rt.JoinRoom(b, cid)

	rt.Disconnect(a)

	// room peer heard the leave, then the call ended
	assert.Len(t, b.conn.eventsOfType("peer_left"), 1)
	ended := b.conn.eventsOfType("call_ended")
	require.Len(t, ended, 1)
	assert.Equal(t, domain.ReasonDisconnected, ended[0]["reason"])
	_, ok := rt.Rooms.Get(cid)
	assert.False(t, ok)
}

func TestCallerDisconnectWhileRingingCancels(t *testing.T) {
	rt := newTestRouter()
	a := register(rt, "a1", "alice", domain.RolePatient)
	b := register(rt, "b1", "dr-bob", domain.RoleDoctor)

	rt.Request(a, "dr-bob", "")
	requestedCallID(t, a)

	rt.Disconnect(a)

	ended := b.conn.eventsOfType("call_ended")
	require.Len(t, ended, 1)
	assert.Equal(t, domain.ReasonCancelled, ended[0]["reason"])
	assert.Equal(t, 0, rt.Sessions.Count())
}

func TestTimeoutInformsBothSides(t *testing.T) {
	rt := NewRouter(NewPresence(), NewSessionStore(0), NewRoomSet(), NewDispatcher(nil, nil, 0))
	a := register(rt, "a1", "alice", domain.RolePatient)
	b := register(rt, "b1", "dr-bob", domain.RoleDoctor)

	rt.Request(a, "dr-bob", "")
	cid := requestedCallID(t, a)

	// drive the expiry deterministically through the store
	rt.Sessions.expire(cid)

	for _, c := range []*fakeClient{a, b} {
		ended := c.conn.eventsOfType("call_ended")
		require.Len(t, ended, 1)
		assert.Equal(t, domain.ReasonTimeout, ended[0]["reason"])
	}
	assert.Equal(t, 0, rt.Sessions.Count())
}
