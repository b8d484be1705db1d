package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/telecare/consult/internal/core"
	"github.com/telecare/consult/internal/domain"
)

// Room groups the connections that joined a call's signaling rendezvous.
// Membership is a subset of the call's participants' connections: a
// participant may have accepted without joining yet.
type Room struct {
	callID domain.CallID

	mu     sync.RWMutex
	byConn map[core.ConnID]core.Client
}

func newRoom(cid domain.CallID) *Room {
	return &Room{
		callID: cid,
		byConn: make(map[core.ConnID]core.Client),
	}
}

func (r *Room) CallID() domain.CallID { return r.callID }

func (r *Room) Add(c core.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[c.ID()] = c
	log.Info().Str("module", "app.rooms").Str("call", string(r.callID)).Str("conn", string(c.ID())).Str("user", string(c.User())).Msg("member joined")
}

func (r *Room) Remove(id core.ConnID) (core.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byConn[id]
	if !ok {
		return nil, false
	}
	delete(r.byConn, id)
	log.Info().Str("module", "app.rooms").Str("call", string(r.callID)).Str("conn", string(id)).Msg("member left")
	return c, true
}

func (r *Room) Contains(id core.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byConn[id]
	return ok
}

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// Members snapshots the current member connections.
func (r *Room) Members() []core.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Client, 0, len(r.byConn))
	for _, c := range r.byConn {
		out = append(out, c)
	}
	return out
}

// MembersSnapshot is the read-only view returned to a joiner so a late
// arrival learns who is already present.
func (r *Room) MembersSnapshot() []core.PeerDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.PeerDTO, 0, len(r.byConn))
	for _, c := range r.byConn {
		out = append(out, core.PeerDTO{ID: c.User(), Role: c.Role()})
	}
	return out
}

// Broadcast relays a frame verbatim to every member except the sender.
// A member whose send buffer is full drops this frame only; signaling
// clients recover via renegotiation, so nobody is kicked here.
func (r *Room) Broadcast(from core.ConnID, data core.Frame) core.PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := core.PublishResult{}
	for id, c := range r.byConn {
		if id == from {
			continue
		}
		if err := c.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "app.rooms").Str("call", string(r.callID)).Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("relay")
	return res
}

// RoomSet indexes rooms by call id.
type RoomSet struct {
	mu    sync.RWMutex
	rooms map[domain.CallID]*Room
}

func NewRoomSet() *RoomSet {
	return &RoomSet{rooms: make(map[domain.CallID]*Room)}
}

func (rs *RoomSet) GetOrCreate(cid domain.CallID) *Room {
	rs.mu.RLock()
	room, ok := rs.rooms[cid]
	rs.mu.RUnlock()
	if ok {
		return room
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if room, ok = rs.rooms[cid]; ok {
		return room
	}
	room = newRoom(cid)
	rs.rooms[cid] = room
	return room
}

func (rs *RoomSet) Get(cid domain.CallID) (*Room, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	room, ok := rs.rooms[cid]
	return room, ok
}

// Drop tears the room down once its call reaches a terminal state.
func (rs *RoomSet) Drop(cid domain.CallID) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.rooms, cid)
}

// RoomsOf lists the rooms a connection currently belongs to, used to
// turn a connection close into implicit leaves.
func (rs *RoomSet) RoomsOf(id core.ConnID) []*Room {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	var out []*Room
	for _, room := range rs.rooms {
		if room.Contains(id) {
			out = append(out, room)
		}
	}
	return out
}
