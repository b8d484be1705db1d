package signal

import (
	"github.com/telecare/consult/internal/core"
)

func (ctl *Controller) handleJoin(client core.Client, data []byte) {
	cid, ok := ctl.callID(client, data, "join_room")
	if !ok {
		return
	}
	ctl.Router.JoinRoom(client, cid)
}

func (ctl *Controller) handleLeave(client core.Client, data []byte) {
	cid, ok := ctl.callID(client, data, "leave_room")
	if !ok {
		return
	}
	ctl.Router.LeaveRoom(client, cid)
}
