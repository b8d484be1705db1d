package signal

import "github.com/telecare/consult/internal/core"

func (ctl *Controller) handlePing(client core.Client) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(client, resp)
}
