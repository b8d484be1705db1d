package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/telecare/consult/internal/core"
	"github.com/telecare/consult/internal/domain"
)

func (ctl *Controller) handleRequest(client core.Client, data []byte) {
	type requestPayload struct {
		Type    string `json:"type"`
		Callee  string `json:"callee"`
		Context string `json:"context,omitempty"`
	}
	var p requestPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Callee == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad request_call payload")
		ctl.Router.SendError(client, "bad_payload")
		return
	}
	if ctl.Limits != nil && !ctl.Limits.Allow(client.User()) {
		log.Warn().Str("module", "signal").Str("user", string(client.User())).Msg("request_call rate limited")
		ctl.Router.SendError(client, "too many call requests")
		return
	}
	log.Info().Str("module", "signal").Str("caller", string(client.User())).Str("callee", p.Callee).Msg("request_call")
	ctl.Router.Request(client, domain.UserID(p.Callee), p.Context)
}

func (ctl *Controller) handleAccept(client core.Client, data []byte) {
	cid, ok := ctl.callID(client, data, "accept_call")
	if !ok {
		return
	}
	ctl.Router.Accept(client, cid)
}

func (ctl *Controller) handleReject(client core.Client, data []byte) {
	type rejectPayload struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
		Reason string `json:"reason,omitempty"`
	}
	var p rejectPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad reject_call payload")
		ctl.Router.SendError(client, "bad_payload")
		return
	}
	if p.Reason == "" {
		p.Reason = "rejected"
	}
	ctl.Router.Reject(client, domain.CallID(p.CallID), p.Reason)
}

func (ctl *Controller) handleCancel(client core.Client, data []byte) {
	cid, ok := ctl.callID(client, data, "cancel_call")
	if !ok {
		return
	}
	ctl.Router.Cancel(client, cid)
}

func (ctl *Controller) handleEnd(client core.Client, data []byte) {
	cid, ok := ctl.callID(client, data, "end_call")
	if !ok {
		return
	}
	ctl.Router.End(client, cid)
}

// callID decodes the common {type, call_id} payload shape.
func (ctl *Controller) callID(client core.Client, data []byte, event string) (domain.CallID, bool) {
	var p struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		log.Error().Err(err).Str("module", "signal").Str("event", event).Msg("bad payload")
		ctl.Router.SendError(client, "bad_payload")
		return "", false
	}
	return domain.CallID(p.CallID), true
}
