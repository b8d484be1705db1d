package signal

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/telecare/consult/internal/core"
	"github.com/telecare/consult/internal/domain"
)

// handleDescription validates an offer/answer payload shape and relays
// the original frame untouched. The SDP body is opaque here; only its
// presence and the session description type are checked.
func (ctl *Controller) handleDescription(client core.Client, kind string, data []byte) {
	type sdpPayload struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
		SDP    string `json:"sdp"`
	}
	var p sdpPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		log.Error().Err(err).Str("module", "signal").Str("kind", kind).Msg("bad sdp payload")
		ctl.Router.SendError(client, "bad_payload")
		return
	}
	if _, ok := sessionDescription(kind, p.SDP); !ok {
		ctl.Router.SendError(client, "bad_payload")
		return
	}
	ctl.Router.Relay(client, domain.CallID(p.CallID), kind, data)
}

func (ctl *Controller) handleCandidate(client core.Client, data []byte) {
	type candidatePayload struct {
		Type          string `json:"type"`
		CallID        string `json:"call_id"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid,omitempty"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
	}
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		ctl.Router.SendError(client, "bad_payload")
		return
	}
	if _, ok := candidateInit(p.Candidate, p.SDPMid, p.SDPMLineIndex); !ok {
		ctl.Router.SendError(client, "bad_payload")
		return
	}
	ctl.Router.Relay(client, domain.CallID(p.CallID), "candidate", data)
}

// sessionDescription builds the pion view of an offer/answer payload.
// Used only for boundary validation; the relayed bytes stay verbatim.
func sessionDescription(kind, sdp string) (webrtc.SessionDescription, bool) {
	if sdp == "" {
		return webrtc.SessionDescription{}, false
	}
	t := webrtc.NewSDPType(kind)
	if t != webrtc.SDPTypeOffer && t != webrtc.SDPTypeAnswer {
		return webrtc.SessionDescription{}, false
	}
	return webrtc.SessionDescription{Type: t, SDP: sdp}, true
}

func candidateInit(candidate, sdpMid string, mLineIndex uint16) (webrtc.ICECandidateInit, bool) {
	if candidate == "" {
		return webrtc.ICECandidateInit{}, false
	}
	ci := webrtc.ICECandidateInit{Candidate: candidate}
	if sdpMid != "" {
		ci.SDPMid = &sdpMid
	}
	ci.SDPMLineIndex = &mLineIndex
	return ci, true
}
