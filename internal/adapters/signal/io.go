package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/telecare/consult/internal/core"
)

func (ctl *Controller) writePump(ctx context.Context, id core.ConnID, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, client core.Client, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(client.ID())).Msg("readPump closing")
		ctl.Router.Disconnect(client)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			// Clients ping at pingPeriod; twice that without traffic
			// means the peer is gone.
			if ctl.pingPeriod > 0 {
				if err := c.conn.SetReadDeadline(time.Now().Add(2 * ctl.pingPeriod)); err != nil {
					log.Error().Err(err).Str("module", "signal").Msg("readPump set deadline")
					return
				}
			}
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(client.ID())).Msg("readPump read error")
				}
				return
			}
			ctl.handleFrame(client, data)
		}
	}
}

// handleFrame decodes the event envelope and dispatches on its tag.
// Payloads are decoded and validated per event before the router sees
// anything.
func (ctl *Controller) handleFrame(client core.Client, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(client.ID())).Msg("bad json")
		ctl.Router.SendError(client, "bad_payload")
		return
	}

	switch env.Type {
	case "request_call":
		ctl.handleRequest(client, data)
	case "accept_call":
		ctl.handleAccept(client, data)
	case "reject_call":
		ctl.handleReject(client, data)
	case "cancel_call":
		ctl.handleCancel(client, data)
	case "end_call":
		ctl.handleEnd(client, data)
	case "join_room":
		ctl.handleJoin(client, data)
	case "leave_room":
		ctl.handleLeave(client, data)
	case "offer", "answer":
		ctl.handleDescription(client, env.Type, data)
	case "candidate":
		ctl.handleCandidate(client, data)
	case "ping":
		ctl.handlePing(client)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown event")
		ctl.Router.SendError(client, "unknown event type")
	}
}

func (ctl *Controller) sendJSON(client core.Client, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = client.Signal().TrySend(b)
}
