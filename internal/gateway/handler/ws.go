package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"imagin3d/internal/pipeline"
	"imagin3d/internal/types"
)

const wsWriteWait = 10 * time.Second

type wsRequest struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Confirmed *bool           `json:"confirmed,omitempty"`
}

type wsReply struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func wsError(msg string) wsReply { return wsReply{Type: string(pipeline.EventError), Data: msg} }

// ExtractWS carries the extraction stream over a websocket. The client sends
// {"type":"extract","payload":...} to start a run and
// {"type":"confirm","session_id":...,"confirmed":bool} to answer the gate.
// One run streams at a time per connection.
func (h *Handler) ExtractWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Info("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxPayloadBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	requests := make(chan wsRequest)
	go func() {
		defer cancel()
		for {
			var req wsRequest
			if err := conn.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.log.Info("websocket read failed", "err", err)
				}
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	// gorilla connections allow one concurrent writer; only this loop writes.
	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(v); err != nil {
			h.log.Info("websocket write failed", "err", err)
			return false
		}
		return true
	}

	var events <-chan pipeline.Event
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-requests:
			if !write(h.handleWSRequest(ctx, req, &events)) {
				return
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !write(ev) {
				return
			}
			if ev.Terminal() {
				events = nil
			}
		}
	}
}

func (h *Handler) handleWSRequest(ctx context.Context, req wsRequest, events *<-chan pipeline.Event) wsReply {
	switch req.Type {
	case "extract":
		if *events != nil {
			return wsError("A run is already streaming on this connection")
		}
		var board types.Moodboard
		if err := json.Unmarshal(req.Payload, &board); err != nil {
			return wsError("invalid payload: " + err.Error())
		}
		run := h.pipeline.Start(ctx, board)
		h.log.Info("websocket run started", "run_id", run.ID)
		*events = run.Events
		return wsReply{Type: "started", Data: map[string]string{"run_id": run.ID}}
	case "confirm":
		confirmed := true
		if req.Confirmed != nil {
			confirmed = *req.Confirmed
		}
		return wsReply{Type: "confirm", Data: h.confirm(req.SessionID, confirmed)}
	default:
		return wsError("unknown message type " + req.Type)
	}
}
