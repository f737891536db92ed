package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"imagin3d/internal/confirmation"
	"imagin3d/internal/types"
)

const msgSessionNotFound = "Session not found or already expired"

// Extract starts a run and streams its events as server-sent events.
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	var board types.Moodboard
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err := dec.Decode(&board); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body: "+err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	run := h.pipeline.Start(ctx, board)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Run-ID", run.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := h.log.With("run_id", run.ID)
	for {
		select {
		case <-ctx.Done():
			log.Info("client disconnected from event stream")
			return
		case ev, ok := <-run.Events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error("encode event", "type", ev.Type, "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				log.Info("event stream write failed", "err", err)
				return
			}
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}

// ConfirmWeights resolves a confirmation session. An unknown session is
// reported in the body with status 200.
func (h *Handler) ConfirmWeights(w http.ResponseWriter, r *http.Request) {
	confirmed := true
	if raw := strings.TrimSpace(r.URL.Query().Get("confirmed")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "confirmed must be a boolean")
			return
		}
		confirmed = v
	}
	writeJSON(w, http.StatusOK, h.confirm(r.PathValue("session_id"), confirmed))
}

func (h *Handler) confirm(sessionID string, confirmed bool) map[string]string {
	if err := h.pipeline.Confirm(sessionID, confirmed); err != nil {
		if !errors.Is(err, confirmation.ErrSessionNotFound) && !errors.Is(err, confirmation.ErrSessionExpired) {
			h.log.Error("confirm weights", "session_id", sessionID, "err", err)
		}
		return map[string]string{"error": msgSessionNotFound}
	}
	if confirmed {
		return map[string]string{"status": "confirmed"}
	}
	return map[string]string{"status": "cancelled"}
}
