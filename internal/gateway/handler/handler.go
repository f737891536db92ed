// Package handler exposes the extraction pipeline over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"imagin3d/internal/agent"
	"imagin3d/internal/checkpoint"
	"imagin3d/internal/pipeline"
	"imagin3d/internal/types"
)

// maxPayloadBytes bounds the /extract body; models and videos arrive inline as data URLs.
const maxPayloadBytes = 512 << 20

// Pipeline is the subset of the coordinator the handlers need.
type Pipeline interface {
	Start(ctx context.Context, board types.Moodboard) *pipeline.Run
	Confirm(sessionID string, confirmed bool) error
	Status(runID string) (pipeline.RunStatus, bool)
	Checkpoints() *checkpoint.Store
	ActiveRuns() int
}

type Handler struct {
	pipeline Pipeline
	log      *slog.Logger
	upgrader websocket.Upgrader
	usage    func() map[string]agent.Usage
}

type Option func(*Handler)

// WithAgentUsage reports the call counters of the model agents on /healthz.
func WithAgentUsage(fn func() map[string]agent.Usage) Option {
	return func(h *Handler) { h.usage = fn }
}

func New(p Pipeline, log *slog.Logger, allowedOrigins []string, opts ...Option) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		pipeline: p,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if h.pipeline != nil {
		body["active_runs"] = h.pipeline.ActiveRuns()
	}
	if h.usage != nil {
		body["agents"] = h.usage()
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
