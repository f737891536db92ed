package server

import (
	"net/http"

	"imagin3d/internal/gateway/handler"
	"imagin3d/internal/gateway/middleware"
)

func NewMux(h *handler.Handler, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /extract", h.Extract)
	mux.HandleFunc("POST /confirm-weights/{session_id}", h.ConfirmWeights)
	mux.HandleFunc("GET /ws/extract", h.ExtractWS)

	mux.HandleFunc("GET /runs/{run_id}", h.RunStatus)
	mux.HandleFunc("GET /checkpoints", h.ListCheckpoints)
	mux.HandleFunc("GET /checkpoints/{path...}", h.GetCheckpoint)
	mux.HandleFunc("GET /healthz", h.Health)

	return middleware.CORS(allowedOrigins)(mux)
}
