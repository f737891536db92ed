package handler

import (
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"

	"imagin3d/internal/checkpoint"
	"imagin3d/internal/gateway/repository/artifact"
)

func (h *Handler) RunStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := h.pipeline.Status(r.PathValue("run_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListCheckpoints lists checkpoint paths. run_id selects the namespace when
// runs are isolated.
func (h *Handler) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	store := h.pipeline.Checkpoints()
	runID, ok := h.checkpointRun(w, r, store)
	if !ok {
		return
	}
	paths, err := store.List(r.Context(), runID, strings.TrimSpace(r.URL.Query().Get("prefix")))
	if err != nil {
		h.log.Error("list checkpoints", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list checkpoints")
		return
	}
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace": store.Namespace(runID),
		"paths":     paths,
	})
}

func (h *Handler) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	p, ok := cleanCheckpointPath(r.PathValue("path"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid checkpoint path")
		return
	}
	store := h.pipeline.Checkpoints()
	runID, ok := h.checkpointRun(w, r, store)
	if !ok {
		return
	}
	data, err := store.Read(r.Context(), runID, p)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(w, http.StatusNotFound, "checkpoint not found")
			return
		}
		h.log.Error("read checkpoint", "path", p, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read checkpoint")
		return
	}
	ctype := mime.TypeByExtension(path.Ext(p))
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", ctype)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// checkpointRun returns the run_id query value. Isolated stores keep one
// namespace per run, so the value is required there.
func (h *Handler) checkpointRun(w http.ResponseWriter, r *http.Request, store *checkpoint.Store) (string, bool) {
	runID := strings.TrimSpace(r.URL.Query().Get("run_id"))
	if runID == "" && store.Isolated() {
		writeError(w, http.StatusBadRequest, "run_id is required when runs are isolated")
		return "", false
	}
	return runID, true
}

func cleanCheckpointPath(raw string) (string, bool) {
	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return "", false
		}
	}
	p := strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(raw)), "/")
	if p == "" {
		return "", false
	}
	return p, true
}
