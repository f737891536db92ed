package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagin3d/internal/agent"
	"imagin3d/internal/checkpoint"
	"imagin3d/internal/confirmation"
	"imagin3d/internal/embedding"
	"imagin3d/internal/gateway/repository/artifact"
	"imagin3d/internal/llm"
	"imagin3d/internal/pipeline"
)

const textBoard = `{"elements":[{"id":1,"content":{"type":"text","data":{"text":"oak grain"}},"position":{"x":0,"y":0},"size":{"x":1,"y":1}}],"clusters":[],"prompt":"a chair"}`

type event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	SessionID string          `json:"session_id"`
}

func newTestServer(t *testing.T, gateTimeout time.Duration) (*httptest.Server, *pipeline.Coordinator) {
	t.Helper()
	return newTestServerWith(t, gateTimeout, checkpoint.Options{})
}

func newTestServerWith(t *testing.T, gateTimeout time.Duration, ckOpts checkpoint.Options) (*httptest.Server, *pipeline.Coordinator) {
	t.Helper()
	client := llm.NewFakeClient(80)
	describer := agent.NewDescriptor(client, nil)
	clusterer := agent.NewClusterer(client, nil)
	router := agent.NewIntentRouter(client, nil)
	synth := agent.NewSynthesizer(client, nil)
	coord, err := pipeline.NewCoordinator(pipeline.Config{
		Enricher: pipeline.Enricher{
			Handlers: pipeline.DefaultHandlers(pipeline.HandlerDeps{Describer: describer}),
			Embedder: embedding.HashEmbedder{Dim: 8},
		},
		Clusterer:   clusterer,
		Router:      router,
		Synthesizer: synth,
		Checkpoints: checkpoint.New(artifact.NewMemoryStore(), ckOpts),
		Gate:        confirmation.NewGate(gateTimeout),
	})
	require.NoError(t, err)

	h := New(coord, nil, []string{"*"}, WithAgentUsage(func() map[string]agent.Usage {
		return agent.UsageByPhase(describer, clusterer, router, synth)
	}))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("POST /extract", h.Extract)
	mux.HandleFunc("POST /confirm-weights/{session_id}", h.ConfirmWeights)
	mux.HandleFunc("GET /ws/extract", h.ExtractWS)
	mux.HandleFunc("GET /runs/{run_id}", h.RunStatus)
	mux.HandleFunc("GET /checkpoints", h.ListCheckpoints)
	mux.HandleFunc("GET /checkpoints/{path...}", h.GetCheckpoint)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, coord
}

type sseStream struct {
	resp *http.Response
	sc   *bufio.Scanner
}

func openExtract(t *testing.T, srv *httptest.Server, body string) *sseStream {
	t.Helper()
	resp, err := http.Post(srv.URL+"/extract", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	return &sseStream{resp: resp, sc: sc}
}

func (s *sseStream) next(t *testing.T) event {
	t.Helper()
	for s.sc.Scan() {
		line := s.sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		return ev
	}
	t.Fatalf("stream ended: %v", s.sc.Err())
	return event{}
}

func (s *sseStream) until(t *testing.T, typ string) (event, []event) {
	t.Helper()
	var seen []event
	for {
		ev := s.next(t)
		seen = append(seen, ev)
		if ev.Type == typ {
			return ev, seen
		}
		require.NotEqual(t, "error", ev.Type, "unexpected error event: %s", ev.Data)
	}
}

func postConfirm(t *testing.T, srv *httptest.Server, sessionID, query string) (int, map[string]string) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/confirm-weights/"+sessionID+query, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestExtract_ConfirmFlow(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	stream := openExtract(t, srv, textBoard)
	runID := stream.resp.Header.Get("X-Run-ID")
	require.NotEmpty(t, runID)

	weights, seen := stream.until(t, "weights")
	require.NotEmpty(t, weights.SessionID)
	progress := 0
	for _, ev := range seen {
		if ev.Type == "progress" {
			progress++
		}
	}
	assert.Equal(t, 2, progress)

	var wd struct {
		Weights map[string]struct {
			Weight int `json:"weight"`
		} `json:"weights"`
	}
	require.NoError(t, json.Unmarshal(weights.Data, &wd))
	assert.Equal(t, 80, wd.Weights["1"].Weight)

	st, err := http.Get(srv.URL + "/runs/" + runID)
	require.NoError(t, err)
	var status pipeline.RunStatus
	require.NoError(t, json.NewDecoder(st.Body).Decode(&status))
	st.Body.Close()
	assert.Equal(t, pipeline.StateAwaitingConfirmation, status.State)
	assert.Equal(t, weights.SessionID, status.SessionID)

	code, body := postConfirm(t, srv, weights.SessionID, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "confirmed", body["status"])

	done := stream.next(t)
	require.Equal(t, "complete", done.Type)
	var cd pipeline.CompleteData
	require.NoError(t, json.Unmarshal(done.Data, &cd))
	assert.Equal(t, 1, cd.Count)
	assert.Contains(t, cd.File, "design_tokens/")

	code, body = postConfirm(t, srv, weights.SessionID, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, msgSessionNotFound, body["error"])
}

func TestExtract_Cancel(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	stream := openExtract(t, srv, textBoard)
	weights, _ := stream.until(t, "weights")

	_, body := postConfirm(t, srv, weights.SessionID, "?confirmed=false")
	assert.Equal(t, "cancelled", body["status"])

	ev := stream.next(t)
	require.Equal(t, "cancelled", ev.Type)
	var msg string
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	assert.Equal(t, "Pipeline cancelled by user", msg)
}

func TestExtract_EmptyPayload(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	stream := openExtract(t, srv, `{"elements":[],"clusters":[],"prompt":"x"}`)
	ev := stream.next(t)
	require.Equal(t, "error", ev.Type)
	var msg string
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	assert.Equal(t, "Payload must contain elements or clusters", msg)
}

func TestExtract_InvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	resp, err := http.Post(srv.URL+"/extract", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConfirmWeights_UnknownAndInvalid(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	code, body := postConfirm(t, srv, "nope", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"error": msgSessionNotFound}, body)

	code, _ = postConfirm(t, srv, "nope", "?confirmed=maybe")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRunStatus_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	resp, err := http.Get(srv.URL + "/runs/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckpoints_ListAndRead(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	stream := openExtract(t, srv, textBoard)
	weights, _ := stream.until(t, "weights")
	postConfirm(t, srv, weights.SessionID, "")
	stream.until(t, "complete")

	resp, err := http.Get(srv.URL + "/checkpoints?prefix=raw")
	require.NoError(t, err)
	var listing struct {
		Namespace string   `json:"namespace"`
		Paths     []string `json:"paths"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	resp.Body.Close()
	assert.Equal(t, checkpoint.DefaultNamespace, listing.Namespace)
	require.Len(t, listing.Paths, 1)
	assert.True(t, strings.HasPrefix(listing.Paths[0], "raw/moodboard-"))

	resp, err = http.Get(srv.URL + "/checkpoints/" + listing.Paths[0])
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, "a chair", raw["prompt"])

	missing, err := http.Get(srv.URL + "/checkpoints/raw/nothing.json")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestCheckpoints_IsolatedRunsRequireRunID(t *testing.T) {
	srv, _ := newTestServerWith(t, 0, checkpoint.Options{IsolateRuns: true})
	stream := openExtract(t, srv, textBoard)
	runID := stream.resp.Header.Get("X-Run-ID")
	require.NotEmpty(t, runID)
	weights, _ := stream.until(t, "weights")
	postConfirm(t, srv, weights.SessionID, "")
	stream.until(t, "complete")

	for _, target := range []string{"/checkpoints", "/checkpoints/raw/a.json"} {
		resp, err := http.Get(srv.URL + target)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, target)
	}

	resp, err := http.Get(srv.URL + "/checkpoints?prefix=raw&run_id=" + runID)
	require.NoError(t, err)
	var listing struct {
		Namespace string   `json:"namespace"`
		Paths     []string `json:"paths"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	resp.Body.Close()
	assert.Equal(t, "runs/"+runID, listing.Namespace)
	require.Len(t, listing.Paths, 1)

	got, err := http.Get(srv.URL + "/checkpoints/" + listing.Paths[0] + "?run_id=" + runID)
	require.NoError(t, err)
	got.Body.Close()
	assert.Equal(t, http.StatusOK, got.StatusCode)
}

func TestHealth_ReportsActiveRunsAndAgentUsage(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	stream := openExtract(t, srv, textBoard)
	weights, _ := stream.until(t, "weights")

	var health struct {
		Status     string                 `json:"status"`
		ActiveRuns int                    `json:"active_runs"`
		Agents     map[string]agent.Usage `json:"agents"`
	}
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.ActiveRuns)
	assert.Equal(t, int64(1), health.Agents[llm.PhaseDescriptor].Calls)
	assert.Equal(t, int64(1), health.Agents[llm.PhaseRouter].Calls)

	postConfirm(t, srv, weights.SessionID, "")
	stream.until(t, "complete")

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Zero(t, health.ActiveRuns)
	assert.Equal(t, int64(1), health.Agents[llm.PhaseSynthesizer].Calls)
}

func TestCleanCheckpointPath(t *testing.T) {
	cases := map[string]struct {
		want string
		ok   bool
	}{
		"raw/a.json":       {"raw/a.json", true},
		"/raw//a.json":     {"raw/a.json", true},
		"../secret":        {"", false},
		"raw/../../secret": {"", false},
		"":                 {"", false},
	}
	for in, tc := range cases {
		got, ok := cleanCheckpointPath(in)
		assert.Equal(t, tc.ok, ok, in)
		assert.Equal(t, tc.want, got, in)
	}
}

func TestExtractWS_ConfirmInBand(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/extract"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "extract", "payload": json.RawMessage(textBoard)}))

	read := func() event {
		var ev event
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}
	started := read()
	require.Equal(t, "started", started.Type)

	var weights event
	for weights.Type != "weights" {
		weights = read()
		require.NotEqual(t, "error", weights.Type)
	}
	require.NotEmpty(t, weights.SessionID)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "confirm", "session_id": weights.SessionID, "confirmed": true}))

	var sawConfirm, sawComplete bool
	for !sawConfirm || !sawComplete {
		ev := read()
		switch ev.Type {
		case "confirm":
			var body map[string]string
			require.NoError(t, json.Unmarshal(ev.Data, &body))
			assert.Equal(t, "confirmed", body["status"])
			sawConfirm = true
		case "complete":
			sawComplete = true
		default:
			t.Fatalf("unexpected message %s", ev.Type)
		}
	}

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bogus"}))
	ev := read()
	assert.Equal(t, "error", ev.Type)
}
