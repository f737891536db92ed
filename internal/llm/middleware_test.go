package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"imagin3d/internal/types"
)

type flakyClient struct {
	failures int
	calls    int
	images   int
}

func (f *flakyClient) Name() string { return "flaky" }
func (f *flakyClient) Close() error { return nil }
func (f *flakyClient) GenerateJSON(_ context.Context, _ string, _ any, images ...types.Image) (json.RawMessage, error) {
	f.calls++
	f.images = len(images)
	if f.calls <= f.failures {
		return nil, errors.New("transient")
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func TestRetry_SucceedsAfterTransientErrors(t *testing.T) {
	inner := &flakyClient{failures: 2}
	c := Wrap(inner, Retry(3, time.Millisecond))

	raw, err := c.GenerateJSON(context.Background(), "p", nil, types.Image{MIMEType: "image/png"})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if string(raw) != `{"ok":true}` {
		t.Fatalf("unexpected payload %s", raw)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", inner.calls)
	}
	if inner.images != 1 {
		t.Fatalf("images not forwarded, got %d", inner.images)
	}
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyClient{failures: 10}
	c := Wrap(inner, Retry(2, time.Millisecond))
	if _, err := c.GenerateJSON(context.Background(), "p", nil); err == nil {
		t.Fatalf("expected error")
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", inner.calls)
	}
}

func TestRetry_StopsOnCanceledContext(t *testing.T) {
	inner := &flakyClient{failures: 10}
	c := Wrap(inner, Retry(5, 50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.GenerateJSON(ctx, "p", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", inner.calls)
	}
}

func TestRateLimit_BlocksUntilContextDone(t *testing.T) {
	c := Wrap(&flakyClient{}, RateLimit(0.001, 1))
	defer c.Close()

	if _, err := c.GenerateJSON(context.Background(), "p", nil); err != nil {
		t.Fatalf("first call should use the burst token: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.GenerateJSON(ctx, "p", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWithLogging_RecordsPhase(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := Wrap(&flakyClient{failures: 1}, WithLogging(logger))

	ctx := WithPhase(context.Background(), PhaseRouter)
	_, _ = c.GenerateJSON(ctx, "p", map[string]int{"a": 1})

	out := buf.String()
	if !strings.Contains(out, "phase=intent_router") || !strings.Contains(out, "llm error") {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestFakeClient_PhaseShapes(t *testing.T) {
	f := NewFakeClient(80)
	raw, err := f.GenerateJSON(WithPhase(context.Background(), PhaseRouter), "p", nil)
	if err != nil {
		t.Fatalf("fake error: %v", err)
	}
	var route types.RouteInfo
	if err := json.Unmarshal(raw, &route); err != nil || route.Weight != 80 {
		t.Fatalf("unexpected route payload %s (%v)", raw, err)
	}
	if PhaseFrom(context.Background()) != "unknown" {
		t.Fatalf("expected unknown phase for bare context")
	}
}

type mapStore struct {
	data map[string][]byte
	sets int
}

func (m *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapStore) Set(_ context.Context, key string, value []byte) error {
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = value
	m.sets++
	return nil
}

func TestCache_ReplaysMatchingRequests(t *testing.T) {
	inner := &flakyClient{}
	store := &mapStore{}
	c := Wrap(inner, Cache(store, nil, PhaseDescriptor))
	ctx := WithPhase(context.Background(), PhaseDescriptor)
	img := types.Image{MIMEType: "image/jpeg", Data: []byte{1, 2, 3}}

	for i := 0; i < 2; i++ {
		raw, err := c.GenerateJSON(ctx, "p", map[string]any{"type": "image"}, img)
		if err != nil || string(raw) != `{"ok":true}` {
			t.Fatalf("call %d: %s %v", i, raw, err)
		}
	}
	if inner.calls != 1 || store.sets != 1 {
		t.Fatalf("expected one model call, got calls=%d sets=%d", inner.calls, store.sets)
	}

	other := types.Image{MIMEType: "image/jpeg", Data: []byte{9}}
	if _, err := c.GenerateJSON(ctx, "p", map[string]any{"type": "image"}, other); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Fatalf("different image bytes must miss the cache")
	}
}

func TestCache_SkipsOtherPhasesAndErrors(t *testing.T) {
	inner := &flakyClient{failures: 1}
	store := &mapStore{}
	c := Wrap(inner, Cache(store, nil, PhaseDescriptor))

	router := WithPhase(context.Background(), PhaseRouter)
	_, _ = c.GenerateJSON(router, "p", nil)
	_, _ = c.GenerateJSON(router, "p", nil)
	if store.sets != 0 {
		t.Fatalf("router answers must not be cached")
	}

	inner.calls, inner.failures = 0, 1
	desc := WithPhase(context.Background(), PhaseDescriptor)
	if _, err := c.GenerateJSON(desc, "q", nil); err == nil {
		t.Fatalf("expected the transient error")
	}
	if store.sets != 0 {
		t.Fatalf("errors must not be cached")
	}
}
