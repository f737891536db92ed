package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"imagin3d/internal/checkpoint"
	"imagin3d/internal/confirmation"
	"imagin3d/internal/embedding"
	"imagin3d/internal/gateway/repository/artifact"
	"imagin3d/internal/media"
	"imagin3d/internal/types"
)

type fakeDescriber struct {
	mu     sync.Mutex
	failOn string
	texts  []string
	images map[types.ContentType]int
}

func (f *fakeDescriber) DescribeText(_ context.Context, kind types.ContentType, text string) (types.TokenInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && text == f.failOn {
		return types.TokenInfo{}, fmt.Errorf("descriptor: boom")
	}
	f.texts = append(f.texts, text)
	return types.TokenInfo{Title: "T:" + text, Description: "about " + text}, nil
}

func (f *fakeDescriber) DescribeImages(_ context.Context, kind types.ContentType, images []types.Image) (types.TokenInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.images == nil {
		f.images = map[types.ContentType]int{}
	}
	f.images[kind] += len(images)
	return types.TokenInfo{Title: string(kind), Description: fmt.Sprintf("%d images", len(images))}, nil
}

type fakeClusterer struct {
	mu      sync.Mutex
	members map[string][]int
}

func (f *fakeClusterer) Describe(_ context.Context, title string, members []*types.DesignToken) (types.ClusterInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members == nil {
		f.members = map[string][]int{}
	}
	ids := make([]int, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	f.members[title] = ids
	return types.ClusterInfo{Title: title, Purpose: "p", Description: "desc " + title}, nil
}

type fakeRouter struct {
	mu       sync.Mutex
	clusters map[int]int
	tokens   map[int]int
	contexts map[int]string
	delay    time.Duration
}

func (f *fakeRouter) RouteCluster(_ context.Context, _ string, cd *types.ClusterDescriptor) (types.RouteInfo, error) {
	w, ok := f.clusters[cd.ID]
	if !ok {
		w = 80
	}
	return types.RouteInfo{Weight: w, Reasoning: "cluster"}, nil
}

func (f *fakeRouter) RouteToken(_ context.Context, _ string, tok *types.DesignToken, clusterContext string) (types.RouteInfo, error) {
	if f.delay > 0 {
		time.Sleep(time.Duration(tok.ID) * f.delay)
	}
	f.mu.Lock()
	if f.contexts == nil {
		f.contexts = map[int]string{}
	}
	f.contexts[tok.ID] = clusterContext
	f.mu.Unlock()
	w, ok := f.tokens[tok.ID]
	if !ok {
		w = 80
	}
	return types.RouteInfo{Weight: w, Reasoning: "token"}, nil
}

type fakeSynth struct {
	mu       sync.Mutex
	prompt   string
	clusters []types.SynthesisCluster
	calls    int
}

func (f *fakeSynth) Synthesize(_ context.Context, userPrompt string, clusters []types.SynthesisCluster) (types.MasterPrompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompt = userPrompt
	f.clusters = clusters
	return types.MasterPrompt{Prompt: "master: " + userPrompt}, nil
}

type fakeKeyFrames struct{ n int }

func (f fakeKeyFrames) Extract(context.Context, string) (media.KeyFrames, error) {
	out := media.KeyFrames{}
	for i := 0; i < f.n; i++ {
		out.Indices = append(out.Indices, i*10)
		out.Images = append(out.Images, types.Image{MIMEType: "image/jpeg", Data: []byte{byte(i)}})
	}
	return out, nil
}

type fakeRenderer struct{ views int }

func (f fakeRenderer) Name() string { return "fake" }

func (f fakeRenderer) RenderViews(_ context.Context, modelPath, _ string) ([]types.Image, error) {
	out := make([]types.Image, f.views)
	for i := range out {
		out[i] = types.Image{MIMEType: "image/jpeg", Data: []byte(modelPath)}
	}
	return out, nil
}

type recordingSink struct {
	mu    sync.Mutex
	paths []string
}

func (s *recordingSink) SaveAsset(_ context.Context, p string, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, p)
	sort.Strings(s.paths)
	return p, nil
}

type harness struct {
	coord  *Coordinator
	desc   *fakeDescriber
	clus   *fakeClusterer
	router *fakeRouter
	synth  *fakeSynth
	repo   *artifact.MemoryStore
	gate   *confirmation.Gate
}

func newHarness(t *testing.T, gateTimeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		desc:   &fakeDescriber{},
		clus:   &fakeClusterer{},
		router: &fakeRouter{},
		synth:  &fakeSynth{},
		repo:   artifact.NewMemoryStore(),
		gate:   confirmation.NewGate(gateTimeout),
	}
	coord, err := NewCoordinator(Config{
		Enricher: Enricher{
			Handlers: DefaultHandlers(HandlerDeps{
				Describer: h.desc,
				Renderer:  fakeRenderer{views: 2},
				KeyFrames: fakeKeyFrames{n: 3},
				WorkDir:   t.TempDir(),
			}),
			Embedder: embedding.HashEmbedder{Dim: 8},
		},
		Clusterer:   h.clus,
		Router:      h.router,
		Synthesizer: h.synth,
		Checkpoints: checkpoint.New(h.repo, checkpoint.Options{}),
		Gate:        h.gate,
	})
	require.NoError(t, err)
	h.coord = coord
	return h
}

func textElement(id int, text string) types.Element {
	return types.Element{
		ID:      id,
		Content: types.Content{Type: types.ContentText, Data: []byte(fmt.Sprintf(`{"text":%q}`, text))},
		Size:    types.Vec2{X: 1, Y: 1},
	}
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event stream closed early")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

// collectUntil reads events up to and including the first of type stop.
func collectUntil(t *testing.T, ch <-chan Event, stop EventType) []Event {
	t.Helper()
	var out []Event
	for {
		ev := nextEvent(t, ch)
		out = append(out, ev)
		if ev.Type == stop || ev.Terminal() {
			return out
		}
	}
}

func requireClosed(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.False(t, ok, "unexpected event after terminal: %+v", ev)
	case <-time.After(5 * time.Second):
		t.Fatal("stream not closed")
	}
}
