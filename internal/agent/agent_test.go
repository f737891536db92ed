package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"imagin3d/internal/llm"
	"imagin3d/internal/types"
)

type scriptedLLM struct {
	answer string
	err    error

	phase  string
	prompt string
	input  map[string]any
	images int
}

func (s *scriptedLLM) Name() string { return "scripted" }
func (s *scriptedLLM) Close() error { return nil }
func (s *scriptedLLM) GenerateJSON(ctx context.Context, prompt string, input any, images ...types.Image) (json.RawMessage, error) {
	s.phase = llm.PhaseFrom(ctx)
	s.prompt = prompt
	s.images = len(images)
	b, _ := json.Marshal(input)
	s.input = map[string]any{}
	_ = json.Unmarshal(b, &s.input)
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(s.answer), nil
}

func TestDescriptor_TextAndImages(t *testing.T) {
	m := &scriptedLLM{answer: `{"info":{"title":"Warm dusk","description":"Orange gradients."}}`}
	d := NewDescriptor(m, nil)

	info, err := d.DescribeText(context.Background(), types.ContentText, "sunset over dunes")
	if err != nil {
		t.Fatalf("DescribeText error: %v", err)
	}
	if info.Title != "Warm dusk" {
		t.Fatalf("unexpected info %+v", info)
	}
	if m.phase != llm.PhaseDescriptor || m.input["text"] != "sunset over dunes" || m.input["type"] != "text" {
		t.Fatalf("unexpected request phase=%s input=%v", m.phase, m.input)
	}
	if !strings.Contains(m.prompt, "[PURPOSE]") {
		t.Fatalf("prompt not rendered: %s", m.prompt)
	}

	m.answer = "```json\n{\"title\":\"Chrome\",\"description\":\"Reflective.\"}\n```"
	info, err = d.DescribeImages(context.Background(), types.ContentModel, []types.Image{{MIMEType: "image/jpeg"}, {MIMEType: "image/jpeg"}})
	if err != nil {
		t.Fatalf("DescribeImages error: %v", err)
	}
	if info.Title != "Chrome" || m.images != 2 {
		t.Fatalf("unexpected info %+v images=%d", info, m.images)
	}

	if _, err := d.DescribeImages(context.Background(), types.ContentImage, nil); err == nil {
		t.Fatalf("expected error without images")
	}
	if u := d.Usage(); u.Calls != 2 || u.Errors != 0 {
		t.Fatalf("unexpected usage %+v", u)
	}
}

func TestClusterer_SendsMemberSummaries(t *testing.T) {
	m := &scriptedLLM{answer: `{"title":"Desert","purpose":"palette","description":"Sand tones."}`}
	c := NewClusterer(m, nil)

	members := []*types.DesignToken{{ID: 1, Type: types.ContentImage, Title: "Dune", Description: "sand", Embedding: []float32{1, 2}}}
	info, err := c.Describe(context.Background(), "desert", members)
	if err != nil {
		t.Fatalf("Describe error: %v", err)
	}
	if info.Purpose != "palette" {
		t.Fatalf("unexpected info %+v", info)
	}
	elems, _ := m.input["elements"].([]any)
	if len(elems) != 1 {
		t.Fatalf("expected one element in input, got %v", m.input)
	}
	if _, ok := elems[0].(map[string]any)["embedding"]; ok {
		t.Fatalf("embedding must not be sent to the clusterer")
	}
}

func TestIntentRouter_ClampsAndRounds(t *testing.T) {
	m := &scriptedLLM{answer: `{"weight": 140.2, "reasoning": "core"}`}
	r := NewIntentRouter(m, nil)

	got, err := r.RouteCluster(context.Background(), "a chair", &types.ClusterDescriptor{ID: 3, Title: "wood", Elements: []*types.DesignToken{{ID: 1}, {ID: 2}}})
	if err != nil {
		t.Fatalf("RouteCluster error: %v", err)
	}
	if got.Weight != 100 || got.Reasoning != "core" {
		t.Fatalf("unexpected route %+v", got)
	}
	item := m.input["item"].(map[string]any)
	if item["element_count"].(float64) != 2 || m.input["mode"] != "cluster" {
		t.Fatalf("unexpected cluster input %v", m.input)
	}

	m.answer = `{"weight": 72.6, "reasoning": "fits"}`
	tok := &types.DesignToken{ID: 1, Type: types.ContentText, Size: types.Vec2{X: 1.5, Y: 2.25}}
	got, err = r.RouteToken(context.Background(), "a chair", tok, "")
	if err != nil {
		t.Fatalf("RouteToken error: %v", err)
	}
	if got.Weight != 73 {
		t.Fatalf("expected rounded weight 73, got %d", got.Weight)
	}
	if m.input["cluster_context"] != nil {
		t.Fatalf("expected null cluster context, got %v", m.input["cluster_context"])
	}
	if m.input["item"].(map[string]any)["scale"].(float64) != 2.25 {
		t.Fatalf("expected scale 2.25, got %v", m.input["item"])
	}

	if _, err := r.RouteToken(context.Background(), "a chair", tok, "Wood,Oak grain"); err != nil {
		t.Fatalf("RouteToken error: %v", err)
	}
	if m.input["cluster_context"] != "Wood,Oak grain" {
		t.Fatalf("cluster context not forwarded: %v", m.input)
	}
}

func TestSynthesizer_RejectsEmptyPrompt(t *testing.T) {
	m := &scriptedLLM{answer: `{"prompt":"  "}`}
	s := NewSynthesizer(m, nil)
	if _, err := s.Synthesize(context.Background(), "a chair", nil); err == nil {
		t.Fatalf("expected error for empty master prompt")
	}
	clusters, _ := m.input["clusters"].([]any)
	if clusters == nil {
		t.Fatalf("clusters should be sent as an empty list, got %v", m.input)
	}

	m.answer = `{"prompt":"an oak chair, warm light"}`
	out, err := s.Synthesize(context.Background(), "a chair", []types.SynthesisCluster{{ID: 1, Weight: 90}})
	if err != nil || out.Prompt != "an oak chair, warm light" {
		t.Fatalf("unexpected synth result %+v %v", out, err)
	}
}

func TestAgent_PropagatesClientErrors(t *testing.T) {
	m := &scriptedLLM{err: errors.New("quota")}
	d := NewDescriptor(m, nil)
	_, err := d.DescribeText(context.Background(), types.ContentText, "x")
	if err == nil || !strings.Contains(err.Error(), "quota") {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
	if d.Usage().Errors != 1 {
		t.Fatalf("expected error counted")
	}
}

func TestUsageByPhase_KeysEveryAgent(t *testing.T) {
	m := &scriptedLLM{err: errors.New("quota")}
	d := NewDescriptor(m, nil)
	_, _ = d.DescribeText(context.Background(), types.ContentText, "oak")

	got := UsageByPhase(d, NewClusterer(m, nil), NewIntentRouter(m, nil), NewSynthesizer(m, nil), nil)
	if len(got) != 4 {
		t.Fatalf("expected 4 phases, got %v", got)
	}
	if u := got[llm.PhaseDescriptor]; u.Calls != 1 || u.Errors != 1 {
		t.Fatalf("descriptor usage = %+v", u)
	}
	if u := got[llm.PhaseSynthesizer]; u.Calls != 0 {
		t.Fatalf("synthesizer should be idle, got %+v", u)
	}

	raw, err := json.Marshal(got[llm.PhaseDescriptor])
	if err != nil {
		t.Fatalf("marshal usage: %v", err)
	}
	if !strings.Contains(string(raw), `"calls":1`) {
		t.Fatalf("unexpected usage json %s", raw)
	}
}
