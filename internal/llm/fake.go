package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"imagin3d/internal/types"
)

// FakeClient returns deterministic JSON per phase for offline runs and tests.
type FakeClient struct {
	// Weight is returned by every routing call.
	Weight int
}

func NewFakeClient(weight int) *FakeClient {
	return &FakeClient{Weight: weight}
}

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, input any, images ...types.Image) (json.RawMessage, error) {
	phase := PhaseFrom(ctx)
	var obj any
	switch phase {
	case PhaseDescriptor:
		obj = map[string]any{
			"title":       "Fake element",
			"description": fmt.Sprintf("fake description from %d image(s)", len(images)),
		}
	case PhaseClusterer:
		obj = map[string]any{
			"title":       "Fake cluster",
			"purpose":     "fake purpose",
			"description": "fake cluster description",
		}
	case PhaseRouter:
		obj = map[string]any{
			"weight":    f.Weight,
			"reasoning": "fake reasoning",
		}
	case PhaseSynthesizer:
		obj = map[string]any{
			"prompt":          "fake master prompt",
			"negative_prompt": "",
		}
	default:
		obj = map[string]any{}
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
