package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"imagin3d/internal/llm"
	"imagin3d/internal/llmtool"
	"imagin3d/internal/types"
)

var synthesizerPrompt = llmtool.ApplyPresets(llmtool.PromptSpec{
	Role:    "You are a prompt engineer for text-to-3D and text-to-image models.",
	Purpose: "Merge the user's prompt and the approved moodboard clusters into one master generation prompt.",
	Background: `"user_prompt" is the subject to generate. "clusters" are the groups the user approved,
each with its weight and the approved elements inside it. Higher weights matter more.`,
	OutputFields: []llmtool.PromptField{
		{Name: "prompt", Type: "string", Required: true, Description: "The master prompt, a single paragraph."},
		{Name: "negative_prompt", Type: "string", Description: "Things the generator should avoid, if any."},
	},
	Rules: []string{
		"Keep the user's subject as the anchor of the prompt.",
		"Fold in materials, palette, lighting and form cues from the clusters in weight order.",
		"When no clusters are given, refine the user prompt alone.",
	},
	OutputFormat: `{"prompt": "...", "negative_prompt": "..."}`,
}, llmtool.PresetStrictJSON()).MustRender()

// Synthesizer writes the master prompt from the filtered moodboard.
type Synthesizer struct {
	*base
}

func NewSynthesizer(client llm.LLMClient, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{base: newBase(llm.PhaseSynthesizer, synthesizerPrompt, client, logger)}
}

func (s *Synthesizer) Synthesize(ctx context.Context, userPrompt string, clusters []types.SynthesisCluster) (types.MasterPrompt, error) {
	if clusters == nil {
		clusters = []types.SynthesisCluster{}
	}
	var out types.MasterPrompt
	if err := s.ask(ctx, map[string]any{"user_prompt": userPrompt, "clusters": clusters}, &out); err != nil {
		return types.MasterPrompt{}, err
	}
	out.Prompt = strings.TrimSpace(out.Prompt)
	if out.Prompt == "" {
		return types.MasterPrompt{}, fmt.Errorf("%s: empty master prompt", s.phase)
	}
	return out, nil
}
