package agent

import (
	"context"
	"log/slog"

	"imagin3d/internal/llm"
	"imagin3d/internal/llmtool"
	"imagin3d/internal/types"
)

var clustererPrompt = llmtool.ApplyPresets(llmtool.PromptSpec{
	Role:    "You are an art director reviewing a group of moodboard elements.",
	Purpose: "Summarize what a user-defined cluster of design tokens stands for.",
	Background: `The input has the "title" the user gave the cluster and its "elements",
each with id, type, title and description.`,
	OutputFields: []llmtool.PromptField{
		{Name: "title", Type: "string", Required: true, Description: "A refined cluster name; keep the user's title if it already fits."},
		{Name: "purpose", Type: "string", Required: true, Description: "What role this group plays in the final design."},
		{Name: "description", Type: "string", Required: true, Description: "2 to 4 sentences on the shared visual language."},
	},
	Rules: []string{
		"Base the summary only on the listed elements.",
		"An empty element list is allowed; describe the cluster from its title.",
	},
	OutputFormat: `{"title": "...", "purpose": "...", "description": "..."}`,
}, llmtool.PresetStrictJSON(), llmtool.PresetDesignVocabulary()).MustRender()

// Clusterer describes a cluster from its member tokens.
type Clusterer struct {
	*base
}

func NewClusterer(client llm.LLMClient, logger *slog.Logger) *Clusterer {
	return &Clusterer{base: newBase(llm.PhaseClusterer, clustererPrompt, client, logger)}
}

func (c *Clusterer) Describe(ctx context.Context, title string, members []*types.DesignToken) (types.ClusterInfo, error) {
	elements := make([]map[string]any, 0, len(members))
	for _, tok := range members {
		elements = append(elements, map[string]any{
			"id":          tok.ID,
			"type":        tok.Type,
			"title":       tok.Title,
			"description": tok.Description,
		})
	}
	var out types.ClusterInfo
	err := c.ask(ctx, map[string]any{"title": title, "elements": elements}, &out)
	return out, err
}
