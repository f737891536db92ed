package agent

import (
	"context"
	"log/slog"
	"math"

	"imagin3d/internal/llm"
	"imagin3d/internal/llmtool"
	"imagin3d/internal/types"
)

var routerPrompt = llmtool.ApplyPresets(llmtool.PromptSpec{
	Role:    "You are the intent router of a 3D generation pipeline.",
	Purpose: "Score how relevant ONE moodboard item is to the user's prompt, from 0 to 100.",
	Background: `"mode" is "cluster" or "token". "prompt" is what the user wants to generate.
"item" holds the cluster or token. Tokens carry "scale", the factor by which the user enlarged
the element on the board; clusters carry "element_count". "cluster_context" is the
"<title>,<description>" of the cluster a token belongs to, or null.`,
	OutputFields: []llmtool.PromptField{
		{Name: "weight", Type: "int", Required: true, Description: "0 means irrelevant, 100 means essential."},
		{Name: "reasoning", Type: "string", Required: true, Description: "One sentence justifying the weight."},
	},
	Rules: []string{
		"Items scoring above 50 are kept for the final prompt; score with that cut in mind.",
		"A scale above 1 signals the user emphasized the element.",
		"Use cluster_context to judge a token in light of its group.",
	},
	OutputFormat: `{"weight": 0, "reasoning": "..."}`,
}, llmtool.PresetStrictJSON()).MustRender()

// IntentRouter weighs clusters and tokens against the user prompt.
type IntentRouter struct {
	*base
}

func NewIntentRouter(client llm.LLMClient, logger *slog.Logger) *IntentRouter {
	return &IntentRouter{base: newBase(llm.PhaseRouter, routerPrompt, client, logger)}
}

type routeAnswer struct {
	Weight    float64 `json:"weight"`
	Reasoning string  `json:"reasoning"`
}

func (a routeAnswer) info() types.RouteInfo {
	return types.RouteInfo{Weight: int(math.Round(a.Weight)), Reasoning: a.Reasoning}.Clamp()
}

func (r *IntentRouter) RouteCluster(ctx context.Context, prompt string, cluster *types.ClusterDescriptor) (types.RouteInfo, error) {
	var ans routeAnswer
	err := r.ask(ctx, map[string]any{
		"mode":   "cluster",
		"prompt": prompt,
		"item": map[string]any{
			"id":            cluster.ID,
			"title":         cluster.Title,
			"description":   cluster.Description,
			"element_count": len(cluster.Elements),
		},
	}, &ans)
	return ans.info(), err
}

// RouteToken weighs a token. An empty clusterContext is sent as null.
func (r *IntentRouter) RouteToken(ctx context.Context, prompt string, token *types.DesignToken, clusterContext string) (types.RouteInfo, error) {
	var clusterCtx any
	if clusterContext != "" {
		clusterCtx = clusterContext
	}
	var ans routeAnswer
	err := r.ask(ctx, map[string]any{
		"mode":            "token",
		"prompt":          prompt,
		"cluster_context": clusterCtx,
		"item": map[string]any{
			"id":          token.ID,
			"type":        token.Type,
			"title":       token.Title,
			"description": token.Description,
			"scale":       token.Size.Max(),
		},
	}, &ans)
	return ans.info(), err
}
