package llm

import (
	"context"
	"encoding/json"
	"errors"

	"imagin3d/internal/types"
)

var ErrInvalidJSON = errors.New("llm: invalid JSON from model")

// LLMClient asks a model for a JSON answer to prompt, with input appended
// as an indented JSON block and images attached as inline parts.
type LLMClient interface {
	Name() string
	GenerateJSON(ctx context.Context, prompt string, input any, images ...types.Image) (json.RawMessage, error)
	Close() error
}

// Agent phases, carried in the context for logging and the fake client.
const (
	PhaseDescriptor  = "descriptor"
	PhaseClusterer   = "clusterer"
	PhaseRouter      = "intent_router"
	PhaseSynthesizer = "prompt_synthesizer"
)

type ctxKeyPhase struct{}

// WithPhase tags ctx with the agent phase issuing the request.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, ctxKeyPhase{}, phase)
}

// PhaseFrom returns the phase stored in ctx, or "unknown".
func PhaseFrom(ctx context.Context) string {
	if v := ctx.Value(ctxKeyPhase{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "unknown"
}

func fullPrompt(prompt string, input any) (string, error) {
	if input == nil {
		return prompt, nil
	}
	in, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", err
	}
	return prompt + "\n\n[INPUT JSON]\n" + string(in), nil
}
