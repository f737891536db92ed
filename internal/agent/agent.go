// Package agent wraps the four LLM-backed collaborators of the pipeline:
// element description, cluster description, intent routing and master
// prompt synthesis. Each agent owns its prompt and output decoding.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"imagin3d/internal/llm"
	"imagin3d/internal/types"
	"imagin3d/internal/util/jsonutil"
)

// Usage is a snapshot of an agent's call counters.
type Usage struct {
	Calls   int64         `json:"calls"`
	Errors  int64         `json:"errors"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Metered is an agent that counts its model calls.
type Metered interface {
	Phase() string
	Usage() Usage
}

// UsageByPhase snapshots the counters of agents keyed by phase.
func UsageByPhase(agents ...Metered) map[string]Usage {
	out := make(map[string]Usage, len(agents))
	for _, a := range agents {
		if a == nil {
			continue
		}
		out[a.Phase()] = a.Usage()
	}
	return out
}

type base struct {
	phase  string
	prompt string
	llm    llm.LLMClient
	log    *slog.Logger

	calls   atomic.Int64
	errors  atomic.Int64
	elapsed atomic.Int64
}

func newBase(phase, prompt string, client llm.LLMClient, logger *slog.Logger) *base {
	if logger == nil {
		logger = slog.Default()
	}
	return &base{phase: phase, prompt: prompt, llm: client, log: logger.With("agent", phase)}
}

// ask sends input to the model and decodes the answer into out. Answers may
// be bare or wrapped as {"info": {...}}.
func (b *base) ask(ctx context.Context, input any, out any, images ...types.Image) error {
	if b.llm == nil {
		return fmt.Errorf("%s: llm client is nil", b.phase)
	}
	start := time.Now()
	b.calls.Add(1)
	defer func() { b.elapsed.Add(int64(time.Since(start))) }()

	raw, err := b.llm.GenerateJSON(llm.WithPhase(ctx, b.phase), b.prompt, input, images...)
	if err != nil {
		b.errors.Add(1)
		return fmt.Errorf("%s: %w", b.phase, err)
	}
	if err := decodeInfo(raw, out); err != nil {
		b.errors.Add(1)
		b.log.Warn("undecodable answer", "raw", string(raw), "err", err)
		return fmt.Errorf("%s: decode answer: %w", b.phase, err)
	}
	return nil
}

func (b *base) Phase() string { return b.phase }

func (b *base) Usage() Usage {
	return Usage{
		Calls:   b.calls.Load(),
		Errors:  b.errors.Load(),
		Elapsed: time.Duration(b.elapsed.Load()),
	}
}

func decodeInfo(raw json.RawMessage, out any) error {
	var wrapped struct {
		Info json.RawMessage `json:"info"`
	}
	if err := jsonutil.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Info) > 0 && string(wrapped.Info) != "null" {
		return jsonutil.Unmarshal(wrapped.Info, out)
	}
	return jsonutil.Unmarshal(raw, out)
}
