package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// StageExecutor fans the items of one stage out to goroutines.
type StageExecutor struct {
	Bus *ProgressBus
	// Limit caps concurrent items; 0 starts them all at once.
	Limit int
}

// RunStage applies fn to every item concurrently and returns the results
// in input order. Each item emits one tick labeled stage once fn succeeds.
// The first failure fails the stage; items already running are not
// cancelled and finish on their own.
func RunStage[In, Out any](ctx context.Context, ex StageExecutor, stage string, items []In, fn func(ctx context.Context, item In) (Out, error)) ([]Out, error) {
	out := make([]Out, len(items))
	var g errgroup.Group
	if ex.Limit > 0 {
		g.SetLimit(ex.Limit)
	}
	for i, item := range items {
		g.Go(func() error {
			v, err := fn(ctx, item)
			if err != nil {
				return err
			}
			out[i] = v
			if ex.Bus != nil {
				ex.Bus.Emit(stage)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
