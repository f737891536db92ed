package keyframe

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"sort"
)

// SelectDiverse runs greedy farthest-point sampling over the feature
// vectors and returns the chosen positions in ascending order.
//
// The first vector is always chosen. Each further pick maximizes the
// distance to its nearest already-chosen vector; ties go to the lowest
// position. Selection stops early once every remaining vector duplicates
// a chosen one.
func SelectDiverse(features [][]float64, count int) []int {
	n := len(features)
	if n == 0 || count <= 0 {
		return nil
	}
	if count > n {
		count = n
	}

	chosen := make([]bool, n)
	minDist := make([]float64, n)
	for i := range minDist {
		minDist[i] = math.Inf(1)
	}

	selected := make([]int, 0, count)
	next := 0
	for {
		selected = append(selected, next)
		chosen[next] = true
		if len(selected) == count {
			break
		}

		best, bestDist := -1, -1.0
		for i := 0; i < n; i++ {
			if chosen[i] {
				continue
			}
			if d := Distance(features[i], features[next]); d < minDist[i] {
				minDist[i] = d
			}
			if minDist[i] > bestDist {
				best, bestDist = i, minDist[i]
			}
		}
		if best < 0 || bestDist <= 0 {
			break
		}
		next = best
	}

	sort.Ints(selected)
	return selected
}

// FrameSource yields decoded frames in temporal order. Next returns io.EOF
// once the stream is exhausted.
type FrameSource interface {
	Next() (image.Image, error)
}

// Selector picks visually diverse frames from a FrameSource.
type Selector struct {
	Logger *slog.Logger
}

// Select reads every frame, drops near-solid ones and returns the original
// indices of at most count diverse frames in temporal order.
func (s Selector) Select(ctx context.Context, src FrameSource, count int) ([]int, error) {
	if src == nil {
		return nil, fmt.Errorf("keyframe: frame source is nil")
	}
	var (
		features [][]float64
		indices  []int
		total    int
	)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("keyframe: read frame %d: %w", idx, err)
		}
		total++
		if IsNearSolid(frame) {
			continue
		}
		features = append(features, Features(frame))
		indices = append(indices, idx)
	}

	picked := SelectDiverse(features, count)
	out := make([]int, len(picked))
	for i, p := range picked {
		out[i] = indices[p]
	}
	if s.Logger != nil {
		s.Logger.Debug("key frames selected", "frames", total, "candidates", len(indices), "selected", out)
	}
	return out, nil
}
