package keyframe

import (
	"context"
	"image"
	"image/color"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSelectDiverse_IdenticalFramesStopEarly(t *testing.T) {
	same := []float64{1, 2, 3}
	features := [][]float64{same, same, same, same, same, same}

	got := SelectDiverse(features, 5)
	if diff := cmp.Diff([]int{0}, got); diff != "" {
		t.Fatalf("selection mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectDiverse_FarthestFirstWithLowestIndexTies(t *testing.T) {
	features := [][]float64{{0}, {1}, {10}, {11}}

	if diff := cmp.Diff([]int{0, 3}, SelectDiverse(features, 2)); diff != "" {
		t.Fatalf("count=2 mismatch (-want +got):\n%s", diff)
	}
	// After {0, 11} both 1 and 10 sit at distance 1; the lower index wins.
	if diff := cmp.Diff([]int{0, 1, 3}, SelectDiverse(features, 3)); diff != "" {
		t.Fatalf("count=3 mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectDiverse_OutputIsTemporal(t *testing.T) {
	features := [][]float64{{0}, {100}, {40}, {70}, {5}}
	got := SelectDiverse(features, 4)
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("selection not ascending: %v", got)
		}
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 frames, got %v", got)
	}
}

func TestSelectDiverse_EmptyAndOversizedCount(t *testing.T) {
	if got := SelectDiverse(nil, 3); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
	if got := SelectDiverse([][]float64{{1}}, 0); got != nil {
		t.Fatalf("expected nil for zero count, got %v", got)
	}
	got := SelectDiverse([][]float64{{1}, {2}}, 10)
	if diff := cmp.Diff([]int{0, 1}, got); diff != "" {
		t.Fatalf("selection mismatch (-want +got):\n%s", diff)
	}
}

type sliceSource struct {
	frames []image.Image
	pos    int
}

func (s *sliceSource) Next() (image.Image, error) {
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func solid(c color.Gray) image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = c.Y
	}
	return img
}

func stripes(vertical bool) image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			k := x
			if !vertical {
				k = y
			}
			if (k/8)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func TestSelector_SkipsSolidFramesAndKeepsOriginalIndices(t *testing.T) {
	src := &sliceSource{frames: []image.Image{
		solid(color.Gray{Y: 20}),
		stripes(true),
		stripes(true),
		stripes(false),
		solid(color.Gray{Y: 200}),
	}}

	got, err := Selector{}.Select(context.Background(), src, 5)
	if err != nil {
		t.Fatalf("Select error: %v", err)
	}
	if diff := cmp.Diff([]int{1, 3}, got); diff != "" {
		t.Fatalf("selection mismatch (-want +got):\n%s", diff)
	}
}

func TestSelector_AllSolidYieldsNothing(t *testing.T) {
	src := &sliceSource{frames: []image.Image{solid(color.Gray{Y: 0}), solid(color.Gray{Y: 255})}}
	got, err := Selector{}.Select(context.Background(), src, 3)
	if err != nil {
		t.Fatalf("Select error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no frames, got %v", got)
	}
}

func TestFeatures_LengthAndSolidDetection(t *testing.T) {
	f := Features(stripes(true))
	if len(f) != FeatureLen {
		t.Fatalf("feature length = %d, want %d", len(f), FeatureLen)
	}
	if !IsNearSolid(solid(color.Gray{Y: 128})) {
		t.Fatalf("expected flat frame to be near-solid")
	}
	if IsNearSolid(stripes(false)) {
		t.Fatalf("expected striped frame to carry information")
	}
	if d := Distance(Features(stripes(true)), Features(stripes(false))); d <= 0 {
		t.Fatalf("expected distinct patterns to differ, distance=%v", d)
	}
}
