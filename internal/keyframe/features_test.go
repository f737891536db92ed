package keyframe

import (
	"image"
	"image/color"
	"testing"
)

// generic hides the concrete image type so GrayStdDev takes the At path.
type generic struct{ image.Image }

func patterned(set func(x, y int, r, g, b uint8)) {
	for y := 0; y < 24; y++ {
		for x := 0; x < 40; x++ {
			set(x, y, uint8(x*37+y*11), uint8(x*5+y*53), uint8(x*x+y*7))
		}
	}
}

func TestGrayStdDev_FastPathsMatchGeneric(t *testing.T) {
	rect := image.Rect(0, 0, 40, 24)

	rgba := image.NewRGBA(rect)
	nrgba := image.NewNRGBA(rect)
	gray := image.NewGray(rect)
	patterned(func(x, y int, r, g, b uint8) {
		rgba.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		nrgba.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		gray.SetGray(x, y, color.Gray{Y: r})
	})
	ycc := image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)
	for y := 0; y < 24; y++ {
		for x := 0; x < 40; x++ {
			ycc.Y[ycc.YOffset(x, y)] = uint8(x*9 + y*3)
		}
	}
	for i := range ycc.Cb {
		ycc.Cb[i] = uint8(i * 13)
		ycc.Cr[i] = uint8(255 - i*7)
	}

	cases := map[string]image.Image{
		"rgba":      rgba,
		"nrgba":     nrgba,
		"gray":      gray,
		"ycbcr":     ycc,
		"rgba-crop": rgba.SubImage(image.Rect(7, 3, 31, 19)),
		"ycc-crop":  ycc.SubImage(image.Rect(5, 2, 33, 21)),
	}
	for name, img := range cases {
		fast, slow := GrayStdDev(img), GrayStdDev(generic{img})
		if fast != slow {
			t.Fatalf("%s: fast path %v != generic %v", name, fast, slow)
		}
		if fast == 0 {
			t.Fatalf("%s: expected a non-flat pattern", name)
		}
	}
}

func TestGrayStdDev_RoundsLumaToByte(t *testing.T) {
	// Pure red rounds to luma 76 (unrounded 76.245), so half red and half
	// black has a deviation of exactly 38.
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	img.SetRGBA(1, 0, color.RGBA{A: 255})

	if got := GrayStdDev(img); got != 38 {
		t.Fatalf("std dev = %v, want 38", got)
	}
	if got := GrayStdDev(generic{img}); got != 38 {
		t.Fatalf("generic std dev = %v, want 38", got)
	}
}

func TestLuma8(t *testing.T) {
	cases := []struct {
		r, g, b uint8
		want    uint8
	}{
		{0, 0, 0, 0},
		{255, 255, 255, 255},
		{1, 0, 0, 0},
		{255, 0, 0, 76},
		{0, 255, 0, 150},
		{0, 0, 255, 29},
		{128, 128, 128, 128},
	}
	for _, tc := range cases {
		if got := luma8(tc.r, tc.g, tc.b); got != tc.want {
			t.Fatalf("luma8(%d,%d,%d) = %d, want %d", tc.r, tc.g, tc.b, got, tc.want)
		}
	}
}
