package keyframe

import (
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
)

const (
	// FeatureSide is the edge length frames are downsampled to before conversion.
	FeatureSide = 32
	// FeatureLen is the length of every feature vector.
	FeatureLen = FeatureSide * FeatureSide * 3

	// SolidStdThreshold is the grayscale standard deviation under which a frame
	// counts as near-solid.
	SolidStdThreshold = 50.0
)

// Features maps a frame to its perceptual vector: the frame is scaled to
// 32x32 and each pixel contributes its L*a*b* triple, row-major.
func Features(img image.Image) []float64 {
	small := image.NewRGBA(image.Rect(0, 0, FeatureSide, FeatureSide))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	out := make([]float64, 0, FeatureLen)
	for y := 0; y < FeatureSide; y++ {
		for x := 0; x < FeatureSide; x++ {
			off := small.PixOffset(x, y)
			c := colorful.Color{
				R: float64(small.Pix[off]) / 255,
				G: float64(small.Pix[off+1]) / 255,
				B: float64(small.Pix[off+2]) / 255,
			}
			l, a, b := c.Lab()
			out = append(out, l, a, b)
		}
	}
	return out
}

// GrayStdDev is the standard deviation of the 8-bit luma of every pixel.
// Luma is rounded to uint8 the way OpenCV's BGR2GRAY does it.
func GrayStdDev(img image.Image) float64 {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}
	var sum, sumSq uint64
	add := func(v uint8) {
		sum += uint64(v)
		sumSq += uint64(v) * uint64(v)
	}

	switch src := img.(type) {
	case *image.RGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)]
			for i := 0; i+2 < len(row); i += 4 {
				add(luma8(row[i], row[i+1], row[i+2]))
			}
		}
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)]
			for i := 0; i+2 < len(row); i += 4 {
				add(luma8(row[i], row[i+1], row[i+2]))
			}
		}
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for _, v := range src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)] {
				add(v)
			}
		}
	case *image.YCbCr:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				yi, ci := src.YOffset(x, y), src.COffset(x, y)
				r, g, bl := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				add(luma8(r, g, bl))
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := img.At(x, y).RGBA()
				add(luma8(uint8(r>>8), uint8(g>>8), uint8(bl>>8)))
			}
		}
	}

	mean := float64(sum) / float64(n)
	variance := float64(sumSq)/float64(n) - mean*mean
	if variance < 0 {
		return 0
	}
	return math.Sqrt(variance)
}

// luma8 is ITU-R 601 luma in 14-bit fixed point, rounded to nearest.
func luma8(r, g, b uint8) uint8 {
	return uint8((uint32(r)*4899 + uint32(g)*9617 + uint32(b)*1868 + 1<<13) >> 14)
}

// IsNearSolid reports frames that carry almost no visual information.
func IsNearSolid(img image.Image) bool {
	return GrayStdDev(img) < SolidStdThreshold
}

// Distance is the Euclidean distance between two feature vectors.
func Distance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
