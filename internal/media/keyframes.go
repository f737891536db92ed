package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"

	"imagin3d/internal/keyframe"
	"imagin3d/internal/types"
)

const DefaultKeyFrameCount = 5

// KeyFrameExtractor turns a video data URL into its most diverse frames,
// encoded as JPEG.
type KeyFrameExtractor struct {
	FFmpeg   FFmpeg
	Selector keyframe.Selector
	Count    int
	TempDir  string
	Logger   *slog.Logger
}

// KeyFrames is the outcome of one extraction.
type KeyFrames struct {
	Indices []int
	Images  []types.Image
}

func (k KeyFrameExtractor) Extract(ctx context.Context, dataURL string) (KeyFrames, error) {
	data, mime, err := DecodeDataURL(dataURL)
	if err != nil {
		return KeyFrames{}, err
	}
	tmp, err := os.CreateTemp(k.TempDir, "imagin3d-video-*"+ExtFor(mime, ".mp4"))
	if err != nil {
		return KeyFrames{}, fmt.Errorf("media: temp video: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return KeyFrames{}, fmt.Errorf("media: write temp video: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return KeyFrames{}, fmt.Errorf("media: close temp video: %w", err)
	}
	return k.ExtractFile(ctx, path)
}

// ExtractFile runs selection over a local video file.
func (k KeyFrameExtractor) ExtractFile(ctx context.Context, path string) (KeyFrames, error) {
	count := k.Count
	if count <= 0 {
		count = DefaultKeyFrameCount
	}

	stream, err := k.FFmpeg.Frames(ctx, path)
	if err != nil {
		return KeyFrames{}, err
	}
	indices, err := k.Selector.Select(ctx, stream, count)
	if cerr := stream.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return KeyFrames{}, err
	}
	if len(indices) == 0 {
		return KeyFrames{}, nil
	}

	frames, err := k.FFmpeg.ExtractFrames(ctx, path, indices)
	if err != nil {
		return KeyFrames{}, err
	}
	if len(frames) != len(indices) && k.Logger != nil {
		k.Logger.Warn("key frame count mismatch", "selected", len(indices), "decoded", len(frames))
	}
	images := make([]types.Image, 0, len(frames))
	for _, f := range frames {
		img, err := EncodeJPEG(f)
		if err != nil {
			return KeyFrames{}, err
		}
		images = append(images, img)
	}
	return KeyFrames{Indices: indices, Images: images}, nil
}

// EncodeJPEG encodes img at quality 90.
func EncodeJPEG(img image.Image) (types.Image, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return types.Image{}, fmt.Errorf("media: encode jpeg: %w", err)
	}
	return types.Image{MIMEType: "image/jpeg", Data: buf.Bytes()}, nil
}
