package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// FFmpeg decodes videos through an ffmpeg subprocess that writes PNG frames
// to its stdout.
type FFmpeg struct {
	Path string
}

func (f FFmpeg) exe() string {
	if p := strings.TrimSpace(f.Path); p != "" {
		return p
	}
	return "ffmpeg"
}

// Available reports whether the ffmpeg binary can be found.
func (f FFmpeg) Available() error {
	if _, err := exec.LookPath(f.exe()); err != nil {
		return fmt.Errorf("media: ffmpeg not found: %w", err)
	}
	return nil
}

func frameArgs(videoPath string, filter string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-i", videoPath}
	if filter != "" {
		args = append(args, "-vf", filter)
	}
	return append(args, "-fps_mode", "passthrough", "-f", "image2pipe", "-vcodec", "png", "-")
}

// Frames starts decoding every frame of the video. The caller must Close
// the returned stream.
func (f FFmpeg) Frames(ctx context.Context, videoPath string) (*FrameStream, error) {
	return f.start(ctx, frameArgs(videoPath, ""))
}

// ExtractFrames decodes only the frames at the given indices, in ascending
// index order.
func (f FFmpeg) ExtractFrames(ctx context.Context, videoPath string, indices []int) ([]image.Image, error) {
	if len(indices) == 0 {
		return nil, nil
	}
	terms := make([]string, len(indices))
	for i, idx := range indices {
		terms[i] = "eq(n\\," + strconv.Itoa(idx) + ")"
	}
	stream, err := f.start(ctx, frameArgs(videoPath, "select="+strings.Join(terms, "+")))
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var out []image.Image
	for {
		img, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	if err := stream.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (f FFmpeg) start(ctx context.Context, args []string) (*FrameStream, error) {
	cmd := exec.CommandContext(ctx, f.exe(), args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("media: ffmpeg stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("media: start ffmpeg: %w", err)
	}
	s := NewFrameStream(stdout)
	s.wait = func() error {
		if err := cmd.Wait(); err != nil {
			return fmt.Errorf("media: ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil
	}
	return s, nil
}

// FrameStream reads concatenated PNG images from a reader.
type FrameStream struct {
	r    *bufio.Reader
	wait func() error

	closeOnce sync.Once
	closeErr  error
	src       io.Reader
}

func NewFrameStream(r io.Reader) *FrameStream {
	return &FrameStream{r: bufio.NewReaderSize(r, 1<<16), src: r}
}

// Next decodes the next frame or returns io.EOF at the end of the stream.
func (s *FrameStream) Next() (image.Image, error) {
	if _, err := s.r.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("media: read frame: %w", err)
	}
	img, err := png.Decode(s.r)
	if err != nil {
		return nil, fmt.Errorf("media: decode frame: %w", err)
	}
	return img, nil
}

// Close drains the stream and waits for the producing process, if any.
func (s *FrameStream) Close() error {
	s.closeOnce.Do(func() {
		_, _ = io.Copy(io.Discard, s.r)
		if s.wait != nil {
			s.closeErr = s.wait()
		}
	})
	return s.closeErr
}
