package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"imagin3d/internal/keyframe"
	"imagin3d/internal/logging"
	"imagin3d/internal/media"
)

type selectOptions struct {
	count    int
	outDir   string
	ffmpeg   string
	logLevel string
}

// extractFunc is replaced in tests.
var extractFunc = func(ctx context.Context, ex media.KeyFrameExtractor, path string) (media.KeyFrames, error) {
	return ex.ExtractFile(ctx, path)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "keyframes",
		Short:         "Inspect the key frames the moodboard pipeline picks from a video",
		SilenceUsage:  true,
	}
	root.AddCommand(newSelectCmd())
	return root
}

func newSelectCmd() *cobra.Command {
	opts := selectOptions{}
	cmd := &cobra.Command{
		Use:   "select <video>",
		Short: "Select diverse key frames and write them as JPEG files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelect(cmd, args[0], opts)
		},
	}
	cmd.Flags().IntVarP(&opts.count, "count", "n", media.DefaultKeyFrameCount, "number of frames to select")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "directory for frame_<i>.jpg files; empty prints indices only")
	cmd.Flags().StringVar(&opts.ffmpeg, "ffmpeg", "ffmpeg", "ffmpeg executable")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "debug, info, warn or error")
	return cmd
}

func runSelect(cmd *cobra.Command, videoPath string, opts selectOptions) error {
	if opts.count <= 0 {
		return errors.New("--count must be positive")
	}
	if _, err := os.Stat(videoPath); err != nil {
		return fmt.Errorf("video: %w", err)
	}
	logging.Init(logging.ParseLevel(opts.logLevel), "text", cmd.ErrOrStderr())

	ex := media.KeyFrameExtractor{
		FFmpeg:   media.FFmpeg{Path: opts.ffmpeg},
		Selector: keyframe.Selector{Logger: logging.New("keyframe")},
		Count:    opts.count,
		Logger:   logging.New("media"),
	}
	frames, err := extractFunc(cmd.Context(), ex, videoPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	idx := make([]string, len(frames.Indices))
	for i, v := range frames.Indices {
		idx[i] = fmt.Sprint(v)
	}
	fmt.Fprintf(out, "selected %d frame(s): [%s]\n", len(frames.Indices), strings.Join(idx, ", "))

	if opts.outDir == "" {
		return nil
	}
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return err
	}
	for i, img := range frames.Images {
		p := filepath.Join(opts.outDir, fmt.Sprintf("frame_%d.jpg", i))
		if err := os.WriteFile(p, img.Data, 0o644); err != nil {
			return err
		}
		fmt.Fprintln(out, p)
	}
	return nil
}
