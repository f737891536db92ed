package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"imagin3d/internal/checkpoint"
	"imagin3d/internal/embedding"
	"imagin3d/internal/media"
	"imagin3d/internal/render"
	"imagin3d/internal/types"
)

var ErrUnsupportedContent = errors.New("unsupported content type")

// Describer writes a title and description for element content.
type Describer interface {
	DescribeText(ctx context.Context, kind types.ContentType, text string) (types.TokenInfo, error)
	DescribeImages(ctx context.Context, kind types.ContentType, images []types.Image) (types.TokenInfo, error)
}

// KeyFrameSource extracts representative frames from a video data URL.
type KeyFrameSource interface {
	Extract(ctx context.Context, dataURL string) (media.KeyFrames, error)
}

// AssetSink stores binary side products of enrichment.
type AssetSink interface {
	SaveAsset(ctx context.Context, path string, data []byte) (string, error)
}

// ContentHandler describes one content variant.
type ContentHandler interface {
	Describe(ctx context.Context, el types.Element, sink AssetSink) (types.TokenInfo, error)
}

type HandlerFunc func(ctx context.Context, el types.Element, sink AssetSink) (types.TokenInfo, error)

func (f HandlerFunc) Describe(ctx context.Context, el types.Element, sink AssetSink) (types.TokenInfo, error) {
	return f(ctx, el, sink)
}

type HandlerDeps struct {
	Describer Describer
	Renderer  render.Engine
	KeyFrames KeyFrameSource
	// WorkDir holds the scratch files of model renders; "" uses the OS temp dir.
	WorkDir string
	Logger  *slog.Logger
}

// DefaultHandlers returns one handler per content variant.
func DefaultHandlers(d HandlerDeps) map[types.ContentType]ContentHandler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return map[types.ContentType]ContentHandler{
		types.ContentModel:   modelHandler{d},
		types.ContentVideo:   videoHandler{d},
		types.ContentPalette: HandlerFunc(describePalette),
		types.ContentImage:   imageHandler{d},
		types.ContentText:    textHandler{d},
		types.ContentFont:    fontHandler{d},
	}
}

func decodeAs[T any](el types.Element) (*T, error) {
	v, err := el.Content.Decode()
	if err != nil {
		return nil, err
	}
	out, ok := v.(*T)
	if !ok {
		return nil, fmt.Errorf("element %d: unexpected content %T", el.ID, v)
	}
	return out, nil
}

// describePalette needs no agent. A palette without data yields an empty
// description.
func describePalette(_ context.Context, el types.Element, _ AssetSink) (types.TokenInfo, error) {
	if len(el.Content.Data) == 0 || string(el.Content.Data) == "null" {
		return types.TokenInfo{Title: "Colors"}, nil
	}
	p, err := decodeAs[types.PaletteData](el)
	if err != nil {
		return types.TokenInfo{}, err
	}
	return types.TokenInfo{Title: "Colors", Description: strings.Join(p.Colors, ", ")}, nil
}

type textHandler struct{ HandlerDeps }

func (h textHandler) Describe(ctx context.Context, el types.Element, _ AssetSink) (types.TokenInfo, error) {
	t, err := decodeAs[types.TextData](el)
	if err != nil {
		return types.TokenInfo{}, err
	}
	return h.Describer.DescribeText(ctx, types.ContentText, t.Text)
}

type fontHandler struct{ HandlerDeps }

func (h fontHandler) Describe(ctx context.Context, el types.Element, _ AssetSink) (types.TokenInfo, error) {
	f, err := decodeAs[types.FontData](el)
	if err != nil {
		return types.TokenInfo{}, err
	}
	family := strings.TrimSpace(f.FontFamily)
	if family == "" {
		return types.TokenInfo{}, fmt.Errorf("element %d: font family is empty", el.ID)
	}
	return h.Describer.DescribeText(ctx, types.ContentFont, "Font family: "+family)
}

type imageHandler struct{ HandlerDeps }

func (h imageHandler) Describe(ctx context.Context, el types.Element, _ AssetSink) (types.TokenInfo, error) {
	img, err := decodeAs[types.ImageData](el)
	if err != nil {
		return types.TokenInfo{}, err
	}
	data, mime, err := media.DecodeDataURL(img.Src)
	if err != nil {
		return types.TokenInfo{}, fmt.Errorf("element %d: %w", el.ID, err)
	}
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return h.Describer.DescribeImages(ctx, types.ContentImage, []types.Image{{MIMEType: mime, Data: data}})
}

type videoHandler struct{ HandlerDeps }

func (h videoHandler) Describe(ctx context.Context, el types.Element, sink AssetSink) (types.TokenInfo, error) {
	v, err := decodeAs[types.VideoData](el)
	if err != nil {
		return types.TokenInfo{}, err
	}
	if h.KeyFrames == nil {
		return types.TokenInfo{}, fmt.Errorf("element %d: video decoding is not configured", el.ID)
	}
	h.Logger.Info("extracting key frames from video", "element_id", el.ID)
	frames, err := h.KeyFrames.Extract(ctx, v.Src)
	if err != nil {
		return types.TokenInfo{}, fmt.Errorf("element %d: %w", el.ID, err)
	}
	for i, img := range frames.Images {
		if _, err := sink.SaveAsset(ctx, checkpoint.VideoFramePath(el.ID, i), img.Data); err != nil {
			return types.TokenInfo{}, err
		}
	}
	return h.Describer.DescribeImages(ctx, types.ContentVideo, frames.Images)
}

type modelHandler struct{ HandlerDeps }

func (h modelHandler) Describe(ctx context.Context, el types.Element, sink AssetSink) (types.TokenInfo, error) {
	m, err := decodeAs[types.ModelData](el)
	if err != nil {
		return types.TokenInfo{}, err
	}
	if h.Renderer == nil {
		return types.TokenInfo{}, fmt.Errorf("element %d: model rendering is not configured", el.ID)
	}
	data, mime, err := media.DecodeDataURL(m.Src)
	if err != nil {
		return types.TokenInfo{}, fmt.Errorf("element %d: %w", el.ID, err)
	}
	fileName := filepath.Base(filepath.FromSlash(strings.TrimSpace(m.FileName)))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		fileName = fmt.Sprintf("model-%d%s", el.ID, media.ExtFor(mime, ".glb"))
	}
	if _, err := sink.SaveAsset(ctx, checkpoint.ModelPath(fileName), data); err != nil {
		return types.TokenInfo{}, err
	}

	scratch, err := os.MkdirTemp(h.WorkDir, fmt.Sprintf("imagin3d-model-%d-*", el.ID))
	if err != nil {
		return types.TokenInfo{}, fmt.Errorf("element %d: scratch dir: %w", el.ID, err)
	}
	defer os.RemoveAll(scratch)
	modelPath := filepath.Join(scratch, fileName)
	if err := os.WriteFile(modelPath, data, 0o644); err != nil {
		return types.TokenInfo{}, fmt.Errorf("element %d: write model: %w", el.ID, err)
	}

	h.Logger.Info("making renders from model", "element_id", el.ID, "engine", h.Renderer.Name())
	views, err := h.Renderer.RenderViews(ctx, modelPath, filepath.Join(scratch, "renders"))
	if err != nil {
		return types.TokenInfo{}, fmt.Errorf("element %d: %w", el.ID, err)
	}
	for i, img := range views {
		if _, err := sink.SaveAsset(ctx, checkpoint.ModelRenderPath(el.ID, i), img.Data); err != nil {
			return types.TokenInfo{}, err
		}
	}
	return h.Describer.DescribeImages(ctx, types.ContentModel, views)
}

// Enricher turns elements into design tokens.
type Enricher struct {
	Handlers map[types.ContentType]ContentHandler
	Embedder embedding.Embedder
}

func (e Enricher) Enrich(ctx context.Context, el types.Element, sink AssetSink) (*types.DesignToken, error) {
	kind := el.Content.Kind()
	h, ok := e.Handlers[kind]
	if !ok {
		return nil, fmt.Errorf("element %d: %w %q", el.ID, ErrUnsupportedContent, el.Content.Type)
	}
	info, err := h.Describe(ctx, el, sink)
	if err != nil {
		return nil, err
	}
	var vec []float32
	if e.Embedder != nil {
		vec, err = e.Embedder.Embed(ctx, info.Title)
		if err != nil {
			return nil, fmt.Errorf("element %d: embed title: %w", el.ID, err)
		}
	}
	if vec == nil {
		vec = []float32{}
	}
	return &types.DesignToken{
		ID:          el.ID,
		Type:        kind,
		Title:       info.Title,
		Description: info.Description,
		Embedding:   vec,
		Size:        el.Size,
		Position:    el.Position,
	}, nil
}
