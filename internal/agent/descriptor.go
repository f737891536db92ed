package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"imagin3d/internal/llm"
	"imagin3d/internal/llmtool"
	"imagin3d/internal/types"
)

var descriptorPrompt = llmtool.ApplyPresets(llmtool.PromptSpec{
	Role:    "You are a visual design analyst for a 3D concept pipeline.",
	Purpose: "Name and describe ONE moodboard element so it can be used as a design token.",
	Background: `The element is one of: a 3D model (shown as rendered views), a video (shown as key frames),
an image, a block of text, or a typeface. The input gives its "type" and, for text, the "text".
Images, when present, are attached to this message.`,
	OutputFields: []llmtool.PromptField{
		{Name: "title", Type: "string", Required: true, Description: "2 to 5 words naming the element's visual idea."},
		{Name: "description", Type: "string", Required: true, Description: "1 to 3 sentences on style, material, color and mood."},
	},
	Rules: []string{
		"For several images of one element, describe the element they jointly show.",
		"For text, describe the design intent the text expresses.",
	},
	OutputFormat: `{"title": "...", "description": "..."}`,
}, llmtool.PresetStrictJSON(), llmtool.PresetDesignVocabulary()).MustRender()

// Descriptor turns raw element content into a title and description.
type Descriptor struct {
	*base
}

func NewDescriptor(client llm.LLMClient, logger *slog.Logger) *Descriptor {
	return &Descriptor{base: newBase(llm.PhaseDescriptor, descriptorPrompt, client, logger)}
}

// DescribeText describes textual content such as a note or a font family.
func (d *Descriptor) DescribeText(ctx context.Context, kind types.ContentType, text string) (types.TokenInfo, error) {
	var out types.TokenInfo
	err := d.ask(ctx, map[string]any{"type": kind, "text": text}, &out)
	return out, err
}

// DescribeImages describes visual content from one or more pictures.
func (d *Descriptor) DescribeImages(ctx context.Context, kind types.ContentType, images []types.Image) (types.TokenInfo, error) {
	if len(images) == 0 {
		return types.TokenInfo{}, fmt.Errorf("%s: no images to describe", d.phase)
	}
	var out types.TokenInfo
	err := d.ask(ctx, map[string]any{"type": kind}, &out, images...)
	out.Title = strings.TrimSpace(out.Title)
	return out, err
}
