package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Moodboard payload ----------------------------------------------------------------

type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Max returns the larger of the two components.
func (v Vec2) Max() float64 {
	if v.X > v.Y {
		return v.X
	}
	return v.Y
}

type ContentType string

const (
	ContentModel   ContentType = "model"
	ContentVideo   ContentType = "video"
	ContentPalette ContentType = "palette"
	ContentImage   ContentType = "image"
	ContentText    ContentType = "text"
	ContentFont    ContentType = "font"
)

// Content is the tagged union carried by an element. Data keeps the raw
// object as sent by the client so checkpoints round-trip unknown fields.
type Content struct {
	Type ContentType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

type ModelData struct {
	Src      string `json:"src"`
	FileName string `json:"fileName"`
}

type VideoData struct {
	Src string `json:"src"`
}

type PaletteData struct {
	Colors []string `json:"colors"`
}

type ImageData struct {
	Src string `json:"src"`
}

type TextData struct {
	Text string `json:"text"`
}

type FontData struct {
	FontFamily string `json:"fontFamily"`
}

// Kind is the normalized variant tag.
func (c Content) Kind() ContentType {
	return ContentType(strings.ToLower(strings.TrimSpace(string(c.Type))))
}

// Decode unmarshals Data into the variant struct matching Type.
func (c Content) Decode() (any, error) {
	var out any
	switch c.Kind() {
	case ContentModel:
		out = &ModelData{}
	case ContentVideo:
		out = &VideoData{}
	case ContentPalette:
		out = &PaletteData{}
	case ContentImage:
		out = &ImageData{}
	case ContentText:
		out = &TextData{}
	case ContentFont:
		out = &FontData{}
	default:
		return nil, fmt.Errorf("unsupported content type %q", c.Type)
	}
	if len(c.Data) == 0 || string(c.Data) == "null" {
		return nil, fmt.Errorf("content %s: data is empty", c.Type)
	}
	if err := json.Unmarshal(c.Data, out); err != nil {
		return nil, fmt.Errorf("content %s: %w", c.Type, err)
	}
	return out, nil
}

type Element struct {
	ID       int     `json:"id"`
	Content  Content `json:"content"`
	Position Vec2    `json:"position"`
	Size     Vec2    `json:"size"`
}

type Cluster struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	Elements []int  `json:"elements"`
}

// Moodboard is the body of an extraction request.
type Moodboard struct {
	Elements []Element `json:"elements"`
	Clusters []Cluster `json:"clusters"`
	Prompt   string    `json:"prompt"`
}

// Derived records ------------------------------------------------------------------

type DesignToken struct {
	ID          int         `json:"id"`
	Type        ContentType `json:"type"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Embedding   []float32   `json:"embedding"`
	Size        Vec2        `json:"size"`
	Position    Vec2        `json:"position"`
	Weight      int         `json:"weight"`
	Reasoning   string      `json:"reasoning,omitempty"`
}

// ClusterDescriptor shares token pointers with the run, so weights written
// on a token are visible through every cluster that contains it.
type ClusterDescriptor struct {
	ID          int            `json:"id"`
	Title       string         `json:"title,omitempty"`
	Purpose     string         `json:"purpose,omitempty"`
	Description string         `json:"description,omitempty"`
	Elements    []*DesignToken `json:"elements"`
	Weight      int            `json:"weight"`
	Reasoning   string         `json:"reasoning,omitempty"`
}

type WeightInfo struct {
	Weight    int    `json:"weight"`
	Reasoning string `json:"reasoning"`
}

// Agent outputs --------------------------------------------------------------------

type TokenInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type ClusterInfo struct {
	Title       string `json:"title"`
	Purpose     string `json:"purpose"`
	Description string `json:"description"`
}

type RouteInfo struct {
	Weight    int    `json:"weight"`
	Reasoning string `json:"reasoning"`
}

// Clamp bounds the weight to 0..100.
func (r RouteInfo) Clamp() RouteInfo {
	if r.Weight < 0 {
		r.Weight = 0
	}
	if r.Weight > 100 {
		r.Weight = 100
	}
	return r
}

type MasterPrompt struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

// Image is an encoded picture handed to a multimodal agent.
type Image struct {
	MIMEType string
	Data     []byte
}

// Synthesis input ------------------------------------------------------------------

type SynthesisToken struct {
	ID          int         `json:"id"`
	Type        ContentType `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Weight      int         `json:"weight"`
}

type SynthesisCluster struct {
	ID          int              `json:"id"`
	Title       string           `json:"title"`
	Purpose     string           `json:"purpose,omitempty"`
	Description string           `json:"description"`
	Weight      int              `json:"weight"`
	Elements    []SynthesisToken `json:"elements"`
}
