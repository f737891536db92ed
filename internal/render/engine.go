// Package render produces preview images of 3D models with an external
// engine.
package render

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"imagin3d/internal/types"
)

// Engine renders a fixed number of camera views of a model file.
type Engine interface {
	Name() string
	RenderViews(ctx context.Context, modelPath, outDir string) ([]types.Image, error)
}

// EngineConfig is the engine block of the render configuration file.
type EngineConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Exe         string `yaml:"exe"`
	ResolutionX int    `yaml:"resolution_x"`
	ResolutionY int    `yaml:"resolution_y"`
	NumViews    int    `yaml:"num_views"`
	TimeoutS    int    `yaml:"timeout_s"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Name:        "blender",
		Version:     "4.2",
		Exe:         "blender",
		ResolutionX: 1024,
		ResolutionY: 1024,
		NumViews:    4,
		TimeoutS:    300,
	}
}

// WithDefaults fills zero fields from DefaultEngineConfig.
func (c EngineConfig) WithDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if strings.TrimSpace(c.Name) == "" {
		c.Name = d.Name
	}
	if strings.TrimSpace(c.Version) == "" {
		c.Version = d.Version
	}
	if strings.TrimSpace(c.Exe) == "" {
		c.Exe = d.Exe
	}
	if c.ResolutionX <= 0 {
		c.ResolutionX = d.ResolutionX
	}
	if c.ResolutionY <= 0 {
		c.ResolutionY = d.ResolutionY
	}
	if c.NumViews <= 0 {
		c.NumViews = d.NumViews
	}
	if c.TimeoutS <= 0 {
		c.TimeoutS = d.TimeoutS
	}
	return c
}

type configFile struct {
	Engine EngineConfig `yaml:"engine"`
}

// LoadEngineConfig reads the engine block from a YAML file. An empty path
// yields the defaults.
func LoadEngineConfig(path string) (EngineConfig, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultEngineConfig(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("render: read engine config: %w", err)
	}
	return ParseEngineConfig(b)
}

func ParseEngineConfig(b []byte) (EngineConfig, error) {
	var f configFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return EngineConfig{}, fmt.Errorf("render: parse engine config: %w", err)
	}
	return f.Engine.WithDefaults(), nil
}

// New builds the engine named by cfg.
func New(cfg EngineConfig) (Engine, error) {
	cfg = cfg.WithDefaults()
	switch strings.ToLower(cfg.Name) {
	case "blender":
		return NewBlender(cfg)
	default:
		return nil, fmt.Errorf("render: unsupported engine %q", cfg.Name)
	}
}

// Unavailable is an Engine that fails every render with Reason.
type Unavailable struct {
	Reason error
}

func (u Unavailable) Name() string { return "unavailable" }

func (u Unavailable) RenderViews(context.Context, string, string) ([]types.Image, error) {
	return nil, fmt.Errorf("render: engine unavailable: %w", u.Reason)
}
