package render

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"imagin3d/internal/types"
)

//go:embed templates/render_glb.py.tmpl
var renderScriptSource string

var renderScript = template.Must(template.New("render_glb").Parse(renderScriptSource))

// runBlender is injectable in tests.
var runBlender = func(ctx context.Context, exe string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, exe, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

type Blender struct {
	cfg EngineConfig
	exe string
}

// NewBlender resolves the Blender executable from cfg.Exe.
func NewBlender(cfg EngineConfig) (*Blender, error) {
	cfg = cfg.WithDefaults()
	exe, err := exec.LookPath(cfg.Exe)
	if err != nil {
		return nil, fmt.Errorf("render: blender executable %q not found: %w", cfg.Exe, err)
	}
	return &Blender{cfg: cfg, exe: exe}, nil
}

func (b *Blender) Name() string { return "blender " + b.cfg.Version }

type scriptParams struct {
	ModelPath   string
	RendersDir  string
	NumViews    int
	ResolutionX int
	ResolutionY int
}

func (b *Blender) script(modelPath, outDir string) (string, error) {
	absModel, err := filepath.Abs(modelPath)
	if err != nil {
		return "", err
	}
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = renderScript.Execute(&buf, scriptParams{
		ModelPath:   filepath.ToSlash(absModel),
		RendersDir:  filepath.ToSlash(absOut),
		NumViews:    b.cfg.NumViews,
		ResolutionX: b.cfg.ResolutionX,
		ResolutionY: b.cfg.ResolutionY,
	})
	if err != nil {
		return "", fmt.Errorf("render: execute script template: %w", err)
	}
	return buf.String(), nil
}

// RenderViews renders cfg.NumViews orbit views into outDir as
// view_<i>.jpg and returns them in view order.
func (b *Blender) RenderViews(ctx context.Context, modelPath, outDir string) ([]types.Image, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("render: mkdir %s: %w", outDir, err)
	}
	script, err := b.script(modelPath, outDir)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(b.cfg.TimeoutS)*time.Second)
	defer cancel()
	_, stderr, err := runBlender(runCtx, b.exe, "--background", "--factory-startup", "--python-expr", script)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("render: blender timed out (>%d s) during rendering", b.cfg.TimeoutS)
	}
	if err != nil {
		return nil, fmt.Errorf("render: blender: %w: %s", err, lastLines(string(stderr), 20))
	}

	views := make([]types.Image, 0, b.cfg.NumViews)
	for i := 0; i < b.cfg.NumViews; i++ {
		path := filepath.Join(outDir, fmt.Sprintf("view_%d.jpg", i))
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("render: render file not created: %s", path)
		}
		views = append(views, types.Image{MIMEType: "image/jpeg", Data: data})
	}
	return views, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
