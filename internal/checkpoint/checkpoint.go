// Package checkpoint persists the intermediate artifacts of a pipeline run
// so each stage can be inspected on its own.
//
// Layout, relative to the run namespace:
//
//	raw/moodboard-<ts>.json
//	design_tokens/design-tokens-<ts>.json
//	cluster_descriptors/<id>/cluster-<id>-<ts>.json
//	video_frames/<id>/frame_<i>.jpg
//	model_renders/<id>/view_<i>.jpg
//	models/<file name>
//	master_prompt/master-prompt-<ts>.md (+ .html)
package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"imagin3d/internal/gateway/repository/artifact"
	"imagin3d/internal/types"
	"imagin3d/internal/util/jsonutil"
)

const (
	DefaultNamespace = "checkpoints"
	TimestampLayout  = "20060102-150405"
)

type Options struct {
	// Namespace is the shared checkpoint root.
	Namespace string
	// IsolateRuns gives every run its own namespace, runs/<run id>, and
	// stops runs from clearing each other's files.
	IsolateRuns bool
}

type Store struct {
	repo artifact.Store
	opts Options
	now  func() time.Time
	md   goldmark.Markdown
}

func New(repo artifact.Store, opts Options) *Store {
	if strings.TrimSpace(opts.Namespace) == "" {
		opts.Namespace = DefaultNamespace
	}
	return &Store{repo: repo, opts: opts, now: time.Now, md: goldmark.New()}
}

// Isolated reports whether runs get their own namespace.
func (s *Store) Isolated() bool { return s != nil && s.opts.IsolateRuns }

// Namespace returns the namespace holding runID's files.
func (s *Store) Namespace(runID string) string {
	if s.opts.IsolateRuns && strings.TrimSpace(runID) != "" {
		return path.Join("runs", strings.TrimSpace(runID))
	}
	return s.opts.Namespace
}

// Begin clears the run namespace and stamps the run. In shared mode this
// wipes the previous run's files.
func (s *Store) Begin(ctx context.Context, runID string) (*Run, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("checkpoint: store is nil")
	}
	ns := s.Namespace(runID)
	if err := s.repo.Clear(ctx, ns); err != nil {
		return nil, fmt.Errorf("checkpoint: clear %s: %w", ns, err)
	}
	return &Run{store: s, namespace: ns, RunID: runID, Timestamp: s.now().Format(TimestampLayout)}, nil
}

// List returns checkpoint paths under prefix for runID's namespace.
func (s *Store) List(ctx context.Context, runID, prefix string) ([]string, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("checkpoint: store is nil")
	}
	return s.repo.List(ctx, s.Namespace(runID), prefix)
}

// Read returns one checkpoint file.
func (s *Store) Read(ctx context.Context, runID, p string) ([]byte, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("checkpoint: store is nil")
	}
	return s.repo.Get(ctx, s.Namespace(runID), p)
}

// Run writes the checkpoints of a single pipeline run.
type Run struct {
	store     *Store
	namespace string

	RunID     string
	Timestamp string
}

func (r *Run) Namespace() string { return r.namespace }

func RawPath(ts string) string          { return "raw/moodboard-" + ts + ".json" }
func DesignTokensPath(ts string) string { return "design_tokens/design-tokens-" + ts + ".json" }
func MasterPromptPath(ts string) string { return "master_prompt/master-prompt-" + ts + ".md" }

func ClusterDescriptorPath(id int, ts string) string {
	return fmt.Sprintf("cluster_descriptors/%d/cluster-%d-%s.json", id, id, ts)
}

func VideoFramePath(elementID, i int) string {
	return fmt.Sprintf("video_frames/%d/frame_%d.jpg", elementID, i)
}

func ModelRenderPath(elementID, i int) string {
	return fmt.Sprintf("model_renders/%d/view_%d.jpg", elementID, i)
}

func ModelPath(fileName string) string {
	return "models/" + path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), `\`, "/"))
}

// SaveRaw stores the request payload as received.
func (r *Run) SaveRaw(ctx context.Context, board types.Moodboard) (string, error) {
	return r.putJSON(ctx, RawPath(r.Timestamp), board)
}

// SaveDesignTokens stores every token of the run as one batch.
func (r *Run) SaveDesignTokens(ctx context.Context, tokens []*types.DesignToken) (string, error) {
	if tokens == nil {
		tokens = []*types.DesignToken{}
	}
	return r.putJSON(ctx, DesignTokensPath(r.Timestamp), tokens)
}

func (r *Run) SaveClusterDescriptor(ctx context.Context, d *types.ClusterDescriptor) (string, error) {
	if d == nil {
		return "", fmt.Errorf("checkpoint: cluster descriptor is nil")
	}
	return r.putJSON(ctx, ClusterDescriptorPath(d.ID, r.Timestamp), d)
}

// SaveAsset stores a binary file at p.
func (r *Run) SaveAsset(ctx context.Context, p string, data []byte) (string, error) {
	if err := r.store.repo.Put(ctx, r.namespace, p, data); err != nil {
		return "", fmt.Errorf("checkpoint: put %s: %w", p, err)
	}
	return r.Location(ctx, p), nil
}

// SaveMasterPrompt stores the prompt as markdown plus an HTML preview and
// returns the markdown location.
func (r *Run) SaveMasterPrompt(ctx context.Context, userPrompt string, mp types.MasterPrompt) (string, error) {
	var md strings.Builder
	md.WriteString("# Master prompt\n\n")
	md.WriteString(strings.TrimSpace(mp.Prompt))
	md.WriteString("\n")
	if neg := strings.TrimSpace(mp.NegativePrompt); neg != "" {
		md.WriteString("\n## Negative prompt\n\n")
		md.WriteString(neg)
		md.WriteString("\n")
	}
	if up := strings.TrimSpace(userPrompt); up != "" {
		md.WriteString("\n## User prompt\n\n")
		md.WriteString(up)
		md.WriteString("\n")
	}

	p := MasterPromptPath(r.Timestamp)
	loc, err := r.SaveAsset(ctx, p, []byte(md.String()))
	if err != nil {
		return "", err
	}
	var html bytes.Buffer
	if err := r.store.md.Convert([]byte(md.String()), &html); err != nil {
		return "", fmt.Errorf("checkpoint: render master prompt: %w", err)
	}
	if _, err := r.SaveAsset(ctx, strings.TrimSuffix(p, ".md")+".html", html.Bytes()); err != nil {
		return "", err
	}
	return loc, nil
}

// Location is the client-facing address of p: the backend URL when it has
// one, otherwise namespace/p.
func (r *Run) Location(ctx context.Context, p string) string {
	if u, err := r.store.repo.GetURL(ctx, r.namespace, p); err == nil && u != "" {
		return u
	}
	return path.Join(r.namespace, p)
}

func (r *Run) putJSON(ctx context.Context, p string, v any) (string, error) {
	b, err := jsonutil.MarshalNoEscapeIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("checkpoint: encode %s: %w", p, err)
	}
	return r.SaveAsset(ctx, p, b)
}
