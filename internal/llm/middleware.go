package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"imagin3d/internal/types"
)

// Middleware decorates an LLMClient with a cross-cutting concern.
type Middleware func(LLMClient) LLMClient

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner LLMClient, mws ...Middleware) LLMClient {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// -------- Rate Limiting --------

// RateLimit throttles requests to rps with the given burst. rps <= 0 disables it.
func RateLimit(rps float64, burst int) Middleware {
	return func(next LLMClient) LLMClient {
		return &rateLimited{next: next, rl: newRPSLimiter(rps, burst)}
	}
}

type rateLimited struct {
	next LLMClient
	rl   *rpsLimiter
}

func (c *rateLimited) Name() string { return c.next.Name() }
func (c *rateLimited) Close() error {
	c.rl.Stop()
	return c.next.Close()
}
func (c *rateLimited) GenerateJSON(ctx context.Context, prompt string, input any, images ...types.Image) (json.RawMessage, error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return nil, err
	}
	return c.next.GenerateJSON(ctx, prompt, input, images...)
}

// -------- Retry with exponential backoff --------

// Retry retries GenerateJSON up to maxAttempts with exponential backoff
// starting at baseDelay. A canceled context stops it immediately.
func Retry(maxAttempts int, baseDelay time.Duration) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return func(next LLMClient) LLMClient {
		return &retrying{next: next, max: maxAttempts, base: baseDelay}
	}
}

type retrying struct {
	next LLMClient
	max  int
	base time.Duration
}

func (r *retrying) Name() string { return r.next.Name() }
func (r *retrying) Close() error { return r.next.Close() }
func (r *retrying) GenerateJSON(ctx context.Context, prompt string, input any, images ...types.Image) (json.RawMessage, error) {
	var last error
	for i := 0; i < r.max; i++ {
		resp, err := r.next.GenerateJSON(ctx, prompt, input, images...)
		if err == nil {
			return resp, nil
		}
		last = err
		if i == r.max-1 {
			break
		}
		timer := time.NewTimer(r.base * time.Duration(1<<i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, last
}

// -------- Logging --------

// WithLogging logs request size, latency and errors per phase. A nil
// logger uses slog.Default().
func WithLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next LLMClient) LLMClient {
		return &logged{next: next, log: logger}
	}
}

type logged struct {
	next LLMClient
	log  *slog.Logger
}

func (l *logged) Name() string { return l.next.Name() }
func (l *logged) Close() error { return l.next.Close() }
func (l *logged) GenerateJSON(ctx context.Context, prompt string, input any, images ...types.Image) (json.RawMessage, error) {
	phase := PhaseFrom(ctx)
	in, _ := json.Marshal(input)
	start := time.Now()
	l.log.Debug("llm request", "client", l.next.Name(), "phase", phase, "bytes", len(prompt)+len(in), "images", len(images))
	raw, err := l.next.GenerateJSON(ctx, prompt, input, images...)
	if err != nil {
		l.log.Warn("llm error", "client", l.next.Name(), "phase", phase, "err", err)
		return raw, err
	}
	l.log.Debug("llm response", "client", l.next.Name(), "phase", phase, "bytes", len(raw), "elapsed", time.Since(start))
	return raw, nil
}

// -------- Response cache --------

// ResponseStore persists raw answers by key.
type ResponseStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Cache answers repeated requests of the given phases from store. The key
// covers the client name, phase, prompt, input and image bytes. Store
// failures fall through to the model.
func Cache(store ResponseStore, logger *slog.Logger, phases ...string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next LLMClient) LLMClient {
		if store == nil {
			return next
		}
		return &cached{next: next, store: store, phases: phases, log: logger}
	}
}

type cached struct {
	next   LLMClient
	store  ResponseStore
	phases []string
	log    *slog.Logger
}

func (c *cached) Name() string { return c.next.Name() }
func (c *cached) Close() error { return c.next.Close() }
func (c *cached) GenerateJSON(ctx context.Context, prompt string, input any, images ...types.Image) (json.RawMessage, error) {
	phase := PhaseFrom(ctx)
	if len(c.phases) > 0 && !slices.Contains(c.phases, phase) {
		return c.next.GenerateJSON(ctx, prompt, input, images...)
	}
	key, err := cacheKey(c.next.Name(), phase, prompt, input, images)
	if err != nil {
		return c.next.GenerateJSON(ctx, prompt, input, images...)
	}
	if raw, ok, err := c.store.Get(ctx, key); err != nil {
		c.log.Warn("llm cache read failed", "phase", phase, "err", err)
	} else if ok {
		c.log.Debug("llm cache hit", "phase", phase)
		return json.RawMessage(raw), nil
	}
	raw, err := c.next.GenerateJSON(ctx, prompt, input, images...)
	if err != nil {
		return raw, err
	}
	if err := c.store.Set(ctx, key, raw); err != nil {
		c.log.Warn("llm cache write failed", "phase", phase, "err", err)
	}
	return raw, nil
}

func cacheKey(client, phase, prompt string, input any, images []types.Image) (string, error) {
	in, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, part := range [][]byte{[]byte(client), []byte(phase), []byte(prompt), in} {
		h.Write(part)
		h.Write([]byte{0})
	}
	for _, img := range images {
		h.Write([]byte(img.MIMEType))
		h.Write(img.Data)
		h.Write([]byte{0})
	}
	return phase + ":" + hex.EncodeToString(h.Sum(nil)), nil
}
