package artifact

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	artifactrepo "imagin3d/internal/gateway/repository/artifact"
)

type Store = artifactrepo.Store

type CacheConfig struct {
	BlobTTL        time.Duration
	BlobMaxEntries int
	// BlobMaxBytes skips caching for any single blob larger than this.
	BlobMaxBytes int

	ListTTL        time.Duration
	ListMaxEntries int

	URLTTL        time.Duration
	URLMaxEntries int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		BlobTTL:        5 * time.Minute,
		BlobMaxEntries: 256,
		BlobMaxBytes:   8 * 1024 * 1024, // 8MiB
		ListTTL:        30 * time.Second,
		ListMaxEntries: 128,
		URLTTL:         5 * time.Minute,
		URLMaxEntries:  512,
	}
}

func (c CacheConfig) withDefaults() CacheConfig {
	def := DefaultCacheConfig()
	if c.BlobTTL <= 0 {
		c.BlobTTL = def.BlobTTL
	}
	if c.BlobMaxEntries <= 0 {
		c.BlobMaxEntries = def.BlobMaxEntries
	}
	if c.BlobMaxBytes <= 0 {
		c.BlobMaxBytes = def.BlobMaxBytes
	}
	if c.ListTTL <= 0 {
		c.ListTTL = def.ListTTL
	}
	if c.ListMaxEntries <= 0 {
		c.ListMaxEntries = def.ListMaxEntries
	}
	if c.URLTTL <= 0 {
		c.URLTTL = def.URLTTL
	}
	if c.URLMaxEntries <= 0 {
		c.URLMaxEntries = def.URLMaxEntries
	}
	return c
}

type MetricsSnapshot struct {
	BlobHits       uint64
	BlobMisses     uint64
	ListHits       uint64
	ListMisses     uint64
	URLHits        uint64
	URLMisses      uint64
	OriginReads    uint64
	OriginWrites   uint64
	OriginReadErr  uint64
	OriginWriteErr uint64
}

type Metrics struct {
	blobHits       atomic.Uint64
	blobMisses     atomic.Uint64
	listHits       atomic.Uint64
	listMisses     atomic.Uint64
	urlHits        atomic.Uint64
	urlMisses      atomic.Uint64
	originReads    atomic.Uint64
	originWrites   atomic.Uint64
	originReadErr  atomic.Uint64
	originWriteErr atomic.Uint64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		BlobHits:       m.blobHits.Load(),
		BlobMisses:     m.blobMisses.Load(),
		ListHits:       m.listHits.Load(),
		ListMisses:     m.listMisses.Load(),
		URLHits:        m.urlHits.Load(),
		URLMisses:      m.urlMisses.Load(),
		OriginReads:    m.originReads.Load(),
		OriginWrites:   m.originWrites.Load(),
		OriginReadErr:  m.originReadErr.Load(),
		OriginWriteErr: m.originWriteErr.Load(),
	}
}

// CachedStore is a read-through, write-through cache in front of a
// checkpoint backend. Writes and clears invalidate the affected namespace.
type CachedStore struct {
	origin       Store
	blobMaxBytes int

	blobCache *expirable.LRU[string, []byte]
	listCache *expirable.LRU[string, []string]
	urlCache  *expirable.LRU[string, string]
	metrics   Metrics
}

func NewCachedStore(origin Store, cfg CacheConfig) *CachedStore {
	cfg = cfg.withDefaults()
	return &CachedStore{
		origin:       origin,
		blobMaxBytes: cfg.BlobMaxBytes,
		blobCache:    expirable.NewLRU[string, []byte](cfg.BlobMaxEntries, nil, cfg.BlobTTL),
		listCache:    expirable.NewLRU[string, []string](cfg.ListMaxEntries, nil, cfg.ListTTL),
		urlCache:     expirable.NewLRU[string, string](cfg.URLMaxEntries, nil, cfg.URLTTL),
	}
}

func (s *CachedStore) Put(ctx context.Context, namespace, path string, content []byte) error {
	s.metrics.originWrites.Add(1)
	if err := s.origin.Put(ctx, namespace, path, content); err != nil {
		s.metrics.originWriteErr.Add(1)
		return err
	}

	key := blobKey(namespace, path)
	s.storeBlob(key, content)
	s.dropLists(namespace)
	s.urlCache.Remove(key)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, namespace, path string) ([]byte, error) {
	key := blobKey(namespace, path)
	if raw, ok := s.blobCache.Get(key); ok {
		s.metrics.blobHits.Add(1)
		return append([]byte(nil), raw...), nil
	}
	s.metrics.blobMisses.Add(1)
	s.metrics.originReads.Add(1)

	raw, err := s.origin.Get(ctx, namespace, path)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return nil, err
	}
	s.storeBlob(key, raw)
	return append([]byte(nil), raw...), nil
}

func (s *CachedStore) GetURL(ctx context.Context, namespace, path string) (string, error) {
	key := blobKey(namespace, path)
	if cached, ok := s.urlCache.Get(key); ok {
		s.metrics.urlHits.Add(1)
		return cached, nil
	}
	s.metrics.urlMisses.Add(1)
	s.metrics.originReads.Add(1)

	url, err := s.origin.GetURL(ctx, namespace, path)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return "", err
	}
	if strings.TrimSpace(url) != "" {
		s.urlCache.Add(key, url)
	}
	return url, nil
}

func (s *CachedStore) List(ctx context.Context, namespace, prefix string) ([]string, error) {
	key := listKey(namespace, prefix)
	if list, ok := s.listCache.Get(key); ok {
		s.metrics.listHits.Add(1)
		return append([]string(nil), list...), nil
	}
	s.metrics.listMisses.Add(1)
	s.metrics.originReads.Add(1)

	list, err := s.origin.List(ctx, namespace, prefix)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return nil, err
	}
	s.listCache.Add(key, append([]string(nil), list...))
	return list, nil
}

func (s *CachedStore) Clear(ctx context.Context, namespace string) error {
	s.metrics.originWrites.Add(1)
	if err := s.origin.Clear(ctx, namespace); err != nil {
		s.metrics.originWriteErr.Add(1)
		return err
	}
	ns := strings.TrimSpace(namespace) + "/"
	for _, k := range s.blobCache.Keys() {
		if strings.HasPrefix(k, ns) {
			s.blobCache.Remove(k)
		}
	}
	for _, k := range s.urlCache.Keys() {
		if strings.HasPrefix(k, ns) {
			s.urlCache.Remove(k)
		}
	}
	s.dropLists(namespace)
	return nil
}

func (s *CachedStore) Metrics() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.snapshot()
}

func (s *CachedStore) storeBlob(key string, raw []byte) {
	if len(raw) > s.blobMaxBytes {
		s.blobCache.Remove(key)
		return
	}
	s.blobCache.Add(key, append([]byte(nil), raw...))
}

func (s *CachedStore) dropLists(namespace string) {
	ns := strings.TrimSpace(namespace) + "\x00"
	for _, k := range s.listCache.Keys() {
		if strings.HasPrefix(k, ns) {
			s.listCache.Remove(k)
		}
	}
}

func blobKey(namespace, path string) string {
	return strings.TrimSpace(namespace) + "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
}

func listKey(namespace, prefix string) string {
	return strings.TrimSpace(namespace) + "\x00" + strings.TrimLeft(strings.TrimSpace(prefix), "/")
}
