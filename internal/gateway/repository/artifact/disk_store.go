package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DiskStore writes checkpoints under root/namespace/path on the local
// filesystem. It is the default backend.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: strings.TrimSpace(root)}
}

func (s *DiskStore) Put(_ context.Context, namespace, path string, content []byte) error {
	fullPath, err := s.pathFor(namespace, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(fullPath, content, 0o644)
}

func (s *DiskStore) Get(_ context.Context, namespace, path string) ([]byte, error) {
	fullPath, err := s.pathFor(namespace, path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return raw, err
}

// GetURL returns the absolute filesystem path of the file.
func (s *DiskStore) GetURL(_ context.Context, namespace, path string) (string, error) {
	fullPath, err := s.pathFor(namespace, path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(fullPath)
}

func (s *DiskStore) List(_ context.Context, namespace, prefix string) ([]string, error) {
	nsRoot, err := s.namespaceRoot(namespace)
	if err != nil {
		return nil, err
	}
	prefix = cleanPrefix(prefix)
	paths := make([]string, 0, 32)
	walkErr := filepath.WalkDir(nsRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(nsRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			paths = append(paths, rel)
		}
		return nil
	})
	if walkErr != nil {
		if os.IsNotExist(walkErr) {
			return []string{}, nil
		}
		return nil, walkErr
	}
	sort.Strings(paths)
	return paths, nil
}

// Clear removes the namespace directory and everything below it.
func (s *DiskStore) Clear(_ context.Context, namespace string) error {
	nsRoot, err := s.namespaceRoot(namespace)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(nsRoot); err != nil {
		return fmt.Errorf("clear %s: %w", nsRoot, err)
	}
	return nil
}

func (s *DiskStore) namespaceRoot(namespace string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("store is nil")
	}
	root := strings.TrimSpace(s.root)
	if root == "" {
		return "", fmt.Errorf("root is required")
	}
	ns, err := cleanNamespace(namespace)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.FromSlash(ns)), nil
}

func (s *DiskStore) pathFor(namespace, path string) (string, error) {
	nsRoot, err := s.namespaceRoot(namespace)
	if err != nil {
		return "", err
	}
	p, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(nsRoot, filepath.FromSlash(p)), nil
}
