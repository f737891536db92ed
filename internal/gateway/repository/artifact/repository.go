package artifact

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Store persists checkpoint files grouped under a namespace. The shared
// checkpoint root is one namespace; isolated runs each get their own.
type Store interface {
	Put(ctx context.Context, namespace, path string, content []byte) error
	Get(ctx context.Context, namespace, path string) ([]byte, error)
	// GetURL returns a location a client can open, or "" when the backend has none.
	GetURL(ctx context.Context, namespace, path string) (string, error)
	// List returns the paths under prefix, relative to the namespace, sorted.
	List(ctx context.Context, namespace, prefix string) ([]string, error)
	// Clear removes every file in the namespace.
	Clear(ctx context.Context, namespace string) error
}

var ErrNotFound = errors.New("artifact not found")

func cleanNamespace(namespace string) (string, error) {
	namespace = strings.Trim(strings.TrimSpace(namespace), "/")
	if namespace == "" {
		return "", fmt.Errorf("namespace is required")
	}
	if strings.Contains(namespace, "..") || strings.ContainsAny(namespace, `\`) {
		return "", fmt.Errorf("invalid namespace: %s", namespace)
	}
	return namespace, nil
}

func cleanPath(p string) (string, error) {
	p = strings.TrimLeft(strings.TrimSpace(p), "/")
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(p, "..") || strings.ContainsAny(p, `\`) {
		return "", fmt.Errorf("invalid path: %s", p)
	}
	return path.Clean(p), nil
}

func cleanPrefix(prefix string) string {
	return strings.TrimLeft(strings.TrimSpace(prefix), "/")
}
