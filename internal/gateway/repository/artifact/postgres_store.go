package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore keeps checkpoint files as BYTEA rows keyed by namespace and path.
type PostgresStore struct {
	db         *sql.DB
	schemaOnce sync.Once
	schemaErr  error
}

// OpenPostgresStore opens dsn with the pgx stdlib driver.
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPostgresStore(db), nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db is nil")
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS checkpoint_files (
    namespace TEXT NOT NULL,
    path TEXT NOT NULL,
    content BYTEA NOT NULL DEFAULT ''::bytea,
    size BIGINT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    PRIMARY KEY (namespace, path)
);
`)
	})
	return s.schemaErr
}

func (s *PostgresStore) Put(ctx context.Context, namespace, path string, content []byte) error {
	ns, p, err := s.keys(namespace, path)
	if err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if content == nil {
		content = []byte{}
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO checkpoint_files (namespace, path, content, size, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (namespace, path)
DO UPDATE SET content=EXCLUDED.content, size=EXCLUDED.size, updated_at=EXCLUDED.updated_at
`, ns, p, content, int64(len(content)), time.Now())
	return err
}

func (s *PostgresStore) Get(ctx context.Context, namespace, path string) ([]byte, error) {
	ns, p, err := s.keys(namespace, path)
	if err != nil {
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var content []byte
	err = s.db.QueryRowContext(ctx, `SELECT content FROM checkpoint_files WHERE namespace=$1 AND path=$2`, ns, p).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return content, err
}

func (s *PostgresStore) List(ctx context.Context, namespace, prefix string) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	ns, err := cleanNamespace(namespace)
	if err != nil {
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM checkpoint_files WHERE namespace=$1 AND starts_with(path, $2) ORDER BY path`,
		ns, cleanPrefix(prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return paths, nil
}

func (s *PostgresStore) Clear(ctx context.Context, namespace string) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	ns, err := cleanNamespace(namespace)
	if err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM checkpoint_files WHERE namespace=$1`, ns)
	return err
}

// GetURL returns "" since rows have no addressable location.
func (s *PostgresStore) GetURL(_ context.Context, _, _ string) (string, error) {
	return "", nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) keys(namespace, path string) (string, string, error) {
	if s == nil {
		return "", "", fmt.Errorf("store is nil")
	}
	ns, err := cleanNamespace(namespace)
	if err != nil {
		return "", "", err
	}
	p, err := cleanPath(path)
	if err != nil {
		return "", "", err
	}
	return ns, p, nil
}
