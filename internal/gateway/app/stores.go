package app

import (
	"fmt"
	"io"
	"log/slog"

	artifactcache "imagin3d/internal/cache/artifact"
	"imagin3d/internal/gateway/config"
	artifactrepo "imagin3d/internal/gateway/repository/artifact"
)

// chooseCheckpointRepo builds the blob store behind the checkpoint layer.
// The returned closer is nil when the backend holds no resources.
func chooseCheckpointRepo(cfg *config.Config, log *slog.Logger) (artifactrepo.Store, io.Closer, error) {
	var (
		origin artifactrepo.Store
		closer io.Closer
	)
	switch cfg.Checkpoint.Backend {
	case "memory":
		origin = artifactrepo.NewMemoryStore()
		log.Info("checkpoint store: memory")
	case "s3":
		s3Cfg := artifactrepo.S3Config{
			Endpoint:  cfg.Artifact.Endpoint,
			Region:    cfg.Artifact.Region,
			AccessKey: cfg.Artifact.AccessKey,
			SecretKey: cfg.Artifact.SecretKey,
			Bucket:    cfg.Artifact.Bucket,
			UseSSL:    cfg.Artifact.UseSSL,
		}
		s3Store, err := artifactrepo.NewS3Store(s3Cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize checkpoint s3 store: %w", err)
		}
		origin = s3Store
		log.Info("checkpoint store: s3", "bucket", s3Cfg.Bucket, "endpoint", s3Cfg.Endpoint)
	case "postgres":
		pg, err := artifactrepo.OpenPostgresStore(cfg.Checkpoint.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize checkpoint postgres store: %w", err)
		}
		origin, closer = pg, pg
		log.Info("checkpoint store: postgres")
	default:
		origin = artifactrepo.NewDiskStore(cfg.Checkpoint.Root)
		log.Info("checkpoint store: disk", "root", cfg.Checkpoint.Root)
	}

	if cfg.Checkpoint.Cache && cfg.Checkpoint.Backend != "memory" {
		return artifactcache.NewCachedStore(origin, artifactcache.DefaultCacheConfig()), closer, nil
	}
	return origin, closer, nil
}
