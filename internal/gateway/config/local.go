package config

import (
	"os"
	"strings"
)

// localArtifactConfig targets the MinIO container of the local compose setup.
func localArtifactConfig() ArtifactConfig {
	return ArtifactConfig{
		Endpoint:  firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_MINIO_ENDPOINT")), strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT")), "minio:9000"),
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER")), "imagin3d"),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD")), "imagin3d123"),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_BUCKET")), "imagin3d-checkpoints"),
		UseSSL:    false,
	}
}
