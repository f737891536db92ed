package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"imagin3d/internal/render"
)

type Config struct {
	Port           string
	Env            string
	AllowedOrigins []string

	EngineConfigPath string
	Engine           render.EngineConfig

	LLM        LLMConfig
	Embedding  EmbeddingConfig
	Checkpoint CheckpointConfig
	Artifact   ArtifactConfig

	FFmpegPath          string
	KeyFrameCount       int
	ConfirmationTimeout time.Duration
	StageConcurrency    int

	LogLevel  string
	LogFormat string
}

type LLMConfig struct {
	Provider      string
	Model         string
	GeminiAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	RPS           float64
	Burst         int
	MaxAttempts   int
	// CacheDir enables the on-disk answer cache for descriptor and clusterer calls.
	CacheDir string
	CacheTTL time.Duration
}

type EmbeddingConfig struct {
	Provider  string
	Model     string
	CacheSize int
}

type CheckpointConfig struct {
	// Backend is one of disk, memory, s3, postgres.
	Backend     string
	Root        string
	IsolateRuns bool
	Cache       bool
	DatabaseURL string
}

type ArtifactConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// CanUseS3 reports whether the S3 settings are complete.
func (a ArtifactConfig) CanUseS3() bool {
	return strings.TrimSpace(a.Endpoint) != "" && strings.TrimSpace(a.Bucket) != ""
}

// Load reads .env, the process flags and the environment.
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

func LoadArgs(args []string) (*Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("imagin3d", flag.ContinueOnError)
	port := fs.String("port", ":8000", "server port")
	engineConfig := fs.String("engine-config", "", "path to the render engine YAML file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if envPort := strings.TrimSpace(os.Getenv("PORT")); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := firstNonEmpty(strings.TrimSpace(os.Getenv("APP_ENV")), "local")
	enginePath := firstNonEmpty(*engineConfig, strings.TrimSpace(os.Getenv("ENGINE_CONFIG")))
	engine, err := render.LoadEngineConfig(enginePath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                *port,
		Env:                 env,
		AllowedOrigins:      parseOrigins(os.Getenv("BACKEND_ALLOWED_ORIGINS")),
		EngineConfigPath:    enginePath,
		Engine:              engine,
		LLM:                 loadLLMConfig(),
		Checkpoint:          loadCheckpointConfig(),
		Artifact:            loadArtifactConfig(env),
		FFmpegPath:          firstNonEmpty(strings.TrimSpace(os.Getenv("FFMPEG_PATH")), "ffmpeg"),
		KeyFrameCount:       envInt("KEYFRAME_COUNT", 5),
		ConfirmationTimeout: envDuration("CONFIRMATION_TIMEOUT", 0),
		StageConcurrency:    envInt("PIPELINE_STAGE_CONCURRENCY", 0),
		LogLevel:            firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "info"),
		LogFormat:           firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "text"),
	}
	cfg.Embedding = loadEmbeddingConfig(cfg.LLM.Provider)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "gemini":
		if c.LLM.GeminiAPIKey == "" {
			return fmt.Errorf("config: GEMINI_API_KEY is required for LLM_PROVIDER=gemini")
		}
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("config: OPENAI_API_KEY is required for LLM_PROVIDER=openai")
		}
	case "fake":
	default:
		return fmt.Errorf("config: unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	switch c.Embedding.Provider {
	case "gemini", "openai", "fake":
	default:
		return fmt.Errorf("config: unknown EMBEDDING_PROVIDER %q", c.Embedding.Provider)
	}
	switch c.Checkpoint.Backend {
	case "disk", "memory":
	case "s3":
		if !c.Artifact.CanUseS3() {
			return fmt.Errorf("config: CHECKPOINT_BACKEND=s3 needs ARTIFACT_S3_ENDPOINT and ARTIFACT_S3_BUCKET")
		}
	case "postgres":
		if c.Checkpoint.DatabaseURL == "" {
			return fmt.Errorf("config: CHECKPOINT_BACKEND=postgres needs CHECKPOINT_DATABASE_URL")
		}
	default:
		return fmt.Errorf("config: unknown CHECKPOINT_BACKEND %q", c.Checkpoint.Backend)
	}
	if c.KeyFrameCount <= 0 {
		return fmt.Errorf("config: KEYFRAME_COUNT must be positive")
	}
	return nil
}

func loadLLMConfig() LLMConfig {
	geminiKey := firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_API_KEY")), strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")))
	openaiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))
	if provider == "" {
		switch {
		case geminiKey != "":
			provider = "gemini"
		case openaiKey != "":
			provider = "openai"
		default:
			provider = "fake"
		}
	}
	return LLMConfig{
		Provider:      provider,
		Model:         strings.TrimSpace(os.Getenv("LLM_MODEL")),
		GeminiAPIKey:  geminiKey,
		OpenAIAPIKey:  openaiKey,
		OpenAIBaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		RPS:           envFloat("LLM_RPS", 0),
		Burst:         envInt("LLM_BURST", 1),
		MaxAttempts:   envInt("LLM_MAX_ATTEMPTS", 3),
		CacheDir:      strings.TrimSpace(os.Getenv("LLM_CACHE_DIR")),
		CacheTTL:      envDuration("LLM_CACHE_TTL", 24*time.Hour),
	}
}

func loadEmbeddingConfig(llmProvider string) EmbeddingConfig {
	return EmbeddingConfig{
		Provider:  strings.ToLower(firstNonEmpty(strings.TrimSpace(os.Getenv("EMBEDDING_PROVIDER")), llmProvider)),
		Model:     strings.TrimSpace(os.Getenv("EMBEDDING_MODEL")),
		CacheSize: envInt("EMBEDDING_CACHE_SIZE", 1024),
	}
}

func loadCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Backend:     strings.ToLower(firstNonEmpty(strings.TrimSpace(os.Getenv("CHECKPOINT_BACKEND")), "disk")),
		Root:        firstNonEmpty(strings.TrimSpace(os.Getenv("CHECKPOINT_ROOT")), "."),
		IsolateRuns: envBool("CHECKPOINT_ISOLATE_RUNS", false),
		Cache:       envBool("CHECKPOINT_CACHE", true),
		DatabaseURL: strings.TrimSpace(os.Getenv("CHECKPOINT_DATABASE_URL")),
	}
}

func loadArtifactConfig(env string) ArtifactConfig {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return localArtifactConfig()
	}
	return ArtifactConfig{
		Endpoint:  strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT")),
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_REGION")), "us-east-1"),
		AccessKey: strings.TrimSpace(os.Getenv("ARTIFACT_S3_ACCESS_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("ARTIFACT_S3_SECRET_KEY")),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_BUCKET")), "imagin3d-checkpoints"),
		UseSSL:    envBool("ARTIFACT_S3_USE_SSL", true),
	}
}

func parseOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// envDuration accepts Go durations ("90s") or plain seconds ("90").
func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if s, err := strconv.Atoi(raw); err == nil {
		return time.Duration(s) * time.Second
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
