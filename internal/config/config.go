package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/faceid"
	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

type Config struct {
	Database  DatabaseConfig
	Embedding EmbeddingConfig
	Cluster   ClusterConfig
	Assign    AssignConfig
	Log       LogConfig
	Web       WebConfig
	Models    ModelsConfig
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 10)
	HNSWIndexPath string // Path to persist the labeled pool HNSW index (optional)
}

type EmbeddingConfig struct {
	Model     string        // default model variant (defaults to dlib)
	Timeout   time.Duration // per-image worker timeout, long enough for first model load
	WorkerDir string        // scratch files and the extracted Python script
	Python    string        // Python interpreter for python-runner variants
	ModelsDir string        // dlib model files for the native runner
}

type ClusterConfig struct {
	MaxClusters         int
	SimilarityThreshold float64
	MinClusterSize      int
}

type AssignConfig struct {
	K                   int
	SimilarityThreshold float64
	UseVoting           bool
	HNSWMinPool         int // pools at least this large use the HNSW candidate index (0 = never)
}

type LogConfig struct {
	Level  string
	Format string // text or json
}

type WebConfig struct {
	Host string
	Port int
	// AllowedOrigins receive CORS headers in addition to localhost.
	AllowedOrigins []string
}

type ModelsConfig struct {
	Models []faceid.VariantSpec `yaml:"models"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float. Invalid values fall back to the default.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// defaultWorkerDir returns ~/.cache/rollcall, or a temp dir when there is no home.
// envList reads a comma-separated environment variable, skipping blank entries.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func defaultWorkerDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "rollcall")
	}
	return filepath.Join(os.TempDir(), "rollcall")
}

// Load reads the configuration from the environment. The model table comes from the
// embedded models.yaml unless MODELS_FILE points at another file.
func Load() (*Config, error) {
	models, err := loadModels(os.Getenv("MODELS_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 10),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Embedding: EmbeddingConfig{
			Model:     envString("EMBEDDING_MODEL", constants.DefaultModelVariant),
			Timeout:   envDuration("EMBEDDING_TIMEOUT", constants.DefaultEmbeddingTimeout),
			WorkerDir: envString("EMBEDDING_WORKER_DIR", defaultWorkerDir()),
			Python:    envString("EMBEDDING_PYTHON", "python3"),
			ModelsDir: envString("EMBEDDING_MODELS_DIR", "models"),
		},
		Cluster: ClusterConfig{
			MaxClusters:         envInt("CLUSTER_MAX_CLUSTERS", constants.DefaultMaxClusters),
			SimilarityThreshold: envFloat("CLUSTER_SIMILARITY_THRESHOLD", constants.DefaultClusterThreshold),
			MinClusterSize:      envInt("CLUSTER_MIN_SIZE", constants.DefaultMinClusterSize),
		},
		Assign: AssignConfig{
			K:                   envInt("ASSIGN_K", constants.DefaultK),
			SimilarityThreshold: envFloat("ASSIGN_SIMILARITY_THRESHOLD", constants.DefaultAssignThreshold),
			UseVoting:           envBool("ASSIGN_USE_VOTING", true),
			HNSWMinPool:         envInt("ASSIGN_HNSW_MIN_POOL", 0),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", constants.DefaultWebPort),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Models: models,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadModels(path string) (ModelsConfig, error) {
	data := modelsYAML
	if path != "" {
		var err error
		data, err = os.ReadFile(path) //nolint:gosec // path is from trusted config
		if err != nil {
			return ModelsConfig{}, fmt.Errorf("reading models file: %w", err)
		}
	}

	var models ModelsConfig
	if err := yaml.Unmarshal(data, &models); err != nil {
		return ModelsConfig{}, fmt.Errorf("parsing models table: %w", err)
	}
	if len(models.Models) == 0 {
		return ModelsConfig{}, fmt.Errorf("models table is empty")
	}
	return models, nil
}

// Validate rejects out-of-range settings.
func (c *Config) Validate() error {
	var problems []string
	if c.Cluster.SimilarityThreshold < 0 || c.Cluster.SimilarityThreshold > 1 {
		problems = append(problems, fmt.Sprintf("CLUSTER_SIMILARITY_THRESHOLD must be within [0, 1], got %v", c.Cluster.SimilarityThreshold))
	}
	if c.Assign.SimilarityThreshold < 0 || c.Assign.SimilarityThreshold > 1 {
		problems = append(problems, fmt.Sprintf("ASSIGN_SIMILARITY_THRESHOLD must be within [0, 1], got %v", c.Assign.SimilarityThreshold))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		problems = append(problems, fmt.Sprintf("LOG_FORMAT must be text or json, got %q", c.Log.Format))
	}
	if _, err := c.Registry(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Registry builds the model dispatch table with the configured default variant.
func (c *Config) Registry() (*faceid.Registry, error) {
	return faceid.NewRegistry(c.Models.Models, faceid.Variant(c.Embedding.Model))
}
