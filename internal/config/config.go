package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when none is given. It may be absent.
const DefaultPath = "config.yaml"

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Vision      VisionConfig      `yaml:"vision"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"api_key"`
	MetricsPort int    `yaml:"metrics_port"` // worker /metrics and /healthz
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres or sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
	Path     string `yaml:"path"` // sqlite file
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectorModel      string  `yaml:"detector_model"`
	EmbedderModel      string  `yaml:"embedder_model"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	IntraOpThreads     int     `yaml:"intra_op_threads"`
	WorkerCount        int     `yaml:"worker_count"`
	LibraryPath        string  `yaml:"library_path"`
}

type RecognitionConfig struct {
	MatchThreshold      float64       `yaml:"match_threshold"`
	MinConfidence       float64       `yaml:"min_confidence"`
	MinFaceSize         int           `yaml:"min_face_size"`
	FullFrameMargin     int           `yaml:"full_frame_margin"`
	FullFrameCoverage   float64       `yaml:"full_frame_coverage"`
	UpscaleMinDim       int           `yaml:"upscale_min_dim"`
	EmbedTimeout        time.Duration `yaml:"embed_timeout"`
	Model               string        `yaml:"model"`
	EmbeddingDim        int           `yaml:"embedding_dim"`
	EnrollOnMatch       bool          `yaml:"enroll_on_match"`
	DedupeFirstSighting bool          `yaml:"dedupe_first_sighting"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads .env (if present), the YAML file at path, then applies
// VISAGE_* environment overrides and defaults. A missing file at DefaultPath
// is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	// Seeded before parsing so an explicit zero in the file survives.
	cfg := &Config{Recognition: RecognitionConfig{MinConfidence: 0.75, FullFrameMargin: 5}}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	r := c.Recognition
	if r.MatchThreshold <= 0 || r.MatchThreshold > 2 {
		return fmt.Errorf("recognition.match_threshold must be in (0, 2], got %v", r.MatchThreshold)
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return fmt.Errorf("recognition.min_confidence must be in [0, 1], got %v", r.MinConfidence)
	}
	if r.FullFrameCoverage <= 0 || r.FullFrameCoverage > 1 {
		return fmt.Errorf("recognition.full_frame_coverage must be in (0, 1], got %v", r.FullFrameCoverage)
	}
	if r.EmbeddingDim <= 0 {
		return fmt.Errorf("recognition.embedding_dim must be positive, got %d", r.EmbeddingDim)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "visage.db"
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "visage"
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.DetectorModel == "" {
		cfg.Vision.DetectorModel = "det_10g.onnx"
	}
	if cfg.Vision.EmbedderModel == "" {
		cfg.Vision.EmbedderModel = "w600k_r50.onnx"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.IntraOpThreads == 0 {
		cfg.Vision.IntraOpThreads = 2
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Recognition.MatchThreshold == 0 {
		cfg.Recognition.MatchThreshold = 0.4
	}
	if cfg.Recognition.MinFaceSize == 0 {
		cfg.Recognition.MinFaceSize = 30
	}
	if cfg.Recognition.FullFrameCoverage == 0 {
		cfg.Recognition.FullFrameCoverage = 0.98
	}
	if cfg.Recognition.UpscaleMinDim == 0 {
		cfg.Recognition.UpscaleMinDim = 640
	}
	if cfg.Recognition.EmbedTimeout == 0 {
		cfg.Recognition.EmbedTimeout = 10 * time.Second
	}
	if cfg.Recognition.Model == "" {
		cfg.Recognition.Model = "arcface_r50"
	}
	if cfg.Recognition.EmbeddingDim == 0 {
		cfg.Recognition.EmbeddingDim = 512
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyEnvOverrides(cfg *Config) {
	envInt("VISAGE_SERVER_PORT", &cfg.Server.Port)
	envString("VISAGE_API_KEY", &cfg.Server.APIKey)
	envInt("VISAGE_METRICS_PORT", &cfg.Server.MetricsPort)

	envString("VISAGE_DB_DRIVER", &cfg.Database.Driver)
	envString("VISAGE_DB_HOST", &cfg.Database.Host)
	envInt("VISAGE_DB_PORT", &cfg.Database.Port)
	envString("VISAGE_DB_NAME", &cfg.Database.Name)
	envString("VISAGE_DB_USER", &cfg.Database.User)
	envString("VISAGE_DB_PASSWORD", &cfg.Database.Password)
	envString("VISAGE_DB_PATH", &cfg.Database.Path)

	envString("VISAGE_NATS_URL", &cfg.NATS.URL)

	envString("VISAGE_MINIO_ENDPOINT", &cfg.MinIO.Endpoint)
	envString("VISAGE_MINIO_ACCESS_KEY", &cfg.MinIO.AccessKey)
	envString("VISAGE_MINIO_SECRET_KEY", &cfg.MinIO.SecretKey)
	envString("VISAGE_MINIO_BUCKET", &cfg.MinIO.Bucket)

	envString("VISAGE_MODELS_DIR", &cfg.Vision.ModelsDir)
	envString("VISAGE_ONNX_LIB", &cfg.Vision.LibraryPath)
	envInt("VISAGE_VISION_WORKER_COUNT", &cfg.Vision.WorkerCount)

	envFloat("VISAGE_MATCH_THRESHOLD", &cfg.Recognition.MatchThreshold)
	envFloat("VISAGE_MIN_CONFIDENCE", &cfg.Recognition.MinConfidence)
	envBool("VISAGE_ENROLL_ON_MATCH", &cfg.Recognition.EnrollOnMatch)
	envBool("VISAGE_DEDUPE_FIRST_SIGHTING", &cfg.Recognition.DedupeFirstSighting)
	if v := os.Getenv("VISAGE_EMBED_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Recognition.EmbedTimeout = d
		}
	}

	envString("VISAGE_LOG_LEVEL", &cfg.Logging.Level)
	envString("VISAGE_LOG_FORMAT", &cfg.Logging.Format)
}
