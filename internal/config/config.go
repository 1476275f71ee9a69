package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. DEFECT_DATABASE_URL.
const EnvPrefix = "DEFECT"

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns" split_words:"true"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // job status cache
	Channel  string        `yaml:"channel"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key" split_words:"true"`
	SecretKey string `yaml:"secret_key" split_words:"true"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type StorageConfig struct {
	Type      string      `yaml:"type"` // local|minio
	LocalRoot string      `yaml:"local_root" split_words:"true"`
	Minio     MinioConfig `yaml:"minio"`
}

type InferenceConfig struct {
	Engine  string        `yaml:"engine"` // http|stub
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type QueueConfig struct {
	Workers        int           `yaml:"workers"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" split_words:"true"`
	MaxAttempts    int           `yaml:"max_attempts" split_words:"true"`
	BaseDelay      time.Duration `yaml:"base_delay" split_words:"true"`
	MaxDelay       time.Duration `yaml:"max_delay" split_words:"true"`
}

type DetectionConfig struct {
	NMSThreshold float64  `yaml:"nms_threshold" split_words:"true"`
	Classes      []string `yaml:"classes"`
	// Severity bands; confidences below Medium are low.
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	SubmitLimit  int           `yaml:"submit_limit" split_words:"true"` // per owner per window, 0 disables
	SubmitWindow time.Duration `yaml:"submit_window" split_words:"true"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" split_words:"true"`
}

type TelegramConfig struct {
	Token        string `yaml:"token"`
	FallbackChat int64  `yaml:"fallback_chat" split_words:"true"`
	Lang         string `yaml:"lang"` // notification catalog, en|fa
}

type RetentionConfig struct {
	Interval time.Duration `yaml:"interval"`
	Window   time.Duration `yaml:"window"` // 0 keeps jobs forever
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Inference InferenceConfig `yaml:"inference"`
	Queue     QueueConfig     `yaml:"queue"`
	Detection DetectionConfig `yaml:"detection"`
	HTTP      HTTPConfig      `yaml:"http"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Retention RetentionConfig `yaml:"retention"`

	Runtime RuntimeConfig `yaml:"-" ignored:"true"`
}

// LoadConfig reads the YAML file at path (optional when empty or missing),
// then applies .env and DEFECT_* environment overrides, then defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist) && dev:
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("env config: %w", err)
	}

	cfg.Runtime.Dev = dev
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL)
	if c.Redis.Channel == "" {
		c.Redis.Channel = "defect:events"
	}
	c.Storage.Type = strings.ToLower(c.Storage.Type)
	if c.Storage.Type == "" {
		c.Storage.Type = "local"
	}
	if c.Storage.LocalRoot == "" {
		c.Storage.LocalRoot = "."
	}
	c.Inference.Engine = strings.ToLower(c.Inference.Engine)
	if c.Inference.Engine == "" {
		c.Inference.Engine = "http"
		if c.Runtime.Dev {
			c.Inference.Engine = "stub"
		}
	}
	if c.Inference.Timeout <= 0 {
		c.Inference.Timeout = 30 * time.Second
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 3
	}
	if c.Queue.AttemptTimeout <= 0 {
		c.Queue.AttemptTimeout = 60 * time.Second
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.BaseDelay <= 0 {
		c.Queue.BaseDelay = 2 * time.Second
	}
	if c.Queue.MaxDelay <= 0 {
		c.Queue.MaxDelay = 30 * time.Second
	}
	if c.Detection.NMSThreshold <= 0 {
		c.Detection.NMSThreshold = 0.45
	}
	if c.Detection.Medium <= 0 {
		c.Detection.Medium = 0.70
	}
	if c.Detection.High <= 0 {
		c.Detection.High = 0.85
	}
	if c.Detection.Critical <= 0 {
		c.Detection.Critical = 0.95
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.SubmitWindow <= 0 {
		c.HTTP.SubmitWindow = time.Minute
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = 1 << 20
	}
	if c.Retention.Interval <= 0 {
		c.Retention.Interval = time.Hour
	}
	if c.Telegram.Lang == "" {
		c.Telegram.Lang = "en"
	}
}

// Validate performs minimal checks; deep validation of detection settings
// happens where they are parsed.
func (c *Config) Validate() error {
	if c.Database.URL == "" && !c.Runtime.Dev {
		return errors.New("database.url is required")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return errors.New("redis.url is required when redis is enabled")
	}
	switch strings.ToLower(c.Storage.Type) {
	case "local":
	case "minio":
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return errors.New("storage.minio.endpoint and storage.minio.bucket are required")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	switch strings.ToLower(c.Inference.Engine) {
	case "stub":
	case "http":
		if c.Inference.URL == "" {
			return errors.New("inference.url is required for the http engine")
		}
	default:
		return fmt.Errorf("unknown inference engine %q", c.Inference.Engine)
	}
	if c.Detection.NMSThreshold > 1 {
		return errors.New("detection.nms_threshold must be within (0,1]")
	}
	if d := c.Detection; !(d.Medium < d.High && d.High < d.Critical && d.Critical <= 1) {
		return fmt.Errorf("detection bands must satisfy medium < high < critical <= 1, got %.2f/%.2f/%.2f", d.Medium, d.High, d.Critical)
	}
	if c.Retention.Window < 0 {
		return errors.New("retention.window must not be negative")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
