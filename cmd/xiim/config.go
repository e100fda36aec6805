package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/xivix/xiim/classifier"
	"github.com/xivix/xiim/cloudinary"
	"github.com/xivix/xiim/database"
)

// Registry backends selectable with --registry.
const (
	RegistrySQLite = "sqlite"
	RegistryMemory = "memory"
	RegistryRedis  = "redis"
)

// Config holds application configuration.
type Config struct {
	// HTTP
	ListenAddr     string
	RequestTimeout time.Duration
	MaxConcurrent  int

	// Storage
	DBPath      string
	Registry    string
	RedisAddr   string
	RedisPass   string
	RedisPrefix string

	// R2 (S3 API)
	R2Endpoint        string
	R2AccessKeyID     string
	R2SecretAccessKey string
	SampleBucket      string
	RawBucket         string

	// Rendering backend
	Cloudinary cloudinary.Config

	// Classifier
	GeminiAPIKey       string
	GeminiModel        string
	ClassifierCache    string
	ClassifierCacheTTL time.Duration
	ClassifyTimeout    time.Duration

	// Masking treatments, "type:min-max,..."
	StyleOptions string

	EnvFile  string
	LogLevel string

	// Command-specific flags
	Keyword    string
	Company    string
	UserID     string
	SourceURL  string
	Variations int
	WithTitle  bool
	Status     string
	Limit      int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":8080",
		RequestTimeout:     60 * time.Second,
		MaxConcurrent:      4,
		DBPath:             database.DefaultConfig().Path,
		Registry:           RegistrySQLite,
		RedisAddr:          "localhost:6379",
		RedisPrefix:        "xiim:fp:",
		SampleBucket:       "xiim-samples",
		Cloudinary:         cloudinary.DefaultConfig(),
		GeminiModel:        classifier.DefaultGeminiModel,
		ClassifierCache:    "/var/lib/xiim/classifier.db",
		ClassifierCacheTTL: classifier.DefaultCacheTTL,
		ClassifyTimeout:    8 * time.Second,
		EnvFile:            ".env",
		LogLevel:           "info",
		Variations:         1,
		Limit:              20,
	}
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// applyEnv fills secrets and deployment settings from the environment.
// Flags parsed afterwards still win.
func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	str(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	str(&cfg.GeminiModel, "GEMINI_MODEL")
	str(&cfg.Cloudinary.CloudName, "CLOUDINARY_CLOUD_NAME")
	str(&cfg.Cloudinary.APIKey, "CLOUDINARY_API_KEY")
	str(&cfg.Cloudinary.APISecret, "CLOUDINARY_API_SECRET")
	str(&cfg.Cloudinary.Folder, "CLOUDINARY_FOLDER")

	if id := getenv("R2_ACCOUNT_ID"); id != "" {
		cfg.R2Endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", id)
	}
	str(&cfg.R2Endpoint, "R2_ENDPOINT")
	str(&cfg.R2AccessKeyID, "R2_ACCESS_KEY_ID")
	str(&cfg.R2SecretAccessKey, "R2_SECRET_ACCESS_KEY")
	str(&cfg.SampleBucket, "R2_SAMPLE_BUCKET")
	str(&cfg.RawBucket, "R2_RAW_BUCKET")

	str(&cfg.DBPath, "XIIM_DB_PATH")
	str(&cfg.Registry, "XIIM_REGISTRY")
	str(&cfg.RedisAddr, "REDIS_ADDR")
	str(&cfg.RedisPass, "REDIS_PASSWORD")
	str(&cfg.StyleOptions, "XIIM_MASK_STYLES")
	str(&cfg.LogLevel, "LOG_LEVEL")

	if port := getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.ListenAddr = ":" + port
	}
	return nil
}

// loadConfig layers the env file (XIIM_ENV_FILE, default .env) and the
// process environment over the defaults.
func loadConfig() (Config, error) {
	cfg := DefaultConfig()
	if f := os.Getenv("XIIM_ENV_FILE"); f != "" {
		cfg.EnvFile = f
	}
	if err := loadEnvFile(cfg.EnvFile); err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validateRegistry() error {
	switch c.Registry {
	case RegistrySQLite, RegistryMemory, RegistryRedis:
		return nil
	default:
		return fmt.Errorf("unknown registry backend %q (want sqlite, memory or redis)", c.Registry)
	}
}
