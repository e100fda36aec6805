package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xivix/xiim/classifier"
	"github.com/xivix/xiim/cloudinary"
	"github.com/xivix/xiim/database"
	"github.com/xivix/xiim/fetch"
	"github.com/xivix/xiim/metrics"
	"github.com/xivix/xiim/pipeline"
	"github.com/xivix/xiim/registry"
	"github.com/xivix/xiim/s3"
	"github.com/xivix/xiim/safeguards"
	"github.com/xivix/xiim/samples"
	"github.com/xivix/xiim/transform"
)

// Dependencies holds all external dependencies.
type Dependencies struct {
	DB       *database.DB
	Redis    *redis.Client
	Registry *registry.Registry
	S3Client *s3.Client
	Cache    *classifier.BoltCache
	Metrics  *metrics.Metrics
	Pipeline *pipeline.Pipeline
	Health   *safeguards.DependencyHealthChecker
}

// Close closes all dependencies.
func (d *Dependencies) Close() {
	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			log.WithError(err).Warn("failed to close classifier cache")
		}
	}
	if d.Redis != nil {
		d.Redis.Close()
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

func openDatabase(cfg Config) (*database.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	dbCfg := database.DefaultConfig()
	dbCfg.Path = cfg.DBPath
	db, err := database.New(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// openRegistry builds the fingerprint registry on the configured backend.
// The SQLite backend shares db.
func openRegistry(ctx context.Context, cfg Config, db *database.DB, m *metrics.Metrics) (*registry.Registry, *redis.Client, error) {
	if err := cfg.validateRegistry(); err != nil {
		return nil, nil, err
	}

	var store registry.Store
	var rdb *redis.Client
	switch cfg.Registry {
	case RegistrySQLite:
		store = db
	case RegistryMemory:
		mem, err := registry.NewMemStore()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create memory registry: %w", err)
		}
		log.Warn("using in-memory fingerprint registry, duplicates are forgotten on restart")
		store = mem
	case RegistryRedis:
		rdb = redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPass,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		store = registry.NewRedisStore(rdb, cfg.RedisPrefix)
	}

	log.WithField("backend", cfg.Registry).Info("fingerprint registry ready")
	return registry.New(store, log, m), rdb, nil
}

func newS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	s3Cfg := s3.DefaultConfig()
	s3Cfg.Endpoint = cfg.R2Endpoint
	s3Cfg.AccessKeyID = cfg.R2AccessKeyID
	s3Cfg.SecretAccessKey = cfg.R2SecretAccessKey
	client, err := s3.New(ctx, s3Cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create R2 client: %w", err)
	}
	client.SetLogger(log)
	return client, nil
}

// openClassifier returns nil when no Gemini key is configured; the pipeline
// then masks the default layout.
func openClassifier(ctx context.Context, cfg Config) (*classifier.Classifier, *classifier.BoltCache, error) {
	if cfg.GeminiAPIKey == "" {
		log.Warn("GEMINI_API_KEY not set, zone classification disabled")
		return nil, nil, nil
	}
	model, err := classifier.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, nil, err
	}

	var cache *classifier.BoltCache
	if cfg.ClassifierCache != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.ClassifierCache), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create classifier cache directory: %w", err)
		}
		cache, err = classifier.OpenBoltCache(cfg.ClassifierCache, cfg.ClassifierCacheTTL, log)
		if err != nil {
			return nil, nil, err
		}
	}
	if cache == nil {
		return classifier.New(model, nil, log), nil, nil
	}
	return classifier.New(model, cache, log), cache, nil
}

// initializeDependencies wires the pipeline and its collaborators.
func initializeDependencies(ctx context.Context, cfg Config) (*Dependencies, error) {
	deps := &Dependencies{Metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			deps.Close()
		}
	}()

	var err error
	if deps.DB, err = openDatabase(cfg); err != nil {
		return nil, err
	}
	if deps.Registry, deps.Redis, err = openRegistry(ctx, cfg, deps.DB, deps.Metrics); err != nil {
		return nil, err
	}
	if deps.S3Client, err = newS3Client(ctx, cfg); err != nil {
		return nil, err
	}

	detector, cache, err := openClassifier(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}
	deps.Cache = cache

	if !cfg.Cloudinary.Configured() {
		log.Warn("cloudinary credentials not set, uploads will fail")
	}
	uploader := cloudinary.New(cfg.Cloudinary, nil, log)

	pcfg := pipeline.DefaultConfig()
	pcfg.ClassifyTimeout = cfg.ClassifyTimeout
	pcfg.RawBucket = cfg.RawBucket
	if cfg.StyleOptions != "" {
		opts, err := transform.ParseStyleOptions(cfg.StyleOptions)
		if err != nil {
			return nil, fmt.Errorf("invalid masking styles: %w", err)
		}
		pcfg.StyleOptions = opts
	}

	pdeps := pipeline.Dependencies{
		Downloader: fetch.NewDownloader(fetch.DefaultConfig(), nil, log),
		Samples:    samples.NewProvider(samples.Default(), deps.S3Client, cfg.SampleBucket, log),
		Uploader:   uploader,
		Registry:   deps.Registry,
		RequestLog: deps.DB,
		Metrics:    deps.Metrics,
	}
	if detector != nil {
		pdeps.Detector = detector
	}
	if cfg.RawBucket != "" {
		pdeps.Archiver = deps.S3Client
	}
	if deps.Pipeline, err = pipeline.New(pcfg, pdeps, log); err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	deps.Health = safeguards.NewDependencyHealthChecker(3*time.Second, log)
	deps.Health.Register("database", deps.DB.Ping)
	probe := samples.Default().Companies()[0].Samples[0].Key
	deps.Health.Register("r2", func(ctx context.Context) error {
		exists, err := deps.S3Client.ObjectExists(ctx, cfg.SampleBucket, probe)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("sample %s missing from bucket %s", probe, cfg.SampleBucket)
		}
		return nil
	})
	if deps.Redis != nil {
		deps.Health.Register("redis", func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}

	ok = true
	return deps, nil
}
