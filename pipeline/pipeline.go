// Package pipeline runs generate requests end to end: it acquires a source
// image, resolves unused variant seeds, uploads and classifies the source,
// and composes one masked, varied delivery URL per requested variant.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xivix/xiim"
	"github.com/xivix/xiim/classifier"
	"github.com/xivix/xiim/cloudinary"
	"github.com/xivix/xiim/database"
	"github.com/xivix/xiim/fetch"
	"github.com/xivix/xiim/metrics"
	"github.com/xivix/xiim/perf"
	"github.com/xivix/xiim/registry"
	"github.com/xivix/xiim/samples"
	"github.com/xivix/xiim/seed"
	"github.com/xivix/xiim/transform"
	"github.com/xivix/xiim/variation"
	"github.com/xivix/xiim/zones"
)

const (
	// DefaultClassifyTimeout bounds the classifier call.
	DefaultClassifyTimeout = 8 * time.Second

	// DefaultRawPrefix is the key prefix for archived sources.
	DefaultRawPrefix = "raw"

	// Source origins.
	OriginURL    = "url"
	OriginSample = "sample"

	// Zone fallback reasons.
	FallbackNoClassifier = "no_classifier"
	FallbackTimeout      = "timeout"
	FallbackError        = "error"
	FallbackNoZones      = "no_zones"

	slowStepThreshold = 2 * time.Second
)

var tracer = otel.Tracer("github.com/xivix/xiim/pipeline")

// Downloader fetches a source image by URL.
type Downloader interface {
	Download(ctx context.Context, url string) (*fetch.Result, error)
}

// SampleProvider loads an insurer's catalog sample.
type SampleProvider interface {
	Fetch(ctx context.Context, companyCode, keyword string) (*samples.Fetched, error)
	Catalog() *samples.Catalog
}

// Uploader stores the source with the rendering backend.
type Uploader interface {
	Upload(ctx context.Context, data []byte, fileName, contentType string) (*cloudinary.UploadResult, error)
	DeliveryBase() string
}

// Archiver keeps a copy of the raw source.
type Archiver interface {
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) error
}

// Detector finds sensitive regions in the source.
type Detector interface {
	Detect(ctx context.Context, sourceHash string, data []byte, mimeType string, d zones.Dimensions) (*classifier.Analysis, error)
}

// Registrar checks and records fingerprints.
type Registrar interface {
	DuplicateChecker
	Register(ctx context.Context, sourceHash, seed, requestID string) error
}

// RequestLog persists the per-request record.
type RequestLog interface {
	CreateImageLog(ctx context.Context, requestID, userID, keyword, targetCompany string) error
	CompleteImageLog(ctx context.Context, requestID string, c database.Completion) error
	FailImageLog(ctx context.Context, requestID, step, message string, processingTimeMS int64) error
}

// Config holds pipeline tunables.
type Config struct {
	MaxSeedRetries  int
	ClassifyTimeout time.Duration
	MinConfidence   float64
	StyleOptions    []transform.StyleOption
	Policy          variation.Policy
	Overlay         transform.OverlayStyle
	RawBucket       string
	RawPrefix       string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxSeedRetries:  MaxSeedRetries,
		ClassifyTimeout: DefaultClassifyTimeout,
		MinConfidence:   zones.DefaultMinConfidence,
		StyleOptions:    transform.DefaultStyleOptions(),
		Policy:          variation.DefaultPolicy(),
		Overlay:         transform.DefaultOverlayStyle(),
		RawPrefix:       DefaultRawPrefix,
	}
}

// Dependencies are the pipeline's collaborators. Downloader, Archiver,
// Detector, RequestLog and Metrics are optional.
type Dependencies struct {
	Downloader Downloader
	Samples    SampleProvider
	Uploader   Uploader
	Archiver   Archiver
	Detector   Detector
	Registry   Registrar
	RequestLog RequestLog
	Metrics    *metrics.Metrics
	Seeds      *seed.Generator

	// NewSource returns the random source for one variant's parameters.
	// Defaults to a crypto-seeded generator.
	NewSource func() (variation.Source, error)
}

// Pipeline runs generate requests.
type Pipeline struct {
	cfg      Config
	deps     Dependencies
	composer *transform.Composer
	resolver *SeedResolver
	logger   logrus.FieldLogger
	now      func() time.Time
}

// New creates a Pipeline.
func New(cfg Config, deps Dependencies, logger logrus.FieldLogger) (*Pipeline, error) {
	if deps.Samples == nil || deps.Uploader == nil || deps.Registry == nil {
		return nil, errors.New("pipeline requires samples, uploader and registry")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid variation policy: %w", err)
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = DefaultClassifyTimeout
	}
	if cfg.RawPrefix == "" {
		cfg.RawPrefix = DefaultRawPrefix
	}
	if deps.Seeds == nil {
		deps.Seeds = seed.New()
	}
	if deps.NewSource == nil {
		deps.NewSource = func() (variation.Source, error) { return variation.NewSecureSource() }
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "pipeline")

	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		composer: &transform.Composer{Policy: cfg.Policy, Overlay: cfg.Overlay},
		resolver: NewSeedResolver(deps.Seeds, deps.Registry, cfg.MaxSeedRetries, deps.Metrics, logger),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Catalog returns the insurer catalog the pipeline draws samples from.
func (p *Pipeline) Catalog() *samples.Catalog {
	return p.deps.Samples.Catalog()
}

// source is the acquired input image.
type source struct {
	data      []byte
	origin    string
	sourceURL string
	info      *fetch.Info
	hash      string
}

// Run executes one generate request. Failures are returned as
// *xiim.PipelineError.
func (p *Pipeline) Run(ctx context.Context, req xiim.GenerateRequest) (*xiim.GenerateResult, error) {
	start := p.now()
	if err := req.Validate(); err != nil {
		p.deps.Metrics.Run(database.StatusFailed)
		return nil, &xiim.PipelineError{Step: "validate", Code: xiim.CodeInvalidRequest, Err: err}
	}

	requestID := xiim.NewRequestID()
	ctx, span := tracer.Start(ctx, "xiim.generate", trace.WithAttributes(
		attribute.String("xiim.request_id", requestID),
		attribute.String("xiim.target_company", req.TargetCompany),
		attribute.Int("xiim.variation_count", req.VariationCount),
	))
	defer span.End()

	pm := perf.NewPipelineMetrics()
	ctx = perf.WithMetrics(ctx, pm)

	logger := p.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"user_id":    req.UserID,
		"company":    req.TargetCompany,
	})
	logger.WithField("keyword", req.Keyword).Info("generate request started")

	if p.deps.RequestLog != nil {
		if err := p.deps.RequestLog.CreateImageLog(ctx, requestID, req.UserID, req.Keyword, req.TargetCompany); err != nil {
			logger.WithError(err).Warn("failed to create request log")
		}
	}

	result, completion, err := p.run(ctx, requestID, req, logger)
	elapsed := p.now().Sub(start)
	pm.TotalDuration = elapsed

	if err != nil {
		var pe *xiim.PipelineError
		if !errors.As(err, &pe) {
			pe = &xiim.PipelineError{Step: "pipeline", Code: xiim.CodePipelineError, Err: err}
		}
		span.RecordError(pe)
		span.SetStatus(codes.Error, pe.Code)
		p.deps.Metrics.Run(database.StatusFailed)
		logger.WithError(pe.Err).WithFields(logrus.Fields{
			"step": pe.Step,
			"code": pe.Code,
		}).Error("generate request failed")
		p.writeLog(ctx, logger, func(ctx context.Context, l RequestLog) error {
			return l.FailImageLog(ctx, requestID, pe.Step, pe.Err.Error(), elapsed.Milliseconds())
		})
		return nil, pe
	}

	result.ProcessingMS = elapsed.Milliseconds()
	result.CompletedAt = p.now()
	completion.ProcessingTimeMS = result.ProcessingMS
	p.writeLog(ctx, logger, func(ctx context.Context, l RequestLog) error {
		return l.CompleteImageLog(ctx, requestID, *completion)
	})

	p.deps.Metrics.Run(database.StatusCompleted)
	span.SetStatus(codes.Ok, "")
	logger.WithFields(logrus.Fields{
		"variants":    len(result.Variants),
		"duration_ms": result.ProcessingMS,
	}).Info("generate request completed")
	logger.Debug(pm.Summary())
	return result, nil
}

func (p *Pipeline) writeLog(ctx context.Context, logger logrus.FieldLogger, fn func(context.Context, RequestLog) error) {
	if p.deps.RequestLog == nil {
		return
	}
	_ = p.step(ctx, perf.StepLogWrite, func(ctx context.Context) error {
		if err := fn(ctx, p.deps.RequestLog); err != nil {
			logger.WithError(err).Warn("failed to update request log")
		}
		return nil
	})
}

// step times fn, records it and wraps it in a span.
func (p *Pipeline) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "xiim."+name)
	defer span.End()

	timer := perf.Start(name, p.logger)
	err := fn(ctx)
	d := timer.StopWithThreshold(slowStepThreshold)

	if pm := perf.MetricsFromContext(ctx); pm != nil {
		pm.Record(name, d)
	}
	p.deps.Metrics.Step(name, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Pipeline) run(ctx context.Context, requestID string, req xiim.GenerateRequest, logger logrus.FieldLogger) (*xiim.GenerateResult, *database.Completion, error) {
	// Acquire the source.
	var src *source
	err := p.step(ctx, perf.StepAcquire, func(ctx context.Context) error {
		var err error
		src, err = p.acquire(ctx, req, logger)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	// Inspect and hash.
	err = p.step(ctx, perf.StepInspect, func(context.Context) error {
		info, err := fetch.Inspect(src.data)
		if err != nil {
			return &xiim.PipelineError{Step: perf.StepInspect, Code: xiim.CodeSourceUnavailable, Err: err}
		}
		src.info = info
		src.hash = xiim.SourceHash(src.data)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	dims := src.info.Dimensions.OrDefault()
	logger = logger.WithField("source_hash", src.hash)
	logger.WithFields(logrus.Fields{
		"origin":          src.origin,
		"width":           src.info.Dimensions.Width,
		"height":          src.info.Dimensions.Height,
		"perceptual_hash": src.info.PerceptualHash,
	}).Info("source acquired")

	// Resolve one seed per variant.
	resolutions := make([]SeedResolution, 0, req.VariationCount)
	err = p.step(ctx, perf.StepSeed, func(ctx context.Context) error {
		for range req.VariationCount {
			res, err := p.resolver.Resolve(ctx, req.UserID, src.hash)
			if err != nil {
				return &xiim.PipelineError{Step: perf.StepSeed, Code: xiim.CodeEntropyFailure, Err: err}
			}
			resolutions = append(resolutions, res)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	// Upload, archive and classify concurrently.
	var (
		wg        sync.WaitGroup
		upload    *cloudinary.UploadResult
		uploadErr error
		rawKey    string
		analysis  *classifier.Analysis
		fallback  string
	)
	ext := "." + string(src.info.Format)

	wg.Add(1)
	go func() {
		defer wg.Done()
		uploadErr = p.step(ctx, perf.StepUpload, func(ctx context.Context) error {
			var err error
			upload, err = p.deps.Uploader.Upload(ctx, src.data, requestID+ext, src.info.MIMEType)
			return err
		})
	}()

	if p.deps.Archiver != nil && p.cfg.RawBucket != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("%s/%s/%s%s", p.cfg.RawPrefix, p.now().UTC().Format("2006/01/02"), requestID, ext)
			err := p.step(ctx, perf.StepArchive, func(ctx context.Context) error {
				return p.deps.Archiver.PutObject(ctx, p.cfg.RawBucket, key, src.data, src.info.MIMEType, map[string]string{
					"request-id":  requestID,
					"source-hash": src.hash,
					"origin":      src.origin,
				})
			})
			if err != nil {
				logger.WithError(err).WithField("key", key).Warn("failed to archive raw source")
				return
			}
			rawKey = key
		}()
	}

	if p.deps.Detector != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, p.cfg.ClassifyTimeout)
			defer cancel()
			err := p.step(cctx, perf.StepClassify, func(cctx context.Context) error {
				var err error
				analysis, err = p.deps.Detector.Detect(cctx, src.hash, src.data, src.info.MIMEType, dims)
				return err
			})
			if err != nil {
				fallback = FallbackError
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
					fallback = FallbackTimeout
				}
				logger.WithError(err).WithField("reason", fallback).Warn("classification unavailable, using default zones")
			}
		}()
	} else {
		fallback = FallbackNoClassifier
	}

	wg.Wait()

	if uploadErr != nil {
		return nil, nil, &xiim.PipelineError{Step: perf.StepUpload, Code: xiim.CodeUploadFailed, Err: uploadErr}
	}

	// Zones.
	var detected []zones.Zone
	if analysis != nil {
		detected = analysis.Zones
		if pm := perf.MetricsFromContext(ctx); pm != nil {
			pm.ClassifierCached = analysis.Cached
		}
	}
	zs, usedDefault := zones.Select(detected, p.cfg.MinConfidence, dims)
	if usedDefault {
		if fallback == "" {
			fallback = FallbackNoZones
		}
		p.deps.Metrics.ZoneFallback(fallback)
	}

	// Variation, style and composition.
	styleSource, err := p.deps.NewSource()
	if err != nil {
		return nil, nil, &xiim.PipelineError{Step: perf.StepCompose, Code: xiim.CodeEntropyFailure, Err: err}
	}
	style := transform.SelectStyle(styleSource, p.cfg.StyleOptions)

	overlayText := ""
	if req.WithTitle {
		overlayText = req.Keyword
	}

	deliveryBase := p.deps.Uploader.DeliveryBase()
	variants := make([]xiim.Variant, 0, len(resolutions))
	var firstParams variation.Params
	err = p.step(ctx, perf.StepCompose, func(context.Context) error {
		for i, res := range resolutions {
			rng, err := p.deps.NewSource()
			if err != nil {
				return &xiim.PipelineError{Step: perf.StepCompose, Code: xiim.CodeEntropyFailure, Err: err}
			}
			params := variation.NewGenerator(p.cfg.Policy, rng).Generate()
			if i == 0 {
				firstParams = params
			}
			spec, err := p.composer.Compose(params, zs, style, overlayText)
			if err != nil {
				return &xiim.PipelineError{Step: perf.StepCompose, Code: xiim.CodeComposeFailed, Err: err}
			}
			variants = append(variants, xiim.Variant{
				Seed:          res.Seed,
				Fingerprint:   xiim.Fingerprint(src.hash, res.Seed),
				Transform:     spec.String(),
				FinalURL:      transform.BuildURL(deliveryBase, spec, upload.PublicID),
				SeedExhausted: res.Exhausted,
			})
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	// Register fingerprints. Failures never fail the request.
	_ = p.step(ctx, perf.StepRegister, func(ctx context.Context) error {
		for _, v := range variants {
			err := p.deps.Registry.Register(ctx, src.hash, v.Seed, requestID)
			switch {
			case err == nil:
			case errors.Is(err, registry.ErrFingerprintExists):
				p.deps.Metrics.RegisterConflict()
				logger.WithField("seed", v.Seed).Warn("fingerprint registered concurrently by another request")
			default:
				logger.WithError(err).WithField("seed", v.Seed).Error("failed to register fingerprint")
			}
		}
		return nil
	})

	result := &xiim.GenerateResult{
		RequestID:     requestID,
		SourceHash:    src.hash,
		SourceOrigin:  src.origin,
		InsuranceType: p.deps.Samples.Catalog().InsuranceType(req.TargetCompany),
		MaskedZones:   len(zs),
		ZonesDefault:  usedDefault,
		Variants:      variants,
	}

	completion := &database.Completion{
		SourceOrigin:    src.origin,
		SourceURL:       src.sourceURL,
		SourceHash:      src.hash,
		PerceptualHash:  src.info.PerceptualHash,
		RawKey:          rawKey,
		PublicID:        upload.PublicID,
		InsuranceType:   result.InsuranceType,
		VariantSeed:     variants[0].Seed,
		FinalURL:        variants[0].FinalURL,
		TransformSpec:   variants[0].Transform,
		MaskingZones:    marshal(zs),
		MaskingStyle:    marshal(style),
		VariationParams: marshal(firstParams),
		Variants:        marshal(variants),
	}
	return result, completion, nil
}

// acquire downloads req.SourceURL when given, falling back to the insurer's
// catalog sample.
func (p *Pipeline) acquire(ctx context.Context, req xiim.GenerateRequest, logger logrus.FieldLogger) (*source, error) {
	if req.SourceURL != "" && p.deps.Downloader != nil {
		res, err := p.deps.Downloader.Download(ctx, req.SourceURL)
		if err == nil {
			p.deps.Metrics.SourceOrigin(OriginURL)
			return &source{data: res.Data, origin: OriginURL, sourceURL: req.SourceURL}, nil
		}
		logger.WithError(err).WithField("url", req.SourceURL).Warn("source download failed, falling back to catalog sample")
	}

	sample, err := p.deps.Samples.Fetch(ctx, req.TargetCompany, req.Keyword)
	if err != nil {
		return nil, &xiim.PipelineError{Step: perf.StepAcquire, Code: xiim.CodeSourceUnavailable, Err: err}
	}
	p.deps.Metrics.SourceOrigin(OriginSample)
	return &source{data: sample.Data, origin: OriginSample, sourceURL: "r2://" + sample.Sample.Key}, nil
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
