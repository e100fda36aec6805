package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xivix/xiim"
	"github.com/xivix/xiim/classifier"
	"github.com/xivix/xiim/cloudinary"
	"github.com/xivix/xiim/database"
	"github.com/xivix/xiim/fetch"
	"github.com/xivix/xiim/metrics"
	"github.com/xivix/xiim/registry"
	"github.com/xivix/xiim/samples"
	"github.com/xivix/xiim/seed"
	"github.com/xivix/xiim/variation"
	"github.com/xivix/xiim/zones"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 60, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 60; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 3), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// countingChecker reports the first dups lookups as duplicates.
type countingChecker struct {
	mu    sync.Mutex
	dups  int
	calls int
	seeds []string
}

func (c *countingChecker) CheckDuplicate(_ context.Context, _, s string) registry.Duplicate {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.seeds = append(c.seeds, s)
	if c.dups < 0 || c.calls <= c.dups {
		return registry.Duplicate{IsDuplicate: true, ExistingID: "vix_existing"}
	}
	return registry.Duplicate{}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

type fakeSamples struct {
	data []byte
	err  error
}

func (f *fakeSamples) Fetch(_ context.Context, company, _ string) (*samples.Fetched, error) {
	if f.err != nil {
		return nil, f.err
	}
	co, _ := samples.Default().Lookup(company)
	return &samples.Fetched{Data: f.data, ContentType: "image/png", Sample: co.Samples[0], Company: co}, nil
}

func (f *fakeSamples) Catalog() *samples.Catalog { return samples.Default() }

type fakeUploader struct {
	err   error
	names []string
	mu    sync.Mutex
}

func (f *fakeUploader) Upload(_ context.Context, _ []byte, name, _ string) (*cloudinary.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	if f.err != nil {
		return nil, f.err
	}
	return &cloudinary.UploadResult{PublicID: "xivix/raw/" + strings.TrimSuffix(name, ".png")}, nil
}

func (f *fakeUploader) DeliveryBase() string {
	return "https://res.cloudinary.com/demo/image/upload"
}

type fakeDetector struct {
	zones []zones.Zone
	err   error
	block bool
}

func (f *fakeDetector) Detect(ctx context.Context, _ string, _ []byte, _ string, _ zones.Dimensions) (*classifier.Analysis, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &classifier.Analysis{Zones: f.zones}, nil
}

type fakeDownloader struct {
	data []byte
	err  error
}

func (f *fakeDownloader) Download(context.Context, string) (*fetch.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fetch.Result{Data: f.data, MIMEType: "image/png", Format: fetch.FormatPNG}, nil
}

type fakeArchiver struct {
	keys atomic.Value
}

func (f *fakeArchiver) PutObject(_ context.Context, bucket, key string, _ []byte, _ string, _ map[string]string) error {
	f.keys.Store(bucket + "/" + key)
	return nil
}

// conflictRegistrar never reports duplicates but loses every registration race.
type conflictRegistrar struct{ registers atomic.Int32 }

func (*conflictRegistrar) CheckDuplicate(context.Context, string, string) registry.Duplicate {
	return registry.Duplicate{}
}

func (c *conflictRegistrar) Register(context.Context, string, string, string) error {
	c.registers.Add(1)
	return registry.ErrFingerprintExists
}

type fixture struct {
	pipeline *Pipeline
	deps     Dependencies
	store    *registry.MemStore
	db       *database.DB
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, mutate func(*Config, *Dependencies)) *fixture {
	t.Helper()
	store, err := registry.NewMemStore()
	if err != nil {
		t.Fatalf("NewMemStore: %v", err)
	}
	dbCfg := database.DefaultConfig()
	dbCfg.Path = filepath.Join(t.TempDir(), "xiim.db")
	db, err := database.New(dbCfg)
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := metrics.New()
	deps := Dependencies{
		Samples:    &fakeSamples{data: testPNG(t)},
		Uploader:   &fakeUploader{},
		Detector:   &fakeDetector{zones: []zones.Zone{{Type: zones.TypeName, X: 5, Y: 5, Width: 20, Height: 6, Confidence: 0.9}}},
		Registry:   registry.New(store, quietLogger(), m),
		RequestLog: db,
		Metrics:    m,
	}
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	p, err := New(cfg, deps, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{pipeline: p, deps: deps, store: store, db: db, metrics: m}
}

func request() xiim.GenerateRequest {
	return xiim.GenerateRequest{
		Keyword:       "30대 암보험 추천해줘",
		TargetCompany: "SAMSUNG_LIFE",
		UserID:        "user-1",
	}
}

func TestSeedResolver_ExhaustsAfterRetryBound(t *testing.T) {
	checker := &countingChecker{dups: -1}
	r := NewSeedResolver(seed.New(), checker, MaxSeedRetries, nil, quietLogger())

	res, err := r.Resolve(context.Background(), "user-1", "hash")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if checker.calls != MaxSeedRetries+1 {
		t.Fatalf("expected %d lookups, got %d", MaxSeedRetries+1, checker.calls)
	}
	if !res.Exhausted || res.Draws != MaxSeedRetries+1 {
		t.Fatalf("resolution = %+v", res)
	}
	if res.Seed != checker.seeds[len(checker.seeds)-1] {
		t.Fatal("exhausted resolution should keep the last drawn seed")
	}
	if !seed.Valid(res.Seed) {
		t.Fatalf("invalid seed %q", res.Seed)
	}
}

func TestSeedResolver_StopsAtFirstUnique(t *testing.T) {
	checker := &countingChecker{dups: 2}
	r := NewSeedResolver(seed.New(), checker, MaxSeedRetries, nil, quietLogger())

	res, err := r.Resolve(context.Background(), "user-1", "hash")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if checker.calls != 3 || res.Draws != 3 || res.Exhausted {
		t.Fatalf("calls=%d resolution=%+v", checker.calls, res)
	}
	if res.Seed != checker.seeds[2] {
		t.Fatal("resolution should return the first unique seed")
	}
}

func TestSeedResolver_NoCollision(t *testing.T) {
	checker := &countingChecker{}
	r := NewSeedResolver(seed.New(), checker, MaxSeedRetries, nil, quietLogger())
	res, err := r.Resolve(context.Background(), "user-1", "hash")
	if err != nil || res.Draws != 1 || checker.calls != 1 {
		t.Fatalf("res=%+v calls=%d err=%v", res, checker.calls, err)
	}
}

func TestSeedResolver_EntropyFailure(t *testing.T) {
	r := NewSeedResolver(seed.New(seed.WithEntropy(failingReader{})), &countingChecker{}, MaxSeedRetries, nil, quietLogger())
	if _, err := r.Resolve(context.Background(), "user-1", "hash"); !errors.Is(err, seed.ErrEntropy) {
		t.Fatalf("expected ErrEntropy, got %v", err)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	req := request()
	req.VariationCount = 2
	req.WithTitle = true

	res, err := f.pipeline.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.HasPrefix(res.RequestID, xiim.RequestIDPrefix) {
		t.Fatalf("request id = %s", res.RequestID)
	}
	if res.SourceOrigin != OriginSample || res.InsuranceType != "LIFE_19" {
		t.Fatalf("origin=%s type=%s", res.SourceOrigin, res.InsuranceType)
	}
	if res.ZonesDefault || res.MaskedZones != 1 {
		t.Fatalf("zones default=%v masked=%d", res.ZonesDefault, res.MaskedZones)
	}
	if len(res.Variants) != 2 || res.Variants[0].Seed == res.Variants[1].Seed {
		t.Fatalf("variants = %+v", res.Variants)
	}
	for _, v := range res.Variants {
		if !strings.HasPrefix(v.FinalURL, "https://res.cloudinary.com/demo/image/upload/") {
			t.Fatalf("final url = %s", v.FinalURL)
		}
		if !strings.HasSuffix(v.FinalURL, "/xivix/raw/"+res.RequestID) {
			t.Fatalf("final url does not end with public id: %s", v.FinalURL)
		}
		if !strings.Contains(v.Transform, "c_crop,") || !strings.Contains(v.Transform, "_region:") || !strings.Contains(v.Transform, "l_text:") {
			t.Fatalf("transform missing a segment: %s", v.Transform)
		}
		if v.Fingerprint != xiim.Fingerprint(res.SourceHash, v.Seed) {
			t.Fatal("fingerprint mismatch")
		}
	}
	if f.store.Len() != 2 {
		t.Fatalf("expected 2 registered fingerprints, got %d", f.store.Len())
	}

	log, err := f.db.GetImageLog(context.Background(), res.RequestID)
	if err != nil || log == nil {
		t.Fatalf("GetImageLog = %v, %v", log, err)
	}
	if log.Status != database.StatusCompleted || log.FinalURL != res.Variants[0].FinalURL || log.SourceHash != res.SourceHash {
		t.Fatalf("log = %+v", log)
	}
}

func TestRun_SecondRequestAvoidsRegisteredSeeds(t *testing.T) {
	f := newFixture(t, nil)
	first, err := f.pipeline.Run(context.Background(), request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := f.pipeline.Run(context.Background(), request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first.SourceHash != second.SourceHash {
		t.Fatal("same sample should hash identically")
	}
	if first.Variants[0].Fingerprint == second.Variants[0].Fingerprint {
		t.Fatal("second request reused a registered fingerprint")
	}
	if f.store.Len() != 2 {
		t.Fatalf("registered = %d", f.store.Len())
	}
}

func TestRun_UploadFailure(t *testing.T) {
	f := newFixture(t, func(_ *Config, d *Dependencies) {
		d.Uploader = &fakeUploader{err: errors.New("cloudinary down")}
	})
	_, err := f.pipeline.Run(context.Background(), request())

	var pe *xiim.PipelineError
	if !errors.As(err, &pe) || pe.Code != xiim.CodeUploadFailed {
		t.Fatalf("expected upload failure, got %v", err)
	}
	if f.store.Len() != 0 {
		t.Fatal("failed request registered a fingerprint")
	}
	logs, err := f.db.ListImageLogs(context.Background(), database.StatusFailed, 10)
	if err != nil || len(logs) != 1 || logs[0].ErrorStep != "upload" {
		t.Fatalf("failed logs = %+v, %v", logs, err)
	}
}

func TestRun_ClassifierTimeoutUsesDefaultZones(t *testing.T) {
	f := newFixture(t, func(c *Config, d *Dependencies) {
		c.ClassifyTimeout = 20 * time.Millisecond
		d.Detector = &fakeDetector{block: true}
	})
	res, err := f.pipeline.Run(context.Background(), request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.ZonesDefault || res.MaskedZones != len(zones.DefaultLayout(zones.Dimensions{})) {
		t.Fatalf("default=%v masked=%d", res.ZonesDefault, res.MaskedZones)
	}
}

func TestRun_LowConfidenceZonesFallBack(t *testing.T) {
	f := newFixture(t, func(_ *Config, d *Dependencies) {
		d.Detector = &fakeDetector{zones: []zones.Zone{{Type: zones.TypeName, X: 1, Y: 1, Width: 5, Height: 5, Confidence: 0.2}}}
	})
	res, err := f.pipeline.Run(context.Background(), request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.ZonesDefault {
		t.Fatal("expected default layout for low-confidence zones")
	}
}

func TestRun_DownloadFailureFallsBackToSample(t *testing.T) {
	archiver := &fakeArchiver{}
	f := newFixture(t, func(c *Config, d *Dependencies) {
		c.RawBucket = "xiim-raw"
		d.Downloader = &fakeDownloader{err: fetch.ErrHTMLResponse}
		d.Archiver = archiver
	})
	req := request()
	req.SourceURL = "https://example.com/doc.png"

	res, err := f.pipeline.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.SourceOrigin != OriginSample {
		t.Fatalf("origin = %s", res.SourceOrigin)
	}
	key, _ := archiver.keys.Load().(string)
	if !strings.HasPrefix(key, "xiim-raw/raw/") || !strings.HasSuffix(key, res.RequestID+".png") {
		t.Fatalf("archive key = %q", key)
	}
}

func TestRun_SourceURL(t *testing.T) {
	f := newFixture(t, func(_ *Config, d *Dependencies) {
		d.Downloader = &fakeDownloader{data: testPNG(t)}
	})
	req := request()
	req.SourceURL = "https://example.com/doc.png"
	res, err := f.pipeline.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.SourceOrigin != OriginURL {
		t.Fatalf("origin = %s", res.SourceOrigin)
	}
}

func TestRun_SourceUnavailable(t *testing.T) {
	f := newFixture(t, func(_ *Config, d *Dependencies) {
		d.Samples = &fakeSamples{err: samples.ErrNoSample}
	})
	_, err := f.pipeline.Run(context.Background(), request())
	var pe *xiim.PipelineError
	if !errors.As(err, &pe) || pe.Code != xiim.CodeSourceUnavailable || !errors.Is(err, samples.ErrNoSample) {
		t.Fatalf("expected SOURCE_UNAVAILABLE, got %v", err)
	}
}

func TestRun_RegisterConflictIsNotFatal(t *testing.T) {
	reg := &conflictRegistrar{}
	f := newFixture(t, func(_ *Config, d *Dependencies) {
		d.Registry = reg
	})
	res, err := f.pipeline.Run(context.Background(), request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Variants) != 1 || reg.registers.Load() != 1 {
		t.Fatalf("variants=%d registers=%d", len(res.Variants), reg.registers.Load())
	}
}

func TestRun_EntropyFailure(t *testing.T) {
	f := newFixture(t, func(_ *Config, d *Dependencies) {
		d.NewSource = func() (variation.Source, error) { return nil, errors.New("entropy unavailable") }
	})
	_, err := f.pipeline.Run(context.Background(), request())
	var pe *xiim.PipelineError
	if !errors.As(err, &pe) || pe.Code != xiim.CodeEntropyFailure {
		t.Fatalf("expected ENTROPY_FAILURE, got %v", err)
	}
}

func TestRun_SeedEntropyFailure(t *testing.T) {
	f := newFixture(t, func(_ *Config, d *Dependencies) {
		d.Seeds = seed.New(seed.WithEntropy(failingReader{}))
	})
	_, err := f.pipeline.Run(context.Background(), request())
	var pe *xiim.PipelineError
	if !errors.As(err, &pe) || pe.Code != xiim.CodeEntropyFailure || pe.Step != "seed" {
		t.Fatalf("expected seed ENTROPY_FAILURE, got %v", err)
	}
}

func TestRun_InvalidRequest(t *testing.T) {
	f := newFixture(t, nil)
	req := request()
	req.VariationCount = xiim.MaxVariationCount + 1
	_, err := f.pipeline.Run(context.Background(), req)
	var pe *xiim.PipelineError
	if !errors.As(err, &pe) || pe.Code != xiim.CodeInvalidRequest {
		t.Fatalf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(DefaultConfig(), Dependencies{}, quietLogger()); err == nil {
		t.Fatal("expected error without collaborators")
	}
}
