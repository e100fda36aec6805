package classifier

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xivix/xiim/zones"
)

const percentResponse = "```json\n" + `{
  "success": true,
  "zones": [
    {"type": "name", "x_percent": 10, "y_percent": 5, "width_percent": 20, "height_percent": 2.5, "confidence": 0.95, "description": "customer"},
    {"type": "idNumber", "x_percent": 50, "y_percent": 50, "width_percent": 10, "height_percent": 10},
    {"type": "premium", "x_percent": 10}
  ],
  "insurance_info": {"company": "삼성생명", "product_name": "종신보험"}
}` + "\n```"

type fakeModel struct {
	text  string
	err   error
	calls int
}

func (f *fakeModel) Name() string { return "fake" }

func (f *fakeModel) Generate(context.Context, []byte, string) (string, error) {
	f.calls++
	return f.text, f.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestParse_PercentFormat(t *testing.T) {
	res, err := Parse(percentResponse)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Detections) != 3 {
		t.Fatalf("expected 3 detections, got %d", len(res.Detections))
	}
	if res.Detections[2].Box != nil {
		t.Fatal("incomplete percent box should have no geometry")
	}
	if res.InsuranceInfo == nil || res.InsuranceInfo.Company != "삼성생명" {
		t.Fatalf("insurance info = %+v", res.InsuranceInfo)
	}

	zs := zones.Normalize(res.Detections, zones.Dimensions{Width: 1000, Height: 2000})
	if len(zs) != 2 {
		t.Fatalf("expected 2 zones after normalization, got %d", len(zs))
	}
	if zs[0].Type != zones.TypeName || !near(zs[0].X, 100) || !near(zs[0].Y, 100) || !near(zs[0].Width, 200) || !near(zs[0].Height, 50) {
		t.Fatalf("zone 0 = %+v", zs[0])
	}
	if zs[1].Type != zones.TypeIDNumber || zs[1].Confidence != zones.DefaultConfidence {
		t.Fatalf("zone 1 = %+v", zs[1])
	}
}

func TestParse_Box2DArray(t *testing.T) {
	res, err := Parse(`[{"label": "phone", "box_2d": [900, 50, 980, 450], "confidence": 0.8}]`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	zs := zones.Normalize(res.Detections, zones.Dimensions{Width: 1000, Height: 1000})
	if len(zs) != 1 {
		t.Fatalf("expected 1 zone, got %d", len(zs))
	}
	z := zs[0]
	if z.Type != zones.TypePhone || !near(z.X, 50) || !near(z.Y, 900) || !near(z.Width, 400) || !near(z.Height, 80) {
		t.Fatalf("zone = %+v", z)
	}
}

func TestParse_Failures(t *testing.T) {
	if _, err := Parse("  "); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	if _, err := Parse("I could not analyze this image."); err == nil {
		t.Fatal("expected decode error for prose")
	}
	if _, err := Parse(`{"success": false, "error": "blurry"}`); err == nil {
		t.Fatal("expected reported failure")
	}
}

func TestClassifier_CachesParsedResponses(t *testing.T) {
	cache, err := OpenBoltCache(filepath.Join(t.TempDir(), "cls.db"), time.Hour, quietLogger())
	if err != nil {
		t.Fatalf("OpenBoltCache: %v", err)
	}
	defer cache.Close()

	model := &fakeModel{text: percentResponse}
	c := New(model, cache, quietLogger())
	ctx := context.Background()
	dims := zones.Dimensions{Width: 1000, Height: 2000}

	first, err := c.Detect(ctx, "abc", []byte("img"), "image/png", dims)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if first.Cached || len(first.Zones) != 2 || first.Dropped != 1 {
		t.Fatalf("first = %+v", first)
	}

	second, err := c.Detect(ctx, "abc", []byte("img"), "image/png", dims)
	if err != nil {
		t.Fatalf("Detect (cached): %v", err)
	}
	if !second.Cached || model.calls != 1 {
		t.Fatalf("expected cache hit, cached=%v calls=%d", second.Cached, model.calls)
	}
	if cache.Len() != 1 {
		t.Fatalf("cache entries = %d", cache.Len())
	}
}

func TestClassifier_DoesNotCacheFailures(t *testing.T) {
	cache, err := OpenBoltCache(filepath.Join(t.TempDir(), "cls.db"), 0, quietLogger())
	if err != nil {
		t.Fatalf("OpenBoltCache: %v", err)
	}
	defer cache.Close()

	model := &fakeModel{text: "not json"}
	c := New(model, cache, quietLogger())
	if _, err := c.Detect(context.Background(), "abc", nil, "image/png", zones.Dimensions{}); err == nil {
		t.Fatal("expected parse error")
	}
	if cache.Len() != 0 {
		t.Fatal("failed response was cached")
	}

	model.text, model.err = "", errors.New("quota exceeded")
	if _, err := c.Detect(context.Background(), "abc", nil, "image/png", zones.Dimensions{}); err == nil {
		t.Fatal("expected model error")
	}
}

func TestBoltCache_Expiry(t *testing.T) {
	cache, err := OpenBoltCache(filepath.Join(t.TempDir(), "cls.db"), time.Minute, quietLogger())
	if err != nil {
		t.Fatalf("OpenBoltCache: %v", err)
	}
	defer cache.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	cache.Set(context.Background(), "k", "v")
	if v, ok := cache.Get(context.Background(), "k"); !ok || v != "v" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
	now = now.Add(2 * time.Minute)
	if _, ok := cache.Get(context.Background(), "k"); ok {
		t.Fatal("expired entry served")
	}
}
