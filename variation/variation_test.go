package variation

import (
	"math"
	mrand "math/rand/v2"
	"testing"
)

// fixedSource replays canned values.
type fixedSource struct {
	floats []float64
	ints   []int
}

func (f *fixedSource) Float64() float64 {
	v := f.floats[0]
	f.floats = f.floats[1:]
	return v
}

func (f *fixedSource) IntN(n int) int {
	v := f.ints[0]
	f.ints = f.ints[1:]
	return v % n
}

func decimals(v float64, places int) bool {
	scaled := v * math.Pow(10, float64(places))
	return math.Abs(scaled-math.Round(scaled)) < 1e-6
}

func TestGenerate_RangesHoldOverManyDraws(t *testing.T) {
	policy := DefaultPolicy()
	g := NewGenerator(policy, mrand.New(mrand.NewPCG(1, 2)))

	for i := 0; i < 10000; i++ {
		p := g.Generate()
		if p.Rotation < -3 || p.Rotation > 3 || !decimals(p.Rotation, 1) {
			t.Fatalf("draw %d: rotation %v out of range", i, p.Rotation)
		}
		if p.Brightness < -10 || p.Brightness > 10 {
			t.Fatalf("draw %d: brightness %d out of range", i, p.Brightness)
		}
		if p.Contrast < -10 || p.Contrast > 10 {
			t.Fatalf("draw %d: contrast %d out of range", i, p.Contrast)
		}
		if p.CropScale < 0.70 || p.CropScale > 0.90 || !decimals(p.CropScale, 2) {
			t.Fatalf("draw %d: crop %v out of range", i, p.CropScale)
		}
		if p.Gamma < 0.90 || p.Gamma > 1.10 || !decimals(p.Gamma, 2) {
			t.Fatalf("draw %d: gamma %v out of range", i, p.Gamma)
		}
		if p.CropGravity != GravityCenter {
			t.Fatalf("draw %d: gravity %q", i, p.CropGravity)
		}
	}
}

func TestGenerate_CoversIntegerEndpoints(t *testing.T) {
	g := NewGenerator(DefaultPolicy(), mrand.New(mrand.NewPCG(7, 9)))
	seen := map[int]bool{}
	for i := 0; i < 10000; i++ {
		seen[g.Generate().Brightness] = true
	}
	if !seen[-10] || !seen[10] {
		t.Fatalf("brightness endpoints never drawn: %v", seen)
	}
}

func TestGenerate_FixedSource(t *testing.T) {
	src := &fixedSource{
		floats: []float64{0.75, 0.6, 0.75},
		ints:   []int{6, 20},
	}
	p := NewGenerator(DefaultPolicy(), src).Generate()
	want := Params{
		Rotation:    1.5,
		Brightness:  -4,
		Contrast:    10,
		CropScale:   0.82,
		CropGravity: GravityCenter,
		Gamma:       1.05,
	}
	if p != want {
		t.Fatalf("Generate = %+v, want %+v", p, want)
	}
}

func TestClamp(t *testing.T) {
	p := Params{Rotation: 9, Brightness: -40, Contrast: 11, CropScale: 0.2, Gamma: math.NaN()}.Clamp(DefaultPolicy())
	if p.Rotation != 3 || p.Brightness != -10 || p.Contrast != 10 || p.CropScale != 0.70 {
		t.Fatalf("Clamp = %+v", p)
	}
	if math.Abs(p.Gamma-1.0) > 1e-9 {
		t.Fatalf("NaN gamma should clamp to midpoint, got %v", p.Gamma)
	}
	if p.CropGravity != GravityCenter {
		t.Fatalf("empty gravity should default to center, got %q", p.CropGravity)
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	bad := DefaultPolicy()
	bad.CropMin, bad.CropMax = 0.9, 0.7
	if err := bad.Validate(); err == nil {
		t.Fatal("expected inverted crop range to fail")
	}
}

func TestNewSecureSource(t *testing.T) {
	rng, err := NewSecureSource()
	if err != nil {
		t.Fatalf("NewSecureSource: %v", err)
	}
	if v := rng.Float64(); v < 0 || v >= 1 {
		t.Fatalf("Float64 out of range: %v", v)
	}
}
