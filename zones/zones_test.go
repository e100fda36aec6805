package zones

import (
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestParseType(t *testing.T) {
	cases := map[string]Type{
		"name":      TypeName,
		"idNumber":  TypeIDNumber,
		"ID Number": TypeIDNumber,
		"id-number": TypeIDNumber,
		" logo ":    TypeLogo,
		"signature": TypeOther,
		"":          TypeOther,
	}
	for in, want := range cases {
		if got := ParseType(in); got != want {
			t.Errorf("ParseType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPercentBox_Pixels(t *testing.T) {
	r := PercentBox{X: 10, Y: 5, Width: 50, Height: 25}.Pixels(Dimensions{Width: 1000, Height: 2000})
	if !near(r.X, 100) || !near(r.Y, 100) || !near(r.Width, 500) || !near(r.Height, 500) {
		t.Fatalf("Pixels = %+v", r)
	}
}

func TestNormalizedBox_Pixels(t *testing.T) {
	// box_2d order is [ymin, xmin, ymax, xmax] on a 0-1000 grid.
	r := NormalizedBox{YMin: 100, XMin: 200, YMax: 300, XMax: 700}.Pixels(Dimensions{Width: 1200, Height: 1600})
	if !near(r.X, 240) || !near(r.Y, 160) || !near(r.Width, 600) || !near(r.Height, 320) {
		t.Fatalf("Pixels = %+v", r)
	}

	// Swapped corners describe the same box.
	swapped := NormalizedBox{YMin: 300, XMin: 700, YMax: 100, XMax: 200}.Pixels(Dimensions{Width: 1200, Height: 1600})
	if swapped != r {
		t.Fatalf("swapped corners = %+v, want %+v", swapped, r)
	}
}

func TestNormalize_ClipsAndDrops(t *testing.T) {
	d := Dimensions{Width: 100, Height: 100}
	dets := []Detection{
		{Label: "name", Box: PixelBox{X: -10, Y: 10, Width: 30, Height: 10}, Confidence: 0.9},
		{Label: "phone", Box: PixelBox{X: 90, Y: 90, Width: 50, Height: 50}},
		{Label: "logo", Box: PixelBox{X: 150, Y: 0, Width: 10, Height: 10}, Confidence: 0.8},
		{Label: "address", Box: PixelBox{X: 0, Y: 0, Width: -5, Height: 10}, Confidence: 0.8},
		{Label: "premium", Box: PixelBox{X: math.NaN(), Y: 0, Width: 10, Height: 10}},
		{Label: "other"},
	}
	got := Normalize(dets, d)
	if len(got) != 2 {
		t.Fatalf("expected 2 zones, got %d: %+v", len(got), got)
	}

	name := got[0]
	if name.Type != TypeName || name.X != 0 || name.Width != 20 || name.Confidence != 0.9 {
		t.Fatalf("name zone = %+v", name)
	}

	phone := got[1]
	if phone.X != 90 || phone.Width != 10 || phone.Height != 10 {
		t.Fatalf("phone zone = %+v", phone)
	}
	if phone.Confidence != DefaultConfidence {
		t.Fatalf("missing confidence should default to %v, got %v", DefaultConfidence, phone.Confidence)
	}
}

func TestNormalize_UsesDefaultDimensions(t *testing.T) {
	got := Normalize([]Detection{{Label: "name", Box: PercentBox{X: 50, Y: 50, Width: 10, Height: 10}, Confidence: 1}}, Dimensions{})
	if len(got) != 1 || got[0].X != 600 || got[0].Y != 800 {
		t.Fatalf("Normalize with zero dims = %+v", got)
	}
}

func TestFilterByConfidence(t *testing.T) {
	zs := []Zone{
		{Type: TypeName, Confidence: 0.49},
		{Type: TypeLogo, Confidence: 0.5},
		{Type: TypePhone, Confidence: 0.95},
	}
	got := FilterByConfidence(zs, DefaultMinConfidence)
	if len(got) != 2 || got[0].Type != TypeLogo || got[1].Type != TypePhone {
		t.Fatalf("FilterByConfidence = %+v", got)
	}
}

func TestDefaultLayout(t *testing.T) {
	got := DefaultLayout(DefaultDimensions)
	if len(got) != 3 {
		t.Fatalf("expected 3 default zones, got %d", len(got))
	}
	want := []Zone{
		{Type: TypeName, X: 60, Y: 32, Width: 360, Height: 80},
		{Type: TypeLogo, X: 840, Y: 32, Width: 300, Height: 128},
		{Type: TypePhone, X: 60, Y: 1440, Width: 480, Height: 128},
	}
	for i, w := range want {
		g := got[i]
		if g.Type != w.Type || !near(g.X, w.X) || !near(g.Y, w.Y) || !near(g.Width, w.Width) || !near(g.Height, w.Height) {
			t.Errorf("zone %d = %+v, want %+v", i, g, w)
		}
		if g.Confidence != DefaultConfidence {
			t.Errorf("zone %d confidence = %v", i, g.Confidence)
		}
	}
}

func TestSelect_FallsBack(t *testing.T) {
	zs, fallback := Select([]Zone{{Type: TypeName, Confidence: 0.1}}, DefaultMinConfidence, DefaultDimensions)
	if !fallback || len(zs) != 3 {
		t.Fatalf("expected default layout, got fallback=%v zones=%d", fallback, len(zs))
	}

	zs, fallback = Select([]Zone{{Type: TypeName, Confidence: 0.9}}, DefaultMinConfidence, DefaultDimensions)
	if fallback || len(zs) != 1 {
		t.Fatalf("expected classified zone, got fallback=%v zones=%d", fallback, len(zs))
	}
}
