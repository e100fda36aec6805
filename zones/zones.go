// Package zones models the rectangular regions of a benefit document that
// must be obscured before a derivative is published.
//
// Classifiers report regions in different coordinate conventions. Those are
// modelled as Box variants and converted to absolute pixel rectangles at the
// ingestion boundary (Normalize), so everything downstream of this package
// only sees pixels.
package zones

import (
	"math"
	"strings"

	"github.com/iancoleman/strcase"
)

// Type classifies what a zone contains.
type Type string

const (
	TypeName     Type = "name"
	TypeLogo     Type = "logo"
	TypePremium  Type = "premium"
	TypePhone    Type = "phone"
	TypeIDNumber Type = "id_number"
	TypeAddress  Type = "address"
	TypeOther    Type = "other"
)

var knownTypes = map[Type]bool{
	TypeName: true, TypeLogo: true, TypePremium: true, TypePhone: true,
	TypeIDNumber: true, TypeAddress: true, TypeOther: true,
}

// ParseType maps a classifier label to a Type. Labels are compared in
// snake_case, so "idNumber", "ID Number" and "id-number" are all id_number.
// Unknown labels become other.
func ParseType(label string) Type {
	t := Type(strcase.ToSnake(strings.TrimSpace(label)))
	if knownTypes[t] {
		return t
	}
	return TypeOther
}

const (
	// DefaultConfidence is assigned when a classifier omits confidence.
	DefaultConfidence = 0.5
	// DefaultMinConfidence is the threshold below which zones are discarded.
	DefaultMinConfidence = 0.5
	// minZoneSize is the smallest edge, in pixels, a zone may keep after clamping.
	minZoneSize = 1.0
)

// Dimensions is the pixel size of a source image.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultDimensions is assumed when the source cannot be decoded.
var DefaultDimensions = Dimensions{Width: 1200, Height: 1600}

// OrDefault returns d, or DefaultDimensions when either edge is non-positive.
func (d Dimensions) OrDefault() Dimensions {
	if d.Width <= 0 || d.Height <= 0 {
		return DefaultDimensions
	}
	return d
}

// Rect is an absolute pixel rectangle anchored at its top-left corner.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Zone is one region to obscure, in pixels.
type Zone struct {
	Type        Type    `json:"type"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description,omitempty"`
}

// Rect returns the zone's geometry.
func (z Zone) Rect() Rect {
	return Rect{X: z.X, Y: z.Y, Width: z.Width, Height: z.Height}
}

// Box is a region in one of the coordinate conventions classifiers use.
type Box interface {
	// Pixels converts the box to an absolute rectangle on an image of size d.
	Pixels(d Dimensions) Rect
}

// PixelBox is already in absolute pixels.
type PixelBox Rect

func (b PixelBox) Pixels(Dimensions) Rect { return Rect(b) }

// PercentBox is expressed as percentages (0-100) of the image edges.
type PercentBox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func (b PercentBox) Pixels(d Dimensions) Rect {
	w, h := float64(d.Width), float64(d.Height)
	return Rect{
		X:      b.X / 100 * w,
		Y:      b.Y / 100 * h,
		Width:  b.Width / 100 * w,
		Height: b.Height / 100 * h,
	}
}

// NormalizedBox is a corner box on a 0-1000 grid, in the
// [ymin, xmin, ymax, xmax] order Gemini's box_2d uses.
type NormalizedBox struct {
	YMin float64
	XMin float64
	YMax float64
	XMax float64
}

func (b NormalizedBox) Pixels(d Dimensions) Rect {
	w, h := float64(d.Width), float64(d.Height)
	x0, x1 := math.Min(b.XMin, b.XMax), math.Max(b.XMin, b.XMax)
	y0, y1 := math.Min(b.YMin, b.YMax), math.Max(b.YMin, b.YMax)
	return Rect{
		X:      x0 / 1000 * w,
		Y:      y0 / 1000 * h,
		Width:  (x1 - x0) / 1000 * w,
		Height: (y1 - y0) / 1000 * h,
	}
}

// Detection is a classifier-reported region before normalization.
type Detection struct {
	Label       string
	Box         Box
	Confidence  float64
	Description string
}

// Normalize converts detections to pixel zones on an image of size d.
//
// Rectangles are clipped to the canvas. Detections without a box, with
// non-finite geometry, or left smaller than a pixel after clipping are
// dropped. Missing confidence becomes DefaultConfidence.
func Normalize(dets []Detection, d Dimensions) []Zone {
	d = d.OrDefault()
	out := make([]Zone, 0, len(dets))
	for _, det := range dets {
		if det.Box == nil {
			continue
		}
		r, ok := Clip(det.Box.Pixels(d), d)
		if !ok {
			continue
		}
		out = append(out, Zone{
			Type:        ParseType(det.Label),
			X:           r.X,
			Y:           r.Y,
			Width:       r.Width,
			Height:      r.Height,
			Confidence:  normalizeConfidence(det.Confidence),
			Description: det.Description,
		})
	}
	return out
}

// Clip intersects r with the canvas. It reports false when nothing usable
// remains.
func Clip(r Rect, d Dimensions) (Rect, bool) {
	for _, v := range []float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Rect{}, false
		}
	}
	if r.Width < 0 || r.Height < 0 {
		return Rect{}, false
	}
	w, h := float64(d.Width), float64(d.Height)
	x0 := math.Max(0, math.Min(w, r.X))
	y0 := math.Max(0, math.Min(h, r.Y))
	x1 := math.Max(0, math.Min(w, r.X+r.Width))
	y1 := math.Max(0, math.Min(h, r.Y+r.Height))
	if x1-x0 < minZoneSize || y1-y0 < minZoneSize {
		return Rect{}, false
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}, true
}

func normalizeConfidence(c float64) float64 {
	if math.IsNaN(c) || c <= 0 {
		return DefaultConfidence
	}
	return math.Min(c, 1)
}

// FilterByConfidence keeps zones whose confidence is at least min, in order.
func FilterByConfidence(zs []Zone, min float64) []Zone {
	out := make([]Zone, 0, len(zs))
	for _, z := range zs {
		if z.Confidence >= min {
			out = append(out, z)
		}
	}
	return out
}

// DefaultLayout returns the fallback zones used when no classification is
// available: the name band top-left, the insurer logo top-right and the
// contact line along the bottom.
func DefaultLayout(d Dimensions) []Zone {
	d = d.OrDefault()
	w, h := float64(d.Width), float64(d.Height)
	return []Zone{
		{Type: TypeName, X: w * 0.05, Y: h * 0.02, Width: w * 0.3, Height: h * 0.05, Confidence: DefaultConfidence},
		{Type: TypeLogo, X: w * 0.7, Y: h * 0.02, Width: w * 0.25, Height: h * 0.08, Confidence: DefaultConfidence},
		{Type: TypePhone, X: w * 0.05, Y: h * 0.9, Width: w * 0.4, Height: h * 0.08, Confidence: DefaultConfidence},
	}
}

// Select applies the confidence threshold and falls back to DefaultLayout
// when nothing survives. The second result reports whether the fallback was
// used.
func Select(zs []Zone, minConfidence float64, d Dimensions) ([]Zone, bool) {
	kept := FilterByConfidence(zs, minConfidence)
	if len(kept) == 0 {
		return DefaultLayout(d), true
	}
	return kept, false
}
