// Package variation samples the geometric and photometric parameters applied
// to each derivative.
//
// Every field is drawn independently and uniformly from a closed interval set
// by a Policy. Values are rounded to the precision the rendering backend
// accepts, so two parameter sets that print identically are identical.
package variation

import (
	"crypto/rand"
	"fmt"
	"math"
	mrand "math/rand/v2"
)

// GravityCenter is the only crop anchor currently produced.
const GravityCenter = "center"

// Params is one draw of variation parameters.
type Params struct {
	Rotation    float64 `json:"rotation"`
	Brightness  int     `json:"brightness"`
	Contrast    int     `json:"contrast"`
	CropScale   float64 `json:"crop_scale"`
	CropGravity string  `json:"crop_gravity"`
	Gamma       float64 `json:"gamma"`
}

// Policy bounds each parameter. All intervals are closed.
type Policy struct {
	// RotationMax bounds rotation to [-RotationMax, RotationMax] degrees.
	RotationMax float64
	// BrightnessMax bounds brightness to [-BrightnessMax, BrightnessMax].
	BrightnessMax int
	// ContrastMax bounds contrast to [-ContrastMax, ContrastMax].
	ContrastMax int
	CropMin     float64
	CropMax     float64
	GammaMin    float64
	GammaMax    float64
}

// DefaultPolicy returns the production ranges.
func DefaultPolicy() Policy {
	return Policy{
		RotationMax:   3.0,
		BrightnessMax: 10,
		ContrastMax:   10,
		CropMin:       0.70,
		CropMax:       0.90,
		GammaMin:      0.90,
		GammaMax:      1.10,
	}
}

// Validate rejects inverted or negative ranges.
func (p Policy) Validate() error {
	switch {
	case p.RotationMax < 0:
		return fmt.Errorf("rotation max must be >= 0, got %v", p.RotationMax)
	case p.BrightnessMax < 0 || p.ContrastMax < 0:
		return fmt.Errorf("brightness/contrast max must be >= 0")
	case p.CropMin <= 0 || p.CropMin > p.CropMax || p.CropMax > 1:
		return fmt.Errorf("crop range [%v, %v] must lie within (0, 1]", p.CropMin, p.CropMax)
	case p.GammaMin <= 0 || p.GammaMin > p.GammaMax:
		return fmt.Errorf("gamma range [%v, %v] is invalid", p.GammaMin, p.GammaMax)
	}
	return nil
}

// Source is the random source parameters are drawn from.
// *math/rand/v2.Rand satisfies it.
type Source interface {
	Float64() float64
	IntN(n int) int
}

// NewSecureSource returns a ChaCha8 generator seeded from crypto/rand.
// An error means the OS entropy source is unavailable.
func NewSecureSource() (*mrand.Rand, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("failed to seed parameter source: %w", err)
	}
	return mrand.New(mrand.NewChaCha8(seed)), nil
}

// Generator draws Params under a Policy.
type Generator struct {
	policy Policy
	rng    Source
}

// NewGenerator creates a Generator.
func NewGenerator(policy Policy, rng Source) *Generator {
	return &Generator{policy: policy, rng: rng}
}

// Generate draws one parameter set.
func (g *Generator) Generate() Params {
	p := g.policy
	return Params{
		Rotation:    Round(-p.RotationMax+g.rng.Float64()*2*p.RotationMax, 1),
		Brightness:  g.rng.IntN(2*p.BrightnessMax+1) - p.BrightnessMax,
		Contrast:    g.rng.IntN(2*p.ContrastMax+1) - p.ContrastMax,
		CropScale:   Round(p.CropMin+g.rng.Float64()*(p.CropMax-p.CropMin), 2),
		CropGravity: GravityCenter,
		Gamma:       Round(p.GammaMin+g.rng.Float64()*(p.GammaMax-p.GammaMin), 2),
	}
}

// Clamp forces every field into the policy's bounds. An empty gravity
// becomes center.
func (params Params) Clamp(p Policy) Params {
	params.Rotation = clampFloat(params.Rotation, -p.RotationMax, p.RotationMax)
	params.Brightness = clampInt(params.Brightness, -p.BrightnessMax, p.BrightnessMax)
	params.Contrast = clampInt(params.Contrast, -p.ContrastMax, p.ContrastMax)
	params.CropScale = clampFloat(params.CropScale, p.CropMin, p.CropMax)
	params.Gamma = clampFloat(params.Gamma, p.GammaMin, p.GammaMax)
	if params.CropGravity == "" {
		params.CropGravity = GravityCenter
	}
	return params
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo + (hi-lo)/2
	}
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
