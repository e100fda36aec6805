// Package transform composes the URL transformation string that turns a
// source image into a masked, varied derivative.
//
// The output follows Cloudinary's URL grammar: comma-separated parameters
// form one component, components are separated by "/", and a component is
// applied on top of the result of the previous one. A Spec is built from up
// to three segments, always in this order:
//
//	variation  rotation, colour shifts, crop
//	masking    one component per zone
//	title      optional text overlay
//
// Empty segments are omitted. Composition is a pure function of its inputs.
package transform

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xivix/xiim/title"
	"github.com/xivix/xiim/variation"
	"github.com/xivix/xiim/zones"
)

// ErrInvalidZone is returned for zone geometry the composer cannot render.
var ErrInvalidZone = errors.New("invalid zone geometry")

// MaxCoordinate is the largest pixel origin, extent or far edge accepted in
// a zone.
const MaxCoordinate = math.MaxInt32

// Spec is a composed transformation string.
type Spec string

func (s Spec) String() string { return string(s) }

// Composer builds Specs. Parameters are clamped to Policy before use.
type Composer struct {
	Policy  variation.Policy
	Overlay OverlayStyle
}

// NewComposer returns a Composer with the default policy and overlay style.
func NewComposer() *Composer {
	return &Composer{Policy: variation.DefaultPolicy(), Overlay: DefaultOverlayStyle()}
}

// Compose builds the transformation for one derivative. overlayText is
// summarized into a label; an empty overlayText adds no title segment, and a
// label that fails title.Valid is replaced by title.Placeholder.
func (c *Composer) Compose(params variation.Params, zs []zones.Zone, style Style, overlayText string) (Spec, error) {
	masking, err := MaskingSegment(zs, style)
	if err != nil {
		return "", err
	}

	segments := []string{VariationSegment(params.Clamp(c.Policy))}
	if masking != "" {
		segments = append(segments, masking)
	}
	if overlayText != "" {
		label := title.Summarize(overlayText)
		if !title.Valid(label) {
			label = title.Placeholder
		}
		segments = append(segments, c.Overlay.Segment(label))
	}
	return Spec(strings.Join(segments, "/")), nil
}

// VariationSegment renders variation parameters. Rotation, brightness,
// contrast and gamma are omitted when they are zero; the crop is always
// present.
func VariationSegment(p variation.Params) string {
	var parts []string
	if p.Rotation != 0 {
		parts = append(parts, "a_"+formatFloat(p.Rotation))
	}
	if p.Brightness != 0 {
		parts = append(parts, "e_brightness:"+strconv.Itoa(p.Brightness))
	}
	if p.Contrast != 0 {
		parts = append(parts, "e_contrast:"+strconv.Itoa(p.Contrast))
	}
	if delta := int(math.Round((p.Gamma - 1) * 100)); delta != 0 {
		parts = append(parts, "e_gamma:"+strconv.Itoa(delta))
	}
	gravity := p.CropGravity
	if gravity == "" {
		gravity = variation.GravityCenter
	}
	scale := formatFloat(p.CropScale)
	parts = append(parts, "c_crop,w_"+scale+",h_"+scale+",g_"+gravity)
	return strings.Join(parts, "/")
}

// MaskingSegment renders one component per zone, in input order. Zones may
// overlap; each is masked independently.
func MaskingSegment(zs []zones.Zone, style Style) (string, error) {
	if len(zs) == 0 {
		return "", nil
	}
	style = style.clamped()
	parts := make([]string, 0, len(zs))
	for i, z := range zs {
		r, err := pixelRect(z)
		if err != nil {
			return "", fmt.Errorf("zone %d (%s): %w", i, z.Type, err)
		}
		parts = append(parts, style.token(r))
	}
	return strings.Join(parts, "/"), nil
}

type intRect struct{ x, y, w, h int }

func pixelRect(z zones.Zone) (intRect, error) {
	for _, v := range []float64{z.X, z.Y, z.Width, z.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return intRect{}, ErrInvalidZone
		}
	}
	if z.Width < 0 || z.Height < 0 {
		return intRect{}, fmt.Errorf("%w: negative size %vx%v", ErrInvalidZone, z.Width, z.Height)
	}
	if z.X < 0 || z.Y < 0 {
		return intRect{}, fmt.Errorf("%w: negative origin (%v, %v)", ErrInvalidZone, z.X, z.Y)
	}
	if z.X+z.Width > MaxCoordinate || z.Y+z.Height > MaxCoordinate {
		return intRect{}, fmt.Errorf("%w: extends past %d", ErrInvalidZone, MaxCoordinate)
	}
	return intRect{
		x: int(math.Round(z.X)),
		y: int(math.Round(z.Y)),
		w: int(math.Round(z.Width)),
		h: int(math.Round(z.Height)),
	}, nil
}

// BuildURL assembles a delivery URL from the account's delivery base (e.g.
// "https://res.cloudinary.com/demo/image/upload"), a Spec and a public id.
func BuildURL(deliveryBase string, spec Spec, publicID string) string {
	base := strings.TrimSuffix(deliveryBase, "/")
	if spec == "" {
		return base + "/" + publicID
	}
	return base + "/" + string(spec) + "/" + publicID
}

// formatFloat prints the shortest representation, e.g. 1.5, -2, 0.82.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
