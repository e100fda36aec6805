package transform

import (
	"fmt"
	"strconv"
	"strings"
)

// StyleType is how a zone is obscured.
type StyleType string

const (
	StyleBlur     StyleType = "blur"
	StylePixelate StyleType = "pixelate"
	StyleSolid    StyleType = "solid"
)

// Intensity bounds accepted by the rendering backend.
const (
	MinBlur     = 100
	MaxBlur     = 2000
	MinPixelate = 5
	MaxPixelate = 50
)

// DefaultSolidColor fills solid overlays when no colour is given.
const DefaultSolidColor = "rgb:333333"

// Style is the masking treatment applied to every zone of one derivative.
type Style struct {
	Type      StyleType `json:"type"`
	Intensity int       `json:"intensity,omitempty"`
	Color     string    `json:"color,omitempty"`
}

func (s Style) clamped() Style {
	switch s.Type {
	case StylePixelate:
		s.Intensity = max(MinPixelate, min(MaxPixelate, s.Intensity))
	case StyleSolid:
		if s.Color == "" {
			s.Color = DefaultSolidColor
		}
	default:
		s.Type = StyleBlur
		s.Intensity = max(MinBlur, min(MaxBlur, s.Intensity))
	}
	return s
}

func (s Style) token(r intRect) string {
	switch s.Type {
	case StylePixelate:
		return fmt.Sprintf("e_pixelate_region:%d,x_%d,y_%d,w_%d,h_%d", s.Intensity, r.x, r.y, r.w, r.h)
	case StyleSolid:
		return fmt.Sprintf("l_%s,w_%d,h_%d,c_scale/fl_layer_apply,x_%d,y_%d,g_north_west", s.Color, r.w, r.h, r.x, r.y)
	default:
		return fmt.Sprintf("e_blur_region:%d,x_%d,y_%d,w_%d,h_%d", s.Intensity, r.x, r.y, r.w, r.h)
	}
}

// StyleOption is one candidate treatment with an inclusive intensity range.
type StyleOption struct {
	Type StyleType
	Min  int
	Max  int
}

// DefaultStyleOptions are the treatments a request picks from uniformly:
// a moderate blur, a heavy blur and a coarse pixelation.
func DefaultStyleOptions() []StyleOption {
	return []StyleOption{
		{Type: StyleBlur, Min: 500, Max: 999},
		{Type: StyleBlur, Min: 800, Max: 1499},
		{Type: StylePixelate, Min: 10, Max: 29},
	}
}

// Rand is the random source used for style selection.
type Rand interface {
	IntN(n int) int
}

// SelectStyle picks one option uniformly, then an intensity uniformly from
// its range. With no options it falls back to DefaultStyleOptions.
func SelectStyle(rng Rand, options []StyleOption) Style {
	if len(options) == 0 {
		options = DefaultStyleOptions()
	}
	opt := options[rng.IntN(len(options))]
	lo, hi := opt.Min, opt.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	return Style{Type: opt.Type, Intensity: lo + rng.IntN(hi-lo+1)}
}

// ParseStyleOptions reads options written as "type:min-max" separated by
// commas, e.g. "blur:500-999,pixelate:10-29".
func ParseStyleOptions(s string) ([]StyleOption, error) {
	var out []StyleOption
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		typ, rng, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("style option %q: expected type:min-max", item)
		}
		lo, hi, ok := strings.Cut(rng, "-")
		if !ok {
			return nil, fmt.Errorf("style option %q: expected min-max range", item)
		}
		minV, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("style option %q: %w", item, err)
		}
		maxV, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("style option %q: %w", item, err)
		}
		st := StyleType(strings.ToLower(strings.TrimSpace(typ)))
		if st != StyleBlur && st != StylePixelate {
			return nil, fmt.Errorf("style option %q: unknown type %q", item, typ)
		}
		out = append(out, StyleOption{Type: st, Min: minV, Max: maxV})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no style options in %q", s)
	}
	return out, nil
}
