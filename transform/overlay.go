package transform

import (
	"strconv"
	"strings"
)

// OverlayStyle controls the rendering of the title overlay.
type OverlayStyle struct {
	Font       string
	Size       int
	Weight     string
	Color      string
	Background string
	Border     string
	Gravity    string
	OffsetY    int
}

// DefaultOverlayStyle is white bold text on a translucent navy badge with a
// blue border, centred near the top edge.
func DefaultOverlayStyle() OverlayStyle {
	return OverlayStyle{
		Font:       "NotoSansKR-Bold.otf",
		Size:       40,
		Weight:     "bold",
		Color:      "white",
		Background: "rgb:1a1a2e_80",
		Border:     "2px_solid_rgb:4a90d9",
		Gravity:    "north",
		OffsetY:    25,
	}
}

// Segment renders a text layer for label. The label is expected to be
// summarized already.
func (o OverlayStyle) Segment(label string) string {
	var b strings.Builder
	b.WriteString("l_text:")
	b.WriteString(o.Font)
	b.WriteString("_")
	b.WriteString(strconv.Itoa(o.Size))
	if o.Weight != "" {
		b.WriteString("_")
		b.WriteString(o.Weight)
	}
	b.WriteString(":")
	b.WriteString(EncodeText(label))
	b.WriteString(",co_")
	b.WriteString(o.Color)
	if o.Background != "" {
		b.WriteString(",b_")
		b.WriteString(o.Background)
	}
	if o.Border != "" {
		b.WriteString(",bo_")
		b.WriteString(o.Border)
	}
	b.WriteString("/fl_layer_apply,g_")
	b.WriteString(o.Gravity)
	b.WriteString(",y_")
	b.WriteString(strconv.Itoa(o.OffsetY))
	return b.String()
}

// EncodeText percent-encodes overlay text the way JavaScript's
// encodeURIComponent does, except that square brackets are kept literal.
// Commas and slashes are always escaped so the text cannot split the
// component.
func EncodeText(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if keepLiteral(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func keepLiteral(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()[]", c) >= 0
}
