package fetch

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/webp"

	"github.com/xivix/xiim/zones"
)

// Format is an image container recognized by its magic bytes.
type Format string

const (
	FormatUnknown Format = ""
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatGIF     Format = "gif"
	FormatWebP    Format = "webp"
)

// MIMEType returns the format's media type, or image/png for unknown input.
func (f Format) MIMEType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatGIF:
		return "image/gif"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Sniff identifies the image format from the leading bytes.
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return FormatJPEG
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return FormatPNG
	case len(data) >= 4 && string(data[:4]) == "GIF8":
		return FormatGIF
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return FormatWebP
	}
	return FormatUnknown
}

// Info describes decoded image content.
type Info struct {
	Format     Format
	MIMEType   string
	Dimensions zones.Dimensions
	// PerceptualHash is a dHash string, empty when the image cannot be decoded.
	PerceptualHash string
}

// Inspect reads the image header and computes a perceptual hash. Images that
// fail to decode keep zero dimensions; only unrecognized bytes are an error.
func Inspect(data []byte) (*Info, error) {
	format := Sniff(data)
	if format == FormatUnknown {
		return nil, ErrInvalidFormat
	}
	info := &Info{Format: format, MIMEType: format.MIMEType()}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return info, nil
	}
	info.Dimensions = zones.Dimensions{Width: cfg.Width, Height: cfg.Height}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return info, nil
	}
	if h, err := goimagehash.DifferenceHash(img); err == nil {
		info.PerceptualHash = h.ToString()
	}
	return info, nil
}

// Distance returns the Hamming distance between two perceptual hash strings.
func Distance(a, b string) (int, error) {
	ha, err := goimagehash.ImageHashFromString(a)
	if err != nil {
		return 0, fmt.Errorf("invalid hash %q: %w", a, err)
	}
	hb, err := goimagehash.ImageHashFromString(b)
	if err != nil {
		return 0, fmt.Errorf("invalid hash %q: %w", b, err)
	}
	return ha.Distance(hb)
}
