package fetch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 5), B: uint8(x ^ y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestDownloader() *Downloader {
	cfg := DefaultConfig()
	cfg.MinBytes = 0
	return NewDownloader(cfg, nil, quietLogger())
}

func TestDownload_Image(t *testing.T) {
	body := testPNG(t, 40, 30)
	var gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer srv.Close()

	res, err := newTestDownloader().Download(context.Background(), srv.URL+"/doc.png")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(res.Data, body) || res.Format != FormatPNG || res.MIMEType != "image/png" {
		t.Fatalf("unexpected result: format=%s mime=%s len=%d", res.Format, res.MIMEType, len(res.Data))
	}
	if gotReferer != srv.URL+"/" {
		t.Fatalf("Referer = %q", gotReferer)
	}
}

func TestDownload_Rejections(t *testing.T) {
	html := []byte("<!DOCTYPE html><html><body>blocked</body></html>")
	cases := []struct {
		name    string
		status  int
		ct      string
		body    []byte
		wantErr error
	}{
		{"forbidden", http.StatusForbidden, "text/html", html, ErrBlocked},
		{"not found", http.StatusNotFound, "image/png", nil, ErrHTTPStatus},
		{"html content type", http.StatusOK, "text/html; charset=utf-8", html, ErrNotImage},
		{"html body with image type", http.StatusOK, "image/png", html, ErrHTMLResponse},
		{"garbage", http.StatusOK, "image/png", []byte("not really an image at all"), ErrInvalidFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tc.ct)
				w.WriteHeader(tc.status)
				w.Write(tc.body)
			}))
			defer srv.Close()

			_, err := newTestDownloader().Download(context.Background(), srv.URL)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDownload_SizeLimits(t *testing.T) {
	body := testPNG(t, 64, 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer srv.Close()

	small := NewDownloader(Config{MaxBytes: 64}, nil, quietLogger())
	if _, err := small.Download(context.Background(), srv.URL); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}

	strict := NewDownloader(Config{MinBytes: len(body) + 1}, nil, quietLogger())
	if _, err := strict.Download(context.Background(), srv.URL); !errors.Is(err, ErrTooSmall) {
		t.Fatalf("expected ErrTooSmall, got %v", err)
	}
}

func TestSniff(t *testing.T) {
	cases := map[string]Format{
		"\xFF\xD8\xFF\xE0rest":         FormatJPEG,
		"\x89PNG\r\n\x1a\nrest":         FormatPNG,
		"GIF89a....":                    FormatGIF,
		"RIFF\x00\x00\x00\x00WEBPVP8 ": FormatWebP,
		"<html>":                        FormatUnknown,
		"":                              FormatUnknown,
	}
	for in, want := range cases {
		if got := Sniff([]byte(in)); got != want {
			t.Errorf("Sniff(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInspect(t *testing.T) {
	data := testPNG(t, 120, 80)
	info, err := Inspect(data)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.Dimensions.Width != 120 || info.Dimensions.Height != 80 {
		t.Fatalf("dimensions = %+v", info.Dimensions)
	}
	if !strings.HasPrefix(info.PerceptualHash, "d:") {
		t.Fatalf("perceptual hash = %q", info.PerceptualHash)
	}

	again, _ := Inspect(data)
	if d, err := Distance(info.PerceptualHash, again.PerceptualHash); err != nil || d != 0 {
		t.Fatalf("Distance(same) = %d, %v", d, err)
	}

	if _, err := Inspect([]byte("plain text")); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}

	truncated, err := Inspect(data[:16])
	if err != nil {
		t.Fatalf("truncated png should still be recognized: %v", err)
	}
	if truncated.Dimensions.Width != 0 || truncated.PerceptualHash != "" {
		t.Fatalf("truncated png decoded unexpectedly: %+v", truncated)
	}
}
