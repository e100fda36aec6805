// Package fetch downloads source images and inspects their content.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout bounds one download including the body read.
	DefaultTimeout = 8 * time.Second

	// DefaultMaxBytes caps the response body.
	DefaultMaxBytes = 20 * 1024 * 1024

	// DefaultMinBytes rejects placeholders and broken files.
	DefaultMinBytes = 10 * 1024

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxRedirects     = 3
)

var (
	ErrBlocked       = errors.New("image access blocked")
	ErrHTTPStatus    = errors.New("unexpected http status")
	ErrNotImage      = errors.New("response is not an image")
	ErrHTMLResponse  = errors.New("html page returned instead of image")
	ErrTooLarge      = errors.New("image exceeds size limit")
	ErrTooSmall      = errors.New("image below minimum size")
	ErrInvalidFormat = errors.New("unrecognized image format")
)

// Config configures a Downloader.
type Config struct {
	Timeout   time.Duration
	MaxBytes  int64
	MinBytes  int
	UserAgent string
}

// DefaultConfig returns the download limits used by the pipeline.
func DefaultConfig() Config {
	return Config{
		Timeout:   DefaultTimeout,
		MaxBytes:  DefaultMaxBytes,
		MinBytes:  DefaultMinBytes,
		UserAgent: defaultUserAgent,
	}
}

// Result is a downloaded image.
type Result struct {
	Data     []byte
	MIMEType string
	Format   Format
}

// Downloader fetches images over HTTP.
type Downloader struct {
	cfg    Config
	client *http.Client
	logger logrus.FieldLogger
}

// NewDownloader creates a Downloader. A nil client gets a redirect-limited default.
func NewDownloader(cfg Config, client *http.Client, logger logrus.FieldLogger) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errors.New("too many redirects")
				}
				return nil
			},
		}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Downloader{cfg: cfg, client: client, logger: logger.WithField("component", "fetch")}
}

// Download fetches rawURL and verifies the body is a supported image.
func (d *Downloader) Download(ctx context.Context, rawURL string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("Accept", "image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")
	if ref := referer(rawURL); ref != "" {
		req.Header.Set("Referer", ref)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d", ErrBlocked, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: HTTP %d", ErrHTTPStatus, resp.StatusCode)
	}

	ct := mediaType(resp.Header.Get("Content-Type"))
	if ct == "text/html" || ct == "text/plain" || ct == "application/json" {
		return nil, fmt.Errorf("%w: content type %s", ErrNotImage, ct)
	}

	if resp.ContentLength > d.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > d.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, d.cfg.MaxBytes)
	}

	if looksLikeHTML(data) {
		d.logger.WithField("url", rawURL).Debug("html body returned for image request")
		return nil, ErrHTMLResponse
	}
	if len(data) < d.cfg.MinBytes {
		return nil, fmt.Errorf("%w: %d bytes (minimum %d)", ErrTooSmall, len(data), d.cfg.MinBytes)
	}

	format := Sniff(data)
	if format == FormatUnknown {
		return nil, ErrInvalidFormat
	}
	if strings.HasPrefix(ct, "image/") && ct != format.MIMEType() {
		d.logger.WithFields(logrus.Fields{
			"url":      rawURL,
			"header":   ct,
			"detected": format.MIMEType(),
		}).Debug("content type header disagrees with image bytes")
	}

	return &Result{Data: data, MIMEType: format.MIMEType(), Format: format}, nil
}

func mediaType(ct string) string {
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// referer returns the scheme and host of rawURL.
func referer(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}

var htmlPrefixes = [][]byte{
	[]byte("<!doctype"),
	[]byte("<html"),
	[]byte("<head"),
	[]byte("<body"),
	[]byte("<?xml"),
}

func looksLikeHTML(data []byte) bool {
	n := min(len(data), 512)
	head := bytes.ToLower(bytes.TrimSpace(data[:n]))
	for _, p := range htmlPrefixes {
		if bytes.HasPrefix(head, p) {
			return true
		}
	}
	return false
}
