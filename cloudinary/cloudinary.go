// Package cloudinary uploads source images to the rendering backend and
// builds delivery URL bases for its transformation grammar.
package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	DefaultAPIBase      = "https://api.cloudinary.com/v1_1"
	DefaultDeliveryHost = "https://res.cloudinary.com"
	DefaultFolder       = "xivix/raw"

	// MaxUploadRetries bounds retries after the first upload attempt.
	MaxUploadRetries = 3
)

// ErrNotConfigured is returned when credentials are missing.
var ErrNotConfigured = errors.New("cloudinary credentials not configured")

// Config holds account credentials and endpoints.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string

	APIBase      string
	DeliveryHost string

	MaxRetries    int
	RetryInterval time.Duration
	Timeout       time.Duration
}

// DefaultConfig returns endpoint defaults; credentials come from the environment.
func DefaultConfig() Config {
	return Config{
		Folder:       DefaultFolder,
		APIBase:      DefaultAPIBase,
		DeliveryHost: DefaultDeliveryHost,
		MaxRetries:   MaxUploadRetries,
		Timeout:      30 * time.Second,
	}
}

// Configured reports whether upload credentials are present.
func (c Config) Configured() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// UploadResult identifies an uploaded asset.
type UploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Format    string `json:"format"`
}

// Client uploads images with signed requests.
type Client struct {
	cfg    Config
	http   *http.Client
	logger logrus.FieldLogger
	now    func() time.Time
}

// New creates a Client. A nil httpClient uses one bounded by cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger logrus.FieldLogger) *Client {
	def := DefaultConfig()
	if cfg.Folder == "" {
		cfg.Folder = def.Folder
	}
	if cfg.APIBase == "" {
		cfg.APIBase = def.APIBase
	}
	if cfg.DeliveryHost == "" {
		cfg.DeliveryHost = def.DeliveryHost
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.WithField("component", "cloudinary"),
		now:    time.Now,
	}
}

// DeliveryBase returns the delivery URL prefix for transformed images,
// e.g. https://res.cloudinary.com/<cloud>/image/upload.
func (c *Client) DeliveryBase() string {
	return DeliveryBase(c.cfg.DeliveryHost, c.cfg.CloudName)
}

// DeliveryBase joins a delivery host and cloud name.
func DeliveryBase(host, cloudName string) string {
	return strings.TrimRight(host, "/") + "/" + cloudName + "/image/upload"
}

// Sign computes the upload signature over folder and timestamp.
func Sign(folder string, timestamp int64, secret string) string {
	sum := sha1.Sum([]byte("folder=" + folder + "&timestamp=" + strconv.FormatInt(timestamp, 10) + secret))
	return hex.EncodeToString(sum[:])
}

// Upload sends data under fileName. Server errors and transport failures
// are retried with exponential backoff; client errors are not.
func (c *Client) Upload(ctx context.Context, data []byte, fileName, contentType string) (*UploadResult, error) {
	if !c.cfg.Configured() {
		return nil, ErrNotConfigured
	}

	logger := c.logger.WithFields(logrus.Fields{
		"file":   fileName,
		"folder": c.cfg.Folder,
		"bytes":  len(data),
	})

	var result *UploadResult
	attempt := 0
	op := func() error {
		attempt++
		r, err := c.uploadOnce(ctx, data, fileName, contentType)
		if err != nil {
			logger.WithError(err).WithField("attempt", attempt).Warn("upload attempt failed")
			return err
		}
		result = r
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	if c.cfg.RetryInterval > 0 {
		exp.InitialInterval = c.cfg.RetryInterval
	}
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("cloudinary upload failed after %d attempts: %w", attempt, err)
	}

	logger.WithField("public_id", result.PublicID).Info("uploaded source image")
	return result, nil
}

func (c *Client) uploadOnce(ctx context.Context, data []byte, fileName, contentType string) (*UploadResult, error) {
	timestamp := c.now().Unix()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreatePart(fileHeader(fileName, contentType))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build form: %w", err))
	}
	if _, err := part.Write(data); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build form: %w", err))
	}
	fields := [][2]string{
		{"api_key", c.cfg.APIKey},
		{"timestamp", strconv.FormatInt(timestamp, 10)},
		{"signature", Sign(c.cfg.Folder, timestamp, c.cfg.APISecret)},
		{"folder", c.cfg.Folder},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to build form: %w", err))
		}
	}
	if err := w.Close(); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build form: %w", err))
	}

	endpoint := strings.TrimRight(c.cfg.APIBase, "/") + "/" + c.cfg.CloudName + "/image/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("upload rejected: %d - %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	var result UploadResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode upload response: %w", err))
	}
	if result.PublicID == "" {
		return nil, backoff.Permanent(errors.New("upload response missing public_id"))
	}
	return &result, nil
}

func fileHeader(fileName, contentType string) textproto.MIMEHeader {
	if contentType == "" {
		contentType = "image/png"
	}
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename="%s"`, strings.ReplaceAll(fileName, `"`, ""))},
		"Content-Type":        {contentType},
	}
}
