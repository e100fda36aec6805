// Package s3 provides S3-compatible object storage operations.
//
// The service stores two kinds of objects in Cloudflare R2 through the S3
// API: curated insurer sample documents (the fallback source images) and
// archived copies of every raw source image a request used.
//
// # Authentication
//
// When AccessKeyID is set the client uses static credentials, which is how
// R2 issues API tokens. Otherwise it falls back to the AWS SDK default
// credential chain.
//
// # Usage Example
//
//	client, err := s3.New(ctx, s3.Config{
//		Endpoint:        "https://<account>.r2.cloudflarestorage.com",
//		Region:          "auto",
//		AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
//		SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	obj, err := client.GetObject(ctx, "xiim-samples", "samples/life/samsung/whole-life.png", 0)
//
// # Security
//
// Keys are validated before use:
//   - Rejects keys containing ".."
//   - Rejects keys with absolute paths
//   - Enforces maximum key length (1024 chars)
//
// Reads are size-limited to prevent resource exhaustion.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// DefaultMaxObjectSize bounds GetObject reads when no limit is given.
const DefaultMaxObjectSize = 20 * 1024 * 1024

// ErrNotFound is returned when the object does not exist.
var ErrNotFound = errors.New("object not found")

// Client wraps the S3 client with helper methods for image objects.
type Client struct {
	s3Client *s3.Client
	logger   logrus.FieldLogger
}

// Config holds S3 client configuration.
type Config struct {
	// Endpoint overrides the service endpoint (the R2 account endpoint).
	Endpoint string

	// Region is the signing region; R2 uses "auto".
	Region string

	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle addresses buckets as path segments instead of hostnames.
	UsePathStyle bool
}

// DefaultConfig returns a default configuration for R2.
func DefaultConfig() Config {
	return Config{
		Region:       "auto",
		UsePathStyle: true,
	}
}

// New creates a new client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Region == "" {
		cfg.Region = "auto"
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Client{
		s3Client: client,
		logger:   logrus.StandardLogger(),
	}, nil
}

// SetLogger sets a custom logger for the client.
func (c *Client) SetLogger(logger logrus.FieldLogger) {
	c.logger = logger
}

// Object is a fetched object body with its metadata.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

// GetObject reads an object fully into memory. Objects larger than
// maxBytes (DefaultMaxObjectSize when <= 0) are rejected.
func (c *Client) GetObject(ctx context.Context, bucket, key string, maxBytes int64) (*Object, error) {
	if err := validateS3Key(key); err != nil {
		return nil, fmt.Errorf("invalid S3 key: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxObjectSize
	}

	logger := c.logger.WithFields(logrus.Fields{
		"bucket": bucket,
		"key":    key,
	})

	resp, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer resp.Body.Close()

	if resp.ContentLength != nil && *resp.ContentLength > maxBytes {
		return nil, fmt.Errorf("object too large: %d bytes (max %d)", *resp.ContentLength, maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("object too large: more than %d bytes", maxBytes)
	}

	logger.WithField("size", humanBytes(int64(len(data)))).Debug("fetched object")

	return &Object{
		Key:         key,
		Data:        data,
		ContentType: aws.ToString(resp.ContentType),
		Metadata:    resp.Metadata,
	}, nil
}

// PutObject uploads data under key.
func (c *Client) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) error {
	if err := validateS3Key(key); err != nil {
		return fmt.Errorf("invalid S3 key: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      metadata,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := c.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"bucket": bucket,
		"key":    key,
		"size":   humanBytes(int64(len(data))),
	}).Debug("stored object")
	return nil
}

// validateS3Key validates an S3 key for security.
func validateS3Key(key string) error {
	if key == "" {
		return fmt.Errorf("S3 key cannot be empty")
	}

	if len(key) > 1024 {
		return fmt.Errorf("S3 key too long: %d characters (max 1024)", len(key))
	}

	if strings.Contains(key, "..") {
		return fmt.Errorf("S3 key contains path traversal: %s", key)
	}

	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("S3 key should not start with /: %s", key)
	}

	if strings.Contains(key, "\x00") {
		return fmt.Errorf("S3 key contains null byte")
	}

	return nil
}

// ObjectExists checks if an object exists.
func (c *Client) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

// S3Object represents a listed object with metadata.
type S3Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ListObjects lists every object under prefix.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string) ([]S3Object, error) {
	logger := c.logger.WithFields(logrus.Fields{
		"bucket": bucket,
		"prefix": prefix,
	})

	var objects []S3Object
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			o := S3Object{Key: *obj.Key}
			if obj.Size != nil {
				o.Size = *obj.Size
			}
			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}
			objects = append(objects, o)
		}
	}

	logger.WithField("count", len(objects)).Debug("listed objects")

	return objects, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NotFound") || strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "StatusCode: 404")
}

// HumanBytes formats a byte count with binary units.
func HumanBytes(b int64) string {
	return humanBytes(b)
}

func humanBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GiB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MiB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KiB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
