// Package classifier locates sensitive regions in a source image with a
// vision model and converts them to pixel zones.
//
// Model output is cached by source hash, so repeated requests against the
// same document skip the model call. Only successfully parsed responses are
// cached.
package classifier

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/xivix/xiim/zones"
)

// Model is a vision model returning its raw text response for an image.
type Model interface {
	Name() string
	Generate(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Analysis is the classifier result for one image.
type Analysis struct {
	Zones         []zones.Zone
	InsuranceInfo *InsuranceInfo
	// Dropped counts detections discarded during normalization.
	Dropped int
	Cached  bool
}

// Classifier detects zones, consulting an optional cache first.
type Classifier struct {
	model  Model
	cache  Cache
	logger logrus.FieldLogger
}

// New creates a Classifier. cache may be nil.
func New(model Model, cache Cache, logger logrus.FieldLogger) *Classifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Classifier{model: model, cache: cache, logger: logger.WithField("component", "classifier")}
}

// CacheKey identifies a model response for a source image.
func CacheKey(model, sourceHash string) string {
	return "v1:" + model + ":" + sourceHash
}

// Detect classifies data and normalizes the regions to d.
func (c *Classifier) Detect(ctx context.Context, sourceHash string, data []byte, mimeType string, d zones.Dimensions) (*Analysis, error) {
	key := CacheKey(c.model.Name(), sourceHash)
	logger := c.logger.WithField("source_hash", sourceHash)

	if c.cache != nil && sourceHash != "" {
		if text, ok := c.cache.Get(ctx, key); ok {
			if res, err := Parse(text); err == nil {
				a := analyze(res, d)
				a.Cached = true
				logger.WithField("zones", len(a.Zones)).Debug("classifier cache hit")
				return a, nil
			}
		}
	}

	text, err := c.model.Generate(ctx, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}
	res, err := Parse(text)
	if err != nil {
		logger.WithError(err).Warn("unparseable classifier response")
		return nil, err
	}
	if c.cache != nil && sourceHash != "" {
		c.cache.Set(ctx, key, text)
	}

	a := analyze(res, d)
	logger.WithFields(logrus.Fields{
		"zones":   len(a.Zones),
		"dropped": a.Dropped,
	}).Info("classified source image")
	return a, nil
}

func analyze(res *Result, d zones.Dimensions) *Analysis {
	zs := zones.Normalize(res.Detections, d)
	return &Analysis{
		Zones:         zs,
		InsuranceInfo: res.InsuranceInfo,
		Dropped:       len(res.Detections) - len(zs),
	}
}
