package samples

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/xivix/xiim/s3"
)

// ErrNoSample is returned when the insurer has no sample in the catalog.
var ErrNoSample = errors.New("no sample registered for company")

// ObjectGetter reads objects from the sample bucket. *s3.Client satisfies it.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string, maxBytes int64) (*s3.Object, error)
}

// Fetched is a sample loaded from storage.
type Fetched struct {
	Data        []byte
	ContentType string
	Sample      Sample
	Company     Company
}

// Provider loads catalog samples from the sample bucket.
type Provider struct {
	catalog *Catalog
	objects ObjectGetter
	bucket  string
	logger  logrus.FieldLogger
}

// NewProvider creates a Provider. A nil catalog uses Default().
func NewProvider(catalog *Catalog, objects ObjectGetter, bucket string, logger logrus.FieldLogger) *Provider {
	if catalog == nil {
		catalog = Default()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Provider{
		catalog: catalog,
		objects: objects,
		bucket:  bucket,
		logger:  logger.WithField("component", "samples"),
	}
}

// Catalog returns the provider's catalog.
func (p *Provider) Catalog() *Catalog {
	return p.catalog
}

// Fetch loads the sample best matching keyword for companyCode.
func (p *Provider) Fetch(ctx context.Context, companyCode, keyword string) (*Fetched, error) {
	co, ok := p.catalog.Lookup(companyCode)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSample, companyCode)
	}
	product := ExtractProductType(keyword)
	sample, ok := co.Select(product)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSample, companyCode)
	}

	logger := p.logger.WithFields(logrus.Fields{
		"company": companyCode,
		"product": product,
		"key":     sample.Key,
	})

	obj, err := p.objects.GetObject(ctx, p.bucket, sample.Key, 0)
	if err != nil {
		logger.WithError(err).Warn("failed to load sample")
		return nil, fmt.Errorf("failed to load sample %s: %w", sample.Key, err)
	}

	logger.WithField("size", s3.HumanBytes(int64(len(obj.Data)))).Info("loaded sample")
	return &Fetched{Data: obj.Data, ContentType: obj.ContentType, Sample: sample, Company: co}, nil
}
