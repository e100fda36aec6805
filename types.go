package xiim

import (
	"fmt"
	"time"
)

// MaxVariationCount caps the number of variants produced from one source.
const MaxVariationCount = 5

// GenerateRequest is the input to the generate pipeline.
type GenerateRequest struct {
	// Keyword is the user's search phrase (e.g. "30대 암보험 추천해줘").
	Keyword string `json:"keyword"`

	// TargetCompany is the insurer code (e.g. "SAMSUNG_LIFE").
	TargetCompany string `json:"target_company"`

	// UserID identifies the caller and salts the variant seed.
	UserID string `json:"user_id"`

	// SourceURL is an optional image URL to use instead of the sample catalog.
	SourceURL string `json:"source_url,omitempty"`

	// VariationCount is the number of variants to produce (1 when zero).
	VariationCount int `json:"variation_count,omitempty"`

	// WithTitle adds the summarized keyword as a title overlay.
	WithTitle bool `json:"with_title,omitempty"`
}

// Validate checks required fields and normalizes VariationCount.
func (r *GenerateRequest) Validate() error {
	if r.Keyword == "" {
		return fmt.Errorf("keyword is required")
	}
	if r.TargetCompany == "" {
		return fmt.Errorf("target_company is required")
	}
	if r.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if r.VariationCount <= 0 {
		r.VariationCount = 1
	}
	if r.VariationCount > MaxVariationCount {
		return fmt.Errorf("variation_count must be between 1 and %d", MaxVariationCount)
	}
	return nil
}

// Variant is one rendered derivative of the source image.
type Variant struct {
	// Seed is the variant seed the derivative was registered under.
	Seed string `json:"variant_seed"`

	// Fingerprint is sha256(source_hash + "_" + seed).
	Fingerprint string `json:"fingerprint"`

	// Transform is the ordered transform specification.
	Transform string `json:"transform"`

	// FinalURL is the delivery URL of the derivative.
	FinalURL string `json:"final_url"`

	// SeedExhausted is set when every seed draw collided and the last one was kept.
	SeedExhausted bool `json:"seed_exhausted,omitempty"`
}

// GenerateResult is the output of the generate pipeline.
type GenerateResult struct {
	RequestID     string    `json:"request_id"`
	SourceHash    string    `json:"source_hash"`
	SourceOrigin  string    `json:"source_origin"`
	InsuranceType string    `json:"insurance_type,omitempty"`
	MaskedZones   int       `json:"masked_zones"`
	ZonesDefault  bool      `json:"zones_default"`
	Variants      []Variant `json:"variants"`
	ProcessingMS  int64     `json:"processing_time_ms"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Error codes reported to callers.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeSourceUnavailable = "SOURCE_UNAVAILABLE"
	CodeUploadFailed      = "UPLOAD_FAILED"
	CodeEntropyFailure    = "ENTROPY_FAILURE"
	CodeComposeFailed     = "COMPOSE_FAILED"
	CodePipelineError     = "PIPELINE_ERROR"
)

// PipelineError reports the step a generate request failed in.
type PipelineError struct {
	Step string
	Code string
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Step, e.Code, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
