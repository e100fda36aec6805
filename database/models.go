package database

import "time"

// ImageLog is the persisted record of one generate request.
type ImageLog struct {
	ID            int64
	RequestID     string
	UserID        string
	Keyword       string
	TargetCompany string
	Status        string

	SourceOrigin   string
	SourceURL      string
	SourceHash     string
	PerceptualHash string
	RawKey         string
	PublicID       string
	InsuranceType  string

	VariantSeed   string
	FinalURL      string
	TransformSpec string

	// JSON documents
	MaskingZones    string
	MaskingStyle    string
	VariationParams string
	Variants        string

	ErrorStep        string
	ErrorMessage     string
	ProcessingTimeMS int64

	CreatedAt   time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// Completion carries the results written when a request finishes.
type Completion struct {
	SourceOrigin   string
	SourceURL      string
	SourceHash     string
	PerceptualHash string
	RawKey         string
	PublicID       string
	InsuranceType  string

	VariantSeed   string
	FinalURL      string
	TransformSpec string

	MaskingZones    string
	MaskingStyle    string
	VariationParams string
	Variants        string

	ProcessingTimeMS int64
}

// Status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)
