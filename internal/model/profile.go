package model

import (
	"time"
)

// Profile is the persisted synthesis output for one submission.
type Profile struct {
	ID                     string     `json:"id"`
	SubmissionID           string     `json:"submission_id"`
	Document               ProfileDoc `json:"profile"`
	DataSourcesUsed        []string   `json:"data_sources_used"`
	DataSourcesUnavailable []string   `json:"data_sources_unavailable"`
	ConfidenceScore        string     `json:"confidence_score"`
	CreatedAt              time.Time  `json:"created_at"`
}

// ProfileDoc is the structured document the model produces. The validate
// tags mark the fields a usable synthesis must fill in.
type ProfileDoc struct {
	CompanyName            string              `json:"company_name" validate:"notblank"`
	IndustryClassification string              `json:"industry_classification" validate:"notblank"`
	Location               string              `json:"location" validate:"notblank"`
	EstimatedSize          string              `json:"estimated_size" validate:"notblank"`
	OperationalSnapshot    OperationalSnapshot `json:"operational_snapshot"`
	MarketPosition         MarketPosition      `json:"market_position"`
	StrategicObservations  []string            `json:"strategic_observations" validate:"min=1"`
	IdentifiedGaps         []string            `json:"identified_gaps"`
	DataConfidence         DataConfidence      `json:"data_confidence"`
	ValidationIssues       []string            `json:"_validation_issues,omitempty"`
}

// OperationalSnapshot summarizes technology and infrastructure posture.
type OperationalSnapshot struct {
	TechnologyPosture     string   `json:"technology_posture" validate:"notblank"`
	DigitalMaturity       string   `json:"digital_maturity" validate:"notblank"`
	DetectedTechnologies  []string `json:"detected_technologies"`
	InfrastructureSignals string   `json:"infrastructure_signals"`
}

// MarketPosition summarizes reputation and growth signals.
type MarketPosition struct {
	BusinessCategory   string `json:"business_category" validate:"notblank"`
	PublicReputation   string `json:"public_reputation" validate:"notblank"`
	CompetitiveSignals string `json:"competitive_signals"`
	GrowthIndicators   string `json:"growth_indicators"`
}

// DataConfidence is the model's own account of the evidence it used.
type DataConfidence struct {
	OverallScore       string   `json:"overall_score" validate:"notblank"`
	SourcesUsed        []string `json:"sources_used"`
	SourcesUnavailable []string `json:"sources_unavailable"`
	Freshness          string   `json:"freshness"`
}

// Feedback is a submitter's rating of a delivered profile.
type Feedback struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profile_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidRating reports whether r is within the accepted 1..5 range.
func ValidRating(r int) bool {
	return r >= 1 && r <= 5
}

// AccessToken authorizes retrieval of exactly one profile.
type AccessToken struct {
	Value     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token is no longer valid at now.
func (t AccessToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
