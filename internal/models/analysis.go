package models

import (
	"time"
)

// AnalysisOptions tune a single analysis run. They are part of the
// fingerprint: changing any field produces a distinct cache key.
type AnalysisOptions struct {
	Depth      string   `json:"depth,omitempty"` // "standard" or "deep"
	FocusAreas []string `json:"focus_areas,omitempty"`
	Priority   Priority `json:"priority,omitempty"`
}

// Connection is a cross-insight relationship discovered by the model.
type Connection struct {
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	SurpriseFactor      float64  `json:"surprise_factor"`
	Relevance           float64  `json:"relevance"`
	ConnectedInsightIDs []string `json:"connected_insight_ids,omitempty"`
	ConnectionType      string   `json:"connection_type,omitempty"`
	ActionableInsight   string   `json:"actionable_insight,omitempty"`
}

// MetaPattern is an aggregate theme spanning many insights, distinct from
// a single pairwise connection.
type MetaPattern struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Confidence    float64 `json:"confidence"`
	EvidenceCount int     `json:"evidence_count"`
}

// ResultMetadata records how a result was produced.
type ResultMetadata struct {
	GeneratedAt      time.Time `json:"generated_at"`
	Model            string    `json:"model"`
	DurationMS       int64     `json:"duration_ms"`
	InsightsAnalyzed int       `json:"insights_analyzed"`
	CacheHit         bool      `json:"cache_hit"`
	ChunkCount       int       `json:"chunk_count"`
}

// AnalysisResult is the structured output of one analysis run.
// Zero connections is a valid result, not an error.
type AnalysisResult struct {
	Connections     []Connection   `json:"connections"`
	MetaPatterns    []MetaPattern  `json:"meta_patterns"`
	Summary         string         `json:"summary"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Metadata        ResultMetadata `json:"metadata"`
}

// Priority orders queued analysis requests.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// ParsePriority maps a string to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// IsValid returns true if the priority is one of the four defined tiers.
func (p Priority) IsValid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// RequestState is the lifecycle state of a queued analysis request.
type RequestState string

const (
	StateQueued     RequestState = "queued"
	StateProcessing RequestState = "processing"
	StateCompleted  RequestState = "completed"
	StateFailed     RequestState = "failed"
	StateCancelled  RequestState = "cancelled"
)

// Terminal returns true once the request can no longer change state.
func (s RequestState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ErrorInfo is a serialized failure attached to a FAILED request.
// Message is sanitized before storage; it never contains filesystem paths.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AnalysisRequest tracks one queued analysis through its lifecycle.
// The queue owns the request until it reaches a terminal state; callers
// receive copies from Status/Get.
type AnalysisRequest struct {
	ID          string          `json:"id"`
	Ref         string          `json:"ref"`
	Fingerprint string          `json:"fingerprint"`
	Options     AnalysisOptions `json:"options"`
	Priority    Priority        `json:"priority"`
	SubmittedAt time.Time       `json:"submitted_at"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
	State       RequestState    `json:"state"`
	Result      *AnalysisResult `json:"result,omitempty"`
	Error       *ErrorInfo      `json:"error,omitempty"`
}
