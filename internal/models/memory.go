package models

import (
	"time"
)

// Insight is a single extracted observation about the user.
type Insight struct {
	ID         string    `json:"id"`
	Category   string    `json:"category"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Tags       []string  `json:"tags,omitempty"`
	Evidence   string    `json:"evidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ConversationSummary condenses one past conversation.
type ConversationSummary struct {
	Text      string    `json:"text"`
	KeyThemes []string  `json:"key_themes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SnapshotMetadata describes the snapshot as a whole.
type SnapshotMetadata struct {
	TotalInsights int       `json:"total_insights"`
	LastUpdated   time.Time `json:"last_updated"`
}

// MemorySnapshot is the raw accumulated record for one user. It is read
// once at the start of an analysis and treated as immutable thereafter.
type MemorySnapshot struct {
	Insights              []Insight             `json:"insights"`
	ConversationSummaries []ConversationSummary `json:"conversation_summaries,omitempty"`
	Metadata              SnapshotMetadata      `json:"metadata"`
}
