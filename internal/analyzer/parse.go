package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/synapselabs/synapse/internal/models"
)

// ParseStatus tags how much of a model response survived validation.
type ParseStatus int

const (
	// WellFormed: every field parsed and validated cleanly.
	WellFormed ParseStatus = iota
	// PartiallyMalformed: a usable result with some fields dropped or
	// clamped; see Warnings.
	PartiallyMalformed
	// Unparseable: no JSON object could be recovered from the response.
	Unparseable
)

// FieldWarning records one dropped or repaired field.
type FieldWarning struct {
	Field  string
	Reason string
}

// ParsedOutput is the tagged result of parsing a model response.
// Downstream code switches on Status instead of probing for missing keys.
type ParsedOutput struct {
	Status   ParseStatus
	Result   *models.AnalysisResult
	Warnings []FieldWarning
	Raw      string
}

// wire mirrors the JSON shape requested from the model, with loose
// numeric types so a single bad field does not fail the whole document.
type wireResult struct {
	Connections []wireConnection `json:"connections"`
	MetaPattern []wirePattern    `json:"meta_patterns"`
	Summary     string           `json:"summary"`
	Recommends  []string         `json:"recommendations"`
}

type wireConnection struct {
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	SurpriseFactor      *float64 `json:"surprise_factor"`
	Relevance           *float64 `json:"relevance"`
	ConnectedInsightIDs []string `json:"connected_insight_ids"`
	ConnectionType      string   `json:"connection_type"`
	ActionableInsight   string   `json:"actionable_insight"`
}

type wirePattern struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Confidence    *float64 `json:"confidence"`
	EvidenceCount *int     `json:"evidence_count"`
}

// parseOutput leniently decodes a model response into an AnalysisResult.
// Malformed connections or patterns are dropped with a warning rather
// than failing the request; out-of-range scores are clamped. An empty
// result is valid.
func parseOutput(raw string) ParsedOutput {
	text := extractJSON(raw)
	if text == "" {
		return ParsedOutput{Status: Unparseable, Raw: raw}
	}

	var wire wireResult
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return ParsedOutput{Status: Unparseable, Raw: raw}
	}

	var warnings []FieldWarning
	result := &models.AnalysisResult{
		Connections:     []models.Connection{},
		MetaPatterns:    []models.MetaPattern{},
		Summary:         strings.TrimSpace(wire.Summary),
		Recommendations: wire.Recommends,
	}

	for i, wc := range wire.Connections {
		if strings.TrimSpace(wc.Title) == "" || strings.TrimSpace(wc.Description) == "" {
			warnings = append(warnings, FieldWarning{
				Field:  fmt.Sprintf("connections[%d]", i),
				Reason: "missing title or description",
			})
			continue
		}
		conn := models.Connection{
			Title:               strings.TrimSpace(wc.Title),
			Description:         strings.TrimSpace(wc.Description),
			ConnectedInsightIDs: wc.ConnectedInsightIDs,
			ConnectionType:      wc.ConnectionType,
			ActionableInsight:   wc.ActionableInsight,
		}
		conn.SurpriseFactor, warnings = clampScore(wc.SurpriseFactor,
			fmt.Sprintf("connections[%d].surprise_factor", i), warnings)
		conn.Relevance, warnings = clampScore(wc.Relevance,
			fmt.Sprintf("connections[%d].relevance", i), warnings)
		result.Connections = append(result.Connections, conn)
	}

	for i, wp := range wire.MetaPattern {
		if strings.TrimSpace(wp.Name) == "" {
			warnings = append(warnings, FieldWarning{
				Field:  fmt.Sprintf("meta_patterns[%d]", i),
				Reason: "missing name",
			})
			continue
		}
		pat := models.MetaPattern{
			Name:        strings.TrimSpace(wp.Name),
			Description: strings.TrimSpace(wp.Description),
		}
		pat.Confidence, warnings = clampScore(wp.Confidence,
			fmt.Sprintf("meta_patterns[%d].confidence", i), warnings)
		if wp.EvidenceCount != nil && *wp.EvidenceCount > 0 {
			pat.EvidenceCount = *wp.EvidenceCount
		}
		result.MetaPatterns = append(result.MetaPatterns, pat)
	}

	status := WellFormed
	if len(warnings) > 0 {
		status = PartiallyMalformed
	}
	return ParsedOutput{Status: status, Result: result, Warnings: warnings, Raw: raw}
}

// clampScore coerces a score into [0,1], warning on repair. A missing
// score defaults to 0.5 without a warning: models frequently omit it and
// the midpoint is the least misleading default.
func clampScore(v *float64, field string, warnings []FieldWarning) (float64, []FieldWarning) {
	if v == nil {
		return 0.5, warnings
	}
	switch {
	case *v < 0:
		return 0, append(warnings, FieldWarning{Field: field, Reason: "score below 0, clamped"})
	case *v > 1:
		return 1, append(warnings, FieldWarning{Field: field, Reason: "score above 1, clamped"})
	default:
		return *v, warnings
	}
}

// extractJSON recovers the JSON object from a response that may be
// wrapped in markdown fences or surrounded by prose.
func extractJSON(raw string) string {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		return text
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return ""
}
