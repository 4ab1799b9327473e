package analyzer

import (
	"fmt"
	"strings"

	"github.com/synapselabs/synapse/internal/models"
	"github.com/synapselabs/synapse/pkg/xmlutil"
)

// analysisPromptTemplate asks the model for cross-insight connections and
// meta-patterns. Memory content is injected inside XML tags to prevent
// prompt injection; the content itself is escaped upstream by the
// snapshot formatter.
const analysisPromptTemplate = `You are an insight analysis system. Study the user's accumulated insights and conversation summaries, then identify non-obvious CONNECTIONS between insights and broader META-PATTERNS across them.

For each connection, provide:
- title: A short, specific name for the connection
- description: What links the insights and why it matters
- surprise_factor: 0.0-1.0 how unexpected the connection is
- relevance: 0.0-1.0 how useful it is to the user right now
- connected_insight_ids: The insight IDs involved
- connection_type: One of "causal", "thematic", "behavioral", "temporal", "contradiction"
- actionable_insight: One concrete suggestion, or omit if none

For each meta-pattern, provide:
- name: A short name for the cross-cutting theme
- description: The theme and how it shows up
- confidence: 0.0-1.0
- evidence_count: How many insights support it

Also provide:
- summary: 2-3 sentences describing the overall picture
- recommendations: Up to 3 short suggestions

%s%sReturn ONLY valid JSON with this exact shape (no markdown, no explanation):
{"connections": [...], "meta_patterns": [...], "summary": "...", "recommendations": [...]}

Finding nothing is a valid outcome: return empty arrays rather than forcing weak connections.

<memory_data>
%s</memory_data>`

// chunkContext is prepended to the memory data when the input was split.
const chunkContext = "This is PARTIAL analysis input: chunk %d of %d. Analyze only what is present; partial results will be merged later.\n\n"

// buildPrompt renders the analysis prompt for one chunk of formatted
// memory text. chunkIndex is 1-based; chunkCount <= 1 means unchunked.
func buildPrompt(text string, chunkIndex, chunkCount int, opts models.AnalysisOptions) string {
	var focus string
	if len(opts.FocusAreas) > 0 {
		focus = fmt.Sprintf("Focus especially on these areas: %s.\n\n",
			xmlutil.Escape(strings.Join(opts.FocusAreas, ", ")))
	}

	var depth string
	if opts.Depth == "deep" {
		depth = "Perform a DEEP analysis: prefer subtle, second-order connections over obvious ones, and include contradictions between insights.\n\n"
	}

	body := text
	if chunkCount > 1 {
		body = fmt.Sprintf(chunkContext, chunkIndex, chunkCount) + text
	}

	return fmt.Sprintf(analysisPromptTemplate, focus, depth, body)
}
