package analyzer

import (
	"strings"

	"github.com/synapselabs/synapse/internal/models"
)

// mergeResults combines partial results from chunked analysis into one.
// Connections and meta-patterns are concatenated in chunk order and
// de-duplicated by normalized title/name; when two entries collide the
// first-seen one wins, including on conflicting scores. Summaries are
// joined; recommendations are de-duplicated the same way.
func mergeResults(partials []*models.AnalysisResult) *models.AnalysisResult {
	if len(partials) == 1 {
		return partials[0]
	}

	merged := &models.AnalysisResult{
		Connections:  []models.Connection{},
		MetaPatterns: []models.MetaPattern{},
	}

	seenConn := make(map[string]bool)
	seenPat := make(map[string]bool)
	seenRec := make(map[string]bool)
	var summaries []string

	for _, p := range partials {
		if p == nil {
			continue
		}
		for _, c := range p.Connections {
			key := normalizeTitle(c.Title)
			if seenConn[key] {
				continue
			}
			seenConn[key] = true
			merged.Connections = append(merged.Connections, c)
		}
		for _, mp := range p.MetaPatterns {
			key := normalizeTitle(mp.Name)
			if seenPat[key] {
				continue
			}
			seenPat[key] = true
			merged.MetaPatterns = append(merged.MetaPatterns, mp)
		}
		for _, r := range p.Recommendations {
			key := normalizeTitle(r)
			if key == "" || seenRec[key] {
				continue
			}
			seenRec[key] = true
			merged.Recommendations = append(merged.Recommendations, r)
		}
		if s := strings.TrimSpace(p.Summary); s != "" {
			summaries = append(summaries, s)
		}
	}

	merged.Summary = strings.Join(summaries, " ")
	return merged
}

// normalizeTitle lower-cases and collapses whitespace so near-identical
// titles from different chunks compare equal.
func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// filterLowConfidence drops connections whose relevance and meta-patterns
// whose confidence fall below min, returning how many were removed.
// A min of 0 keeps everything.
func filterLowConfidence(res *models.AnalysisResult, min float64) int {
	if min <= 0 {
		return 0
	}

	dropped := 0
	kept := res.Connections[:0]
	for _, c := range res.Connections {
		if c.Relevance < min {
			dropped++
			continue
		}
		kept = append(kept, c)
	}
	res.Connections = kept

	keptPats := res.MetaPatterns[:0]
	for _, mp := range res.MetaPatterns {
		if mp.Confidence < min {
			dropped++
			continue
		}
		keptPats = append(keptPats, mp)
	}
	res.MetaPatterns = keptPats

	return dropped
}
