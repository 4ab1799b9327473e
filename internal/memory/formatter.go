package memory

import (
	"fmt"
	"strings"

	"github.com/synapselabs/synapse/internal/models"
	"github.com/synapselabs/synapse/pkg/xmlutil"
)

// FormatSnapshot renders a snapshot into the plain-text form embedded in
// analysis prompts. Insight and summary content is XML-escaped because
// the analyzer wraps user data in XML tags to resist prompt injection.
func FormatSnapshot(snap *models.MemorySnapshot) string {
	var sb strings.Builder

	sb.WriteString("INSIGHTS:\n")
	for i, ins := range snap.Insights {
		id := ins.ID
		if id == "" {
			id = fmt.Sprintf("insight-%d", i+1)
		}
		fmt.Fprintf(&sb, "[%s] (%s, confidence %.2f) %s\n",
			id, ins.Category, ins.Confidence, xmlutil.Escape(ins.Content))
		if len(ins.Tags) > 0 {
			fmt.Fprintf(&sb, "  tags: %s\n", xmlutil.Escape(strings.Join(ins.Tags, ", ")))
		}
		if ins.Evidence != "" {
			fmt.Fprintf(&sb, "  evidence: %s\n", xmlutil.Escape(ins.Evidence))
		}
	}

	if len(snap.ConversationSummaries) > 0 {
		sb.WriteString("\nCONVERSATION SUMMARIES:\n")
		for _, sum := range snap.ConversationSummaries {
			fmt.Fprintf(&sb, "- %s\n", xmlutil.Escape(sum.Text))
			if len(sum.KeyThemes) > 0 {
				fmt.Fprintf(&sb, "  themes: %s\n", xmlutil.Escape(strings.Join(sum.KeyThemes, ", ")))
			}
		}
	}

	return sb.String()
}
