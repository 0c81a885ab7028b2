package validation

import (
	"fmt"
	"strings"
)

// Markdown renders the operator-facing tabular report.
func Markdown(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Validation Report\n\nGenerated: %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))

	if c := r.Coverage; c != nil {
		fmt.Fprintf(&b, "\n## Coverage\n\n%d of %d targets indexed (%.1f%%)\n\n", c.TotalIndexed, c.TotalExpected, c.CoveragePercent)
		b.WriteString("| Source type | Expected | Indexed | Coverage | Sampled vectors |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, st := range sourceTypes {
			cov := c.BySourceType[st]
			fmt.Fprintf(&b, "| %s | %d | %d | %.1f%% | %d |\n", st, cov.Expected, cov.Indexed, cov.Percent, cov.Sampled)
		}
		if len(c.Gaps) > 0 {
			b.WriteString("\nGaps:\n")
			for _, gap := range c.Gaps {
				fmt.Fprintf(&b, "- %s\n", gap)
			}
		}
	}

	if len(r.Quality) > 0 {
		b.WriteString("\n## Chunk quality\n\n")
		b.WriteString("| Source type | Samples | Min | Avg | P50 | P95 | P99 | Max | Citations | Issues |\n")
		b.WriteString("|---|---|---|---|---|---|---|---|---|---|\n")
		for _, q := range r.Quality {
			fmt.Fprintf(&b, "| %s | %d | %d | %.0f | %d | %d | %d | %d | %.1f%% | %d |\n",
				q.SourceType, q.Samples,
				q.Tokens.Min, q.Tokens.Avg, q.Tokens.P50, q.Tokens.P95, q.Tokens.P99, q.Tokens.Max,
				q.CitationCoveragePct, len(q.Issues))
		}
		for _, q := range r.Quality {
			for _, issue := range q.Issues {
				fmt.Fprintf(&b, "- `%s`: %s\n", issue.ChunkID, issue.Issue)
			}
		}
	}

	if s := r.Storage; s != nil {
		b.WriteString("\n## Storage\n\n")
		if len(s.MissingFolders) == 0 {
			b.WriteString("All expected prefixes contain data.\n")
		} else {
			fmt.Fprintf(&b, "%d jurisdictions have no stored documents:\n\n", len(s.JurisdictionsWithoutData))
			for i, prefix := range s.MissingFolders {
				fmt.Fprintf(&b, "- %s (`%s`)\n", s.JurisdictionsWithoutData[i], prefix)
			}
		}
	}

	return b.String()
}
