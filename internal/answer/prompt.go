package answer

import (
	"fmt"
	"strings"
)

// systemPrompt constrains the model to the retrieved regulatory text
// and fixes the answer layout that parseAnswer relies on.
const systemPrompt = `You are a legal-compliance research assistant. Answer the user's question using ONLY the regulatory excerpts provided in the message. Do not rely on outside knowledge and do not speculate about regulations that are not in the excerpts.

Rules:
- Support every factual claim with a citation marker [N] referring to the numbered excerpt it came from.
- Organize the answer under markdown headings by jurisdiction level, in this order and only for levels that have relevant excerpts: "### Federal", "### State", "### County", "### Municipal".
- If the question involves permits, licenses, or registrations, end with a "### Required Permits" section listing each one as:
  - Permit Name: <name>
    Issuing Agency: <agency>
    Jurisdiction: <jurisdiction>
    URL: <url, if present in the excerpts>
    Regulatory Reference: <citation of the requirement>
- If the excerpts do not cover part of the question, say so plainly and include the sentence "Insufficient coverage for definitive answer."
- Write in plain prose. Do not repeat the excerpts verbatim beyond short quotations.`

// userPrompt numbers the retrieved excerpts so [N] markers in the
// answer map back to chunks.
func userPrompt(question string, chunks []RetrievedChunk) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nRegulatory excerpts:\n")
	for i, ch := range chunks {
		fmt.Fprintf(&b, "\n[%d] %s\n%s\n", i+1, ch.Citation, ch.Text)
	}
	return b.String()
}
