package answer

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/regscope/regscope/internal/appdb"
)

var (
	citationMarkerRe = regexp.MustCompile(`\[(\d+)\]`)
	headingRe        = regexp.MustCompile(`(?m)^#{2,4}\s+(.+?)\s*$`)

	permitNameRe   = regexp.MustCompile(`(?i)Permit Name:\s*(.+)`)
	permitAgencyRe = regexp.MustCompile(`(?i)Issuing Agency:\s*(.+)`)
	permitJurisRe  = regexp.MustCompile(`(?i)Jurisdiction:\s*(.+)`)
	permitURLRe    = regexp.MustCompile(`(?i)URL:[ \t]*(\S+)`)
	permitRefRe    = regexp.MustCompile(`(?i)Regulatory Reference:\s*(.+)`)
)

// jurisdictionHeadings are the per-level answer headings, in the order
// the prompt requests them.
var jurisdictionHeadings = []string{"Federal", "State", "County", "Municipal"}

// AnswerSection is one jurisdiction-level portion of the answer.
type AnswerSection struct {
	Heading string `json:"heading"`
	Text    string `json:"text"`
}

// parsedAnswer is the structured view of the model's answer text.
type parsedAnswer struct {
	sections  []AnswerSection
	citations []appdb.Citation
	permits   []appdb.Permit
	summary   string
}

// parseAnswer extracts jurisdiction sections, citations, permits, and
// a summary from the generated answer. Chunks are the numbered excerpts
// the prompt carried, in order, so marker [N] maps to chunks[N-1].
func parseAnswer(text string, chunks []RetrievedChunk) parsedAnswer {
	return parsedAnswer{
		sections:  parseSections(text),
		citations: parseCitations(text, chunks),
		permits:   parsePermits(permitsSection(text)),
		summary:   summarize(text),
	}
}

// parseSections splits the answer on the jurisdiction-level headings
// and collects each section's text up to the next heading. Headings
// the model omitted, and empty sections, are skipped.
func parseSections(text string) []AnswerSection {
	locs := headingRe.FindAllStringSubmatchIndex(text, -1)
	var out []AnswerSection
	for i, loc := range locs {
		name := jurisdictionHeading(text[loc[2]:loc[3]])
		if name == "" {
			continue
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:end])
		if body == "" {
			continue
		}
		out = append(out, AnswerSection{Heading: name, Text: body})
	}
	return out
}

// jurisdictionHeading canonicalizes a heading, or returns "" when it is
// not a jurisdiction level.
func jurisdictionHeading(h string) string {
	for _, name := range jurisdictionHeadings {
		if strings.EqualFold(h, name) {
			return name
		}
	}
	return ""
}

// parseCitations resolves [N] markers against the numbered excerpts.
// Each marker is reported once, in order of first appearance; markers
// outside the excerpt range are logged and dropped.
func parseCitations(text string, chunks []RetrievedChunk) []appdb.Citation {
	var out []appdb.Citation
	seen := make(map[int]bool)
	for _, m := range citationMarkerRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		if n < 1 || n > len(chunks) {
			slog.Warn("citation_marker_out_of_range",
				slog.Int("marker", n),
				slog.Int("excerpts", len(chunks)))
			continue
		}
		ch := chunks[n-1]
		out = append(out, appdb.Citation{
			Index:    n,
			ChunkID:  ch.ChunkID,
			Citation: ch.Citation,
			URL:      ch.URL,
		})
	}
	return out
}

// permitsSection returns the body of the "Required Permits" heading,
// up to the next heading or end of text.
func permitsSection(text string) string {
	locs := headingRe.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range locs {
		heading := text[loc[2]:loc[3]]
		if !strings.EqualFold(heading, "Required Permits") {
			continue
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		return text[loc[1]:end]
	}
	return ""
}

// parsePermits splits the permits section into items on "Permit Name:"
// lines and pulls the labeled fields from each.
func parsePermits(section string) []appdb.Permit {
	if section == "" {
		return nil
	}

	var permits []appdb.Permit
	starts := permitNameRe.FindAllStringIndex(section, -1)
	for i, start := range starts {
		end := len(section)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		item := section[start[0]:end]

		p := appdb.Permit{
			Name:                field(permitNameRe, item),
			IssuingAgency:       field(permitAgencyRe, item),
			Jurisdiction:        field(permitJurisRe, item),
			URL:                 field(permitURLRe, item),
			RegulatoryReference: field(permitRefRe, item),
		}
		if p.Name == "" {
			continue
		}
		permits = append(permits, p)
	}
	return permits
}

func field(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), "*_"))
}

// summarize takes the first prose paragraph, capped at 500 characters.
func summarize(text string) string {
	const limit = 500
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" || strings.HasPrefix(para, "#") {
			continue
		}
		if r := []rune(para); len(r) > limit {
			return string(r[:limit])
		}
		return para
	}
	return ""
}
