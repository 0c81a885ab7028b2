// Package cite provides the shared conventions of the corpus: Bluebook
// citation formatting, canonical jurisdiction identifiers, deterministic
// chunk and source IDs, hierarchy breadcrumbs, and token counting.
//
// Everything here is a pure function over identifiers; the ingestion and
// retrieval subsystems share only these conventions and the vector index
// schema.
package cite

import (
	"fmt"
	"regexp"
	"strings"
)

// Source families.
const (
	SourceFederal   = "federal"
	SourceState     = "state"
	SourceCounty    = "county"
	SourceMunicipal = "municipal"
)

// JurisdictionFederal is the jurisdiction every query includes.
const JurisdictionFederal = "US"

var (
	slugStrip     = regexp.MustCompile(`[^a-z0-9-]`)
	keyStrip      = regexp.MustCompile(`[^a-z0-9.-]+`)
	stateRe       = regexp.MustCompile(`^[A-Z]{2}$`)
	countyJurisRe = regexp.MustCompile(`^[A-Z]{2}-\d{5}$`)
	muniJurisRe   = regexp.MustCompile(`^[A-Z]{2}-[a-z][a-z0-9-]*$`)
)

// Slug normalizes a city name to its jurisdiction slug: lowercased,
// spaces to hyphens, everything outside [a-z0-9-] stripped.
func Slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	return slugStrip.ReplaceAllString(s, "")
}

// CountyJurisdiction builds a county identifier, e.g. "TX-48201".
func CountyJurisdiction(state, fips string) string {
	return strings.ToUpper(state) + "-" + fips
}

// MunicipalJurisdiction builds a city identifier, e.g. "TX-houston".
func MunicipalJurisdiction(state, city string) string {
	return strings.ToUpper(state) + "-" + Slug(city)
}

// ValidJurisdiction reports whether id matches one of the canonical
// forms: "US", "TX", "TX-48201", "TX-houston".
func ValidJurisdiction(id string) bool {
	if id == JurisdictionFederal {
		return true
	}
	return stateRe.MatchString(id) ||
		countyJurisRe.MatchString(id) ||
		muniJurisRe.MatchString(id)
}

// stateBluebook maps postal abbreviations to Bluebook state forms.
// Only states with ingested sources need entries; unknown states fall
// back to the postal abbreviation with a period.
var stateBluebook = map[string]string{
	"TX": "Tex.",
	"CA": "Cal.",
	"NY": "N.Y.",
	"FL": "Fla.",
}

func bluebookState(state string) string {
	if s, ok := stateBluebook[strings.ToUpper(state)]; ok {
		return s
	}
	return strings.ToUpper(state) + "."
}

// texasCodeNames maps Texas statute code abbreviations to their
// Bluebook code names.
var texasCodeNames = map[string]string{
	"PE": "Penal",
	"HS": "Health & Safety",
	"AL": "Alcoholic Beverage",
	"BC": "Business & Commerce",
	"OC": "Occupations",
	"LG": "Local Government",
	"TN": "Transportation",
	"AG": "Agriculture",
	"WA": "Water",
	"PR": "Property",
}

// TexasCodeName returns the full code name for a statute abbreviation,
// falling back to the abbreviation itself.
func TexasCodeName(code string) string {
	if n, ok := texasCodeNames[strings.ToUpper(code)]; ok {
		return n
	}
	return strings.ToUpper(code)
}

// CFR formats a federal citation, e.g. "21 C.F.R. § 117.3".
func CFR(title int, section string) string {
	return fmt.Sprintf("%d C.F.R. § %s", title, section)
}

// TexasStatute formats a statute citation,
// e.g. "Tex. Penal Code Ann. § 30.02".
func TexasStatute(code, section string) string {
	return fmt.Sprintf("Tex. %s Code Ann. § %s", TexasCodeName(code), section)
}

// TexasAdminCode formats a TAC citation, e.g. "16 Tex. Admin. Code § 5.31".
func TexasAdminCode(title int, section string) string {
	return fmt.Sprintf("%d Tex. Admin. Code § %s", title, section)
}

// CountyCode formats a county code citation,
// e.g. "Harris County, Tex., Code § 14-21".
func CountyCode(county, state, section string) string {
	return fmt.Sprintf("%s County, %s, Code § %s", county, bluebookState(state), section)
}

// MunicipalCode formats a municipal code citation,
// e.g. "Houston, Tex., Code § 1-2".
func MunicipalCode(city, state, section string) string {
	return fmt.Sprintf("%s, %s, Code § %s", city, bluebookState(state), section)
}

// WithSubsection appends a subsection marker to a citation when present:
// "21 C.F.R. § 117.3" + "(a)(1)" → "21 C.F.R. § 117.3(a)(1)".
func WithSubsection(citation, subsection string) string {
	if subsection == "" {
		return citation
	}
	return citation + subsection
}

// Source ID constructors. Stable strings; re-running ingestion over the
// same source version must produce identical IDs.

// FederalSourceID returns e.g. "cfr-title-21".
func FederalSourceID(title int) string {
	return fmt.Sprintf("cfr-title-%d", title)
}

// StatuteSourceID returns e.g. "tx-statute-PE".
func StatuteSourceID(code string) string {
	return "tx-statute-" + strings.ToUpper(code)
}

// TACSourceID returns e.g. "tx-tac-16".
func TACSourceID(title int) string {
	return fmt.Sprintf("tx-tac-%d", title)
}

// CountySourceID returns e.g. "county-TX-48201".
func CountySourceID(jurisdiction string) string {
	return "county-" + jurisdiction
}

// MunicipalSourceID returns e.g. "muni-TX-houston".
func MunicipalSourceID(jurisdiction string) string {
	return "muni-" + jurisdiction
}

// SectionKey builds the deterministic per-section key used in chunk IDs
// from parent identifiers and the section ID, e.g.
// SectionKey("t21", "p117", "117.3") → "t21-p117-117.3".
func SectionKey(parts ...string) string {
	var kept []string
	for _, p := range parts {
		p = keyStrip.ReplaceAllString(strings.ToLower(strings.TrimSpace(p)), "-")
		p = strings.Trim(p, "-")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "-")
}

// ChunkID builds the deterministic chunk identifier. Same input, same
// output: upserts keyed by ChunkID are idempotent across runs.
func ChunkID(sourceID, sectionKey string, index int) string {
	return fmt.Sprintf("%s-%s-%d", strings.ToLower(sourceID), sectionKey, index)
}

// Hierarchy builds ordered breadcrumbs from the non-empty labels,
// outermost first, e.g. ["Title 21", "Part 117", "§ 117.3"].
func Hierarchy(labels ...string) []string {
	var out []string
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
