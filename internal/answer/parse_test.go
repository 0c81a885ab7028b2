package answer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleAnswer = `### Federal

Food facilities must register with the FDA before operating [1]. Current
good manufacturing practice applies to all processing steps [2][1].

### State

Texas requires a food manufacturer license for wholesale production [3].

### Required Permits

- Permit Name: Food Facility Registration
  Issuing Agency: U.S. Food and Drug Administration
  Jurisdiction: Federal
  URL: https://www.fda.gov/food/registration
  Regulatory Reference: 21 C.F.R. § 1.225
- Permit Name: Food Manufacturer License
  Issuing Agency: Texas Department of State Health Services
  Jurisdiction: State
  Regulatory Reference: 25 Tex. Admin. Code § 229.621
`

func sampleChunks() []RetrievedChunk {
	return []RetrievedChunk{
		{ChunkID: "cfr-title-21-t21-p1-1.225-0", Citation: "21 C.F.R. § 1.225", URL: "https://ecfr.gov/title-21/1.225"},
		{ChunkID: "cfr-title-21-t21-p117-117.3-0", Citation: "21 C.F.R. § 117.3", URL: "https://ecfr.gov/title-21/117.3"},
		{ChunkID: "tx-tac-25-229.621-0", Citation: "25 Tex. Admin. Code § 229.621", URL: "https://texreg.sos.state.tx.us/229.621"},
	}
}

func TestParseSections(t *testing.T) {
	sections := parseSections(sampleAnswer)
	require.Len(t, sections, 2)

	assert.Equal(t, "Federal", sections[0].Heading)
	assert.True(t, strings.HasPrefix(sections[0].Text, "Food facilities must register"))
	assert.NotContains(t, sections[0].Text, "Texas requires")

	assert.Equal(t, "State", sections[1].Heading)
	assert.Equal(t, "Texas requires a food manufacturer license for wholesale production [3].", sections[1].Text)
}

func TestParseSections_IgnoresOtherHeadings(t *testing.T) {
	text := "### Background\n\nintro\n\n### Municipal\n\nHouston caps amplified sound at 75 dB [1].\n\n### County\n"
	sections := parseSections(text)
	require.Len(t, sections, 1)
	assert.Equal(t, "Municipal", sections[0].Heading)
	assert.Equal(t, "Houston caps amplified sound at 75 dB [1].", sections[0].Text)
}

func TestParseCitations(t *testing.T) {
	cites := parseCitations(sampleAnswer, sampleChunks())
	require.Len(t, cites, 3)

	assert.Equal(t, 1, cites[0].Index)
	assert.Equal(t, "cfr-title-21-t21-p1-1.225-0", cites[0].ChunkID)
	assert.Equal(t, "21 C.F.R. § 1.225", cites[0].Citation)
	assert.Equal(t, "https://ecfr.gov/title-21/1.225", cites[0].URL)

	// [1] repeats but is reported once; order follows first appearance.
	assert.Equal(t, 2, cites[1].Index)
	assert.Equal(t, 3, cites[2].Index)
}

func TestParseCitations_OutOfRangeDropped(t *testing.T) {
	text := "Registration is mandatory [1]. See also [9] and [0]."
	cites := parseCitations(text, sampleChunks())
	require.Len(t, cites, 1)
	assert.Equal(t, 1, cites[0].Index)
}

func TestParsePermits(t *testing.T) {
	permits := parsePermits(permitsSection(sampleAnswer))
	require.Len(t, permits, 2)

	assert.Equal(t, "Food Facility Registration", permits[0].Name)
	assert.Equal(t, "U.S. Food and Drug Administration", permits[0].IssuingAgency)
	assert.Equal(t, "Federal", permits[0].Jurisdiction)
	assert.Equal(t, "https://www.fda.gov/food/registration", permits[0].URL)
	assert.Equal(t, "21 C.F.R. § 1.225", permits[0].RegulatoryReference)

	assert.Equal(t, "Food Manufacturer License", permits[1].Name)
	assert.Empty(t, permits[1].URL)
	assert.Equal(t, "25 Tex. Admin. Code § 229.621", permits[1].RegulatoryReference)
}

func TestParsePermits_NoSection(t *testing.T) {
	assert.Nil(t, parsePermits(permitsSection("### Federal\n\nNo permits required [1].")))
}

func TestSummarize(t *testing.T) {
	got := summarize(sampleAnswer)
	assert.True(t, strings.HasPrefix(got, "Food facilities must register"))
	assert.NotContains(t, got, "###")
}

func TestSummarize_Truncates(t *testing.T) {
	long := strings.Repeat("regulatory text ", 100)
	got := summarize(long)
	assert.Len(t, []rune(got), 500)
}

func TestParseAnswer(t *testing.T) {
	parsed := parseAnswer(sampleAnswer, sampleChunks())
	assert.Len(t, parsed.sections, 2)
	assert.Len(t, parsed.citations, 3)
	assert.Len(t, parsed.permits, 2)
	assert.NotEmpty(t, parsed.summary)
}
