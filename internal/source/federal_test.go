package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regscope/regscope/internal/objstore"
	"github.com/regscope/regscope/internal/scrape"
)

const part117XML = `<?xml version="1.0" encoding="UTF-8"?>
<ECFR>
  <DIV1 N="21" TYPE="TITLE">
    <DIV5 N="117" TYPE="PART">
      <HEAD>PART 117—CURRENT GOOD MANUFACTURING PRACTICE</HEAD>
      <DIV8 N="117.1" TYPE="SECTION" EFFECTIVE="2015-09-17">
        <SECTNO>&#167; 117.1</SECTNO>
        <HEAD>&#167; 117.1 Applicability and status.</HEAD>
        <P>The criteria in this part apply in determining whether a food is adulterated.</P>
        <FP>Compliance with this part is mandatory for covered facilities.</FP>
      </DIV8>
      <DIV8 N="117.3" TYPE="SECTION" AMENDED="2020-03-01">
        <SECTNO>&#167; 117.3</SECTNO>
        <HEAD>&#167; 117.3 Definitions.</HEAD>
        <P>(a) The definitions of terms in section 201 of the act apply to such terms when used in this part.</P>
        <P>(b) <E T="03">Acidified food</E> means a low-acid food to which acid is added.</P>
      </DIV8>
    </DIV5>
  </DIV1>
</ECFR>`

const barePart117XML = `<DIV5 N="117" TYPE="PART">
  <DIV8 N="117.3" TYPE="SECTION">
    <SECTNO>&#167; 117.3</SECTNO>
    <HEAD>&#167; 117.3 Definitions.</HEAD>
    <P>(a) Terms apply as defined. (b) Acidified food means a low-acid food.</P>
  </DIV8>
</DIV5>`

func TestParsePart_WrappedDocument(t *testing.T) {
	f := NewFederalFetcher(nil, nil, "", 21)

	sections, err := f.ParsePart("117", []byte(part117XML))
	require.NoError(t, err)
	require.Len(t, sections, 2)

	first := sections[0]
	assert.Equal(t, "117.1", first.SectionID)
	assert.Equal(t, "Applicability and status", first.Heading)
	assert.Equal(t, "US", first.Jurisdiction)
	assert.Equal(t, "federal", first.SourceType)
	assert.Equal(t, "2015-09-17", first.EffectiveDate)
	assert.Contains(t, first.Text, "criteria in this part")
	assert.Contains(t, first.Text, "Compliance with this part")
	assert.Contains(t, first.SourceURL, "title-21/part-117/section-117.1")

	second := sections[1]
	assert.Equal(t, "117.3", second.SectionID)
	assert.Equal(t, "2020-03-01", second.LastAmended)
	// Inline markup inside P elements is stripped.
	assert.Contains(t, second.Text, "Acidified food means a low-acid food")
	require.Len(t, second.Subsections, 2)
	assert.Equal(t, "(a)", second.Subsections[0].ID)
}

func TestParsePart_BareDIV5(t *testing.T) {
	f := NewFederalFetcher(nil, nil, "", 21)

	sections, err := f.ParsePart("117", []byte(barePart117XML))
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "117.3", sections[0].SectionID)
}

func TestParsePart_DeterministicIdentity(t *testing.T) {
	f := NewFederalFetcher(nil, nil, "", 21)

	a, err := f.ParsePart("117", []byte(part117XML))
	require.NoError(t, err)
	b, err := f.ParsePart("117", []byte(part117XML))
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].SectionID, b[i].SectionID)
		assert.Equal(t, a[i].Text, b[i].Text)
		assert.Equal(t, a[i].Citation(), b[i].Citation())
		assert.Equal(t, a[i].Key(), b[i].Key())
	}
	assert.Equal(t, "21 C.F.R. § 117.3", a[1].Citation())
	assert.Equal(t, "t21-p117-117.3", a[1].Key())
}

func newFederalTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/versioner/v1/titles.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"titles":[{"number":21,"up_to_date_as_of":"2025-08-01"}]}`))
	})
	mux.HandleFunc("/api/versioner/v1/structure/2025-08-01/title-21.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"type":"title","identifier":"21",
			"children":[{"type":"chapter","identifier":"I","children":[
				{"type":"part","identifier":"117","children":[]},
				{"type":"part","identifier":"110","children":[]}
			]}]
		}`))
	})
	mux.HandleFunc("/api/versioner/v1/full/2025-08-01/title-21.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(part117XML))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFederalFetcher_UnitsSortedNumerically(t *testing.T) {
	srv := newFederalTestServer(t)
	f := NewFederalFetcher(scrape.NewClient(0), nil, srv.URL, 21)

	units, err := f.Units(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"110", "117"}, units)
}

func TestFederalFetcher_FetchUnitPersistsRawXML(t *testing.T) {
	srv := newFederalTestServer(t)
	store := objstore.NewMem()
	f := NewFederalFetcher(scrape.NewClient(0), store, srv.URL, 21)

	unit, err := f.FetchUnit(context.Background(), "117")
	require.NoError(t, err)
	assert.Len(t, unit.Sections, 2)

	raw, md, err := store.Get(context.Background(), "federal/cfr/title-21/part-117.xml")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "DIV8")
	assert.Equal(t, "cfr-title-21", md[objstore.MetaSource])
	assert.Equal(t, "cfr_part_xml", md[objstore.MetaDataType])
}

func TestFederalFetcher_DateFallbackWhenTitlesUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/versioner/v1/titles.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f := NewFederalFetcher(scrape.NewClient(0), nil, srv.URL, 21)
	f.now = func() time.Time { return time.Date(2025, 8, 20, 0, 0, 0, 0, time.UTC) }

	date, err := f.availableDate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-08-13", date)
}

func TestCacheBuilder_BuildAndReadBack(t *testing.T) {
	srv := newFederalTestServer(t)
	store := objstore.NewMem()
	fetcher := NewFederalFetcher(scrape.NewClient(0), store, srv.URL, 21)
	builder := NewCacheBuilder(fetcher, store)

	res, err := builder.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Parts)
	assert.Equal(t, 2, res.Parsed)
	assert.Empty(t, res.Failures)

	cached := NewCachedFederalFetcher(store, 21)
	units, err := cached.Units(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"110", "117"}, units)

	unit, err := cached.FetchUnit(context.Background(), "117")
	require.NoError(t, err)
	require.Len(t, unit.Sections, 2)
	assert.Equal(t, "117.1", unit.Sections[0].SectionID)

	// A second pass re-fetches but skips re-parsing unchanged XML.
	res2, err := NewCacheBuilder(fetcher, store).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res2.Skipped)
	assert.Equal(t, 0, res2.Parsed)
}
