package source

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/regscope/regscope/internal/cite"
	"github.com/regscope/regscope/internal/errors"
	"github.com/regscope/regscope/internal/objstore"
	"github.com/regscope/regscope/internal/scrape"
)

// County is one registry entry: a county code site and the platform
// that publishes it.
type County struct {
	Name     string // e.g. "Harris"
	State    string // e.g. "TX"
	FIPS     string // five-digit state+county FIPS
	Platform string // municode | amlegal | generalcode
	BaseURL  string
}

// Jurisdiction returns the canonical county identifier, e.g.
// "TX-48201".
func (c County) Jurisdiction() string {
	return cite.CountyJurisdiction(c.State, c.FIPS)
}

// DefaultCounties is the built-in registry of ingested Texas counties.
var DefaultCounties = []County{
	{Name: "Harris", State: "TX", FIPS: "48201", Platform: "municode", BaseURL: "https://library.municode.com/tx/harris_county"},
	{Name: "Dallas", State: "TX", FIPS: "48113", Platform: "municode", BaseURL: "https://library.municode.com/tx/dallas_county"},
	{Name: "Tarrant", State: "TX", FIPS: "48439", Platform: "amlegal", BaseURL: "https://codelibrary.amlegal.com/codes/tarrantcounty"},
	{Name: "Bexar", State: "TX", FIPS: "48029", Platform: "municode", BaseURL: "https://library.municode.com/tx/bexar_county"},
	{Name: "Travis", State: "TX", FIPS: "48453", Platform: "generalcode", BaseURL: "https://ecode360.com/traviscounty"},
	{Name: "Collin", State: "TX", FIPS: "48085", Platform: "amlegal", BaseURL: "https://codelibrary.amlegal.com/codes/collincounty"},
	{Name: "Denton", State: "TX", FIPS: "48121", Platform: "municode", BaseURL: "https://library.municode.com/tx/denton_county"},
	{Name: "Hidalgo", State: "TX", FIPS: "48215", Platform: "generalcode", BaseURL: "https://ecode360.com/hidalgocounty"},
	{Name: "El Paso", State: "TX", FIPS: "48141", Platform: "amlegal", BaseURL: "https://codelibrary.amlegal.com/codes/elpasocounty"},
	{Name: "Fort Bend", State: "TX", FIPS: "48157", Platform: "municode", BaseURL: "https://library.municode.com/tx/fort_bend_county"},
}

// Platform discovers chapter pages for a county code site. The three
// publishing platforms differ only in how chapters are linked; section
// extraction is shared.
type Platform interface {
	Name() string

	// ChapterURLs returns (chapter identifier, absolute URL) pairs
	// discovered from the county's landing page.
	ChapterURLs(baseURL string, landing []byte) []ChapterRef
}

// ChapterRef is one discovered chapter page.
type ChapterRef struct {
	Chapter string
	URL     string
}

// platformFor returns the adapter for a registry platform name.
func platformFor(name string) (Platform, error) {
	switch name {
	case "municode":
		return municodePlatform{}, nil
	case "amlegal":
		return amlegalPlatform{}, nil
	case "generalcode":
		return generalcodePlatform{}, nil
	}
	return nil, errors.Newf(errors.ErrCodeConfig, "unknown county platform %q", name)
}

type municodePlatform struct{}

func (municodePlatform) Name() string { return "municode" }

var municodeChapterRe = regexp.MustCompile(`href="([^"]*nodeId=CH(\d+)[^"]*)"`)

func (municodePlatform) ChapterURLs(baseURL string, landing []byte) []ChapterRef {
	return chapterRefs(baseURL, landing, municodeChapterRe)
}

type amlegalPlatform struct{}

func (amlegalPlatform) Name() string { return "amlegal" }

var amlegalChapterRe = regexp.MustCompile(`href="([^"]*/chapter-?(\d+)[^"]*)"`)

func (amlegalPlatform) ChapterURLs(baseURL string, landing []byte) []ChapterRef {
	return chapterRefs(baseURL, landing, amlegalChapterRe)
}

type generalcodePlatform struct{}

func (generalcodePlatform) Name() string { return "generalcode" }

var generalcodeChapterRe = regexp.MustCompile(`href="([^"]*attId=CH(\d+)[^"]*)"`)

func (generalcodePlatform) ChapterURLs(baseURL string, landing []byte) []ChapterRef {
	return chapterRefs(baseURL, landing, generalcodeChapterRe)
}

// chapterRefs extracts unique chapter links. The regex's first group is
// the href, the second the chapter number.
func chapterRefs(baseURL string, landing []byte, re *regexp.Regexp) []ChapterRef {
	seen := make(map[string]bool)
	var refs []ChapterRef
	for _, m := range re.FindAllStringSubmatch(string(landing), -1) {
		href, chapter := m[1], m[2]
		if seen[chapter] {
			continue
		}
		seen[chapter] = true
		if strings.HasPrefix(href, "/") {
			href = strings.TrimSuffix(baseURL, "/") + href
		} else if !strings.HasPrefix(href, "http") {
			href = strings.TrimSuffix(baseURL, "/") + "/" + href
		}
		refs = append(refs, ChapterRef{Chapter: chapter, URL: href})
	}
	return refs
}

// countySectionRe matches section headings inside a chapter's text,
// e.g. "Sec. 14-21. Food establishment permits." or
// "Section 14-21: Permits".
var countySectionRe = regexp.MustCompile(`(?m)^\s*Sec(?:tion)?\.?\s*(\d+[-.][\w.-]+?)[.:\s-]+\s*(\S.*)$`)

// CountyFetcher produces sections for the registered counties. Units
// are county jurisdiction identifiers.
type CountyFetcher struct {
	client   *scrape.Client
	store    objstore.Store
	counties []County
	now      func() time.Time
}

// Compile-time interface check.
var _ Fetcher = (*CountyFetcher)(nil)

// NewCountyFetcher creates a fetcher over the given registry; nil uses
// DefaultCounties.
func NewCountyFetcher(client *scrape.Client, store objstore.Store, counties []County) *CountyFetcher {
	if counties == nil {
		counties = DefaultCounties
	}
	return &CountyFetcher{
		client:   client,
		store:    store,
		counties: counties,
		now:      time.Now,
	}
}

// Family returns the source family.
func (f *CountyFetcher) Family() string { return cite.SourceCounty }

// Label identifies the fetcher in logs.
func (f *CountyFetcher) Label() string { return "counties" }

// Units returns the registered county jurisdiction identifiers.
func (f *CountyFetcher) Units(_ context.Context) ([]string, error) {
	units := make([]string, len(f.counties))
	for i, c := range f.counties {
		units[i] = c.Jurisdiction()
	}
	return units, nil
}

// FetchUnit fetches all sections of one county's code. A failing
// chapter is logged, recorded in Skipped, and the unit continues.
func (f *CountyFetcher) FetchUnit(ctx context.Context, unitID string) (*Unit, error) {
	county, ok := f.county(unitID)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeValidation, "unknown county %q", unitID)
	}
	platform, err := platformFor(county.Platform)
	if err != nil {
		return nil, err
	}

	landing, err := f.client.Fetch(ctx, county.BaseURL)
	if err != nil {
		return nil, err
	}

	refs := platform.ChapterURLs(county.BaseURL, landing)
	if len(refs) == 0 {
		return nil, errors.Newf(errors.ErrCodeScraping,
			"no chapters found for %s county on %s", county.Name, platform.Name())
	}

	unit := &Unit{}
	for _, ref := range refs {
		chapterSections, err := f.fetchChapter(ctx, county, ref)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			if errors.IsNotFound(err) {
				continue
			}
			slog.Warn("county_chapter_failed",
				slog.String("county", county.Name),
				slog.String("chapter", ref.Chapter),
				slog.String("error", err.Error()))
			unit.Skipped = append(unit.Skipped, SectionFailure{
				ID: "ch" + ref.Chapter, Error: err.Error(),
			})
			continue
		}
		unit.Sections = append(unit.Sections, chapterSections...)
	}

	slog.Info("county_unit_complete",
		slog.String("county", county.Name),
		slog.String("platform", platform.Name()),
		slog.Int("chapters", len(refs)),
		slog.Int("sections", len(unit.Sections)),
		slog.Int("skipped", len(unit.Skipped)))
	return unit, nil
}

func (f *CountyFetcher) county(jurisdiction string) (County, bool) {
	for _, c := range f.counties {
		if c.Jurisdiction() == jurisdiction {
			return c, true
		}
	}
	return County{}, false
}

func (f *CountyFetcher) fetchChapter(ctx context.Context, county County, ref ChapterRef) ([]*Section, error) {
	body, err := f.client.Fetch(ctx, ref.URL)
	if err != nil {
		return nil, err
	}

	sections := parseCountyChapter(body, county, ref)
	fetched := f.now().UTC()

	for _, sec := range sections {
		sec.FetchedAt = fetched
		if f.store != nil {
			key := objstore.CountySectionKey(county.Jurisdiction(), ref.Chapter, sec.SectionID)
			md := objstore.DocumentMetadata(cite.CountySourceID(county.Jurisdiction()), "county_section_html", fetched, map[string]string{
				"county":  county.Name,
				"chapter": ref.Chapter,
				"section": sec.SectionID,
			})
			if err := f.store.Put(ctx, key, []byte(sec.Text), md); err != nil {
				return nil, err
			}
		}
	}
	return sections, nil
}

// parseCountyChapter extracts the chapter's readable text and splits it
// at section headings.
func parseCountyChapter(body []byte, county County, ref ChapterRef) []*Section {
	text := chapterText(body)
	if text == "" {
		return nil
	}

	matches := countySectionRe.FindAllStringSubmatchIndex(text, -1)
	var sections []*Section
	for i, m := range matches {
		id := text[m[2]:m[3]]
		heading := strings.TrimRight(strings.TrimSpace(text[m[4]:m[5]]), ".")
		start := m[1]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		secText := strings.TrimSpace(text[start:end])
		if len(secText) < 10 {
			continue
		}
		sections = append(sections, &Section{
			SourceType:   cite.SourceCounty,
			Jurisdiction: county.Jurisdiction(),
			County:       county.Name,
			Chapter:      ref.Chapter,
			SectionID:    id,
			Heading:      heading,
			Text:         secText,
			Subsections:  SplitSubsections(secText),
			SourceURL:    ref.URL,
		})
	}
	return sections
}

// chapterText renders a chapter page to paragraph-preserving text.
func chapterText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find("script, style, nav, header, footer").Remove()

	var lines []string
	doc.Find("p, h1, h2, h3, h4, li, div.section").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Filter("p, div").Length() > 0 {
			return
		}
		if t := collapseSpaces(s.Text()); t != "" {
			lines = append(lines, t)
		}
	})
	if len(lines) == 0 {
		return collapseSpaces(doc.Find("body").Text())
	}
	return strings.Join(lines, "\n")
}

