package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/regscope/regscope/internal/cite"
	"github.com/regscope/regscope/internal/errors"
	"github.com/regscope/regscope/internal/objstore"
	"github.com/regscope/regscope/internal/render"
)

// City is one registry entry: a city code portal rendered to Markdown
// by the rendering service.
type City struct {
	Name    string // e.g. "Houston"
	State   string // e.g. "TX"
	BaseURL string
}

// Jurisdiction returns the canonical city identifier, e.g.
// "TX-houston".
func (c City) Jurisdiction() string {
	return cite.MunicipalJurisdiction(c.State, c.Name)
}

// DefaultCities is the built-in registry of ingested Texas cities.
var DefaultCities = []City{
	{Name: "Houston", State: "TX", BaseURL: "https://library.municode.com/tx/houston"},
	{Name: "San Antonio", State: "TX", BaseURL: "https://library.municode.com/tx/san_antonio"},
	{Name: "Dallas", State: "TX", BaseURL: "https://codelibrary.amlegal.com/codes/dallas"},
	{Name: "Austin", State: "TX", BaseURL: "https://library.municode.com/tx/austin"},
	{Name: "Fort Worth", State: "TX", BaseURL: "https://codelibrary.amlegal.com/codes/ftworth"},
	{Name: "El Paso", State: "TX", BaseURL: "https://codelibrary.amlegal.com/codes/elpaso"},
	{Name: "Arlington", State: "TX", BaseURL: "https://library.municode.com/tx/arlington"},
	{Name: "Corpus Christi", State: "TX", BaseURL: "https://library.municode.com/tx/corpus_christi"},
	{Name: "Plano", State: "TX", BaseURL: "https://library.municode.com/tx/plano"},
	{Name: "Laredo", State: "TX", BaseURL: "https://library.municode.com/tx/laredo"},
	{Name: "Lubbock", State: "TX", BaseURL: "https://library.municode.com/tx/lubbock"},
	{Name: "Garland", State: "TX", BaseURL: "https://library.municode.com/tx/garland"},
	{Name: "Irving", State: "TX", BaseURL: "https://codelibrary.amlegal.com/codes/irving"},
	{Name: "Amarillo", State: "TX", BaseURL: "https://library.municode.com/tx/amarillo"},
	{Name: "Grand Prairie", State: "TX", BaseURL: "https://library.municode.com/tx/grand_prairie"},
	{Name: "Brownsville", State: "TX", BaseURL: "https://library.municode.com/tx/brownsville"},
	{Name: "McKinney", State: "TX", BaseURL: "https://library.municode.com/tx/mckinney"},
	{Name: "Frisco", State: "TX", BaseURL: "https://library.municode.com/tx/frisco"},
	{Name: "Pasadena", State: "TX", BaseURL: "https://library.municode.com/tx/pasadena"},
	{Name: "Mesquite", State: "TX", BaseURL: "https://library.municode.com/tx/mesquite"},
}

// MunicipalFetcher produces sections for the registered cities via the
// rendering service. Units are city jurisdiction identifiers.
type MunicipalFetcher struct {
	renderer render.Renderer
	store    objstore.Store
	cities   []City
	now      func() time.Time
}

// Compile-time interface check.
var _ Fetcher = (*MunicipalFetcher)(nil)

// NewMunicipalFetcher creates a fetcher over the given registry; nil
// uses DefaultCities.
func NewMunicipalFetcher(renderer render.Renderer, store objstore.Store, cities []City) *MunicipalFetcher {
	if cities == nil {
		cities = DefaultCities
	}
	return &MunicipalFetcher{
		renderer: renderer,
		store:    store,
		cities:   cities,
		now:      time.Now,
	}
}

// Family returns the source family.
func (f *MunicipalFetcher) Family() string { return cite.SourceMunicipal }

// Label identifies the fetcher in logs.
func (f *MunicipalFetcher) Label() string { return "municipal" }

// Units returns the registered city jurisdiction identifiers.
func (f *MunicipalFetcher) Units(_ context.Context) ([]string, error) {
	units := make([]string, len(f.cities))
	for i, c := range f.cities {
		units[i] = c.Jurisdiction()
	}
	return units, nil
}

// FetchUnit renders one city's code portal and parses the Markdown
// into sections.
func (f *MunicipalFetcher) FetchUnit(ctx context.Context, unitID string) (*Unit, error) {
	city, ok := f.city(unitID)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeValidation, "unknown city %q", unitID)
	}

	markdown, err := f.renderer.Render(ctx, city.BaseURL)
	if err != nil {
		return nil, err
	}

	fetched := f.now().UTC()
	if f.store != nil {
		key := objstore.MunicipalRawKey(city.Jurisdiction())
		md := objstore.DocumentMetadata(cite.MunicipalSourceID(city.Jurisdiction()), "municipal_markdown", fetched, map[string]string{
			"city": city.Name,
		})
		if err := f.store.Put(ctx, key, []byte(markdown), md); err != nil {
			return nil, err
		}
	}

	sections, attempted := ParseMunicipalMarkdown(markdown, city)
	for _, sec := range sections {
		sec.FetchedAt = fetched
		if f.store != nil {
			data, err := json.Marshal(sec)
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeInternal, err)
			}
			key := objstore.MunicipalSectionKey(city.Jurisdiction(), sec.Chapter, sec.SectionID)
			md := objstore.DocumentMetadata(cite.MunicipalSourceID(city.Jurisdiction()), "municipal_section_json", fetched, map[string]string{
				"city":    city.Name,
				"chapter": sec.Chapter,
				"section": sec.SectionID,
			})
			if err := f.store.Put(ctx, key, data, md); err != nil {
				return nil, err
			}
		}
	}

	if attempted > 0 && len(sections)*2 < attempted {
		slog.Warn("municipal_low_parse_rate",
			slog.String("city", city.Name),
			slog.Int("attempted", attempted),
			slog.Int("passed", len(sections)))
	}
	slog.Info("municipal_unit_complete",
		slog.String("city", city.Name),
		slog.Int("sections", len(sections)))
	return &Unit{Sections: sections}, nil
}

func (f *MunicipalFetcher) city(jurisdiction string) (City, bool) {
	for _, c := range f.cities {
		if c.Jurisdiction() == jurisdiction {
			return c, true
		}
	}
	return City{}, false
}

var (
	// mdChapterRe matches chapter boundaries: "# Chapter 14",
	// "## Article I", "## Part I". Roman-numeral articles keep their
	// numeral verbatim.
	mdChapterRe = regexp.MustCompile(`^(#{1,2})\s+(?:Chapter\s+(\d+[A-Z]?)|(?:Article|Part)\s+([IVXLC]+|\d+))\b`)

	// mdSectionRe matches section headings at depth 2-4, e.g.
	// "### Sec. 14-21. Food permits" or "## 1-2: General penalties".
	mdSectionRe = regexp.MustCompile(`^(#{2,4})\s+(?:Sec(?:tion)?\.?\s*)?(\d+(?:[-.]\w+)*)[.:]?\s+(.+)$`)

	mdHeadingRe = regexp.MustCompile(`^#{1,6}\s`)
)

// ParseMunicipalMarkdown walks rendered Markdown line by line,
// splitting it into sections at chapter and section headings. Returns
// the parsed sections and the number of section headings attempted,
// for the pass-rate warning.
func ParseMunicipalMarkdown(markdown string, city City) ([]*Section, int) {
	lines := strings.Split(markdown, "\n")

	var sections []*Section
	var attempted int

	chapter := ""
	var current *Section
	var body []string

	flush := func() {
		if current == nil {
			return
		}
		text := strings.TrimSpace(strings.Join(body, "\n"))
		current.Text = text
		current.Subsections = SplitSubsections(text)
		if current.SectionID != "" && len(text) >= 10 && current.Heading != "" {
			sections = append(sections, current)
		}
		current = nil
		body = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")

		if m := mdChapterRe.FindStringSubmatch(trimmed); m != nil {
			flush()
			if m[2] != "" {
				chapter = m[2]
			} else {
				chapter = m[3]
			}
			continue
		}

		if m := mdSectionRe.FindStringSubmatch(trimmed); m != nil {
			flush()
			attempted++
			current = &Section{
				SourceType:   cite.SourceMunicipal,
				Jurisdiction: city.Jurisdiction(),
				City:         city.Name,
				Chapter:      chapter,
				SectionID:    m[2],
				Heading:      strings.TrimRight(strings.TrimSpace(m[3]), "."),
				SourceURL:    city.BaseURL,
			}
			continue
		}

		if mdHeadingRe.MatchString(trimmed) {
			// An unrecognized heading ends the current section.
			flush()
			continue
		}

		if current != nil {
			body = append(body, trimmed)
		}
	}
	flush()

	return sections, attempted
}
