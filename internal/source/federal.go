package source

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/regscope/regscope/internal/cite"
	"github.com/regscope/regscope/internal/errors"
	"github.com/regscope/regscope/internal/objstore"
	"github.com/regscope/regscope/internal/scrape"
)

// DefaultECFRBase is the eCFR versioner API host.
const DefaultECFRBase = "https://www.ecfr.gov"

// FederalFetcher produces sections for one CFR title from the eCFR
// versioner API. Units are part numbers.
type FederalFetcher struct {
	client  *scrape.Client
	store   objstore.Store // nil skips raw persistence
	baseURL string
	title   int
	now     func() time.Time

	dateOnce sync.Once
	date     string
	dateErr  error
}

// Compile-time interface check.
var _ Fetcher = (*FederalFetcher)(nil)

// NewFederalFetcher creates a fetcher for one CFR title. store may be
// nil to skip raw-document persistence.
func NewFederalFetcher(client *scrape.Client, store objstore.Store, baseURL string, title int) *FederalFetcher {
	if baseURL == "" {
		baseURL = DefaultECFRBase
	}
	return &FederalFetcher{
		client:  client,
		store:   store,
		baseURL: baseURL,
		title:   title,
		now:     time.Now,
	}
}

// Family returns the source family.
func (f *FederalFetcher) Family() string { return cite.SourceFederal }

// Label returns the source identifier, e.g. "cfr-title-21".
func (f *FederalFetcher) Label() string { return cite.FederalSourceID(f.title) }

type ecfrTitles struct {
	Titles []struct {
		Number       int    `json:"number"`
		UpToDateAsOf string `json:"up_to_date_as_of"`
	} `json:"titles"`
}

// availableDate resolves the versioner date for this title, cached for
// the fetcher's lifetime. Falls back to 7 days ago when the metadata
// endpoint is unavailable; very recent dates 404 on the full-text API.
func (f *FederalFetcher) availableDate(ctx context.Context) (string, error) {
	f.dateOnce.Do(func() {
		fallback := f.now().AddDate(0, 0, -7).Format("2006-01-02")

		body, err := f.client.Fetch(ctx, f.baseURL+"/api/versioner/v1/titles.json")
		if err != nil {
			slog.Warn("ecfr_titles_unavailable",
				slog.String("fallback_date", fallback),
				slog.String("error", err.Error()))
			f.date = fallback
			return
		}

		var titles ecfrTitles
		if err := json.Unmarshal(body, &titles); err != nil {
			f.date = fallback
			return
		}
		for _, t := range titles.Titles {
			if t.Number == f.title && t.UpToDateAsOf != "" {
				f.date = t.UpToDateAsOf
				return
			}
		}
		f.date = fallback
	})
	return f.date, f.dateErr
}

type structureNode struct {
	Type       string          `json:"type"`
	Identifier string          `json:"identifier"`
	Label      string          `json:"label"`
	Children   []structureNode `json:"children"`
}

func (n *structureNode) collectParts(parts *[]string) {
	if n.Type == "part" && n.Identifier != "" {
		*parts = append(*parts, n.Identifier)
	}
	for i := range n.Children {
		n.Children[i].collectParts(parts)
	}
}

// Units returns the title's part numbers from the structure endpoint,
// numerically sorted.
func (f *FederalFetcher) Units(ctx context.Context) ([]string, error) {
	date, err := f.availableDate(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/versioner/v1/structure/%s/title-%d.json", f.baseURL, date, f.title)
	body, err := f.client.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	var root structureNode
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, errors.New(errors.ErrCodeScraping,
			fmt.Sprintf("malformed structure for title %d", f.title), err)
	}

	var parts []string
	root.collectParts(&parts)
	sortParts(parts)

	slog.Info("federal_structure_loaded",
		slog.Int("title", f.title),
		slog.String("date", date),
		slog.Int("parts", len(parts)))
	return parts, nil
}

// FetchUnit fetches and parses one part's XML, persisting the raw
// document first.
func (f *FederalFetcher) FetchUnit(ctx context.Context, part string) (*Unit, error) {
	raw, err := f.FetchPartXML(ctx, part)
	if err != nil {
		return nil, err
	}
	sections, err := f.ParsePart(part, raw)
	if err != nil {
		return nil, err
	}
	return &Unit{Sections: sections}, nil
}

// FetchPartXML fetches one part's raw XML and persists it when a store
// is configured.
func (f *FederalFetcher) FetchPartXML(ctx context.Context, part string) ([]byte, error) {
	date, err := f.availableDate(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/versioner/v1/full/%s/title-%d.xml?part=%s", f.baseURL, date, f.title, part)
	raw, err := f.client.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if f.store != nil {
		key := objstore.FederalPartKey(f.title, part)
		md := objstore.DocumentMetadata(f.Label(), "cfr_part_xml", f.now().UTC(), map[string]string{
			"title": strconv.Itoa(f.title),
			"part":  part,
		})
		if err := f.store.Put(ctx, key, raw, md); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// ParsePart parses a part's XML into sections. The document may be a
// full-title wrapper (<ECFR><DIV1>…) or a bare <DIV5 TYPE="PART">;
// section elements are DIV8 TYPE="SECTION" either way.
func (f *FederalFetcher) ParsePart(part string, raw []byte) ([]*Section, error) {
	xmlSections, err := parseCFRSections(raw)
	if err != nil {
		return nil, errors.New(errors.ErrCodeValidation,
			fmt.Sprintf("title %d part %s: malformed XML", f.title, part), err)
	}

	fetched := f.now().UTC()
	sections := make([]*Section, 0, len(xmlSections))
	for _, xs := range xmlSections {
		if xs.Number == "" || xs.Text == "" {
			continue
		}
		sections = append(sections, &Section{
			SourceType:    cite.SourceFederal,
			Jurisdiction:  cite.JurisdictionFederal,
			Title:         f.title,
			Part:          part,
			SectionID:     xs.Number,
			Heading:       xs.Heading,
			Text:          xs.Text,
			Subsections:   SplitSubsections(xs.Text),
			SourceURL:     fmt.Sprintf("%s/current/title-%d/part-%s/section-%s", f.baseURL, f.title, part, xs.Number),
			EffectiveDate: xs.Effective,
			LastAmended:   xs.Amended,
			FetchedAt:     fetched,
		})
	}
	return sections, nil
}

// cfrSection is one parsed DIV8 element.
type cfrSection struct {
	Number    string
	Heading   string
	Text      string
	Effective string
	Amended   string
}

type cfrSectionXML struct {
	N         string       `xml:"N,attr"`
	Effective string       `xml:"EFFECTIVE,attr"`
	Amended   string       `xml:"AMENDED,attr"`
	Elems     []cfrElement `xml:",any"`
}

type cfrElement struct {
	XMLName xml.Name
	Inner   string `xml:",innerxml"`
}

var (
	tagRe      = regexp.MustCompile(`<[^>]*>`)
	sectnoRe   = regexp.MustCompile(`^§+\s*`)
	headNoRe   = regexp.MustCompile(`^§+\s*[\d][\w.-]*\s*`)
	multiSpace = regexp.MustCompile(`[ \t]+`)
)

// parseCFRSections walks the token stream collecting DIV8
// TYPE="SECTION" subtrees regardless of wrapper shape.
func parseCFRSections(raw []byte) ([]cfrSection, error) {
	dec := xml.NewDecoder(strings.NewReader(string(raw)))
	dec.Strict = false

	var sections []cfrSection
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		se, ok := tok.(xml.StartElement)
		if !ok || !strings.HasPrefix(se.Name.Local, "DIV") || xmlAttr(se, "TYPE") != "SECTION" {
			continue
		}

		var xs cfrSectionXML
		if err := dec.DecodeElement(&xs, &se); err != nil {
			return nil, err
		}
		sections = append(sections, buildCFRSection(xs))
	}
	return sections, nil
}

func buildCFRSection(xs cfrSectionXML) cfrSection {
	sec := cfrSection{
		Number:    strings.TrimSpace(xs.N),
		Effective: xs.Effective,
		Amended:   xs.Amended,
	}

	var paras []string
	for _, el := range xs.Elems {
		text := cleanXMLText(el.Inner)
		switch el.XMLName.Local {
		case "SECTNO":
			if n := sectnoRe.ReplaceAllString(text, ""); n != "" {
				sec.Number = n
			}
		case "HEAD":
			sec.Heading = strings.TrimRight(headNoRe.ReplaceAllString(text, ""), " .")
		case "P", "FP":
			if text != "" {
				paras = append(paras, text)
			}
		}
	}
	sec.Text = strings.Join(paras, "\n\n")
	return sec
}

func cleanXMLText(inner string) string {
	text := html.UnescapeString(tagRe.ReplaceAllString(inner, ""))
	text = multiSpace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func xmlAttr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// sortParts orders part identifiers numerically, with non-numeric
// identifiers (e.g. "100-199 span designators") last in lexical order.
func sortParts(parts []string) {
	sort.SliceStable(parts, func(i, j int) bool {
		ni, erri := strconv.Atoi(parts[i])
		nj, errj := strconv.Atoi(parts[j])
		switch {
		case erri == nil && errj == nil:
			return ni < nj
		case erri == nil:
			return true
		case errj == nil:
			return false
		default:
			return parts[i] < parts[j]
		}
	})
}
