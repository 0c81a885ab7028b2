package source

import (
	"bytes"
	"context"
	"fmt"
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

// DefaultStatutesBase is the Texas statutes host.
const DefaultStatutesBase = "https://statutes.capitol.texas.gov"

// headingSelectors are tried in rank order; first non-empty match wins.
var headingSelectors = []string{
	"h2.section-heading",
	"h2",
	".statute-heading",
	"h1 + h2",
	"p.heading",
	"b",
}

// bodySelectors are container candidates for the statute text, tried
// in rank order.
var bodySelectors = []string{
	".section-text",
	".statute-body",
	"article",
	"main",
	"body",
}

// boilerplate lines stripped from parsed statute text.
var boilerplateRe = regexp.MustCompile(`(?im)^.*(copyright|all rights reserved|texas legislature online|home\s*\|\s*site map).*$`)

// StatuteFetcher produces sections for Texas statutes. Units are code
// abbreviations (PE, HS, …).
type StatuteFetcher struct {
	client  *scrape.Client
	store   objstore.Store
	baseURL string
	codes   []string
	now     func() time.Time
}

// Compile-time interface check.
var _ Fetcher = (*StatuteFetcher)(nil)

// NewStatuteFetcher creates a fetcher for the configured statute codes.
func NewStatuteFetcher(client *scrape.Client, store objstore.Store, baseURL string, codes []string) *StatuteFetcher {
	if baseURL == "" {
		baseURL = DefaultStatutesBase
	}
	return &StatuteFetcher{
		client:  client,
		store:   store,
		baseURL: baseURL,
		codes:   codes,
		now:     time.Now,
	}
}

// Family returns the source family.
func (f *StatuteFetcher) Family() string { return cite.SourceState }

// Label identifies the fetcher in logs.
func (f *StatuteFetcher) Label() string { return "tx-statutes" }

// Units returns the configured code abbreviations.
func (f *StatuteFetcher) Units(_ context.Context) ([]string, error) {
	return append([]string(nil), f.codes...), nil
}

// FetchUnit fetches all sections of one statute code. A failing
// section is logged, recorded in Skipped, and the unit continues.
func (f *StatuteFetcher) FetchUnit(ctx context.Context, code string) (*Unit, error) {
	chapters, err := f.chapters(ctx, code)
	if err != nil {
		return nil, err
	}

	unit := &Unit{}
	for _, chapter := range chapters {
		ids, err := f.sectionIDs(ctx, code, chapter)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			slog.Warn("statute_chapter_failed",
				slog.String("code", code),
				slog.String("chapter", chapter),
				slog.String("error", err.Error()))
			unit.Skipped = append(unit.Skipped, SectionFailure{
				ID: code + "." + chapter, Error: err.Error(),
			})
			continue
		}
		for _, id := range ids {
			sec, err := f.fetchSection(ctx, code, chapter, id)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				if errors.IsNotFound(err) {
					slog.Debug("statute_section_gone",
						slog.String("code", code), slog.String("section", id))
					continue
				}
				slog.Warn("statute_section_failed",
					slog.String("code", code),
					slog.String("section", id),
					slog.String("error", err.Error()))
				unit.Skipped = append(unit.Skipped, SectionFailure{
					ID: code + "." + id, Error: err.Error(),
				})
				continue
			}
			unit.Sections = append(unit.Sections, sec)
		}
	}

	slog.Info("statute_unit_complete",
		slog.String("code", code),
		slog.Int("chapters", len(chapters)),
		slog.Int("sections", len(unit.Sections)),
		slog.Int("skipped", len(unit.Skipped)))
	return unit, nil
}

// chapters scans the code's TOC for chapter identifiers.
func (f *StatuteFetcher) chapters(ctx context.Context, code string) ([]string, error) {
	tocURL := fmt.Sprintf("%s/Docs/%s/htm/%s.toc.htm", f.baseURL, code, code)
	body, err := f.client.Fetch(ctx, tocURL)
	if err != nil {
		return nil, err
	}

	return scanAnchors(body, chapterAnchorRe(code)), nil
}

// chapterAnchorRe matches TOC anchors like "PE.30.htm", capturing the
// chapter identifier.
func chapterAnchorRe(code string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(code) + `\.(\d+[A-Z]?)\.htm`)
}

// sectionIDs scans a chapter index for section identifiers like
// "30.02".
func (f *StatuteFetcher) sectionIDs(ctx context.Context, code, chapter string) ([]string, error) {
	chURL := fmt.Sprintf("%s/Docs/%s/htm/%s.%s.htm", f.baseURL, code, code, chapter)
	body, err := f.client.Fetch(ctx, chURL)
	if err != nil {
		return nil, err
	}

	re := regexp.MustCompile(regexp.QuoteMeta(code) + `\.(` + regexp.QuoteMeta(chapter) + `\.[0-9A-Za-z]+)\.htm`)
	return scanAnchors(body, re), nil
}

func (f *StatuteFetcher) fetchSection(ctx context.Context, code, chapter, sectionID string) (*Section, error) {
	secURL := fmt.Sprintf("%s/Docs/%s/htm/%s.%s.htm", f.baseURL, code, code, sectionID)
	body, err := f.client.Fetch(ctx, secURL)
	if err != nil {
		return nil, err
	}

	if f.store != nil {
		key := objstore.StatuteSectionKey(code, chapter, sectionID)
		md := objstore.DocumentMetadata(cite.StatuteSourceID(code), "statute_section_html", f.now().UTC(), map[string]string{
			"code":    code,
			"chapter": chapter,
			"section": sectionID,
		})
		if err := f.store.Put(ctx, key, body, md); err != nil {
			return nil, err
		}
	}

	heading, text, err := parseStatuteHTML(body)
	if err != nil {
		return nil, err
	}
	if len(text) < 10 {
		return nil, errors.Newf(errors.ErrCodeValidation,
			"section %s.%s has no usable text", code, sectionID)
	}
	if heading == "" {
		slog.Warn("statute_section_missing_heading",
			slog.String("code", code), slog.String("section", sectionID))
	}

	return &Section{
		SourceType:   cite.SourceState,
		Jurisdiction: "TX",
		Code:         code,
		Chapter:      chapter,
		SectionID:    sectionID,
		Heading:      heading,
		Text:         text,
		Subsections:  SplitSubsections(text),
		SourceURL:    secURL,
		FetchedAt:    f.now().UTC(),
	}, nil
}

// parseStatuteHTML extracts heading and body text using the ranked
// selector lists.
func parseStatuteHTML(body []byte) (heading, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", errors.Wrap(errors.ErrCodeValidation, err)
	}

	doc.Find("script, style, nav, header, footer").Remove()

	for _, sel := range headingSelectors {
		if h := strings.TrimSpace(doc.Find(sel).First().Text()); h != "" {
			heading = collapseSpaces(h)
			break
		}
	}

	for _, sel := range bodySelectors {
		container := doc.Find(sel).First()
		if container.Length() == 0 {
			continue
		}
		if t := containerText(container); len(t) >= 10 {
			text = t
			break
		}
	}
	return heading, text, nil
}

// containerText extracts paragraph-preserving text from a container,
// stripping boilerplate.
func containerText(container *goquery.Selection) string {
	var paras []string
	container.Find("p").Each(func(_ int, s *goquery.Selection) {
		if t := collapseSpaces(s.Text()); t != "" {
			paras = append(paras, t)
		}
	})

	var text string
	if len(paras) > 0 {
		text = strings.Join(paras, "\n\n")
	} else {
		text = collapseSpaces(container.Text())
	}

	text = boilerplateRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(multiSpace.ReplaceAllString(strings.ReplaceAll(s, "\u00a0", " "), " "))
}

// scanAnchors extracts unique first-group matches from an HTML page's
// anchors, numerically sorted.
func scanAnchors(body []byte, re *regexp.Regexp) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range re.FindAllStringSubmatch(string(body), -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	sortParts(out)
	return out
}
