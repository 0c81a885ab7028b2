package source

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/regscope/regscope/internal/cite"
	"github.com/regscope/regscope/internal/errors"
	"github.com/regscope/regscope/internal/objstore"
	"github.com/regscope/regscope/internal/scrape"
)

// DefaultTACBase is the Secretary of State TAC viewer host.
const DefaultTACBase = "https://texreg.sos.state.tx.us"

var (
	tacChapterRe = regexp.MustCompile(`[?&]ch=(\d+)`)
	tacRuleRe    = regexp.MustCompile(`[?&]rl=(\d+)`)
)

// TACFetcher produces sections for the Texas Administrative Code.
// Units are TAC title numbers.
type TACFetcher struct {
	client  *scrape.Client
	store   objstore.Store
	baseURL string
	titles  []int
	now     func() time.Time
}

// Compile-time interface check.
var _ Fetcher = (*TACFetcher)(nil)

// NewTACFetcher creates a fetcher for the configured TAC titles.
func NewTACFetcher(client *scrape.Client, store objstore.Store, baseURL string, titles []int) *TACFetcher {
	if baseURL == "" {
		baseURL = DefaultTACBase
	}
	return &TACFetcher{
		client:  client,
		store:   store,
		baseURL: baseURL,
		titles:  titles,
		now:     time.Now,
	}
}

// Family returns the source family. TAC folds into "state"; the
// distinction from statutes is carried in the source ID.
func (f *TACFetcher) Family() string { return cite.SourceState }

// Label identifies the fetcher in logs.
func (f *TACFetcher) Label() string { return "tx-tac" }

// Units returns the configured title numbers as strings.
func (f *TACFetcher) Units(_ context.Context) ([]string, error) {
	units := make([]string, len(f.titles))
	for i, t := range f.titles {
		units[i] = strconv.Itoa(t)
	}
	return units, nil
}

// FetchUnit fetches all rules of one TAC title. A failing rule is
// logged, recorded in Skipped, and the unit continues.
func (f *TACFetcher) FetchUnit(ctx context.Context, unitID string) (*Unit, error) {
	title, err := strconv.Atoi(unitID)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeValidation, "invalid TAC title %q", unitID)
	}

	chapters, err := f.chapters(ctx, title)
	if err != nil {
		return nil, err
	}

	unit := &Unit{}
	for _, chapter := range chapters {
		rules, err := f.rules(ctx, title, chapter)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			slog.Warn("tac_chapter_failed",
				slog.Int("title", title),
				slog.String("chapter", chapter),
				slog.String("error", err.Error()))
			unit.Skipped = append(unit.Skipped, SectionFailure{
				ID: fmt.Sprintf("%d.%s", title, chapter), Error: err.Error(),
			})
			continue
		}
		for _, rule := range rules {
			sec, err := f.fetchRule(ctx, title, chapter, rule)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				if errors.IsNotFound(err) {
					continue
				}
				slog.Warn("tac_rule_failed",
					slog.Int("title", title),
					slog.String("chapter", chapter),
					slog.String("rule", rule),
					slog.String("error", err.Error()))
				unit.Skipped = append(unit.Skipped, SectionFailure{
					ID: fmt.Sprintf("%d.%s.%s", title, chapter, rule), Error: err.Error(),
				})
				continue
			}
			unit.Sections = append(unit.Sections, sec)
		}
	}

	slog.Info("tac_unit_complete",
		slog.Int("title", title),
		slog.Int("chapters", len(chapters)),
		slog.Int("sections", len(unit.Sections)),
		slog.Int("skipped", len(unit.Skipped)))
	return unit, nil
}

// chapters scans the title index for chapter numbers carried in ch=
// anchor parameters.
func (f *TACFetcher) chapters(ctx context.Context, title int) ([]string, error) {
	url := fmt.Sprintf("%s/public/readtac$ext.ViewTAC?tac_view=3&ti=%d", f.baseURL, title)
	body, err := f.client.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return scanAnchors(body, tacChapterRe), nil
}

// rules scans a chapter page for rule numbers carried in rl= anchor
// parameters.
func (f *TACFetcher) rules(ctx context.Context, title int, chapter string) ([]string, error) {
	url := fmt.Sprintf("%s/public/readtac$ext.ViewTAC?tac_view=4&ti=%d&ch=%s", f.baseURL, title, chapter)
	body, err := f.client.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return scanAnchors(body, tacRuleRe), nil
}

func (f *TACFetcher) fetchRule(ctx context.Context, title int, chapter, rule string) (*Section, error) {
	url := fmt.Sprintf("%s/public/readtac$ext.ViewTAC?tac_view=5&ti=%d&ch=%s&rl=%s", f.baseURL, title, chapter, rule)
	body, err := f.client.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	sectionID := chapter + "." + rule

	if f.store != nil {
		key := objstore.TACSectionKey(title, chapter, sectionID)
		md := objstore.DocumentMetadata(cite.TACSourceID(title), "tac_rule_html", f.now().UTC(), map[string]string{
			"title":   strconv.Itoa(title),
			"chapter": chapter,
			"rule":    rule,
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
			"rule %d TAC %s has no usable text", title, sectionID)
	}

	return &Section{
		SourceType:   cite.SourceState,
		Jurisdiction: "TX",
		Title:        title,
		Chapter:      chapter,
		SectionID:    sectionID,
		Heading:      heading,
		Text:         text,
		Subsections:  SplitSubsections(text),
		SourceURL:    url,
		FetchedAt:    f.now().UTC(),
	}, nil
}
