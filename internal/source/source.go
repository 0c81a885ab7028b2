// Package source fetches regulatory text from its upstream publishers
// and parses it into Sections ready for chunking. One fetcher per
// source family: federal CFR XML, Texas statutes and administrative
// code HTML, county code platforms, and rendering-service Markdown for
// cities.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/regscope/regscope/internal/cite"
)

// Subsection is one lettered or numbered block within a section, e.g.
// "(a)" or "(a)(1)".
type Subsection struct {
	ID   string
	Text string
}

// Section is a parsed unit of regulatory text. It is ephemeral: the
// chunker consumes it and only chunks persist.
type Section struct {
	SourceType   string
	Jurisdiction string

	// Parent identifiers; which are set depends on SourceType.
	Title   int    // CFR or TAC title number
	Chapter string // chapter within a title or code
	Part    string // CFR part
	Code    string // Texas statute code abbreviation
	County  string // county name, e.g. "Harris"
	City    string // city name, e.g. "Houston"

	SectionID   string
	Heading     string
	Text        string
	Subsections []Subsection

	SourceURL     string
	EffectiveDate string
	LastAmended   string
	FetchedAt     time.Time
}

// SourceID returns the stable source identifier for the section.
func (s *Section) SourceID() string {
	switch s.SourceType {
	case cite.SourceFederal:
		return cite.FederalSourceID(s.Title)
	case cite.SourceState:
		if s.Code != "" {
			return cite.StatuteSourceID(s.Code)
		}
		return cite.TACSourceID(s.Title)
	case cite.SourceCounty:
		return cite.CountySourceID(s.Jurisdiction)
	case cite.SourceMunicipal:
		return cite.MunicipalSourceID(s.Jurisdiction)
	}
	return ""
}

// Citation returns the Bluebook citation for the section.
func (s *Section) Citation() string {
	switch s.SourceType {
	case cite.SourceFederal:
		return cite.CFR(s.Title, s.SectionID)
	case cite.SourceState:
		if s.Code != "" {
			return cite.TexasStatute(s.Code, s.SectionID)
		}
		return cite.TexasAdminCode(s.Title, s.SectionID)
	case cite.SourceCounty:
		return cite.CountyCode(s.County, "TX", s.SectionID)
	case cite.SourceMunicipal:
		return cite.MunicipalCode(s.City, "TX", s.SectionID)
	}
	return ""
}

// Key returns the deterministic per-section key used in chunk IDs.
func (s *Section) Key() string {
	switch s.SourceType {
	case cite.SourceFederal:
		return cite.SectionKey(fmt.Sprintf("t%d", s.Title), "p"+s.Part, s.SectionID)
	case cite.SourceState:
		if s.Code != "" {
			return cite.SectionKey(s.Code, s.SectionID)
		}
		return cite.SectionKey(fmt.Sprintf("tac%d", s.Title), s.SectionID)
	case cite.SourceCounty, cite.SourceMunicipal:
		return cite.SectionKey("ch"+s.Chapter, s.SectionID)
	}
	return cite.SectionKey(s.SectionID)
}

// Hierarchy returns ordered breadcrumbs for the section, outermost
// first.
func (s *Section) Hierarchy() []string {
	switch s.SourceType {
	case cite.SourceFederal:
		return cite.Hierarchy(
			fmt.Sprintf("Title %d", s.Title),
			partLabel(s.Part),
			"§ "+s.SectionID,
		)
	case cite.SourceState:
		if s.Code != "" {
			return cite.Hierarchy(
				cite.TexasCodeName(s.Code)+" Code",
				chapterLabel(s.Chapter),
				"§ "+s.SectionID,
			)
		}
		return cite.Hierarchy(
			fmt.Sprintf("TAC Title %d", s.Title),
			chapterLabel(s.Chapter),
			"§ "+s.SectionID,
		)
	case cite.SourceCounty:
		return cite.Hierarchy(
			s.County+" County",
			chapterLabel(s.Chapter),
			"§ "+s.SectionID,
		)
	case cite.SourceMunicipal:
		return cite.Hierarchy(
			s.City,
			chapterLabel(s.Chapter),
			"§ "+s.SectionID,
		)
	}
	return nil
}

func partLabel(part string) string {
	if part == "" {
		return ""
	}
	return "Part " + part
}

func chapterLabel(chapter string) string {
	if chapter == "" {
		return ""
	}
	return "Chapter " + chapter
}

// SectionFailure records one section that could not be fetched or
// parsed within an otherwise successful unit.
type SectionFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Unit is the result of fetching one unit: the sections that parsed
// plus the identifiers of any that were skipped along the way.
type Unit struct {
	Sections []*Section
	Skipped  []SectionFailure
}

// Fetcher produces sections for one source family, unit by unit. A
// unit is the checkpoint granularity: a CFR part, a statute code, a
// TAC title, a county, or a city. Memory stays bounded by one unit's
// sections.
//
// FetchUnit skips individual sections that cannot be fetched or
// parsed and reports them in Unit.Skipped; only a failure that makes
// the whole unit unusable is returned as an error. Fetchers persist
// raw documents to the object store as they go when constructed with
// one.
type Fetcher interface {
	// Family is the source family: federal, state, county, municipal.
	Family() string

	// Label identifies the fetcher in logs and results,
	// e.g. "cfr-title-21" or "tx-statutes".
	Label() string

	// Units enumerates unit identifiers in processing order.
	Units(ctx context.Context) ([]string, error)

	// FetchUnit fetches and parses the sections of one unit.
	FetchUnit(ctx context.Context, unit string) (*Unit, error)
}
