package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/regscope/regscope/internal/cite"
	"github.com/regscope/regscope/internal/errors"
	"github.com/regscope/regscope/internal/objstore"
)

// CachedPart is a pre-parsed CFR part kept alongside the raw XML.
// Chunking workflows read these directly; XML parsing is CPU-heavy and
// runs in a separate pre-parse pass.
type CachedPart struct {
	TitleNumber int           `json:"title_number"`
	PartNumber  string        `json:"part_number"`
	Sections    []*Section    `json:"sections"`
	Metadata    CacheMetadata `json:"metadata"`
}

// CacheMetadata describes a cached part's provenance.
type CacheMetadata struct {
	FetchedAt    time.Time `json:"fetched_at"`
	ParsedAt     time.Time `json:"parsed_at"`
	XMLHash      string    `json:"xml_hash"`
	SectionCount int       `json:"section_count"`
}

// TitleManifest indexes a title's cached parts.
type TitleManifest struct {
	Title     int                 `json:"title"`
	UpdatedAt time.Time           `json:"updated_at"`
	Parts     []PartManifestEntry `json:"parts"`
}

// PartManifestEntry is one part's cache record.
type PartManifestEntry struct {
	Part         string    `json:"part"`
	XMLHash      string    `json:"xml_hash"`
	SectionCount int       `json:"section_count"`
	ParsedAt     time.Time `json:"parsed_at"`
}

// CorpusManifest indexes all cached titles.
type CorpusManifest struct {
	UpdatedAt time.Time            `json:"updated_at"`
	Titles    []TitleManifestEntry `json:"titles"`
}

// TitleManifestEntry is one title's cache record.
type TitleManifestEntry struct {
	Title     int       `json:"title"`
	PartCount int       `json:"part_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheBuilder runs the federal pre-parse pass: fetch raw XML, parse,
// and persist CachedPart blobs plus manifests. Parts whose XML hash is
// unchanged since the last pass are not re-parsed.
type CacheBuilder struct {
	fetcher *FederalFetcher
	store   objstore.Store
	now     func() time.Time
}

// NewCacheBuilder creates a pre-parse pass for one title.
func NewCacheBuilder(fetcher *FederalFetcher, store objstore.Store) *CacheBuilder {
	return &CacheBuilder{fetcher: fetcher, store: store, now: time.Now}
}

// CacheResult summarizes one pre-parse pass.
type CacheResult struct {
	Title    int
	Parts    int
	Parsed   int
	Skipped  int
	Failures []error
}

// Build runs the pass. Per-part failures are recorded and the pass
// continues.
func (b *CacheBuilder) Build(ctx context.Context) (*CacheResult, error) {
	parts, err := b.fetcher.Units(ctx)
	if err != nil {
		return nil, err
	}

	res := &CacheResult{Title: b.fetcher.title, Parts: len(parts)}
	manifest := TitleManifest{Title: b.fetcher.title}

	for _, part := range parts {
		entry, parsed, err := b.buildPart(ctx, part)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			slog.Warn("federal_cache_part_failed",
				slog.Int("title", b.fetcher.title),
				slog.String("part", part),
				slog.String("error", err.Error()))
			res.Failures = append(res.Failures, fmt.Errorf("part %s: %w", part, err))
			continue
		}
		if parsed {
			res.Parsed++
		} else {
			res.Skipped++
		}
		manifest.Parts = append(manifest.Parts, entry)
	}

	manifest.UpdatedAt = b.now().UTC()
	if err := b.putJSON(ctx, objstore.FederalTitleManifestKey(b.fetcher.title), manifest, "cache_manifest"); err != nil {
		return nil, err
	}
	if err := b.updateCorpusManifest(ctx, manifest); err != nil {
		return nil, err
	}

	slog.Info("federal_cache_complete",
		slog.Int("title", res.Title),
		slog.Int("parts", res.Parts),
		slog.Int("parsed", res.Parsed),
		slog.Int("skipped", res.Skipped),
		slog.Int("failures", len(res.Failures)))
	return res, nil
}

func (b *CacheBuilder) buildPart(ctx context.Context, part string) (PartManifestEntry, bool, error) {
	raw, err := b.fetcher.FetchPartXML(ctx, part)
	if err != nil {
		return PartManifestEntry{}, false, err
	}

	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])

	if cached, err := LoadCachedPart(ctx, b.store, b.fetcher.title, part); err == nil && cached.Metadata.XMLHash == hash {
		return PartManifestEntry{
			Part:         part,
			XMLHash:      hash,
			SectionCount: cached.Metadata.SectionCount,
			ParsedAt:     cached.Metadata.ParsedAt,
		}, false, nil
	}

	sections, err := b.fetcher.ParsePart(part, raw)
	if err != nil {
		return PartManifestEntry{}, false, err
	}

	now := b.now().UTC()
	cached := CachedPart{
		TitleNumber: b.fetcher.title,
		PartNumber:  part,
		Sections:    sections,
		Metadata: CacheMetadata{
			FetchedAt:    now,
			ParsedAt:     now,
			XMLHash:      hash,
			SectionCount: len(sections),
		},
	}
	key := objstore.FederalCachedPartKey(b.fetcher.title, part)
	if err := b.putJSON(ctx, key, cached, "cached_part"); err != nil {
		return PartManifestEntry{}, false, err
	}

	return PartManifestEntry{
		Part:         part,
		XMLHash:      hash,
		SectionCount: len(sections),
		ParsedAt:     now,
	}, true, nil
}

func (b *CacheBuilder) updateCorpusManifest(ctx context.Context, title TitleManifest) error {
	var corpus CorpusManifest
	if data, _, err := b.store.Get(ctx, objstore.FederalCacheManifestKey()); err == nil {
		_ = json.Unmarshal(data, &corpus)
	}

	entry := TitleManifestEntry{
		Title:     title.Title,
		PartCount: len(title.Parts),
		UpdatedAt: title.UpdatedAt,
	}
	replaced := false
	for i, t := range corpus.Titles {
		if t.Title == title.Title {
			corpus.Titles[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		corpus.Titles = append(corpus.Titles, entry)
	}
	corpus.UpdatedAt = b.now().UTC()

	return b.putJSON(ctx, objstore.FederalCacheManifestKey(), corpus, "cache_manifest")
}

func (b *CacheBuilder) putJSON(ctx context.Context, key string, v any, dataType string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	md := objstore.DocumentMetadata(b.fetcher.Label(), dataType, b.now().UTC(), nil)
	return b.store.Put(ctx, key, data, md)
}

// LoadCachedPart reads one pre-parsed part from the object store.
func LoadCachedPart(ctx context.Context, store objstore.Store, title int, part string) (*CachedPart, error) {
	data, _, err := store.Get(ctx, objstore.FederalCachedPartKey(title, part))
	if err != nil {
		return nil, err
	}
	var cached CachedPart
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	return &cached, nil
}

// CachedFederalFetcher is a Fetcher that reads pre-parsed parts from
// the cache instead of fetching and parsing XML. The chunking workflow
// uses it so no XML parsing happens in that pass.
type CachedFederalFetcher struct {
	store objstore.Store
	title int
}

// Compile-time interface check.
var _ Fetcher = (*CachedFederalFetcher)(nil)

// NewCachedFederalFetcher creates a cache-backed fetcher for one title.
func NewCachedFederalFetcher(store objstore.Store, title int) *CachedFederalFetcher {
	return &CachedFederalFetcher{store: store, title: title}
}

// Family returns the source family.
func (f *CachedFederalFetcher) Family() string { return cite.SourceFederal }

// Label returns the source identifier.
func (f *CachedFederalFetcher) Label() string { return cite.FederalSourceID(f.title) }

// Units returns the cached part numbers from the title manifest.
func (f *CachedFederalFetcher) Units(ctx context.Context) ([]string, error) {
	data, _, err := f.store.Get(ctx, objstore.FederalTitleManifestKey(f.title))
	if err != nil {
		if stderrors.Is(err, objstore.ErrNotExist) {
			return nil, errors.Newf(errors.ErrCodeNotFound,
				"no cache manifest for title %d; run the pre-parse pass first", f.title)
		}
		return nil, err
	}
	var manifest TitleManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}

	parts := make([]string, len(manifest.Parts))
	for i, p := range manifest.Parts {
		parts[i] = p.Part
	}
	return parts, nil
}

// FetchUnit reads one cached part's sections.
func (f *CachedFederalFetcher) FetchUnit(ctx context.Context, part string) (*Unit, error) {
	cached, err := LoadCachedPart(ctx, f.store, f.title, part)
	if err != nil {
		return nil, err
	}
	return &Unit{Sections: cached.Sections}, nil
}
