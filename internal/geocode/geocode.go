// Package geocode resolves a street address to its jurisdiction chain:
// federal, state, county, and city.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/regscope/regscope/internal/cite"
	"github.com/regscope/regscope/internal/config"
	"github.com/regscope/regscope/internal/errors"
)

// Location is a resolved address.
type Location struct {
	State      string // two-letter code, e.g. "TX"
	CountyFIPS string // five-digit state+county FIPS, e.g. "48201"
	City       string // place name, e.g. "Houston"
}

// Chain returns the jurisdiction chain for the location, broadest
// first. Federal is always present; narrower levels are appended only
// when resolved.
func (l Location) Chain() []string {
	chain := []string{cite.JurisdictionFederal}
	if l.State == "" {
		return chain
	}
	chain = append(chain, l.State)
	if l.CountyFIPS != "" {
		chain = append(chain, cite.CountyJurisdiction(l.State, l.CountyFIPS))
	}
	if l.City != "" {
		chain = append(chain, cite.MunicipalJurisdiction(l.State, l.City))
	}
	return chain
}

// Geocoder resolves addresses to locations.
type Geocoder interface {
	Resolve(ctx context.Context, address string) (Location, error)
}

// GeocoderFunc adapts a function to Geocoder; used by tests.
type GeocoderFunc func(ctx context.Context, address string) (Location, error)

// Resolve calls f.
func (f GeocoderFunc) Resolve(ctx context.Context, address string) (Location, error) {
	return f(ctx, address)
}

// CensusGeocoder resolves addresses with the Census Bureau geocoding
// API's geographies endpoint.
type CensusGeocoder struct {
	client   *http.Client
	endpoint string
}

// Compile-time interface check.
var _ Geocoder = (*CensusGeocoder)(nil)

// NewCensusGeocoder creates a geocoder from configuration.
func NewCensusGeocoder(cfg config.GeocoderConfig) *CensusGeocoder {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CensusGeocoder{
		client:   &http.Client{Timeout: timeout},
		endpoint: cfg.Endpoint,
	}
}

type censusResponse struct {
	Result struct {
		AddressMatches []struct {
			Geographies map[string][]struct {
				GEOID    string `json:"GEOID"`
				BaseName string `json:"BASENAME"`
				Stusab   string `json:"STUSAB"`
			} `json:"geographies"`
		} `json:"addressMatches"`
	} `json:"result"`
}

// Resolve geocodes one address. Any failure, including no match,
// returns ERR_305_GEOCODE; retrieval degrades to federal-only scope
// rather than failing the query.
func (g *CensusGeocoder) Resolve(ctx context.Context, address string) (Location, error) {
	q := url.Values{}
	q.Set("address", address)
	q.Set("benchmark", "Public_AR_Current")
	q.Set("vintage", "Current_Current")
	q.Set("format", "json")
	reqURL := g.endpoint + "/geographies/onelineaddress?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Location{}, errors.Wrap(errors.ErrCodeGeocode, err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Location{}, errors.New(errors.ErrCodeGeocode, fmt.Sprintf("geocode %q", address), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Location{}, errors.Newf(errors.ErrCodeGeocode, "geocoder returned %d", resp.StatusCode)
	}

	var out censusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Location{}, errors.Wrap(errors.ErrCodeGeocode, err)
	}

	if len(out.Result.AddressMatches) == 0 {
		return Location{}, errors.Newf(errors.ErrCodeGeocode, "no match for %q", address)
	}

	var loc Location
	geos := out.Result.AddressMatches[0].Geographies
	if states := geos["States"]; len(states) > 0 {
		loc.State = states[0].Stusab
	}
	if counties := geos["Counties"]; len(counties) > 0 {
		loc.CountyFIPS = counties[0].GEOID
	}
	if places := geos["Incorporated Places"]; len(places) > 0 {
		loc.City = places[0].BaseName
	}

	if loc.State == "" {
		return Location{}, errors.Newf(errors.ErrCodeGeocode, "match for %q carries no state", address)
	}
	return loc, nil
}
