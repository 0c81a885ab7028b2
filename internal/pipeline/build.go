package pipeline

import (
	"github.com/regscope/regscope/internal/config"
	"github.com/regscope/regscope/internal/render"
	"github.com/regscope/regscope/internal/scrape"
	"github.com/regscope/regscope/internal/source"
)

// BuildIngestors creates the ingestors for the enabled source
// families, in config order. The state family carries both the statute
// and admin-code runners.
func BuildIngestors(cfg *config.Config, deps Deps, client *scrape.Client, renderer render.Renderer) []Ingestor {
	var out []Ingestor
	for _, family := range cfg.Ingestion.EnabledSources {
		switch family {
		case "federal":
			for _, title := range cfg.Ingestion.FederalTitles {
				fetcher := source.NewFederalFetcher(client, deps.Store, "", title)
				out = append(out, NewFederalWorkflow(deps, fetcher, title))
			}
		case "state":
			out = append(out,
				NewStatuteRunner(deps, source.NewStatuteFetcher(client, deps.Store, "", cfg.Ingestion.StatuteCodes)),
				NewTACRunner(deps, source.NewTACFetcher(client, deps.Store, "", cfg.Ingestion.TACTitles)),
			)
		case "county":
			out = append(out, NewCountyRunner(deps, source.NewCountyFetcher(client, deps.Store, nil)))
		case "municipal":
			out = append(out, NewMunicipalRunner(deps, source.NewMunicipalFetcher(renderer, deps.Store, nil)))
		}
	}
	return out
}
