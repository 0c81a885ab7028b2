package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/regscope/regscope/internal/appdb"
	"github.com/regscope/regscope/internal/chunker"
	"github.com/regscope/regscope/internal/cite"
	"github.com/regscope/regscope/internal/config"
	"github.com/regscope/regscope/internal/embed"
	"github.com/regscope/regscope/internal/logging"
	"github.com/regscope/regscope/internal/objstore"
	"github.com/regscope/regscope/internal/pipeline"
	"github.com/regscope/regscope/internal/scrape"
	"github.com/regscope/regscope/internal/vecindex"
)

// app bundles the clients every command builds from configuration.
// DB is nil when no database URL is configured.
type app struct {
	cfg      *config.Config
	store    objstore.Store
	index    vecindex.Index
	counter  cite.Counter
	embedder embed.Embedder
	db       appdb.Store

	cleanups []func()
}

// buildApp loads config, installs logging, and connects the shared
// clients. Call close when done.
func buildApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	a := &app{cfg: cfg}
	logCleanup, err := logging.SetupDefault(logging.Config{
		Level:         cfg.LogLevel,
		FilePath:      cfg.LogFile,
		WriteToStderr: true,
	})
	if err != nil {
		return nil, err
	}
	a.cleanups = append(a.cleanups, logCleanup)

	a.store, err = objstore.NewS3Store(ctx, cfg.ObjectStore)
	if err != nil {
		a.close()
		return nil, err
	}
	a.index, err = vecindex.NewRESTIndex(cfg.VectorIndex)
	if err != nil {
		a.close()
		return nil, err
	}
	a.counter, err = cite.NewCounter()
	if err != nil {
		a.close()
		return nil, err
	}
	a.embedder, err = embed.NewOpenAIEmbedder(cfg.Embedding, cfg.VectorIndex.Dimension, a.counter)
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.AppDB.URL != "" {
		pg, err := appdb.NewPostgres(ctx, cfg.AppDB.URL)
		if err != nil {
			a.close()
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			a.close()
			return nil, err
		}
		a.cleanups = append(a.cleanups, pg.Close)
		a.db = pg
	} else {
		slog.Warn("app_db_disabled", slog.String("reason", "no database URL configured"))
	}

	return a, nil
}

func (a *app) close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}

// pipelineDeps assembles the ingestion dependency set.
func (a *app) pipelineDeps() pipeline.Deps {
	return pipeline.Deps{
		Store:           a.store,
		Index:           a.index,
		Embedder:        a.embedder,
		Chunker:         chunker.New(a.counter, a.cfg.Ingestion.MaxChunkTokens, a.cfg.Ingestion.OverlapRatio),
		AppDB:           a.db,
		UpsertBatchSize: a.cfg.Ingestion.UpsertBatchSize,
	}
}

// scrapeClient builds the shared HTTP scraper with the configured
// per-host delay.
func (a *app) scrapeClient() *scrape.Client {
	return scrape.NewClient(time.Duration(a.cfg.Ingestion.PerHostDelayMS) * time.Millisecond)
}
