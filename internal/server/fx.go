// Package server builds the application's dependencies and runs the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-finder/internal/api"
	"github.com/JakeFAU/lead-finder/internal/campaign"
	"github.com/JakeFAU/lead-finder/internal/clock/system"
	"github.com/JakeFAU/lead-finder/internal/config"
	"github.com/JakeFAU/lead-finder/internal/email"
	"github.com/JakeFAU/lead-finder/internal/enrich"
	"github.com/JakeFAU/lead-finder/internal/fetcher"
	"github.com/JakeFAU/lead-finder/internal/fetcher/headless"
	"github.com/JakeFAU/lead-finder/internal/hash/sha256"
	"github.com/JakeFAU/lead-finder/internal/id/uuid"
	"github.com/JakeFAU/lead-finder/internal/lead"
	"github.com/JakeFAU/lead-finder/internal/pipeline"
	memorypublisher "github.com/JakeFAU/lead-finder/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/lead-finder/internal/publisher/pubsub"
	"github.com/JakeFAU/lead-finder/internal/source"
	gcsstorage "github.com/JakeFAU/lead-finder/internal/storage/gcs"
	localstorage "github.com/JakeFAU/lead-finder/internal/storage/local"
	memorystorage "github.com/JakeFAU/lead-finder/internal/storage/memory"
	pgstore "github.com/JakeFAU/lead-finder/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/lead-finder/internal/storage/sqlite"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	Repo      lead.Repository
	Registry  *source.Registry
	Pipeline  *pipeline.Pipeline
	Throttler *campaign.Throttler
	Catalog   *campaign.Catalog
	APIServer *api.Server

	blobStore       lead.BlobStore
	gcs             *gcsstorage.BlobStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	headless        *headless.Backend
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Run serves the HTTP API and blocks until ctx is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.APIServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases infrastructure in reverse build order. It is safe to call on
// a partially built App.
func (a *App) Close() error {
	var errs []error
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	if a.Repo != nil {
		if err := a.Repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close repository: %w", err))
		}
	}
	for _, err := range errs {
		a.logger.Warn("shutdown step failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// Build creates the application's dependencies. The caller owns the logger.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	logger.Info("building application dependencies",
		zap.String("database", cfg.Database.Driver),
		zap.String("storage", cfg.Storage.Backend),
		zap.Strings("sources", cfg.Sources.Enabled),
		zap.Bool("dry_run", cfg.Campaign.DryRun),
	)

	if err = setupRepository(ctx, app); err != nil {
		return app, err
	}
	if err = setupStorage(ctx, app); err != nil {
		return app, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return app, err
	}

	extractor := email.NewExtractor(email.ExtractorConfig{
		IgnoreDomains:    cfg.Email.IgnoreDomains,
		SkipRoleAccounts: cfg.Email.SkipRoleAccounts,
	})
	pageFetcher, resetter, err := setupSources(app, extractor)
	if err != nil {
		return app, err
	}

	if err = setupPipeline(app, pageFetcher, resetter, extractor, publisher); err != nil {
		return app, err
	}
	if err = setupCampaign(app, publisher); err != nil {
		return app, err
	}

	app.APIServer = api.NewServer(app.Repo, *cfg, logger)
	return app, nil
}

func setupRepository(ctx context.Context, app *App) error {
	cfg := app.cfg
	policy, err := lead.ParseMergePolicy(cfg.Pipeline.MergePolicy)
	if err != nil {
		return fmt.Errorf("merge policy: %w", err)
	}
	clock, ids := system.New(), uuid.NewUUIDGenerator()

	switch cfg.Database.Driver {
	case config.DriverPostgres:
		app.Repo, err = pgstore.NewLeadStore(ctx, pgstore.LeadStoreConfig{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		}, pgstore.Options{Policy: policy, Clock: clock, IDs: ids})
		if err != nil {
			return fmt.Errorf("postgres lead store init failed: %w", err)
		}
	case config.DriverSQLite:
		app.Repo, err = sqlitestore.Open(ctx, cfg.Database.DSN, sqlitestore.Options{Policy: policy, Clock: clock, IDs: ids})
		if err != nil {
			return fmt.Errorf("sqlite lead store init failed: %w", err)
		}
	default:
		app.logger.Warn("using in-memory lead store; leads are lost on exit")
		app.Repo = memorystorage.NewLeadStore(memorystorage.LeadStoreOptions{Policy: policy, Clock: clock, IDs: ids})
	}
	app.logger.Info("lead store initialized",
		zap.String("driver", cfg.Database.Driver),
		zap.String("merge_policy", string(policy)),
	)
	return nil
}

func setupStorage(ctx context.Context, app *App) error {
	if !app.cfg.Pipeline.ArchivePages {
		return nil
	}
	switch app.cfg.Storage.Backend {
	case config.StorageGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: app.cfg.Storage.Bucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.gcs = store
		app.blobStore = store
		app.logger.Info("archiving pages to GCS", zap.String("bucket", app.cfg.Storage.Bucket))
	case config.StorageLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		app.blobStore = store
		app.logger.Info("archiving pages locally", zap.String("path", app.cfg.Storage.Local.BaseDir))
	default:
		app.blobStore = memorystorage.NewBlobStore()
		app.logger.Info("archiving pages in memory")
	}
	return nil
}

func setupPublisher(ctx context.Context, app *App) (lead.Publisher, error) {
	if !app.cfg.PubSub.Enabled() {
		app.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

// resetGroup resets every fetcher at the end of a batch.
type resetGroup []pipeline.Resetter

func (g resetGroup) Reset() {
	for _, r := range g {
		r.Reset()
	}
}

// setupSources builds the fetchers and registers the enabled adapters. It
// returns the plain HTTP fetcher, which the enricher reuses.
func setupSources(app *App, extractor *email.Extractor) (*fetcher.Fetcher, resetGroup, error) {
	cfg := app.cfg
	fetchCfg := fetcher.Config{
		Timeout:           cfg.Fetcher.Timeout,
		UserAgent:         cfg.Fetcher.UserAgent,
		MinDomainDelay:    cfg.Fetcher.MinDomainDelay,
		MaxRetries:        cfg.Fetcher.MaxRetries,
		BackoffInitial:    cfg.Fetcher.BackoffInitial,
		BackoffMultiplier: cfg.Fetcher.BackoffMultiplier,
		BackoffMax:        cfg.Fetcher.BackoffMax,
		RespectRobots:     cfg.Fetcher.RespectRobots,
	}
	httpFetcher := fetcher.New(fetchCfg, app.logger.Named("fetcher"))
	resets := resetGroup{httpFetcher}

	var (
		browserFetcher *fetcher.Fetcher
		promoter       *headless.Promoter
	)
	if cfg.Headless.Enabled {
		backend, err := headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetcher.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("headless backend init failed: %w", err)
		}
		app.headless = backend
		browserFetcher = fetcher.NewWithBackend(fetchCfg, backend, app.logger.Named("fetcher.headless"))
		resets = append(resets, browserFetcher)
		if cfg.Headless.AutoPromote {
			promoter = headless.NewPromoter(httpFetcher, browserFetcher, cfg.Headless.PromoteMinText, app.logger.Named("fetcher.promote"))
		}
		app.logger.Info("headless fetcher enabled",
			zap.Int("max_parallel", cfg.Headless.MaxParallel),
			zap.Strings("sources", cfg.Headless.Sources),
			zap.Bool("auto_promote", cfg.Headless.AutoPromote),
		)
	}

	opts := []source.Option{source.WithLogger(app.logger.Named("source")), source.WithExtractor(extractor)}
	if app.blobStore != nil {
		opts = append(opts, source.WithArchive(source.NewArchive(app.blobStore, sha256.New(), cfg.Storage.Prefix)))
	}

	headlessSources := make([]lead.Source, 0, len(cfg.Headless.Sources))
	for _, name := range cfg.Headless.Sources {
		src, err := source.ParseSource(name)
		if err != nil {
			return nil, nil, fmt.Errorf("headless.sources: %w", err)
		}
		headlessSources = append(headlessSources, src)
	}
	fetcherFor := func(src lead.Source) lead.Fetcher {
		switch {
		case browserFetcher != nil && slices.Contains(headlessSources, src):
			return browserFetcher
		case promoter != nil:
			return promoter
		default:
			return httpFetcher
		}
	}

	app.Registry = source.NewRegistry()
	for _, name := range cfg.Sources.Enabled {
		src, err := source.ParseSource(name)
		if err != nil {
			return nil, nil, fmt.Errorf("sources.enabled: %w", err)
		}
		switch src {
		case lead.SourceSearch:
			app.Registry.Register(source.NewSearch(fetcherFor(src), source.SearchConfig{
				BaseURL:     cfg.Sources.Search.BaseURL,
				FallbackURL: cfg.Sources.Search.FallbackURL,
				MaxResults:  cfg.Sources.Search.MaxResults,
			}, opts...))
		case lead.SourceEuropages:
			app.Registry.Register(source.NewEuropages(fetcherFor(src), cfg.Sources.Europages.BaseURL, cfg.Sources.Europages.MaxPages, opts...))
		case lead.SourceKompass:
			app.Registry.Register(source.NewKompass(fetcherFor(src), cfg.Sources.Kompass.BaseURL, cfg.Sources.Kompass.MaxPages, opts...))
		}
	}
	return httpFetcher, resets, nil
}

func setupPipeline(
	app *App,
	pageFetcher *fetcher.Fetcher,
	resetter pipeline.Resetter,
	extractor *email.Extractor,
	publisher lead.Publisher,
) error {
	cfg := app.cfg
	validatorLogger := app.logger.Named("email")
	validatorCfg := email.ValidatorConfig{
		LookupTimeout: cfg.Email.LookupTimeout,
		Retries:       cfg.Email.LookupRetries,
	}
	enricher := enrich.New(pageFetcher, extractor, enrich.Config{
		ContactPaths:   cfg.Email.ContactPaths,
		PatternGuesses: cfg.Email.PatternGuesses,
	}, app.logger)

	var err error
	app.Pipeline, err = pipeline.New(pipeline.Config{
		Concurrency: cfg.Pipeline.Concurrency,
		Enrich:      cfg.Pipeline.Enrich,
	}, pipeline.Deps{
		Repo: app.Repo,
		NewValidator: func() enrich.Validator {
			return email.NewValidator(validatorCfg, nil, validatorLogger)
		},
		Enricher:  enricher,
		Publisher: publisher,
		Resetter:  resetter,
		Logger:    app.logger,
	})
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}
	return nil
}

func setupCampaign(app *App, publisher lead.Publisher) error {
	cfg := app.cfg
	catalog, err := campaign.NewCatalog(cfg.Campaign.CountryLanguages)
	if err != nil {
		return fmt.Errorf("template catalog init failed: %w", err)
	}
	if cfg.Campaign.TemplatesFile != "" {
		if err := catalog.LoadFile(cfg.Campaign.TemplatesFile); err != nil {
			return fmt.Errorf("load campaign templates: %w", err)
		}
	}
	app.Catalog = catalog

	var transport campaign.Transport = campaign.Noop{}
	if !cfg.Campaign.DryRun {
		transport, err = campaign.NewSMTPTransport(cfg.SMTP)
		if err != nil {
			return fmt.Errorf("smtp transport init failed: %w", err)
		}
	}
	loc, err := cfg.Campaign.Location()
	if err != nil {
		return err
	}
	app.Throttler, err = campaign.New(campaign.Config{
		DailyCap: cfg.Campaign.DailyCap,
		MinDelay: cfg.Campaign.MinDelay,
		DryRun:   cfg.Campaign.DryRun,
		Location: loc,
		Sender:   cfg.Campaign.Sender,
	}, campaign.Deps{
		Repo:      app.Repo,
		Catalog:   catalog,
		Transport: transport,
		Publisher: publisher,
		Logger:    app.logger,
	})
	if err != nil {
		return fmt.Errorf("campaign throttler init failed: %w", err)
	}
	return nil
}
