package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow/checkpoint"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/config"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/database"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/llm"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/observability"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/orchestrator"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/pipeline"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/querycache"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/schema"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/store"
)

// app is a fully wired orchestrator and the resources behind it.
type app struct {
	orch    *orchestrator.Orchestrator
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// newApp connects every component named in settings. On error, whatever
// was already opened is closed.
func newApp(ctx context.Context, settings *config.Settings, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	db, err := database.New(settings.Database.Driver, settings.Database.URL, database.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := db.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	schemas := schema.NewService(db,
		schema.WithTTL(settings.Schema.CacheTTL),
		schema.WithInclude(settings.Database.IncludeTables...),
		schema.WithExclude(settings.Database.ExcludeTables...),
		schema.WithLogger(logger),
	)

	checkpoints, err := openCheckpoints(ctx, settings.Checkpoint)
	if err != nil {
		return nil, err
	}
	if c, ok := checkpoints.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	metrics := observability.NewMetricsRecorder()
	engine := pipeline.New(newLLMClient(settings, logger), db, schemas,
		pipeline.WithConfig(settings.PipelineConfig()),
		pipeline.WithCheckpointStore(checkpoints),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
		pipeline.WithSpanManager(observability.NewSpanManager()),
	)

	records, sessions, err := openStores(ctx, settings.Store, logger, a)
	if err != nil {
		return nil, err
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics),
	}
	if settings.Cache.Enabled {
		opts = append(opts, orchestrator.WithCache(querycache.New(querycache.WithTTL(settings.Cache.TTL))))
	}
	a.orch = orchestrator.New(engine, schemas, records, sessions, opts...)
	return a, nil
}

// newLLMClient retries each model on its own; the fallback model is only
// tried once the primary has exhausted its retries.
func newLLMClient(settings *config.Settings, logger *slog.Logger) llm.Client {
	build := func(model string) llm.Client {
		inner := llm.NewAnthropicClient(
			llm.WithAPIKey(settings.LLM.APIKey),
			llm.WithModel(model),
			llm.WithMaxTokens(settings.LLM.MaxTokens),
			llm.WithRequestTimeout(settings.LLM.Timeout),
		)
		return llm.NewRetryClient(inner, settings.RetryConfig(), llm.WithRetryLogger(logger.With("model", model)))
	}
	primary := build(settings.LLM.Model)
	if settings.LLM.FallbackModel == "" || settings.LLM.FallbackModel == settings.LLM.Model {
		return primary
	}
	return llm.NewFallbackClient(primary, build(settings.LLM.FallbackModel))
}

func openCheckpoints(ctx context.Context, cfg config.StorageSettings) (checkpoint.Store, error) {
	if cfg.Driver == config.DriverMemory {
		return checkpoint.NewMemoryStore(), nil
	}
	s, err := checkpoint.NewSQLiteStore(ctx, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	return s, nil
}

func openStores(ctx context.Context, cfg config.StorageSettings, logger *slog.Logger, a *app) (store.RecordStore, store.SessionStore, error) {
	if cfg.Driver == config.DriverMemory {
		return store.NewMemoryRecordStore(), store.NewMemorySessionStore(nil), nil
	}
	db, err := store.OpenSQLite(ctx, cfg.Path, store.WithSQLiteLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, db.Close)
	return db.Records(), db.Sessions(), nil
}
