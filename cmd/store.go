package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/collection-cli/internal/cache"
	"github.com/sells-group/collection-cli/internal/catalog"
	"github.com/sells-group/collection-cli/internal/events"
	"github.com/sells-group/collection-cli/internal/generate"
	"github.com/sells-group/collection-cli/internal/pipeline"
	"github.com/sells-group/collection-cli/internal/prompt"
	"github.com/sells-group/collection-cli/internal/resilience"
	"github.com/sells-group/collection-cli/internal/store"
	anthropicpkg "github.com/sells-group/collection-cli/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "collection.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		var pool *store.PoolConfig
		if cfg.Store.Pool != nil {
			pool = &store.PoolConfig{MaxConns: cfg.Store.Pool.MaxConns, MinConns: cfg.Store.Pool.MinConns}
		}
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initCache(ctx context.Context) (cache.PageCache, error) {
	switch cfg.Cache.Driver {
	case "", "memory":
		return cache.NewMemory(time.Minute), nil
	case "redis":
		rc, err := cache.OpenRedis(ctx, cfg.Cache.RedisURL,
			cache.WithPrefix(cfg.Cache.KeyPrefix),
			cache.WithOpTimeout(time.Duration(cfg.Cache.OpTimeoutMs)*time.Millisecond),
		)
		if err != nil {
			return nil, err
		}
		return rc, nil
	default:
		return nil, eris.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}
}

// initEvents returns the status publisher and the redis client it owns, if
// any. A redis cache client is shared rather than dialed twice.
func initEvents(ctx context.Context, pc cache.PageCache) (events.Publisher, *redis.Client, error) {
	if !cfg.Events.Enabled {
		return events.Nop{}, nil, nil
	}
	if cfg.Events.RedisURL == "" {
		if rc, ok := pc.(*cache.RedisCache); ok {
			return events.NewRedisPublisher(rc.Client(), cfg.Events.Channel), nil, nil
		}
	}

	url := cfg.Events.RedisURL
	if url == "" {
		url = cfg.Cache.RedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, eris.Wrap(err, "events: parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, eris.Wrap(err, "events: ping redis")
	}
	return events.NewRedisPublisher(rdb, cfg.Events.Channel), rdb, nil
}

// pipelineEnv holds the store, cache and orchestrator needed by the
// generate and serve commands.
type pipelineEnv struct {
	Store        store.Store
	Cache        cache.PageCache
	Orchestrator *pipeline.Orchestrator
	eventsClient *redis.Client
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.eventsClient != nil {
		_ = pe.eventsClient.Close()
	}
	if pe.Cache != nil {
		_ = pe.Cache.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config for mode, then wires the store, cache,
// catalog, Claude invoker and orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	builder := prompt.NewBuilder(cat,
		prompt.WithMaxQuestions(cfg.Generation.MaxQuestions),
		prompt.WithTokenCeiling(cfg.Anthropic.MaxTokensCeiling),
	)
	if err := builder.CheckCatalog(); err != nil {
		return nil, eris.Wrap(err, "catalog misconfigured")
	}

	env := &pipelineEnv{}
	if env.Store, err = initStore(ctx); err != nil {
		return nil, err
	}
	if env.Cache, err = initCache(ctx); err != nil {
		env.Close()
		return nil, err
	}

	var pub events.Publisher
	pub, env.eventsClient, err = initEvents(ctx, env.Cache)
	if err != nil {
		env.Close()
		return nil, err
	}

	gen := cfg.Generation
	var clientOpts []anthropicpkg.ClientOption
	if cfg.Anthropic.BaseURL != "" {
		clientOpts = append(clientOpts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	client := anthropicpkg.NewClient(cfg.Anthropic.Key, clientOpts...)

	var breaker *resilience.Breaker
	if gen.CircuitThreshold > 0 {
		breaker = resilience.NewBreaker(gen.CircuitThreshold, time.Duration(gen.CircuitResetSecs)*time.Second)
	}

	invoker := generate.NewClaudeInvoker(client, generate.ClaudeConfig{
		Model:        cfg.Anthropic.Model,
		CallTimeout:  time.Duration(gen.CallTimeoutSecs) * time.Second,
		Limits:       generate.Limits{MaxBytes: gen.MaxResponseBytes, MaxQuestions: gen.MaxQuestions},
		Retry:        resilience.NewPolicy(gen.RetryAttempts, gen.RetryBackoffMs),
		RetryInvalid: gen.RetryInvalid,
		RatePerSec:   gen.RatePerSec,
		RateBurst:    gen.RateBurst,
		Breaker:      breaker,
		Owner:        cat.SectionFor,
	})


	env.Orchestrator = pipeline.New(pipeline.Options{
		Workers:     gen.Workers,
		CacheTTL:    time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
		PairTimeout: time.Duration(gen.PairTimeoutSecs) * time.Second,
	}, env.Store, env.Cache, invoker, builder, cat, pub)

	zap.L().Info("pipeline initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("cache", cfg.Cache.Driver),
		zap.Int("sections", cat.Len()),
		zap.Int("workers", gen.Workers),
		zap.Bool("events", cfg.Events.Enabled),
	)
	return env, nil
}
