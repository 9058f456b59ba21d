// Package app wires configuration into a ready research runner.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/agents"
	"github.com/mohammad-safakhou/deepresearch/internal/email"
	"github.com/mohammad-safakhou/deepresearch/internal/guardrail"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
	"github.com/mohammad-safakhou/deepresearch/internal/render"
	"github.com/mohammad-safakhou/deepresearch/internal/research"
	"github.com/mohammad-safakhou/deepresearch/internal/status"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/webfetch"
	"github.com/mohammad-safakhou/deepresearch/internal/websearch"
)

// App holds the long-lived components of a process.
type App struct {
	Config    *config.Config
	Manager   *research.Manager
	Runner    *research.Runner
	Store     *store.Store // nil without postgres
	Redis     redis.UniversalClient
	Telemetry *telemetry.Telemetry
}

// Build constructs every component from cfg. The caller owns Close.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	tel, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return nil, err
	}
	a.Telemetry = tel

	provider := llm.NewOpenAIProvider(llm.OpenAIOptions{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	})
	model := func(name string) agents.ModelOptions {
		return agents.ModelOptions{Model: name, Temperature: cfg.LLM.Temperature, Attempts: cfg.LLM.Attempts}
	}

	web, err := websearch.New(websearch.Provider(cfg.Search.Provider), cfg.Search.APIKey(), cfg.Search.Timeout)
	if err != nil {
		return nil, a.fail(ctx, err)
	}
	var fetcher webfetch.Fetcher
	if cfg.Search.FetchPages > 0 {
		fetcher, err = webfetch.New(webfetch.Type(cfg.Search.Fetcher), cfg.Search.FetchTimeout, cfg.Search.MaxPageChars)
		if err != nil {
			return nil, a.fail(ctx, err)
		}
	}

	policy, err := guardrail.LoadPolicy(cfg.Guardrail.PolicyFile)
	if err != nil {
		return nil, a.fail(ctx, err)
	}
	policy.BlockOnVague = policy.BlockOnVague || cfg.Guardrail.BlockOnVague

	clarifier := agents.NewClarifier(provider, model(cfg.LLM.Models.Clarifier))
	deps := research.Deps{
		Gate:      guardrail.NewGate(guardrail.NewLLMEvaluator(provider, cfg.LLM.Models.Guardrail), policy),
		Clarifier: clarifier,
		Planner:   agents.NewPlanner(provider, model(cfg.LLM.Models.Planner), cfg.Pipeline.NumSearches),
		Searcher: agents.NewSearcher(web, fetcher, provider, agents.SearcherOptions{
			Model:      model(cfg.LLM.Models.Searcher),
			MaxResults: cfg.Search.MaxResults,
			FetchPages: cfg.Search.FetchPages,
			CacheSize:  cfg.Search.CacheSize,
			CacheTTL:   cfg.Search.CacheTTL,
			Logger:     log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
		}),
		Writer:    agents.NewWriter(provider, model(cfg.LLM.Models.Writer)),
		Converter: render.Converter{},
		Emailer:   email.NewSendGridSender(cfg.Email.APIKey, cfg.Email.From, cfg.Email.FromName, nil),
	}
	p := cfg.Pipeline
	a.Manager, err = research.NewManager(deps, research.PipelineConfig{
		NumSearches:      p.NumSearches,
		ParallelSearches: p.ParallelSearches,
		MaxParallel:      p.MaxParallel,
		MinReportWords:   p.MinReportWords,
		WriteAttempts:    p.WriteAttempts,
		OutputGuardrail:  p.OutputGuardrail,
		ReportTitle:      p.ReportTitle,
		SubjectPrefix:    p.SubjectPrefix,
	}, nil)
	if err != nil {
		return nil, a.fail(ctx, err)
	}

	if cfg.Status.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, a.fail(ctx, fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr, err))
		}
		a.Redis = rdb
	}
	buses, err := status.NewFactory(cfg.Status.Backend, a.Redis, status.RedisOptions{
		Prefix: cfg.Status.StreamPrefix,
		MaxLen: cfg.Status.StreamMaxLen,
		TTL:    cfg.Status.StreamTTL,
	})
	if err != nil {
		return nil, a.fail(ctx, err)
	}

	opts := research.Options{
		PollInterval:  cfg.Status.PollInterval,
		DrainTimeout:  cfg.Status.DrainTimeout,
		DrainAttempts: cfg.Status.DrainAttempts,
	}
	if cfg.Storage.Postgres.Enabled() {
		st, err := store.Open(ctx, cfg.Storage.Postgres.DSN(), nil)
		if err != nil {
			return nil, a.fail(ctx, err)
		}
		a.Store = st
		opts.Recorder = st
	}
	a.Runner = research.NewRunner(a.Manager, clarifier, buses, opts)
	return a, nil
}

func (a *App) fail(ctx context.Context, err error) error {
	return errors.Join(err, a.Close(ctx))
}

// Close releases connections and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Telemetry != nil {
		errs = append(errs, a.Telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
