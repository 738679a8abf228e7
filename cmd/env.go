package main

import (
	"context"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/sells-group/opsprofile/internal/cache"
	"github.com/sells-group/opsprofile/internal/collect"
	"github.com/sells-group/opsprofile/internal/crm"
	"github.com/sells-group/opsprofile/internal/metrics"
	"github.com/sells-group/opsprofile/internal/notify"
	"github.com/sells-group/opsprofile/internal/pipeline"
	"github.com/sells-group/opsprofile/internal/resilience"
	"github.com/sells-group/opsprofile/internal/review"
	"github.com/sells-group/opsprofile/internal/sources"
	"github.com/sells-group/opsprofile/internal/store"
	"github.com/sells-group/opsprofile/internal/telemetry"
	"github.com/sells-group/opsprofile/internal/token"
	anthropicpkg "github.com/sells-group/opsprofile/pkg/anthropic"
	"github.com/sells-group/opsprofile/pkg/google"
	"github.com/sells-group/opsprofile/pkg/notion"
	"github.com/sells-group/opsprofile/pkg/rdap"
	"github.com/sells-group/opsprofile/pkg/resend"
	"github.com/sells-group/opsprofile/pkg/serpapi"
)

// appEnv holds the initialized store, clients and pipeline shared by the
// serve, worker, process and recover commands.
type appEnv struct {
	Store    store.Store
	Redis    *redis.Client // nil when not configured
	Tokens   *token.Issuer
	Review   *review.Queue // nil when not configured
	Pipeline *pipeline.Pipeline
	tracer   *sdktrace.TracerProvider
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.tracer != nil {
		if err := telemetry.Shutdown(e.tracer, 5*time.Second); err != nil {
			zap.L().Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// openStore connects and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv validates cfg for mode and builds the pipeline. Callers should
// defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	policy, err := pipeline.ParseReviewPolicy(cfg.Pipeline.ManualReviewPolicy)
	if err != nil {
		return nil, err
	}

	metrics.Init()
	env := &appEnv{tracer: telemetry.InitTracerProvider(telemetry.ServiceName)}

	env.Store, err = openStore(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Redis, err = initRedis(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Tokens = token.New(env.Store, cfg.Token.TTL())

	deps := pipeline.Deps{
		Store:       env.Store,
		Collector:   initCollector(),
		Synthesizer: initSynthesizer(),
		Tokens:      env.Tokens,
		Notifier:    initNotifier(),
	}

	if env.Redis != nil {
		deps.Cache = cache.NewRedis(env.Redis, cfg.Pipeline.ReuseWindow())
	} else {
		zap.L().Debug("redis not configured, profile reuse falls back to the store")
	}

	if cfg.Notion.Token != "" && cfg.Notion.ReviewDB != "" {
		env.Review = review.NewQueue(notion.NewClient(cfg.Notion.Token), cfg.Notion.ReviewDB)
		deps.Review = env.Review
		zap.L().Info("notion review queue enabled")
	}

	if cfg.Salesforce.Enabled() {
		sf, err := initSalesforce()
		if err != nil {
			env.Close()
			return nil, err
		}
		deps.CRM = crm.NewSyncer(sf, cfg.Pipeline.BaseURL)
		zap.L().Info("salesforce lead sync enabled")
	}

	env.Pipeline = pipeline.New(deps, pipeline.Options{
		MinPoints:    cfg.Pipeline.MinPoints,
		ReviewPolicy: policy,
		ReuseWindow:  cfg.Pipeline.ReuseWindow(),
		BaseURL:      cfg.Pipeline.BaseURL,
	})
	return env, nil
}

// initCollector builds the five adapters. Places and jobs are left
// unconfigured without API keys and report as unavailable.
func initCollector() *collect.Coordinator {
	fetcher := sources.NewFetcher(cfg.Collect.UserAgent, sources.WithRateLimit(cfg.Collect.FetchRPS))

	adapters := []sources.Adapter{
		sources.NewSite(fetcher, nil),
		sources.NewTech(fetcher, sources.DefaultSignatures()),
		sources.NewDNS(net.DefaultResolver, rdap.NewClient(rdap.WithBaseURL(cfg.RDAP.BaseURL))),
	}

	if cfg.Google.Key != "" {
		adapters = append(adapters, sources.NewPlaces(google.NewClient(cfg.Google.Key, google.WithBaseURL(cfg.Google.BaseURL))))
	} else {
		zap.L().Warn("google places key not set, business reviews source disabled")
	}
	if cfg.SerpAPI.Key != "" {
		adapters = append(adapters, sources.NewJobs(serpapi.NewClient(cfg.SerpAPI.Key, serpapi.WithBaseURL(cfg.SerpAPI.BaseURL))))
	} else {
		zap.L().Warn("serpapi key not set, job postings source disabled")
	}

	return collect.New(adapters, collect.Options{
		Timeout: cfg.Collect.AdapterTimeout(),
		Breaker: resilience.BreakerConfig{
			Threshold: cfg.Collect.BreakerThreshold,
			Cooldown:  time.Duration(cfg.Collect.BreakerResetSecs) * time.Second,
		},
	})
}

func initSynthesizer() *pipeline.Synthesizer {
	client := anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicpkg.Options{
		Timeout: time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second,
	})
	return pipeline.NewSynthesizer(client, pipeline.SynthesisConfig{
		Model:       cfg.Anthropic.Model,
		MaxTokens:   cfg.Anthropic.MaxTokens,
		Temperature: cfg.Anthropic.Temperature,
		Retry:       resilience.ScheduleConfig(cfg.Synthesis.MaxAttempts, cfg.Synthesis.RetryDelays()),
	})
}

func initNotifier() notify.Notifier {
	if cfg.Resend.Key == "" {
		zap.L().Warn("resend key not set, emails will only be logged")
		return notify.Nop{}
	}
	return notify.NewEmail(resend.NewClient(cfg.Resend.Key, resend.WithBaseURL(cfg.Resend.BaseURL)), cfg.Resend.From)
}
