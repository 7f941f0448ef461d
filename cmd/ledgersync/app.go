package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Strob0t/ledgersync/internal/adapter/discord"
	"github.com/Strob0t/ledgersync/internal/adapter/github"
	cfnats "github.com/Strob0t/ledgersync/internal/adapter/nats"
	"github.com/Strob0t/ledgersync/internal/adapter/natskv"
	"github.com/Strob0t/ledgersync/internal/adapter/notion"
	cfotel "github.com/Strob0t/ledgersync/internal/adapter/otel"
	"github.com/Strob0t/ledgersync/internal/adapter/ristretto"
	"github.com/Strob0t/ledgersync/internal/adapter/slack"
	"github.com/Strob0t/ledgersync/internal/adapter/tiered"
	"github.com/Strob0t/ledgersync/internal/config"
	"github.com/Strob0t/ledgersync/internal/fanout"
	"github.com/Strob0t/ledgersync/internal/port/broadcast"
	"github.com/Strob0t/ledgersync/internal/port/cache"
	"github.com/Strob0t/ledgersync/internal/port/notifier"
	"github.com/Strob0t/ledgersync/internal/resilience"
	"github.com/Strob0t/ledgersync/internal/richtext"
	"github.com/Strob0t/ledgersync/internal/service"
)

// app is the wired synchronization engine shared by every command.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	queue      *cfnats.Queue // nil without NATS
	l1         *ristretto.Cache
	projects   cache.Cache
	reconciler *service.Reconciler
	events     *service.EventHandler
	dispatcher *service.Dispatcher
	closers    []func(context.Context) error
}

type appOptions struct {
	// useNATS connects the trigger bus and the shared cache when configured.
	useNATS bool
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close(context.WithoutCancel(ctx))
		}
	}()

	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL, log)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	a.closers = append(a.closers, shutdownOTEL)
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}

	httpClient := cfotel.HTTPClient(cfg.Sync.RequestTimeout)
	retry := resilience.DefaultRetryPolicy()
	retry.MaxRetries = cfg.Sync.MaxRetries
	retry.Base = cfg.Sync.RetryBase

	source := github.NewClient(cfg.GitHub.APIURL, cfg.GitHub.Token, log.With("component", "github"),
		github.WithHTTPClient(httpClient),
		github.WithGraphQLURL(cfg.GitHub.GraphQLURL),
		github.WithBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)),
		github.WithRetryPolicy(retry),
	)
	store := notion.NewClient(cfg.Notion.Token, log.With("component", "notion"),
		notion.WithHTTPClient(httpClient),
		notion.WithBaseURL(cfg.Notion.APIURL),
		notion.WithVersion(cfg.Notion.Version),
		notion.WithPool(fanout.NewPool(cfg.Sync.MaxConcurrent)),
		notion.WithBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)),
		notion.WithRetryPolicy(retry),
	)

	if a.l1, err = ristretto.New(cfg.Cache.L1MaxSizeMB); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	a.projects = a.l1

	if opts.useNATS && cfg.NATS.URL != "" {
		if a.queue, err = cfnats.Connect(ctx, cfg.NATS.URL, log.With("component", "nats")); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return a.queue.Drain() })
		kv, kvErr := a.queue.KeyValue(ctx, cfg.Cache.KVBucket, cfg.Cache.ProjectTTL)
		if kvErr != nil {
			return nil, kvErr
		}
		a.projects = tiered.New(a.l1, natskv.New(kv), cfg.Cache.ProjectTTL)
	}

	conv := richtext.New(log.With("component", "richtext"))
	mapper := service.NewPropertyMapper(conv, service.NewCachedProjects(source, a.projects, cfg.Cache.ProjectTTL, log), log)
	mappings := service.NewMappingBuilder(store, cfg.Notion.DatabaseID, cfg.Sync.PageSize, log)

	a.reconciler = service.NewReconciler(source, store, mapper, mappings, cfg.Notion.DatabaseID, service.ReconcileOptions{
		MaxConcurrent: cfg.Sync.MaxConcurrent,
		PageSize:      cfg.Sync.PageSize,
		PassTimeout:   cfg.Sync.PassTimeout,
	}, log)
	a.events = service.NewEventHandler(store, mapper, cfg.Notion.DatabaseID, cfg.Sync.MaxConcurrent, log)
	a.reconciler.SetMetrics(metrics)
	a.reconciler.SetAlerts(service.NewAlerts(notifiers(cfg.Notify, httpClient), log.With("component", "alerts")))
	a.events.SetMetrics(metrics)
	if a.queue != nil {
		a.reconciler.SetQueue(a.queue)
		a.events.SetQueue(a.queue)
	}
	a.dispatcher = service.NewDispatcher(a.events, a.reconciler, log)

	return a, nil
}

// notifiers returns a notifier per configured chat webhook.
func notifiers(cfg config.Notify, httpClient *http.Client) []notifier.Notifier {
	var out []notifier.Notifier
	if cfg.SlackWebhookURL != "" {
		out = append(out, slack.NewNotifier(cfg.SlackWebhookURL, httpClient))
	}
	if cfg.DiscordWebhookURL != "" {
		out = append(out, discord.NewNotifier(cfg.DiscordWebhookURL, httpClient))
	}
	return out
}

// setBroadcaster pushes sync outcomes to hub.
func (a *app) setBroadcaster(hub broadcast.Broadcaster) {
	a.reconciler.SetBroadcaster(hub)
	a.events.SetBroadcaster(hub)
}

// deliveries returns the cache that remembers webhook delivery ids, shared
// across instances when NATS is connected. The shared bucket is used without
// an L1 so that no instance keeps a stale in-progress marker.
func (a *app) deliveries(ctx context.Context) cache.Cache {
	if a.queue == nil {
		return a.l1
	}
	kv, err := a.queue.KeyValue(ctx, a.cfg.Cache.KVBucket+"_deliveries", a.cfg.Webhook.DedupeTTL)
	if err != nil {
		a.log.Warn("shared delivery cache unavailable, deduplicating per instance", "error", err)
		return a.l1
	}
	return natskv.New(kv)
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn("shutdown step failed", "error", err)
		}
	}
	if a.l1 != nil {
		a.l1.Close()
	}
}
