package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/broker"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/cache"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel/adapters/call"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel/adapters/discord"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel/adapters/email"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel/adapters/feishu"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel/adapters/session"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel/adapters/slack"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel/adapters/telegram"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/config"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/credentials"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/db"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/eventlog"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/events"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/handlers"
	channelchecker "github.com/Legimus-AI/notifications-for-fun-sub000/internal/healthcheck/checkers/channel"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/logger"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/media"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/media/providers/localfs"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/metrics"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/normalize"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/providers"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/server"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/webhook"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and restore live channels",
	RunE:  runServeCmd,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on startup")
}

func runServeCmd(_ *cobra.Command, _ []string) error {
	if !skipMigrations {
		cfg, err := provideConfig()
		if err != nil {
			return err
		}
		if err := db.Migrate(provideLogger(cfg), cfg.Postgres); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	app := fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideMetrics,
			provideCaches,
			provideCredentialStore,
			provideChannelStore,
			provideEventLog,
			provideMediaService,
			provideWebhookDispatcher,
			provideNormalizer,
			providePipeline,
			provideChannelRegistry,
			provideChannelManager,
			provideChannelLifecycle,
			provideProviderService,
			provideEventLogPruner,
			provideChannelChecker,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewChannelHandler),
			provideServerHandler(handlers.NewMessageHandler),
			provideServerHandler(handlers.NewWebhookHandler),
			provideServerHandler(handlers.NewContactHandler),
			provideServerHandler(handlers.NewMediaHandler),
			provideServerHandler(handlers.NewEventHandler),
			provideServerHandler(provideMetricsHandler),
			provideServer,
		),
		fx.Invoke(
			startBroker,
			startEventLogPruner,
			startChannelManager,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	app.Run()
	return app.Err()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

func provideCaches(cfg config.Config) *cache.Set {
	return cache.NewSet(cache.Options{
		Size:        cfg.Cache.Size,
		GroupTTL:    cfg.Cache.GroupTTL.Duration,
		AddressTTL:  cfg.Cache.AddressTTL.Duration,
		HiddenIDTTL: cfg.Cache.HiddenIDTTL.Duration,
	})
}

func provideCredentialStore(log *slog.Logger, conn *pgxpool.Pool) credentials.Store {
	return credentials.NewPgStore(log, conn)
}

func provideChannelStore(log *slog.Logger, conn *pgxpool.Pool) *channel.PgStore {
	return channel.NewPgStore(log, conn)
}

func provideEventLog(log *slog.Logger, conn *pgxpool.Pool) *eventlog.Store {
	return eventlog.NewStore(log, conn)
}

func provideMediaService(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*media.Service, error) {
	provider, err := localfs.New(cfg.Media.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("media storage: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return provider.Close() }})
	return media.NewService(log, provider, media.Options{
		PublicBaseURL: cfg.Server.PublicBaseURL,
		MaxBytes:      cfg.Media.MaxBytes,
		Timeout:       cfg.Media.Timeout.Duration,
	}), nil
}

func provideWebhookDispatcher(log *slog.Logger, cfg config.Config, store *channel.PgStore, m *metrics.Metrics) *webhook.Dispatcher {
	dispatcher := webhook.NewDispatcher(log, store, cfg.Webhook.Timeout.Duration)
	dispatcher.SetObserver(m)
	return dispatcher
}

func provideNormalizer(log *slog.Logger, mediaService *media.Service, eventLog *eventlog.Store, caches *cache.Set, m *metrics.Metrics) *normalize.Normalizer {
	return normalize.New(log, normalize.Options{
		Media:     mediaService,
		Quotes:    eventLog,
		HiddenIDs: caches.HiddenIDs,
		Observer:  m,
	})
}

func providePipeline(log *slog.Logger, normalizer *normalize.Normalizer, dispatcher *webhook.Dispatcher, eventLog *eventlog.Store, caches *cache.Set) *events.Pipeline {
	return events.NewPipeline(log, normalizer, dispatcher, events.Options{
		Log:    eventLog,
		Groups: caches.Groups,
	})
}

func provideChannelRegistry(log *slog.Logger, cfg config.Config) *channel.Registry {
	timeout := cfg.Providers.Timeout.Duration
	registry := channel.NewRegistry()
	registry.MustRegister(session.NewAdapter(log, session.Options{
		BridgeURL: cfg.Session.BridgeURL,
		Token:     cfg.Session.BridgeToken,
	}))
	registry.MustRegister(telegram.NewAdapter(log, timeout))
	registry.MustRegister(slack.NewAdapter(log, slack.Options{BaseURL: cfg.Providers.SlackBaseURL, Timeout: timeout}))
	registry.MustRegister(discord.NewAdapter(log))
	registry.MustRegister(feishu.NewAdapter(log))
	registry.MustRegister(email.NewAdapter(log))
	registry.MustRegister(call.NewAdapter(log, call.Options{BaseURL: cfg.Providers.CallBaseURL, Timeout: timeout}))
	return registry
}

func provideChannelManager(log *slog.Logger, cfg config.Config, registry *channel.Registry, store *channel.PgStore, creds credentials.Store, pipeline *events.Pipeline, caches *cache.Set, m *metrics.Metrics) *channel.Manager {
	manager := channel.NewManager(log, registry, store, creds, pipeline, channel.ManagerOptions{
		ReconnectDelay: cfg.Session.ReconnectDelay.Duration,
		RestoreStagger: cfg.Session.RestoreStagger.Duration,
	})
	manager.SetCacheFlusher(caches)
	manager.SetObserver(m)
	return manager
}

func provideChannelLifecycle(store *channel.PgStore, manager *channel.Manager, registry *channel.Registry, mediaService *media.Service, eventLog *eventlog.Store) *channel.Lifecycle {
	lifecycle := channel.NewLifecycle(store, manager, registry)
	lifecycle.AddPurger(mediaService.PurgeChannel)
	lifecycle.AddPurger(eventLog.DeleteChannel)
	return lifecycle
}

func provideProviderService(log *slog.Logger, store *channel.PgStore, manager *channel.Manager, registry *channel.Registry, caches *cache.Set, m *metrics.Metrics) *providers.Service {
	return providers.NewService(log, providers.Deps{
		Channels:  store,
		Sessions:  manager,
		Registry:  registry,
		Addresses: caches.Addresses,
		Groups:    caches.Groups,
		HiddenIDs: caches.HiddenIDs,
		Observer:  m,
	})
}

func provideEventLogPruner(log *slog.Logger, cfg config.Config, store *eventlog.Store) *eventlog.Pruner {
	return eventlog.NewPruner(log, store, cfg.EventLog.Retention.Duration, cfg.EventLog.Schedule)
}

func provideChannelChecker(log *slog.Logger, manager *channel.Manager) *channelchecker.Checker {
	return channelchecker.NewChecker(log, manager)
}

func provideMetricsHandler(cfg config.Config, m *metrics.Metrics) *handlers.MetricsHandler {
	return handlers.NewMetricsHandler(cfg.Metrics.Path, m)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

// startBroker mirrors dispatched events to AMQP when a broker is configured.
// The dial retries with backoff, so it runs off the start path.
func startBroker(lc fx.Lifecycle, logger *slog.Logger, cfg config.Config, pipeline *events.Pipeline) {
	if !cfg.AMQP.Enabled() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	published := make(chan *broker.Publisher, 1)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(published)
				pub, err := broker.Dial(ctx, logger, broker.Options{URL: cfg.AMQP.URL, Exchange: cfg.AMQP.Exchange})
				if err != nil {
					logger.Error("broker unavailable, events are not mirrored", slog.Any("error", err))
					return
				}
				pipeline.SetPublisher(pub)
				published <- pub
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			if pub, ok := <-published; ok {
				return pub.Close()
			}
			return nil
		},
	})
}

func startEventLogPruner(lc fx.Lifecycle, pruner *eventlog.Pruner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return pruner.Start() },
		OnStop:  func(ctx context.Context) error { return pruner.Stop(ctx) },
	})
}

func startChannelManager(lc fx.Lifecycle, logger *slog.Logger, manager *channel.Manager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := manager.RestoreActiveChannels(ctx); err != nil {
				logger.Error("channel restore failed", slog.Any("error", err))
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error { return manager.Shutdown(stopCtx) },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting gateway", slog.String("version", versionString()), slog.String("addr", srv.Addr()))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
