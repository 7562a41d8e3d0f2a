package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"ChannelMonitor/internal/album"
	"ChannelMonitor/internal/config"
	"ChannelMonitor/internal/gateway"
	"ChannelMonitor/internal/infrastructure/parser"
	"ChannelMonitor/internal/infrastructure/scheduler"
	"ChannelMonitor/internal/infrastructure/storage"
	"ChannelMonitor/internal/infrastructure/telegram"
	"ChannelMonitor/internal/logging"
	"ChannelMonitor/internal/ports"
	"ChannelMonitor/internal/usecase"
)

// Identifier confirms the bot credentials before monitoring starts.
type Identifier interface {
	Identify(ctx context.Context) (string, error)
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	identity  Identifier
	scheduler *usecase.Scheduler
	closeFn   func() error
}

// New builds the runnable monitor: source, bot, gateway, state and scheduler.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	bot, err := telegram.NewBotGateway(cfg.Telegram.BotToken, telegram.Options{
		APIURL: cfg.Telegram.APIURL,
		Silent: cfg.Telegram.Silent,
	}, baseLogger.With("component", "telegram"))
	if err != nil {
		return nil, err
	}

	source := parser.NewWebPreviewSource(
		&http.Client{Timeout: cfg.Source.Timeout.Std()},
		cfg.Source.BaseURL,
		cfg.Source.UserAgent,
		baseLogger.With("component", "source"),
	)

	store, closeFn, err := OpenStore(ctx, cfg.State)
	if err != nil {
		return nil, err
	}

	app, err := assemble(ctx, cfg, baseLogger, Adapters{
		Source:    source,
		Forwarder: bot,
		Resolver:  bot,
		Identity:  bot,
		Store:     store,
		Sleeper:   scheduler.NewClock(),
		Jitter:    scheduler.Uniform,
	})
	if err != nil {
		_ = closeFn()
		return nil, err
	}
	app.closeFn = closeFn
	return app, nil
}

// Adapters are the driven-side implementations used by the monitor.
type Adapters struct {
	Source    ports.HistorySource
	Forwarder ports.Forwarder
	Resolver  ports.RecipientResolver
	Identity  Identifier
	Store     ports.StateStore
	Sleeper   ports.Sleeper
	Jitter    ports.Jitter
}

func assemble(ctx context.Context, cfg config.Config, logger *slog.Logger, ad Adapters) (*Application, error) {
	if len(cfg.Monitoring.Channels) == 0 {
		return nil, fmt.Errorf("%w: no channels configured", config.ErrInvalid)
	}

	remote := gateway.New(gateway.Deps{
		Source:    ad.Source,
		Forwarder: ad.Forwarder,
		Resolver:  ad.Resolver,
		Sleeper:   ad.Sleeper,
		Jitter:    ad.Jitter,
		JitterMin: cfg.Pacing.RateLimitJitter.Min.Std(),
		JitterMax: cfg.Pacing.RateLimitJitter.Max.Std(),
		Logger:    logger.With("component", "gateway"),
	})

	cursors := usecase.LoadCursors(ctx, ad.Store, cfg.ChannelIDs(), logger.With("component", "state"))

	scanner := usecase.NewChannelScanner(usecase.ScannerDeps{
		Remote:       remote,
		Aggregator:   album.NewAggregator(album.NewProcessedSet()),
		Store:        ad.Store,
		Cursors:      cursors,
		Sleeper:      ad.Sleeper,
		Jitter:       ad.Jitter,
		HistoryLimit: cfg.Monitoring.HistoryLimit,
		Overlap:      cfg.Monitoring.OverlapValue(),
		ForwardDelay: toRange(cfg.Pacing.ForwardDelay),
		TargetGap:    toRange(cfg.Pacing.TargetGap),
		Logger:       logger.With("component", "scanner"),
	})

	tasks := make([]usecase.ChannelTask, 0, len(cfg.Monitoring.Channels))
	for _, ch := range cfg.Monitoring.Channels {
		tasks = append(tasks, usecase.ChannelTask{Channel: ch.Name, Policy: cfg.PolicyFor(ch)})
	}

	sched := usecase.NewScheduler(usecase.SchedulerDeps{
		Scanner:     scanner,
		Resolver:    remote,
		Recipients:  cfg.Monitoring.ForwardTo,
		Channels:    tasks,
		Sleeper:     ad.Sleeper,
		Jitter:      ad.Jitter,
		ChannelGap:  toRange(cfg.Pacing.ChannelGap),
		ScanDelay:   cfg.Monitoring.ScanDelay.Std(),
		SweepJitter: toRange(cfg.Pacing.SweepJitter),
		Logger:      logger.With("component", "scheduler"),
	})

	return &Application{
		cfg:       cfg,
		logger:    logger,
		identity:  ad.Identity,
		scheduler: sched,
		closeFn:   func() error { return nil },
	}, nil
}

// Run checks the bot identity and sweeps until ctx is cancelled. Cancellation
// is a clean stop.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		if err := a.closeFn(); err != nil {
			a.logger.Error("close state store", "error", err)
		}
	}()

	if a.identity != nil {
		name, err := a.identity.Identify(ctx)
		if err != nil {
			return fmt.Errorf("bot identity check: %w", err)
		}
		a.logger.Info("bot ready", "username", name)
	}

	a.logger.Info("monitoring started",
		"channels", len(a.cfg.Monitoring.Channels),
		"recipients", len(a.cfg.Monitoring.ForwardTo),
		"state_backend", a.cfg.State.Backend)

	err := a.scheduler.Run(ctx)
	if errors.Is(err, context.Canceled) {
		a.logger.Info("monitoring stopped")
		return nil
	}
	return err
}

// OpenStore builds the configured state backend and its cleanup.
func OpenStore(ctx context.Context, cfg config.StateConfig) (ports.StateStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.BackendFile, "":
		return storage.NewFileStore(cfg.Path), noop, nil
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		store := storage.NewPostgresStore(db, cfg.Table)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return storage.NewRedisStore(client, cfg.RedisKey), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown state backend %q", config.ErrInvalid, cfg.Backend)
	}
}

func toRange(r config.Range) usecase.Range {
	return usecase.Range{Min: r.Min.Std(), Max: r.Max.Std()}
}
