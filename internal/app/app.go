// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-feedback/internal/clock/system"
	"github.com/JakeFAU/profile-feedback/internal/config"
	"github.com/JakeFAU/profile-feedback/internal/correlation"
	datastoreMemory "github.com/JakeFAU/profile-feedback/internal/datastore/memory"
	"github.com/JakeFAU/profile-feedback/internal/datastore/postgres"
	"github.com/JakeFAU/profile-feedback/internal/datastore/rest"
	"github.com/JakeFAU/profile-feedback/internal/feedback"
	"github.com/JakeFAU/profile-feedback/internal/id/uuid"
	"github.com/JakeFAU/profile-feedback/internal/metrics"
	notifyPubSub "github.com/JakeFAU/profile-feedback/internal/notify/pubsub"
	"github.com/JakeFAU/profile-feedback/internal/notify/webhook"
	"github.com/JakeFAU/profile-feedback/internal/polling"
	"github.com/JakeFAU/profile-feedback/internal/results"
	"github.com/JakeFAU/profile-feedback/internal/session"
	"github.com/JakeFAU/profile-feedback/internal/storage/memory"
	"github.com/JakeFAU/profile-feedback/internal/storage/redis"
	"github.com/JakeFAU/profile-feedback/internal/storage/sqlite"
	"github.com/JakeFAU/profile-feedback/internal/submission"
	"github.com/JakeFAU/profile-feedback/internal/telemetry"
)

const redisNamespace = "profile-feedback:"

// Option overrides a collaborator that would otherwise come from config.
type Option func(*App)

// WithDatastore replaces the configured datastore.
func WithDatastore(ds feedback.Datastore) Option {
	return func(a *App) { a.datastore = ds }
}

// WithNotifier replaces the configured notifier.
func WithNotifier(n feedback.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithClock replaces the wall clock.
func WithClock(c feedback.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithTraceWriter exports spans to w when tracing is enabled.
func WithTraceWriter(w io.Writer) Option {
	return func(a *App) { a.traceWriter = w }
}

// App holds the shared, long-lived services: the datastore, the notifier,
// the durable correlation tier and the per-client session registry.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	datastore  feedback.Datastore
	notifier   feedback.Notifier
	durable    feedback.KV
	ids        *uuid.Generator
	clock      feedback.Clock
	normalizer feedback.Normalizer
	schedule   polling.Schedule
	retry      submission.RetryPolicy

	sessions    *session.Registry
	tracer      *sdktrace.TracerProvider
	traceWriter io.Writer
	closers     []func() error
}

// New builds every service named by cfg. It fails fast if a backend cannot
// be reached; anything opened before the failure is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, ids: uuid.New()}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("datastore", cfg.Datastore.Kind),
		zap.String("notifier", cfg.Notifier.Kind),
		zap.String("durable_storage", cfg.Storage.Durable),
		zap.Int("poll_attempts", a.schedule.MaxAttempts()))
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg
	if a.clock == nil {
		a.clock = system.New()
	}
	var err error
	if a.normalizer, err = normalizerFrom(cfg.Results); err != nil {
		return err
	}
	a.schedule = polling.DefaultSchedule()
	if cfg.Polling != (config.PollingConfig{}) {
		a.schedule = polling.Schedule{
			ShortInterval: cfg.Polling.ShortInterval,
			ShortAttempts: cfg.Polling.ShortAttempts,
			LongInterval:  cfg.Polling.LongInterval,
			LongAttempts:  cfg.Polling.LongAttempts,
		}
	}
	if err = a.schedule.Validate(); err != nil {
		return fmt.Errorf("polling: %w", err)
	}
	a.retry = submission.NewRetryPolicy(cfg.Submission.MaxRetries, cfg.Submission.BackoffBase)

	metrics.Init()
	if cfg.Telemetry.Tracing || a.traceWriter != nil {
		if a.tracer, err = telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName, a.traceWriter); err != nil {
			return err
		}
		tp := a.tracer
		a.closers = append(a.closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tp.Shutdown(shutdownCtx)
		})
	}

	if a.datastore == nil {
		if err = a.openDatastore(ctx); err != nil {
			return err
		}
	}
	if a.notifier == nil {
		if err = a.openNotifier(ctx); err != nil {
			return err
		}
	}
	if err = a.openDurable(ctx); err != nil {
		return err
	}

	a.sessions = session.NewRegistry(a.NewSession, cfg.Session.IdleTTL, a.clock, a.logger)
	return nil
}

func normalizerFrom(cfg config.ResultsConfig) (feedback.Normalizer, error) {
	n := feedback.DefaultNormalizer()
	if cfg.Completeness != "" {
		n.Completeness = feedback.Completeness(cfg.Completeness)
	}
	if cfg.ScoreSections != 0 {
		policy, err := feedback.ParseScorePolicy(cfg.ScoreSections)
		if err != nil {
			return feedback.Normalizer{}, fmt.Errorf("results: %w", err)
		}
		n.Scores = policy
	}
	if cfg.SuggestionThreshold != 0 {
		n.Threshold = cfg.SuggestionThreshold
	}
	return n, nil
}

func (a *App) openDatastore(ctx context.Context) error {
	switch a.cfg.Datastore.Kind {
	case config.DatastoreREST:
		c, err := rest.New(rest.Config{
			BaseURL: a.cfg.Datastore.REST.BaseURL,
			APIKey:  a.cfg.Datastore.REST.APIKey,
			Table:   a.cfg.Datastore.REST.Table,
			Timeout: a.cfg.Datastore.REST.Timeout,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("initialize rest datastore: %w", err)
		}
		a.datastore = c
	case config.DatastorePostgres:
		s, err := postgres.NewRecordStore(ctx, postgres.Config{
			DSN:             a.cfg.Datastore.Postgres.DSN,
			Table:           a.cfg.Datastore.Postgres.Table,
			IDType:          a.cfg.Datastore.Postgres.IDType,
			MaxConns:        a.cfg.Datastore.Postgres.MaxConns,
			MinConns:        a.cfg.Datastore.Postgres.MinConns,
			MaxConnLifetime: a.cfg.Datastore.Postgres.MaxConnLifetime,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("initialize postgres datastore: %w", err)
		}
		a.datastore = s
		a.closers = append(a.closers, func() error { s.Close(); return nil })
	case config.DatastoreMemory:
		a.logger.Warn("using in-memory datastore; rows are lost on exit")
		a.datastore = datastoreMemory.New(a.ids, a.clock.Now)
	default:
		return fmt.Errorf("unknown datastore kind: %s", a.cfg.Datastore.Kind)
	}
	return nil
}

func (a *App) openNotifier(ctx context.Context) error {
	switch a.cfg.Notifier.Kind {
	case config.NotifierWebhook:
		n, err := webhook.New(a.cfg.Notifier.Webhook.URL, a.logger)
		if err != nil {
			return fmt.Errorf("initialize webhook notifier: %w", err)
		}
		a.notifier = n
	case config.NotifierPubSub:
		n, err := notifyPubSub.Dial(ctx, a.cfg.Notifier.PubSub.ProjectID, a.cfg.Notifier.PubSub.Topic)
		if err != nil {
			return fmt.Errorf("initialize pubsub notifier: %w", err)
		}
		a.notifier = n
		a.closers = append(a.closers, n.Close)
	case config.NotifierNone, "":
		a.logger.Info("notifier disabled; the analysis pipeline must be triggered elsewhere")
	default:
		return fmt.Errorf("unknown notifier kind: %s", a.cfg.Notifier.Kind)
	}
	return nil
}

func (a *App) openDurable(ctx context.Context) error {
	switch a.cfg.Storage.Durable {
	case config.StorageSQLite:
		s, err := sqlite.Open(a.cfg.Storage.SQLite.Path)
		if err != nil {
			return fmt.Errorf("initialize sqlite storage: %w", err)
		}
		a.durable = s
		a.closers = append(a.closers, s.Close)
	case config.StorageRedis:
		s, err := redis.Open(ctx, redis.Options{
			Addr:      a.cfg.Storage.Redis.Addr,
			Password:  a.cfg.Storage.Redis.Password,
			DB:        a.cfg.Storage.Redis.DB,
			Namespace: redisNamespace,
			TTL:       a.cfg.Storage.Redis.TTL,
		})
		if err != nil {
			return fmt.Errorf("initialize redis storage: %w", err)
		}
		a.durable = s
		a.closers = append(a.closers, s.Close)
	case config.StorageMemory:
		a.durable = memory.NewKVStore()
	case config.StorageNone, "":
		a.logger.Info("durable storage disabled; correlation ids last for the session only")
	default:
		return fmt.Errorf("unknown durable storage: %s", a.cfg.Storage.Durable)
	}
	return nil
}

// NewSession builds the orchestrator for one client. Each client sees its own
// namespace of the durable tier and its own session tier.
func (a *App) NewSession(ctx context.Context, clientID string) (*session.Orchestrator, error) {
	var sessionTier feedback.KV
	if a.cfg.Storage.Session != config.StorageNone {
		sessionTier = memory.NewKVStore()
	}
	log := a.logger.With(zap.String("client_id", clientID))
	store := correlation.NewStore(a.durable, sessionTier, log).WithNamespace(clientID + ":")

	var tempIDs submission.TempIDGenerator
	if a.cfg.Submission.TempIDFallback {
		tempIDs = a.ids
	}
	client := submission.NewClient(a.datastore, a.notifier, tempIDs, a.clock, submission.ClientOptions{
		NotifyTimeout:  a.cfg.Notifier.Timeout,
		TempIDFallback: a.cfg.Submission.TempIDFallback,
	}, log)
	return session.New(ctx, session.Deps{
		Submitter: client,
		Store:     store,
		Fetcher:   results.NewFetcher(a.datastore, a.normalizer, nil, log),
		Clock:     a.clock,
		Retry:     a.retry,
		Schedule:  a.schedule,
		Logger:    log,
	})
}

// Sessions returns the per-client registry.
func (a *App) Sessions() *session.Registry {
	return a.sessions
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Ready probes the durable tier, the only local dependency that can go away.
func (a *App) Ready(ctx context.Context) error {
	if a.durable == nil {
		return nil
	}
	if _, _, err := a.durable.Get(ctx, correlation.CurrentURLKey); err != nil {
		return fmt.Errorf("durable storage: %w", err)
	}
	return nil
}

// Close shuts down sessions first, then backends in reverse order of opening.
func (a *App) Close() {
	if a.sessions != nil {
		a.sessions.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
	}
}
