package userhooks

import (
	"fmt"
	"time"

	"github.com/goliatone/go-userhooks/adapters/gologger"
	"github.com/goliatone/go-userhooks/core"
	"github.com/goliatone/go-userhooks/durable"
	"github.com/goliatone/go-userhooks/functions"
	"github.com/goliatone/go-userhooks/registry"
	"github.com/goliatone/go-userhooks/webhooks"
	"go.opentelemetry.io/otel/trace"
)

type Config = core.Config

type EventType = core.EventType
type CanonicalEvent = core.CanonicalEvent
type HandlerResult = core.HandlerResult
type RunRecord = core.RunRecord
type RunStatus = core.RunStatus
type FunctionCatalog = core.FunctionCatalog

type RunStore = core.RunStore
type Scheduler = core.Scheduler
type UserRepository = core.UserRepository
type EventPublisher = core.EventPublisher
type SecretSource = core.SecretSource

type Function = durable.Function
type Step = durable.Step
type StepInput = durable.StepInput

const (
	EventUserCreated = core.EventUserCreated
	EventUserUpdated = core.EventUserUpdated
	EventUserDeleted = core.EventUserDeleted
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

type Option func(*options)

type options struct {
	store          core.RunStore
	users          core.UserRepository
	publisher      core.EventPublisher
	scheduler      core.Scheduler
	secrets        core.SecretSource
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	tracer         trace.Tracer
	now            func() time.Time
	hooks          *ExtensionHooks
}

// WithRunStore replaces the in-memory run store.
func WithRunStore(store core.RunStore) Option {
	return func(o *options) { o.store = store }
}

func WithUserRepository(users core.UserRepository) Option {
	return func(o *options) { o.users = users }
}

func WithEventPublisher(publisher core.EventPublisher) Option {
	return func(o *options) { o.publisher = publisher }
}

func WithScheduler(scheduler core.Scheduler) Option {
	return func(o *options) { o.scheduler = scheduler }
}

// WithSecretSource overrides the signing secret taken from configuration.
func WithSecretSource(secrets core.SecretSource) Option {
	return func(o *options) { o.secrets = secrets }
}

func WithLogger(logger core.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *options) { o.loggerProvider = provider }
}

func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(o *options) { o.metrics = metrics }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithExtensionHooks registers function packs ahead of the user lifecycle
// functions. A pack that claims an event type replaces the default function
// for it.
func WithExtensionHooks(hooks *ExtensionHooks) Option {
	return func(o *options) { o.hooks = hooks }
}

// Runtime is the assembled pipeline: durable client and executor, the
// function registry with the user lifecycle functions, and the command/query
// facade over it.
type Runtime struct {
	config   Config
	logger   core.Logger
	client   *durable.Client
	executor *durable.Executor
	registry *registry.Registry
	facade   *Facade
}

func New(cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.users == nil {
		return nil, fmt.Errorf("userhooks: user repository is required")
	}
	if o.store == nil {
		o.store = durable.NewMemoryStore()
	}
	if o.secrets == nil {
		o.secrets = core.StaticSecret(cfg.Webhook.SigningSecret)
	}
	_, logger := gologger.Resolve("userhooks", o.loggerProvider, o.logger)

	clientOpts := []durable.ClientOption{
		durable.WithRetryPolicy(durable.ExponentialRetryPolicy{
			Initial: cfg.Runs.InitialBackoff,
			Max:     cfg.Runs.MaxBackoff,
		}),
		durable.WithMaxAttempts(cfg.Runs.MaxAttempts),
		durable.WithObserver(core.NewObserver(logger, o.metrics)),
	}
	if o.scheduler != nil {
		clientOpts = append(clientOpts, durable.WithScheduler(o.scheduler))
	}
	if o.tracer != nil {
		clientOpts = append(clientOpts, durable.WithTracer(o.tracer))
	}
	if o.now != nil {
		clientOpts = append(clientOpts, durable.WithClock(o.now))
	}
	client, err := durable.NewClient(cfg.AppID, o.store, clientOpts...)
	if err != nil {
		return nil, err
	}
	executor, err := durable.NewExecutor(client)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(executor)
	if err != nil {
		return nil, err
	}

	verifier := webhooks.NewSignatureVerifier(cfg.Webhook.Tolerance)
	if o.now != nil {
		verifier.Now = o.now
	}
	deps := functions.Dependencies{
		Secrets:   o.secrets,
		Verifier:  verifier,
		Users:     o.users,
		Publisher: o.publisher,
	}
	if err := o.hooks.ApplyFunctionPacks(reg, deps); err != nil {
		return nil, err
	}
	lifecycle, err := functions.UserLifecycle(deps)
	if err != nil {
		return nil, err
	}
	for _, fn := range lifecycle {
		if reg.Has(fn.Event) {
			continue
		}
		if err := reg.Register(fn.Event, fn); err != nil {
			return nil, err
		}
	}

	facade, err := NewFacade(reg, o.store)
	if err != nil {
		return nil, err
	}
	logger.Info("userhooks runtime ready", "app_id", cfg.AppID, "functions", len(reg.Functions()))
	return &Runtime{
		config:   cfg,
		logger:   logger,
		client:   client,
		executor: executor,
		registry: reg,
		facade:   facade,
	}, nil
}

func (r *Runtime) Config() Config {
	return r.config
}

func (r *Runtime) Logger() core.Logger {
	return r.logger
}

func (r *Runtime) Client() *durable.Client {
	return r.client
}

func (r *Runtime) Executor() *durable.Executor {
	return r.executor
}

func (r *Runtime) Registry() *registry.Registry {
	return r.registry
}

func (r *Runtime) Facade() *Facade {
	return r.facade
}
