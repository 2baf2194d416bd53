// Package scoutflow provides a top-level convenience entry point wiring the
// durable orchestration core together from configuration: checkpoint store,
// event broker, tool registry, task executor, archive, and session manager.
//
// Usage:
//
//	import "github.com/scoutflow/scoutflow"
//
//	core, err := scoutflow.New(cfg,
//	    scoutflow.WithSteps(steps),
//	    scoutflow.WithRegistry(registry),
//	)
//	defer core.Close()
//
//	err = core.Sessions.Send(ctx, "thread-42", session.NewMessage{Content: "..."})
//
// With an empty Redis address the core runs fully in process memory;
// setting one moves checkpoints and event fan-out to Redis.
package scoutflow

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scoutflow/scoutflow/archive"
	"github.com/scoutflow/scoutflow/broker"
	"github.com/scoutflow/scoutflow/checkpoint"
	"github.com/scoutflow/scoutflow/config"
	"github.com/scoutflow/scoutflow/internal/metrics"
	"github.com/scoutflow/scoutflow/session"
	"github.com/scoutflow/scoutflow/task"
	"github.com/scoutflow/scoutflow/tool"
)

// Core bundles the wired subsystems. Sessions is the signal entry point;
// Broker is exposed for streaming transports.
type Core struct {
	Sessions *session.Manager
	Broker   broker.Broker

	checkpoints checkpoint.Store
	logger      *zap.Logger
	closers     []func() error
}

// Option customizes Core construction.
type Option func(*coreOptions)

type coreOptions struct {
	steps      []session.Step
	registry   *tool.Registry
	model      session.ModelTask
	evidence   session.EvidenceRetriever
	entities   session.EntityWriter
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithSteps sets the step sequence sessions run. Required.
func WithSteps(steps []session.Step) Option {
	return func(o *coreOptions) { o.steps = steps }
}

// WithRegistry sets the tool registry. Required.
func WithRegistry(registry *tool.Registry) Option {
	return func(o *coreOptions) { o.registry = registry }
}

// WithModel wires the language-model collaborator.
func WithModel(model session.ModelTask) Option {
	return func(o *coreOptions) { o.model = model }
}

// WithEvidence wires the retrieval collaborator.
func WithEvidence(evidence session.EvidenceRetriever) Option {
	return func(o *coreOptions) { o.evidence = evidence }
}

// WithEntities wires the business-entity writer.
func WithEntities(entities session.EntityWriter) Option {
	return func(o *coreOptions) { o.entities = entities }
}

// WithLogger sets a custom zap logger. Defaults to a production logger at
// the configured level.
func WithLogger(logger *zap.Logger) Option {
	return func(o *coreOptions) { o.logger = logger }
}

// WithRegisterer sets the Prometheus registerer for metrics. Defaults to
// the global registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *coreOptions) { o.registerer = reg }
}

// New wires a Core from configuration.
func New(cfg config.Config, opts ...Option) (*Core, error) {
	var o coreOptions
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.steps) == 0 {
		return nil, fmt.Errorf("scoutflow: WithSteps is required")
	}
	if o.registry == nil {
		return nil, fmt.Errorf("scoutflow: WithRegistry is required")
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = newLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
	}

	core := &Core{logger: logger}

	var store checkpoint.Store
	var eventBroker broker.Broker
	if cfg.Redis.Addr != "" {
		redisStore, err := checkpoint.NewRedisStore(checkpoint.RedisStoreConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("scoutflow: checkpoint store: %w", err)
		}
		core.closers = append(core.closers, redisStore.Close)
		store = redisStore

		redisBroker, err := broker.NewRedisBroker(broker.RedisBrokerConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			core.closeAll()
			return nil, fmt.Errorf("scoutflow: broker: %w", err)
		}
		core.closers = append(core.closers, redisBroker.Close)
		eventBroker = redisBroker
	} else {
		store = checkpoint.NewMemoryStore()
		memBroker := broker.NewMemoryBroker(logger)
		core.closers = append(core.closers, memBroker.Close)
		eventBroker = memBroker
	}

	var archiver session.Archiver
	if cfg.Archive.DSN != "" {
		archiveStore, err := archive.Open(cfg.Archive.DSN, logger)
		if err != nil {
			core.closeAll()
			return nil, fmt.Errorf("scoutflow: archive: %w", err)
		}
		archiver = archiveStore
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, o.registerer)
	}

	var execOpts []tool.ExecutorOption
	if cfg.Tool.RatePerSecond > 0 {
		limiter := rate.NewLimiter(rate.Limit(cfg.Tool.RatePerSecond), cfg.Tool.RateBurst)
		execOpts = append(execOpts, tool.WithRateLimit(limiter))
	}
	toolExec := tool.NewExecutor(o.registry, logger, execOpts...)
	taskExec := task.NewExecutor(toolExec, cfg.Session.ActivityTimeout, logger)

	manager, err := session.NewManager(session.Options{
		Steps:             o.steps,
		Checkpoints:       store,
		Broker:            eventBroker,
		Registry:          o.registry,
		Tasks:             taskExec,
		Archive:           archiver,
		Model:             o.model,
		Evidence:          o.evidence,
		Entities:          o.entities,
		Metrics:           collector,
		Logger:            logger,
		MailboxSize:       cfg.Session.MailboxSize,
		QuietPeriod:       cfg.Session.QuietPeriod,
		MaxEditIterations: cfg.Session.MaxEditIterations,
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
	})
	if err != nil {
		core.closeAll()
		return nil, err
	}

	core.Sessions = manager
	core.Broker = eventBroker
	core.checkpoints = store
	return core, nil
}

// Checkpoints exposes the checkpoint store, for callers needing full
// history beyond the live event stream.
func (c *Core) Checkpoints() checkpoint.Store { return c.checkpoints }

// Close stops the session manager and releases the backends.
func (c *Core) Close() error {
	var firstErr error
	if c.Sessions != nil {
		firstErr = c.Sessions.Close()
	}
	if err := c.closeAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *Core) closeAll() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("scoutflow: parse log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = level
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("scoutflow: build logger: %w", err)
	}
	return logger, nil
}
