package cmd

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/relay/internal/checkpoint"
	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/decompose"
	"github.com/Iron-Ham/relay/internal/dispatch"
	"github.com/Iron-Ham/relay/internal/event"
	"github.com/Iron-Ham/relay/internal/llm"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	"github.com/Iron-Ham/relay/internal/registry"
	"github.com/Iron-Ham/relay/internal/stream"
	"github.com/Iron-Ham/relay/internal/synth"
	"github.com/Iron-Ham/relay/internal/workers"
)

// app is a fully wired engine.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	store    checkpoint.Store
	events   *event.Bus
	registry *registry.Registry
	orch     *orchestrator.Orchestrator

	// usable records which workers have the clients they need, so config
	// changes never make an unusable worker available.
	usable map[string]bool
}

type wireOptions struct {
	// planFile replaces the language-model decomposer with a static plan.
	planFile string
	// store overrides checkpoint tier selection.
	store checkpoint.Store
	// llm overrides the configured language model client.
	llm llm.Completer
	// search overrides the configured search client.
	search workers.Searcher
}

// newLogger builds the logger for cfg. Commands that print to the
// terminal pass quiet so stderr logging does not interleave with output.
func newLogger(cfg *config.Config, quiet bool) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	level := cfg.Logging.Level
	if quiet && cfg.Logging.Dir == "" {
		level = "error"
	}
	return logging.NewRotatingLogger(cfg.Logging.Dir, level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
}

// wire builds the engine described by cfg.
func wire(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts wireOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger, events: event.NewBus(event.WithLogger(logger))}

	if logger.Enabled(logging.LevelDebug) {
		a.events.SubscribeAll(func(e event.Event) {
			logger.Debug("event", "type", e.EventType())
		})
	}

	a.registry = registry.New(registry.WithOnChange(func(name string, available bool) {
		logger.Info("worker availability changed", "worker", name, "available", available)
	}))

	deps := workers.Deps{LLM: opts.llm, Search: opts.search, Logger: logger.WithPhase("worker")}
	if deps.LLM == nil && cfg.LLM.BaseURL != "" {
		deps.LLM = llm.New(cfg.LLM)
	}
	if deps.Search == nil {
		// A nil *TavilyClient must not become a non-nil Searcher.
		if tv := workers.NewTavily(cfg.Search.TavilyAPIKey); tv != nil {
			deps.Search = tv
		}
	}
	a.usable = workers.Usable(deps)
	if err := workers.RegisterDefaults(a.registry, deps, cfg); err != nil {
		return nil, err
	}

	var dec orchestrator.Decomposer
	switch {
	case opts.planFile != "":
		static, err := decompose.LoadStatic(opts.planFile)
		if err != nil {
			return nil, fmt.Errorf("load plan: %w", err)
		}
		dec = static
	case deps.LLM != nil:
		dec = decompose.NewLLM(deps.LLM, a.registry, logger)
	default:
		return nil, fmt.Errorf("no language model configured: set llm.base_url or pass --plan")
	}

	var syn orchestrator.Synthesizer
	if deps.LLM != nil {
		syn = synth.NewLLM(deps.LLM)
	} else {
		syn = synth.Concat{}
	}

	a.store = opts.store
	if a.store == nil {
		store, err := checkpoint.Select(ctx, cfg.Checkpoint, logger)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	disp := dispatch.New(a.registry,
		dispatch.WithTimeout(cfg.Dispatch.WorkerTimeout()),
		dispatch.WithMaxParallel(cfg.Dispatch.MaxParallel),
		dispatch.WithRetryPolicy(dispatch.RetryPolicy{
			MaxRetries: cfg.Dispatch.MaxRetries,
			BaseDelay:  cfg.Dispatch.RetryBaseDelay(),
			MaxDelay:   cfg.Dispatch.RetryMaxDelay(),
		}),
		dispatch.WithLogger(logger),
	)

	streams := stream.NewBus(
		stream.WithCapacity(cfg.Stream.QueueCapacity),
		stream.WithLogger(logger),
	)

	a.orch = orchestrator.New(dec, syn, disp,
		orchestrator.WithCheckpoints(a.store),
		orchestrator.WithStreamBus(streams),
		orchestrator.WithEventBus(a.events),
		orchestrator.WithPacer(stream.Pacer{ChunkSize: cfg.Stream.ChunkSize, Delay: cfg.Stream.ChunkDelay()}),
		orchestrator.WithConsumeTimeout(cfg.Stream.ConsumeTimeout()),
		orchestrator.WithLogger(logger),
	)
	return a, nil
}

// applyWorkers brings registry availability in line with cfg and reports
// each change on the event bus.
func (a *app) applyWorkers(cfg *config.Config, source string) {
	for _, info := range a.registry.Describe() {
		want := cfg.WorkerEnabled(info.Name) && a.usable[info.Name]
		if info.Available == want {
			continue
		}
		if err := a.registry.SetAvailable(info.Name, want); err != nil {
			a.logger.Warn("apply worker config", "worker", info.Name, "error", err.Error())
			continue
		}
		a.events.Publish(event.NewWorkerAvailabilityEvent(info.Name, want, source))
	}
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
