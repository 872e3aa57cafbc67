// Package engine wires the sandbox, record resolver, providers, decorator
// pipeline, dispatcher and status calculator into the component the workflow
// engine calls when an event fires.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/config"
	"github.com/goliatone/go-rules/decorator"
	"github.com/goliatone/go-rules/dispatch"
	"github.com/goliatone/go-rules/provider"
	"github.com/goliatone/go-rules/provider/document"
	"github.com/goliatone/go-rules/provider/external"
	"github.com/goliatone/go-rules/provider/ledger"
	"github.com/goliatone/go-rules/provider/registers"
	"github.com/goliatone/go-rules/provider/servicesrepo"
	"github.com/goliatone/go-rules/record"
	"github.com/goliatone/go-rules/sandbox"
	"github.com/goliatone/go-rules/sequence"
	"github.com/goliatone/go-rules/status"
	"github.com/goliatone/go-rules/telemetry"
)

// Deps are the collaborators owned by the host workflow engine. Only the
// stores a rule set actually touches need to be set.
type Deps struct {
	Documents rules.DocumentStore
	Events    rules.EventStore
	Workflows rules.WorkflowStore
	Files     rules.FileStore
	Links     sandbox.LinkResolver
	Logger    rules.Logger
	// Metrics defaults to an OTel recorder on the global MeterProvider.
	Metrics dispatch.MetricsRecorder

	// Sequences overrides the store selected by config.Sequence.
	Sequences sequence.Store
	// Providers overrides the registry returned by DefaultProviders.
	Providers *provider.Registry
	// Decorators holds the external-service decorators.
	Decorators *decorator.Registry
	// Custom are extra allow-listed custom handlers keyed by service.method.
	Custom map[string]record.CustomHandler
	// Now is the clock of the executive document number handler.
	Now func() time.Time
}

// Engine evaluates event templates and dispatches them.
type Engine struct {
	ruleSet    config.RuleSet
	sandbox    *sandbox.Sandbox
	resolver   *record.Resolver
	providers  *provider.Set
	dispatcher *dispatch.Dispatcher
	status     *status.Calculator
	events     rules.EventStore
	logger     rules.Logger
	closers    []func() error
}

// Outcome is what HandleEvent reports for a successful event.
type Outcome struct {
	Result any            `json:"result,omitempty"`
	Status *status.Result `json:"status,omitempty"`
}

// DefaultProviders registers the built-in provider factories.
func DefaultProviders() *provider.Registry {
	r := provider.NewRegistry()
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(r.Register(provider.CapabilityRegisters, registers.Name, registers.Factory))
	must(r.Register(provider.CapabilityBlockchain, ledger.Name, ledger.Factory))
	must(r.Register(provider.CapabilityDocument, document.Name, document.Factory))
	must(r.Register(provider.CapabilityServicesRepository, servicesrepo.Name, servicesrepo.Factory))
	must(r.Register(provider.CapabilityExternalService, external.HTTPName, external.HTTPFactory))
	must(r.Register(provider.CapabilityExternalService, external.JetStreamName, external.JetStreamFactory))
	return r
}

// New builds an engine. Providers are instantiated once here and shared by
// every event.
func New(ctx context.Context, cfg *config.Config, set config.RuleSet, deps Deps) (*Engine, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}

	logger := rules.NormalizeLogger(deps.Logger)
	e := &Engine{ruleSet: set, events: deps.Events, logger: logger}

	sbOpts := []sandbox.Option{sandbox.WithLogger(rules.WithLoggerFields(logger, map[string]any{"component": "sandbox"}))}
	if cfg.Sandbox.Timeout > 0 {
		sbOpts = append(sbOpts, sandbox.WithTimeout(cfg.Sandbox.Timeout))
	}
	if deps.Files != nil {
		sbOpts = append(sbOpts, sandbox.WithFileStore(deps.Files))
	}
	if deps.Links != nil {
		sbOpts = append(sbOpts, sandbox.WithLinkResolver(deps.Links))
	}
	e.sandbox = sandbox.New(sbOpts...)

	seq := deps.Sequences
	if seq == nil {
		opened, closer, err := OpenSequence(ctx, cfg.Sequence, logger)
		if err != nil {
			return nil, err
		}
		seq = opened
		e.closers = append(e.closers, closer)
	}

	custom := record.NewCustomRegistry()
	if err := custom.Register(record.ExecutiveDocumentNumber, record.ExecutiveDocumentNumberHandler(seq, deps.Now)); err != nil {
		return nil, e.fail(err)
	}
	for name, h := range deps.Custom {
		if err := custom.Register(name, h); err != nil {
			return nil, e.fail(err)
		}
	}
	e.resolver = record.NewResolver(e.sandbox,
		record.WithCustomRegistry(custom),
		record.WithLogger(rules.WithLoggerFields(logger, map[string]any{"component": "resolver"})),
	)

	selection, err := cfg.Selection()
	if err != nil {
		return nil, e.fail(err)
	}
	registry := deps.Providers
	if registry == nil {
		registry = DefaultProviders()
	}
	providers, err := registry.Build(ctx, selection, provider.Deps{Logger: logger, Evaluator: e.sandbox})
	if err != nil {
		return nil, e.fail(err)
	}
	e.providers = providers
	e.closers = append(e.closers, providers.Close)

	pipeline := decorator.NewPipeline(deps.Decorators, providers,
		decorator.WithEvaluator(e.sandbox),
		decorator.WithFileStore(deps.Files),
		decorator.WithDocumentStore(deps.Documents),
		decorator.WithFileConcurrency(cfg.Pipeline.FileConcurrency),
		decorator.WithLogger(rules.WithLoggerFields(logger, map[string]any{"component": "pipeline"})),
	)

	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NewRecorder()
	}
	e.dispatcher = dispatch.New(providers,
		dispatch.WithResolver(e.resolver),
		dispatch.WithSender(pipeline),
		dispatch.WithDocumentStore(deps.Documents),
		dispatch.WithFileStore(deps.Files),
		dispatch.WithMetrics(metrics),
		dispatch.WithLogger(rules.WithLoggerFields(logger, map[string]any{"component": "dispatch"})),
	)

	e.status = status.NewCalculator(e.sandbox,
		status.WithWorkflowStore(deps.Workflows),
		status.WithRules(set.Statuses...),
		status.WithLogger(rules.WithLoggerFields(logger, map[string]any{"component": "status"})),
	)
	return e, nil
}

func (e *Engine) fail(err error) error {
	_ = e.Close()
	return err
}

// Handle looks up the template of ec.EventTemplateID and runs HandleEvent.
func (e *Engine) Handle(ctx context.Context, ec rules.EventContext) (*Outcome, error) {
	tpl, ok := e.ruleSet.Template(strings.TrimSpace(ec.EventTemplateID))
	if !ok {
		return nil, rules.NewConfigurationError(
			fmt.Sprintf("no rule for event template %q", ec.EventTemplateID),
			map[string]any{"event_template_id": ec.EventTemplateID},
		)
	}
	return e.HandleEvent(ctx, tpl, ec)
}

// HandleEvent dispatches tpl for the workflow in ec. On success it applies
// the template's status rule and marks the current event done; on failure
// nothing is persisted and the event stays pending.
func (e *Engine) HandleEvent(ctx context.Context, tpl config.EventTemplate, ec rules.EventContext) (*Outcome, error) {
	if ec.EventTemplateID == "" {
		ec.EventTemplateID = tpl.ID
	}
	log := rules.WithLoggerFields(e.logger, map[string]any{
		"event_template_id": tpl.ID,
		"workflow_id":       ec.WorkflowID,
	})

	if len(ec.Events) == 0 && e.events != nil && ec.WorkflowID != "" {
		events, err := e.events.GetEventsByWorkflowID(ctx, ec.WorkflowID)
		if err != nil {
			log.Error("loading events failed: %v", err)
			return nil, err
		}
		ec.Events = events
	}

	result, err := e.dispatcher.Dispatch(ctx, tpl.Operation, tpl.RequesterType, tpl.Data, ec)
	if err != nil {
		log.Error("%s %s failed: %v", tpl.RequesterType, tpl.Operation, err)
		return nil, err
	}
	out := &Outcome{Result: result}

	if tpl.TaskTemplateID != 0 {
		st, err := e.status.Apply(ctx, ec.WorkflowID, tpl.TaskTemplateID, ec.Documents, ec.Events)
		if err != nil {
			return nil, err
		}
		out.Status = st
	}

	if e.events != nil {
		if ev, ok := ec.CurrentEvent(); ok && !ev.Done {
			if err := e.events.SetDone(ctx, ev.ID); err != nil {
				log.Error("marking event %s done failed: %v", ev.ID, err)
				return nil, err
			}
		}
	}
	log.Info("%s %s handled", tpl.RequesterType, tpl.Operation)
	return out, nil
}

// Evaluate runs a rule expression in the engine sandbox.
func (e *Engine) Evaluate(ctx context.Context, source string, docs rules.Documents, events rules.Events) (any, error) {
	return e.sandbox.Evaluate(ctx, source, sandbox.Args{Documents: docs, Events: events}, sandbox.Async())
}

// Resolve resolves a record spec without dispatching it.
func (e *Engine) Resolve(ctx context.Context, spec *record.Spec, docs rules.Documents, events rules.Events, opts ...record.ResolveOption) (*record.Record, error) {
	return e.resolver.Resolve(ctx, spec, docs, events, opts...)
}

// CalculateStatus evaluates the status rule of a task template without
// persisting it.
func (e *Engine) CalculateStatus(ctx context.Context, taskTemplateID int, docs rules.Documents, events rules.Events) (*status.Result, error) {
	rule, ok := e.status.Rule(taskTemplateID)
	if !ok {
		return nil, rules.NewConfigurationError(
			fmt.Sprintf("no status rule for task template %d", taskTemplateID),
			map[string]any{"task_template_id": taskTemplateID},
		)
	}
	return e.status.Calculate(ctx, rule, docs, events)
}

func (e *Engine) RuleSet() config.RuleSet {
	return e.ruleSet
}

func (e *Engine) Dispatcher() *dispatch.Dispatcher {
	return e.dispatcher
}

// Close releases provider connections and the sequence store.
func (e *Engine) Close() error {
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	e.closers = nil
	return first
}
