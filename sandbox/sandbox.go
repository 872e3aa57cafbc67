// Package sandbox evaluates rule expressions stored in event template
// configuration. Expressions see only the workflow documents, the workflow
// events, the evaluation meta and an explicit table of helpers.
package sandbox

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/tree"
)

const (
	documentsName = "documents"
	eventsName    = "events"
	metaName      = "meta"

	// DefaultTimeout bounds the async helpers of a single evaluation.
	DefaultTimeout = 30 * time.Second
)

var reserved = map[string]struct{}{
	documentsName: {},
	eventsName:    {},
	metaName:      {},
	awaitName:     {},
}

// Args is the fixed argument list every expression is evaluated against.
type Args struct {
	Documents rules.Documents
	Events    rules.Events
}

// Helper is an allow-listed function exposed to expressions.
type Helper func(ctx context.Context, args Args, params ...any) (any, error)

type helperFunc = func(params ...any) (any, error)

type program struct {
	prog   *vm.Program
	params []string
	async  bool
}

// Sandbox compiles and runs expressions in an isolated environment.
type Sandbox struct {
	mu      sync.RWMutex
	cache   map[string]*program
	helpers map[string]Helper
	async   map[string]Helper
	logger  rules.Logger
	timeout time.Duration
}

// New builds a sandbox with the built-in pure helpers registered.
func New(opts ...Option) *Sandbox {
	s := &Sandbox{
		cache:   make(map[string]*program),
		helpers: make(map[string]Helper),
		async:   make(map[string]Helper),
		logger:  rules.NopLogger{},
		timeout: DefaultTimeout,
	}
	s.helpers["document"] = documentHelper
	s.helpers["latestEvent"] = latestEventHelper
	s.helpers["pick"] = pickHelper

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// HelperNames returns the sorted names of every helper, async ones included.
func (s *Sandbox) HelperNames() []string {
	names := make([]string, 0, len(s.helpers)+len(s.async))
	for name := range s.helpers {
		names = append(names, name)
	}
	for name := range s.async {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsAsync reports whether source references an async helper.
func (s *Sandbox) IsAsync(source string) (bool, error) {
	p, err := s.compile(source, defaultShape)
	if err != nil {
		return false, err
	}
	return p.async, nil
}

// Evaluate runs source against args. Failures are returned as EvaluationError.
func (s *Sandbox) Evaluate(ctx context.Context, source string, args Args, opts ...EvalOption) (any, error) {
	cfg := evalConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if strings.TrimSpace(source) == "" {
		return nil, rules.NewEvaluationError(cfg.templateID, cfg.field, fmt.Errorf("empty expression"))
	}

	docs, events := args.Documents.Tree(), args.Events.Tree()
	positional := []any{docs, events}
	if cfg.arguments != nil {
		positional = cfg.arguments
	}

	p, err := s.compile(source, positional)
	if err != nil {
		s.logger.Error("sandbox compile failed template=%s field=%s: %v", cfg.templateID, cfg.field, err)
		return nil, rules.NewEvaluationError(cfg.templateID, cfg.field, err)
	}

	if s.timeout > 0 && (p.async || cfg.async) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out, err := expr.Run(p.prog, s.env(ctx, p.params, args, positional, cfg))
	if err == nil && cfg.async {
		out, err = resolvePending(ctx, out)
	}
	if err != nil {
		s.logger.Error("sandbox evaluation failed template=%s field=%s: %v", cfg.templateID, cfg.field, err)
		return nil, rules.NewEvaluationError(cfg.templateID, cfg.field, err)
	}
	return out, nil
}

// compile checks source against the static types of the values its
// parameters bind to, so programs are cached per source and argument shape.
func (s *Sandbox) compile(source string, positional []any) (*program, error) {
	samples := shapeOf(positional)
	key := shapeKey(samples) + strings.TrimSpace(source)

	s.mu.RLock()
	p, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	cl := parseClosure(strings.TrimSpace(source))
	for _, param := range cl.params {
		if _, isHelper := s.helpers[param]; isHelper {
			return nil, fmt.Errorf("parameter %q shadows helper", param)
		}
		if _, isHelper := s.async[param]; isHelper {
			return nil, fmt.Errorf("parameter %q shadows helper", param)
		}
	}

	collector := &awaitCollector{awaited: make(map[ast.Node]struct{})}
	inserter := &awaitInserter{async: s.asyncNames(), awaited: collector.awaited}

	prog, err := expr.Compile(
		cl.body,
		expr.Env(s.prototype(cl.params, samples)),
		expr.Patch(collector),
		expr.Patch(inserter),
	)
	if err != nil {
		return nil, err
	}

	p = &program{prog: prog, params: cl.params, async: inserter.found}

	s.mu.Lock()
	s.cache[key] = p
	s.mu.Unlock()
	return p, nil
}

func (s *Sandbox) asyncNames() map[string]struct{} {
	names := make(map[string]struct{}, len(s.async))
	for name := range s.async {
		names[name] = struct{}{}
	}
	return names
}

// defaultShape is the shape of the documents and events trees.
var defaultShape = []any{[]any{}, []any{}}

// shapeOf maps each value to a zero value of its type. Unbound and nil
// arguments are checked as objects.
func shapeOf(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = map[string]any{}
			continue
		}
		out[i] = reflect.Zero(reflect.TypeOf(v)).Interface()
	}
	return out
}

func shapeKey(samples []any) string {
	var b strings.Builder
	for _, v := range samples {
		fmt.Fprintf(&b, "%T|", v)
	}
	return b.String()
}

// prototype mirrors the runtime environment so the checker knows every name
// and the type of every parameter.
func (s *Sandbox) prototype(params []string, samples []any) map[string]any {
	env := map[string]any{
		documentsName: []any{},
		eventsName:    []any{},
		metaName:      map[string]any{},
		awaitName:     func(v any) (any, error) { return v, nil },
	}
	for i, name := range params {
		if i < len(samples) {
			env[name] = samples[i]
		} else {
			env[name] = map[string]any{}
		}
	}
	stub := helperFunc(func(...any) (any, error) { return nil, nil })
	for name := range s.helpers {
		env[name] = stub
	}
	for name := range s.async {
		env[name] = stub
	}
	return env
}

func (s *Sandbox) env(ctx context.Context, params []string, args Args, positional []any, cfg evalConfig) map[string]any {
	docs, events := args.Documents.Tree(), args.Events.Tree()
	meta := cfg.meta
	if meta == nil {
		meta = map[string]any{}
	}

	env := map[string]any{
		documentsName: docs,
		eventsName:    events,
		metaName:      meta,
		awaitName: func(v any) (any, error) {
			return resolvePending(ctx, v)
		},
	}

	for i, name := range params {
		if i < len(positional) {
			env[name] = positional[i]
		} else {
			env[name] = nil
		}
	}

	for name, h := range s.helpers {
		h := h
		env[name] = helperFunc(func(params ...any) (any, error) {
			return h(ctx, args, params...)
		})
	}
	for name, h := range s.async {
		name, h := name, h
		env[name] = helperFunc(func(params ...any) (any, error) {
			return &Pending{
				name: name,
				run: func(ctx context.Context) (any, error) {
					return h(ctx, args, params...)
				},
			}, nil
		})
	}
	return env
}

func documentHelper(_ context.Context, args Args, params ...any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("document expects 1 argument, got %d", len(params))
	}
	id, ok := toInt(params[0])
	if !ok {
		return nil, fmt.Errorf("document expects a numeric template id, got %T", params[0])
	}
	doc, found := args.Documents.ByTemplateID(id)
	if !found {
		return nil, nil
	}
	return doc.Tree(), nil
}

func latestEventHelper(_ context.Context, args Args, params ...any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("latestEvent expects 1 argument, got %d", len(params))
	}
	id, ok := toInt(params[0])
	if !ok {
		return nil, fmt.Errorf("latestEvent expects a numeric template id, got %T", params[0])
	}
	ev, found := args.Events.Latest(id)
	if !found {
		return nil, nil
	}
	return ev.Tree(), nil
}

// pickHelper reads a dotted path out of any value: pick(document(11), "data.step.text").
func pickHelper(_ context.Context, _ Args, params ...any) (any, error) {
	if len(params) != 2 {
		return nil, fmt.Errorf("pick expects 2 arguments, got %d", len(params))
	}
	path, ok := params[1].(string)
	if !ok {
		return nil, fmt.Errorf("pick expects a string path, got %T", params[1])
	}
	return tree.Lookup(params[0], path), nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case float32:
		if n == float32(int(n)) {
			return int(n), true
		}
	case string:
		if out, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return out, true
		}
	}
	return 0, false
}
