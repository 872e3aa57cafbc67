// Package record resolves record specifications into concrete register records.
package record

import (
	"context"
	"fmt"
	"strings"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/sandbox"
	"github.com/goliatone/go-rules/tree"
)

const documentsPrefix = "documents."

// Evaluator is the sandbox contract the resolver depends on.
type Evaluator interface {
	Evaluate(ctx context.Context, source string, args sandbox.Args, opts ...sandbox.EvalOption) (any, error)
}

// Resolver turns a Spec plus workflow state into a Record.
type Resolver struct {
	eval   Evaluator
	custom *CustomRegistry
	ids    IDSource
	logger rules.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithCustomRegistry(r *CustomRegistry) Option {
	return func(res *Resolver) {
		if r != nil {
			res.custom = r
		}
	}
}

func WithIDSource(src IDSource) Option {
	return func(res *Resolver) {
		if src != nil {
			res.ids = src
		}
	}
}

func WithLogger(l rules.Logger) Option {
	return func(res *Resolver) {
		if l != nil {
			res.logger = l
		}
	}
}

func NewResolver(eval Evaluator, opts ...Option) *Resolver {
	r := &Resolver{
		eval:   eval,
		custom: NewCustomRegistry(),
		ids:    RandomIDs{},
		logger: rules.NopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

type resolveConfig struct {
	arrayIndex *int
	templateID string
	meta       map[string]any
}

// ResolveOption configures a single Resolve call.
type ResolveOption func(*resolveConfig)

// WithArrayIndex substitutes the X placeholder in paths and expressions.
func WithArrayIndex(i int) ResolveOption {
	return func(c *resolveConfig) { c.arrayIndex = &i }
}

func WithTemplateID(id string) ResolveOption {
	return func(c *resolveConfig) { c.templateID = id }
}

func WithMeta(meta map[string]any) ResolveOption {
	return func(c *resolveConfig) { c.meta = meta }
}

// state is per-call scratch space: the lazily drawn id backing both id tokens
// and the record data resolved so far.
type state struct {
	cfg      resolveConfig
	args     sandbox.Args
	id       int64
	hasID    bool
	resolved map[string]any
}

// Resolve evaluates spec against documents and events. Map entries resolve in
// declaration order; the first failing field aborts the whole record.
func (r *Resolver) Resolve(ctx context.Context, spec *Spec, docs rules.Documents, events rules.Events, opts ...ResolveOption) (*Record, error) {
	if spec == nil {
		return nil, rules.NewValidationError("record spec required", nil)
	}
	st := &state{
		args:     sandbox.Args{Documents: docs, Events: events},
		resolved: map[string]any{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&st.cfg)
		}
	}

	if spec.IsRaw() {
		return r.resolveRaw(ctx, spec.Raw, st)
	}

	if err := r.checkCustomNames(spec.Map, st.cfg.templateID); err != nil {
		return nil, err
	}

	rec := &Record{
		RegisterID: spec.RegisterID,
		KeyID:      spec.KeyID,
		Data:       make(map[string]any, len(spec.Map)),
	}

	var err error
	if rec.RecordID, err = r.resolveMeta(ctx, "recordId", spec.RecordID, st); err != nil {
		return nil, err
	}
	if rec.RecordIDs, err = r.resolveMeta(ctx, "recordIds", spec.RecordIDs, st); err != nil {
		return nil, err
	}
	if rec.AllowTokens, err = r.resolveMeta(ctx, "allowTokens", spec.AllowTokens, st); err != nil {
		return nil, err
	}
	if rec.Person, err = r.resolveMeta(ctx, "person", spec.Person, st); err != nil {
		return nil, err
	}

	for _, field := range spec.Map {
		value, err := r.resolveField(ctx, field, st)
		if err != nil {
			r.logger.Error("record field %s failed template=%s: %v", field.Name, st.cfg.templateID, err)
			return nil, rules.NewFieldError(st.cfg.templateID, field.Name, err)
		}
		rec.Data[field.Name] = value
		st.resolved[field.Name] = value
	}

	return rec, nil
}

func (r *Resolver) resolveRaw(ctx context.Context, source string, st *state) (*Record, error) {
	out, err := r.evaluate(ctx, "", r.substitute(source, st), st, false)
	if err != nil {
		return nil, err
	}
	rec, ok := fromValue(out)
	if !ok {
		return nil, rules.NewValidationError(
			fmt.Sprintf("record expression must produce an object, got %T", out),
			map[string]any{"event_template_id": st.cfg.templateID},
		)
	}
	return rec, nil
}

func (r *Resolver) resolveMeta(ctx context.Context, name string, value any, st *state) (any, error) {
	src, ok := value.(string)
	if !ok {
		return value, nil
	}
	out, err := r.evaluate(ctx, name, r.substitute(src, st), st, false)
	if err != nil {
		return nil, rules.NewFieldError(st.cfg.templateID, name, err)
	}
	return out, nil
}

func (r *Resolver) resolveField(ctx context.Context, field Field, st *state) (any, error) {
	src, ok := field.Value.(string)
	if !ok {
		return field.Value, nil
	}
	src = strings.TrimSpace(src)

	switch {
	case src == TokenIDNumber:
		return r.nextID(st)
	case src == TokenIDString:
		n, err := r.nextID(st)
		if err != nil {
			return nil, err
		}
		return EncodeID(n), nil
	case strings.HasPrefix(src, documentsPrefix):
		path := r.substitute(strings.TrimPrefix(src, documentsPrefix), st)
		v, _ := st.args.Documents.Lookup(path)
		return v, nil
	case strings.HasPrefix(src, customPrefix):
		return r.callCustom(ctx, field.Name, src, st)
	default:
		return r.evaluate(ctx, field.Name, r.substitute(src, st), st, true)
	}
}

func (r *Resolver) nextID(st *state) (int64, error) {
	if st.hasID {
		return st.id, nil
	}
	n, err := r.ids.NewID()
	if err != nil {
		return 0, fmt.Errorf("generate record id: %w", err)
	}
	st.id, st.hasID = n, true
	return n, nil
}

func (r *Resolver) callCustom(ctx context.Context, field, name string, st *state) (any, error) {
	h, ok := r.custom.Lookup(name)
	if !ok {
		return nil, unknownCustom(name)
	}
	resolved := make(map[string]any, len(st.resolved))
	for k, v := range st.resolved {
		resolved[k] = v
	}
	return h(ctx, CustomCall{
		Name:       strings.TrimPrefix(name, customPrefix),
		Field:      field,
		TemplateID: st.cfg.templateID,
		ArrayIndex: st.cfg.arrayIndex,
		Resolved:   resolved,
		Args:       st.args,
	})
}

// checkCustomNames fails before any field runs, so an unknown handler never
// leaves side effects (sequence increments, remote calls) behind.
func (r *Resolver) checkCustomNames(fields FieldMap, templateID string) error {
	for _, f := range fields {
		src, ok := f.Value.(string)
		if !ok {
			continue
		}
		src = strings.TrimSpace(src)
		if !strings.HasPrefix(src, customPrefix) {
			continue
		}
		if _, known := r.custom.Lookup(src); !known {
			return rules.NewFieldError(templateID, f.Name, unknownCustom(src))
		}
	}
	return nil
}

func (r *Resolver) evaluate(ctx context.Context, field, source string, st *state, async bool) (any, error) {
	if r.eval == nil {
		return nil, rules.NewConfigurationError("record resolver has no evaluator", nil)
	}
	opts := []sandbox.EvalOption{
		sandbox.WithTemplateID(st.cfg.templateID),
		sandbox.WithField(field),
		sandbox.WithMeta(r.metaFor(st)),
	}
	if async {
		opts = append(opts, sandbox.Async())
	}
	return r.eval.Evaluate(ctx, source, st.args, opts...)
}

func (r *Resolver) metaFor(st *state) map[string]any {
	meta := map[string]any{}
	for k, v := range st.cfg.meta {
		meta[k] = v
	}
	if st.cfg.arrayIndex != nil {
		meta["arrayIndex"] = *st.cfg.arrayIndex
	}
	meta["resolved"] = st.resolved
	return meta
}

func (r *Resolver) substitute(src string, st *state) string {
	if st.cfg.arrayIndex == nil {
		return src
	}
	return tree.SubstituteIndex(src, *st.cfg.arrayIndex)
}
