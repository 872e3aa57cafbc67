package record

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/sandbox"
	"github.com/goliatone/go-rules/sequence"
)

const (
	customPrefix = "custom."

	// ExecutiveDocumentNumber generates "<n>/<yyyy>" from a per-year sequence.
	ExecutiveDocumentNumber = "executiveDocument.generateNumber"
)

// CustomCall is what a custom handler sees: the field being resolved, the
// already-resolved sibling fields and the workflow arguments.
type CustomCall struct {
	Name       string
	Field      string
	TemplateID string
	ArrayIndex *int
	Resolved   map[string]any
	Args       sandbox.Args
}

// CustomHandler computes a field value outside the expression language.
type CustomHandler func(ctx context.Context, call CustomCall) (any, error)

// CustomRegistry is the allow-list of custom handlers, keyed by "service.method".
type CustomRegistry struct {
	handlers map[string]CustomHandler
}

func NewCustomRegistry() *CustomRegistry {
	return &CustomRegistry{handlers: make(map[string]CustomHandler)}
}

// Register adds a handler. Names must have the "service.method" shape.
func (r *CustomRegistry) Register(name string, h CustomHandler) error {
	name = strings.TrimPrefix(strings.TrimSpace(name), customPrefix)
	parts := strings.Split(name, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return rules.NewConfigurationError(
			fmt.Sprintf("custom handler name %q must be service.method", name),
			map[string]any{"handler": name},
		)
	}
	if h == nil {
		return rules.NewConfigurationError(fmt.Sprintf("custom handler %q is nil", name), nil)
	}
	if r.handlers == nil {
		r.handlers = make(map[string]CustomHandler)
	}
	if _, exists := r.handlers[name]; exists {
		return rules.NewConfigurationError(
			fmt.Sprintf("custom handler %q already registered", name),
			map[string]any{"handler": name},
		)
	}
	r.handlers[name] = h
	return nil
}

// Lookup accepts the name with or without the "custom." prefix.
func (r *CustomRegistry) Lookup(name string) (CustomHandler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[strings.TrimPrefix(name, customPrefix)]
	return h, ok
}

// IDs returns sorted handler names.
func (r *CustomRegistry) IDs() []string {
	if r == nil || len(r.handlers) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func unknownCustom(name string) error {
	return rules.CloneError(
		rules.ErrUnknownCustomHandler,
		fmt.Sprintf("custom handler %q is not allow-listed", name),
		nil,
		map[string]any{"handler": name},
	)
}

// ExecutiveDocumentNumberHandler numbers executive documents per calendar
// year. Uniqueness across processes comes from the sequence store.
func ExecutiveDocumentNumberHandler(seq sequence.Store, now func() time.Time) CustomHandler {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, _ CustomCall) (any, error) {
		if seq == nil {
			return nil, rules.NewConfigurationError("executive document sequence not configured", nil)
		}
		t := now()
		n, err := seq.Next(ctx, sequence.YearScoped("executive_document_number", t))
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("%d/%d", n, t.Year()), nil
	}
}
