// Package decorator turns generic external-service sends into provider
// specific payloads and runs the send pipeline.
package decorator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	rules "github.com/goliatone/go-rules"
)

const (
	// KeyTransform registers a decorator that handles every template of a provider.
	KeyTransform = "transform"
	// KeyDefault registers the fallback decorator of a provider.
	KeyDefault = "default"
)

// Decorator builds the provider payload for one send.
type Decorator interface {
	Transform(ctx context.Context, in Input) (any, error)
}

// Func adapts a function to Decorator.
type Func func(ctx context.Context, in Input) (any, error)

func (f Func) Transform(ctx context.Context, in Input) (any, error) {
	return f(ctx, in)
}

// BoundDecorator exposes named methods reachable through "provider.method".
type BoundDecorator interface {
	Decorator
	Method(name string) (Func, bool)
}

// Methods is a BoundDecorator built from a default transform and a method table.
type Methods struct {
	Default Func
	Bound   map[string]Func
}

func (m Methods) Transform(ctx context.Context, in Input) (any, error) {
	if m.Default == nil {
		return nil, rules.NewNotImplementedError("decorator", "Transform")
	}
	return m.Default(ctx, in)
}

func (m Methods) Method(name string) (Func, bool) {
	f, ok := m.Bound[name]
	return f, ok && f != nil
}

// Registry stores decorators per provider and key.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]map[string]Decorator
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]map[string]Decorator)}
}

// Register stores d for provider under key: KeyTransform, KeyDefault or a
// document template id.
func (r *Registry) Register(providerName, key string, d Decorator) error {
	providerName = strings.TrimSpace(providerName)
	key = strings.TrimSpace(key)
	if providerName == "" || d == nil {
		return rules.NewConfigurationError("decorator provider and implementation required", nil)
	}
	if key != KeyTransform && key != KeyDefault {
		if _, err := strconv.Atoi(key); err != nil {
			return rules.NewConfigurationError(
				fmt.Sprintf("decorator key %q must be transform, default or a template id", key),
				map[string]any{"provider": providerName, "key": key},
			)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[providerName] == nil {
		r.entries[providerName] = make(map[string]Decorator)
	}
	if _, exists := r.entries[providerName][key]; exists {
		return rules.NewConfigurationError(
			fmt.Sprintf("decorator %s/%s already registered", providerName, key),
			map[string]any{"provider": providerName, "key": key},
		)
	}
	r.entries[providerName][key] = d
	return nil
}

func (r *Registry) RegisterTransform(providerName string, d Decorator) error {
	return r.Register(providerName, KeyTransform, d)
}

func (r *Registry) RegisterTemplate(providerName string, templateID int, d Decorator) error {
	return r.Register(providerName, strconv.Itoa(templateID), d)
}

func (r *Registry) RegisterDefault(providerName string, d Decorator) error {
	return r.Register(providerName, KeyDefault, d)
}

// Lookup picks the decorator of provider for templateID. A transform
// decorator wins outright, then the template keyed one, then the default.
func (r *Registry) Lookup(providerName string, templateID int) (Decorator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byKey := r.entries[providerName]
	if d, ok := byKey[KeyTransform]; ok {
		return d, nil
	}
	if d, ok := byKey[strconv.Itoa(templateID)]; ok {
		return d, nil
	}
	if d, ok := byKey[KeyDefault]; ok {
		return d, nil
	}
	return nil, rules.CloneError(
		rules.ErrDecoratorNotFound,
		fmt.Sprintf("no decorator for provider %s and document template %d", providerName, templateID),
		nil,
		map[string]any{"provider": providerName, "document_template_id": templateID},
	)
}

// Providers returns the sorted provider names with at least one decorator.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
