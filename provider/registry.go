package provider

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/record"
	"github.com/goliatone/go-rules/transport"
)

// Settings selects and configures the backend of one capability.
type Settings struct {
	Name    string            `json:"name" yaml:"name" mapstructure:"name"`
	BaseURL string            `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration     `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	Headers map[string]string `json:"headers" yaml:"headers" mapstructure:"headers"`
	Options map[string]any    `json:"options" yaml:"options" mapstructure:"options"`
}

// Option returns a string option, or fallback when unset.
func (s Settings) Option(key, fallback string) string {
	if v, ok := s.Options[key]; ok && v != nil {
		if str := strings.TrimSpace(fmt.Sprint(v)); str != "" {
			return str
		}
	}
	return fallback
}

// Deps are the shared collaborators handed to every factory.
type Deps struct {
	Logger    rules.Logger
	Evaluator record.Evaluator
	// Transport overrides the HTTP client built from Settings, mostly in tests.
	Transport func(Settings) *transport.Client
}

// HTTPClient returns the transport for settings.
func (d Deps) HTTPClient(s Settings) *transport.Client {
	if d.Transport != nil {
		if c := d.Transport(s); c != nil {
			return c
		}
	}
	opts := []transport.Option{
		transport.WithBaseURL(s.BaseURL),
		transport.WithTimeout(s.Timeout),
		transport.WithLogger(rules.WithLoggerFields(rules.NormalizeLogger(d.Logger), map[string]any{"provider": s.Name})),
	}
	keys := make([]string, 0, len(s.Headers))
	for k := range s.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, transport.WithHeader(k, s.Headers[k]))
	}
	return transport.New(opts...)
}

// Factory builds one provider instance. The returned value must implement the
// interface of the capability it was registered for.
type Factory func(ctx context.Context, settings Settings, deps Deps) (any, error)

// Registry holds the known provider factories per capability.
type Registry struct {
	mu        sync.RWMutex
	factories map[Capability]map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[Capability]map[string]Factory)}
}

// Register adds a named factory for capability.
func (r *Registry) Register(c Capability, name string, f Factory) error {
	if _, err := ParseCapability(string(c)); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" || f == nil {
		return rules.NewConfigurationError("provider name and factory required", map[string]any{"capability": c.String()})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories[c] == nil {
		r.factories[c] = make(map[string]Factory)
	}
	if _, exists := r.factories[c][name]; exists {
		return rules.NewConfigurationError(
			fmt.Sprintf("provider %s already registered for %s", name, c),
			map[string]any{"capability": c.String(), "provider": name},
		)
	}
	r.factories[c][name] = f
	return nil
}

// Names returns the sorted factory names of capability.
func (r *Registry) Names(c Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories[c]))
	for name := range r.factories[c] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the selected provider of every configured capability.
// It is meant to run once at start-up; the returned Set is shared.
func (r *Registry) Build(ctx context.Context, selection map[Capability]Settings, deps Deps) (*Set, error) {
	for c := range selection {
		if _, err := ParseCapability(string(c)); err != nil {
			return nil, err
		}
	}

	set := &Set{providers: make(map[Capability]any, len(selection))}
	for _, c := range Capabilities() {
		settings, ok := selection[c]
		if !ok || strings.TrimSpace(settings.Name) == "" {
			continue
		}

		r.mu.RLock()
		factory, found := r.factories[c][settings.Name]
		r.mu.RUnlock()
		if !found {
			_ = set.Close()
			return nil, rules.CloneError(
				rules.ErrProviderNotFound,
				fmt.Sprintf("no %s provider named %q", c, settings.Name),
				nil,
				map[string]any{"capability": c.String(), "provider": settings.Name, "known": r.Names(c)},
			)
		}

		instance, err := factory(ctx, settings, deps)
		if err != nil {
			_ = set.Close()
			return nil, fmt.Errorf("build %s provider %s: %w", c, settings.Name, err)
		}
		if err := set.put(c, instance); err != nil {
			_ = set.Close()
			return nil, err
		}
	}
	return set, nil
}

// Set is the active provider per capability.
type Set struct {
	providers map[Capability]any
}

// NewSet assembles a set from ready instances, checking each against the
// interface of its capability.
func NewSet(providers map[Capability]any) (*Set, error) {
	set := &Set{providers: make(map[Capability]any, len(providers))}
	for c, p := range providers {
		if err := set.put(c, p); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func (s *Set) put(c Capability, p any) error {
	var ok bool
	switch c {
	case CapabilityRegisters:
		_, ok = p.(Registers)
	case CapabilityBlockchain:
		_, ok = p.(Ledger)
	case CapabilityExternalService:
		_, ok = p.(ExternalService)
	case CapabilityDocument:
		_, ok = p.(DocumentRepository)
	case CapabilityServicesRepository:
		_, ok = p.(ServicesRepository)
	default:
		_, err := ParseCapability(string(c))
		return err
	}
	if !ok {
		return rules.NewConfigurationError(
			fmt.Sprintf("%T does not implement the %s contract", p, c),
			map[string]any{"capability": c.String()},
		)
	}
	s.providers[c] = p
	return nil
}

// Has reports whether capability has an active provider.
func (s *Set) Has(c Capability) bool {
	if s == nil {
		return false
	}
	_, ok := s.providers[c]
	return ok
}

func (s *Set) Registers() (Registers, error) {
	p, err := s.get(CapabilityRegisters)
	if err != nil {
		return nil, err
	}
	return p.(Registers), nil
}

func (s *Set) Ledger() (Ledger, error) {
	p, err := s.get(CapabilityBlockchain)
	if err != nil {
		return nil, err
	}
	return p.(Ledger), nil
}

func (s *Set) ExternalService() (ExternalService, error) {
	p, err := s.get(CapabilityExternalService)
	if err != nil {
		return nil, err
	}
	return p.(ExternalService), nil
}

func (s *Set) Document() (DocumentRepository, error) {
	p, err := s.get(CapabilityDocument)
	if err != nil {
		return nil, err
	}
	return p.(DocumentRepository), nil
}

func (s *Set) ServicesRepository() (ServicesRepository, error) {
	p, err := s.get(CapabilityServicesRepository)
	if err != nil {
		return nil, err
	}
	return p.(ServicesRepository), nil
}

func (s *Set) get(c Capability) (any, error) {
	if s != nil {
		if p, ok := s.providers[c]; ok {
			return p, nil
		}
	}
	return nil, rules.CloneError(
		rules.ErrProviderNotFound,
		fmt.Sprintf("no active %s provider", c),
		nil,
		map[string]any{"capability": c.String()},
	)
}

// Close releases providers that hold connections.
func (s *Set) Close() error {
	if s == nil {
		return nil
	}
	var first error
	for _, c := range Capabilities() {
		if closer, ok := s.providers[c].(io.Closer); ok {
			if err := closer.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
