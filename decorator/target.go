package decorator

import (
	"fmt"
	"strings"

	rules "github.com/goliatone/go-rules"
)

// Target is where a send goes: a whole provider (its default entry point) or
// one bound method of it.
type Target interface {
	Provider() string
	Method() string
	String() string
	isTarget()
}

type Whole struct {
	Name string
}

func (w Whole) Provider() string { return w.Name }
func (Whole) Method() string     { return "" }
func (w Whole) String() string   { return w.Name }
func (Whole) isTarget()          {}

type Bound struct {
	Name       string
	MethodName string
}

func (b Bound) Provider() string { return b.Name }
func (b Bound) Method() string   { return b.MethodName }
func (b Bound) String() string   { return b.Name + "." + b.MethodName }
func (Bound) isTarget()          {}

// ParseTarget reads "provider" or "provider.method".
func ParseTarget(name string) (Target, error) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return nil, rules.NewConfigurationError(
				fmt.Sprintf("invalid provider name %q", name),
				map[string]any{"provider": name},
			)
		}
	}
	switch len(parts) {
	case 1:
		return Whole{Name: parts[0]}, nil
	case 2:
		return Bound{Name: parts[0], MethodName: parts[1]}, nil
	default:
		return nil, rules.NewConfigurationError(
			fmt.Sprintf("provider name %q must be provider or provider.method", name),
			map[string]any{"provider": name},
		)
	}
}
