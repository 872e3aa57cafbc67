package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/dispatch"
	"github.com/goliatone/go-rules/provider"
	"github.com/goliatone/go-rules/status"
)

// RuleSet is the content of a rule file: the event templates that trigger a
// dispatch and the status rules of task templates.
type RuleSet struct {
	Version        int             `json:"version" yaml:"version"`
	EventTemplates []EventTemplate `json:"eventTemplates" yaml:"eventTemplates"`
	Statuses       []status.Rule   `json:"statuses,omitempty" yaml:"statuses,omitempty"`
}

// EventTemplate binds an event template to the dispatch it performs when one
// of its events fires.
type EventTemplate struct {
	ID            string             `json:"id" yaml:"id"`
	RequesterType string             `json:"requesterType" yaml:"requesterType"`
	Operation     dispatch.Operation `json:"operation" yaml:"operation"`
	Data          dispatch.Data      `json:"data" yaml:"data"`
	// TaskTemplateID, when set, applies that task template's status rule
	// after a successful dispatch.
	TaskTemplateID int    `json:"taskTemplateId,omitempty" yaml:"taskTemplateId,omitempty"`
	Description    string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Validate checks the requester type, the operation and the payload the
// operation reads.
func (t EventTemplate) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("id is required")
	}
	c, err := provider.ParseCapability(t.RequesterType)
	if err != nil {
		return fmt.Errorf("event template %s: %w", t.ID, err)
	}
	op, err := dispatch.ParseOperation(string(t.Operation))
	if err != nil {
		return fmt.Errorf("event template %s: %w", t.ID, err)
	}

	switch c {
	case provider.CapabilityRegisters:
		if (op == dispatch.OpCreate || op == dispatch.OpUpdate) && t.Data.Record == nil {
			return fmt.Errorf("event template %s: %s %s requires record", t.ID, c, op)
		}
		if op == dispatch.OpGet && t.Data.Record == nil && t.Data.Query == nil && t.Data.Export == nil {
			return fmt.Errorf("event template %s: registers get requires record, query or export", t.ID)
		}
	case provider.CapabilityBlockchain:
		if t.Data.Anchor == nil {
			return fmt.Errorf("event template %s: blockchain requires anchor", t.ID)
		}
	case provider.CapabilityExternalService:
		if op != dispatch.OpCreate {
			return fmt.Errorf("event template %s: externalService only supports create", t.ID)
		}
		if t.Data.Send == nil || strings.TrimSpace(t.Data.Send.ProviderName) == "" {
			return fmt.Errorf("event template %s: externalService requires send.providerName", t.ID)
		}
	}
	return nil
}

// Validate checks every template and status rule and rejects duplicates.
func (s RuleSet) Validate() error {
	seen := make(map[string]struct{}, len(s.EventTemplates))
	for idx, t := range s.EventTemplates {
		if err := t.Validate(); err != nil {
			return configError(fmt.Errorf("eventTemplates[%d]: %w", idx, err))
		}
		if _, dup := seen[t.ID]; dup {
			return configError(fmt.Errorf("eventTemplates[%d]: duplicate id %s", idx, t.ID))
		}
		seen[t.ID] = struct{}{}
	}

	tasks := make(map[int]struct{}, len(s.Statuses))
	for idx, r := range s.Statuses {
		if err := r.Validate(); err != nil {
			return configError(fmt.Errorf("statuses[%d]: %w", idx, err))
		}
		if _, dup := tasks[r.TaskTemplateID]; dup {
			return configError(fmt.Errorf("statuses[%d]: duplicate task template %d", idx, r.TaskTemplateID))
		}
		tasks[r.TaskTemplateID] = struct{}{}
	}
	for _, t := range s.EventTemplates {
		if t.TaskTemplateID == 0 {
			continue
		}
		if _, ok := tasks[t.TaskTemplateID]; !ok {
			return configError(fmt.Errorf("event template %s: no status rule for task template %d", t.ID, t.TaskTemplateID))
		}
	}
	return nil
}

func configError(err error) error {
	return rules.CloneError(rules.ErrConfiguration, err.Error(), err, nil)
}

// Template returns the event template with id.
func (s RuleSet) Template(id string) (EventTemplate, bool) {
	for _, t := range s.EventTemplates {
		if t.ID == id {
			return t, true
		}
	}
	return EventTemplate{}, false
}

// IDs returns the sorted event template ids.
func (s RuleSet) IDs() []string {
	ids := make([]string, 0, len(s.EventTemplates))
	for _, t := range s.EventTemplates {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	return ids
}

// ParseRuleSet parses JSON or YAML into a RuleSet.
func ParseRuleSet(data []byte) (RuleSet, error) {
	var set RuleSet
	// yaml handles JSON as well
	if err := yaml.Unmarshal(data, &set); err != nil {
		return set, rules.CloneError(rules.ErrConfiguration, fmt.Sprintf("parse rules: %v", err), err, nil)
	}
	for i := range set.EventTemplates {
		set.EventTemplates[i].Operation = dispatch.Operation(strings.ToLower(strings.TrimSpace(string(set.EventTemplates[i].Operation))))
	}
	return set, set.Validate()
}

// LoadRuleSets reads and merges rule files. Glob patterns are expanded.
func LoadRuleSets(patterns ...string) (RuleSet, error) {
	var merged RuleSet
	for _, pattern := range patterns {
		paths, err := filepath.Glob(pattern)
		if err != nil {
			return merged, rules.CloneError(rules.ErrConfiguration, fmt.Sprintf("rules pattern %s: %v", pattern, err), err, nil)
		}
		if len(paths) == 0 {
			return merged, rules.NewConfigurationError(fmt.Sprintf("no rule files match %s", pattern), nil)
		}
		sort.Strings(paths)
		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				return merged, rules.CloneError(rules.ErrConfiguration, fmt.Sprintf("read %s: %v", path, err), err, nil)
			}
			set, err := ParseRuleSet(data)
			if err != nil {
				return merged, rules.CloneError(rules.ErrConfiguration, fmt.Sprintf("%s: %v", path, err), err, nil)
			}
			if set.Version > merged.Version {
				merged.Version = set.Version
			}
			merged.EventTemplates = append(merged.EventTemplates, set.EventTemplates...)
			merged.Statuses = append(merged.Statuses, set.Statuses...)
		}
	}
	return merged, merged.Validate()
}
