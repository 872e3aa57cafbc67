// Package status computes the workflow status transition that follows a
// finished task.
package status

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/record"
	"github.com/goliatone/go-rules/sandbox"
)

// Type is the kind of a calculated status entry.
type Type string

const (
	TypeDoing    Type = "doing"
	TypeDone     Type = "done"
	TypeRejected Type = "rejected"
)

// ID maps a status type to the persisted numeric status.
func (t Type) ID() (int, bool) {
	switch t {
	case TypeDoing:
		return rules.StatusDoing, true
	case TypeDone:
		return rules.StatusDone, true
	case TypeRejected:
		return rules.StatusRejected, true
	}
	return 0, false
}

// Entry is one item of a calculated status array.
type Entry struct {
	Type          Type   `json:"type"`
	Label         string `json:"label"`
	Description   string `json:"description"`
	IsStatusesTab bool   `json:"isStatusesTab,omitempty"`
}

// Rule is the status configuration of one task template. StatusID, when
// set, is persisted as is; otherwise Calculate is evaluated.
type Rule struct {
	TaskTemplateID int    `json:"taskTemplateId" yaml:"taskTemplateId"`
	StatusID       int    `json:"statusId,omitempty" yaml:"statusId,omitempty"`
	Calculate      string `json:"calculate,omitempty" yaml:"calculate,omitempty"`
}

// Validate checks that the rule is either static or calculated.
func (r Rule) Validate() error {
	hasCalc := strings.TrimSpace(r.Calculate) != ""
	switch {
	case r.StatusID != 0 && hasCalc:
		return rules.NewConfigurationError(
			fmt.Sprintf("status rule %d sets both statusId and calculate", r.TaskTemplateID), nil)
	case r.StatusID == 0 && !hasCalc:
		return rules.NewConfigurationError(
			fmt.Sprintf("status rule %d needs statusId or calculate", r.TaskTemplateID), nil)
	case r.StatusID != 0:
		if r.StatusID < rules.StatusDoing || r.StatusID > rules.StatusRejected {
			return rules.NewConfigurationError(
				fmt.Sprintf("status rule %d has unknown statusId %d", r.TaskTemplateID, r.StatusID), nil)
		}
	}
	return nil
}

// Result is the outcome of a calculation.
type Result struct {
	StatusID int     `json:"statusId"`
	Entries  []Entry `json:"entries,omitempty"`
	// Current is the entry the status was taken from; nil for static rules.
	Current *Entry `json:"current,omitempty"`
}

type Calculator struct {
	eval     record.Evaluator
	byTask   map[int]Rule
	workflow rules.WorkflowStore
	logger   rules.Logger
}

type Option func(*Calculator)

func WithWorkflowStore(s rules.WorkflowStore) Option {
	return func(c *Calculator) { c.workflow = s }
}

func WithLogger(l rules.Logger) Option {
	return func(c *Calculator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRules registers the status rules keyed by task template id.
func WithRules(list ...Rule) Option {
	return func(c *Calculator) {
		for _, r := range list {
			c.byTask[r.TaskTemplateID] = r
		}
	}
}

func NewCalculator(eval record.Evaluator, opts ...Option) *Calculator {
	c := &Calculator{
		eval:   eval,
		byTask: map[int]Rule{},
		logger: rules.NopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Rule returns the rule of a task template.
func (c *Calculator) Rule(taskTemplateID int) (Rule, bool) {
	r, ok := c.byTask[taskTemplateID]
	return r, ok
}

// TaskTemplateIDs lists the configured task templates in ascending order.
func (c *Calculator) TaskTemplateIDs() []int {
	ids := make([]int, 0, len(c.byTask))
	for id := range c.byTask {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Calculate evaluates rule against the workflow state without persisting.
func (c *Calculator) Calculate(ctx context.Context, rule Rule, docs rules.Documents, events rules.Events) (*Result, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if rule.StatusID != 0 {
		return &Result{StatusID: rule.StatusID}, nil
	}
	if c.eval == nil {
		return nil, rules.NewConfigurationError("status calculator has no evaluator", nil)
	}

	out, err := c.eval.Evaluate(ctx, rule.Calculate, sandbox.Args{Documents: docs, Events: events},
		sandbox.Async(),
		sandbox.WithTemplateID(strconv.Itoa(rule.TaskTemplateID)),
		sandbox.WithField("calculate"),
	)
	if err != nil {
		return nil, err
	}

	entries, err := ParseEntries(out)
	if err != nil {
		return nil, err
	}

	var current *Entry
	for i := range entries {
		if !entries[i].IsStatusesTab {
			current = &entries[i]
		}
	}
	if current == nil {
		return nil, rules.NewValidationError("no non-tabbed statuses",
			map[string]any{"task_template_id": rule.TaskTemplateID})
	}
	id, _ := current.Type.ID()
	return &Result{StatusID: id, Entries: entries, Current: current}, nil
}

// Apply calculates the status for a finished task and persists it.
func (c *Calculator) Apply(ctx context.Context, workflowID string, taskTemplateID int, docs rules.Documents, events rules.Events) (*Result, error) {
	rule, ok := c.byTask[taskTemplateID]
	if !ok {
		return nil, rules.NewConfigurationError(
			fmt.Sprintf("no status rule for task template %d", taskTemplateID),
			map[string]any{"task_template_id": taskTemplateID},
		)
	}
	if c.workflow == nil {
		return nil, rules.NewConfigurationError("status calculator has no workflow store", nil)
	}

	res, err := c.Calculate(ctx, rule, docs, events)
	if err != nil {
		c.logger.Error("status calculation failed workflow=%s task_template=%d: %v", workflowID, taskTemplateID, err)
		return nil, err
	}
	if err := c.workflow.SetStatus(ctx, workflowID, res.StatusID); err != nil {
		c.logger.Error("persisting status %d failed workflow=%s: %v", res.StatusID, workflowID, err)
		return nil, err
	}
	c.logger.Info("workflow %s status set to %d after task template %d", workflowID, res.StatusID, taskTemplateID)
	return res, nil
}

// ParseEntries validates the shape of a calculated status array. A single bad
// entry rejects the whole array.
func ParseEntries(v any) ([]Entry, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, rules.NewValidationError(fmt.Sprintf("calculated statuses must be an array, got %T", v), nil)
	}
	if len(items) == 0 {
		return nil, rules.NewValidationError("calculated statuses must not be empty", nil)
	}

	entries := make([]Entry, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, entryError(i, fmt.Sprintf("must be an object, got %T", item))
		}

		typ, _ := m["type"].(string)
		t := Type(typ)
		if _, known := t.ID(); !known {
			return nil, entryError(i, fmt.Sprintf("unknown type %q", typ))
		}
		label, ok := m["label"].(string)
		if !ok {
			return nil, entryError(i, "label must be a string")
		}
		description, ok := m["description"].(string)
		if !ok {
			return nil, entryError(i, "description must be a string")
		}
		var tab bool
		if raw, present := m["isStatusesTab"]; present && raw != nil {
			if tab, ok = raw.(bool); !ok {
				return nil, entryError(i, "isStatusesTab must be a bool")
			}
		}
		entries = append(entries, Entry{Type: t, Label: label, Description: description, IsStatusesTab: tab})
	}
	return entries, nil
}

func entryError(i int, msg string) error {
	return rules.NewValidationError(fmt.Sprintf("status entry %d: %s", i, msg), map[string]any{"index": i})
}
