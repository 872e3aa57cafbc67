package dispatch

import (
	"strings"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/decorator"
	"github.com/goliatone/go-rules/provider"
	"github.com/goliatone/go-rules/record"
)

// Data is the rule payload of one dispatch. Which part is read depends on
// the requester type and the operation.
type Data struct {
	// Record is resolved into a register record (registers).
	Record     *record.Spec `json:"record,omitempty" yaml:"record,omitempty"`
	ArrayIndex *int         `json:"arrayIndex,omitempty" yaml:"arrayIndex,omitempty"`
	// Query searches a register (registers get).
	Query *Query `json:"query,omitempty" yaml:"query,omitempty"`
	// Export streams a register as CSV into the file store (registers get).
	Export *Export `json:"export,omitempty" yaml:"export,omitempty"`
	// Anchor addresses a ledger entry (blockchain).
	Anchor *Anchor `json:"anchor,omitempty" yaml:"anchor,omitempty"`
	// Send is an external-service request (externalService create).
	Send *decorator.SendData `json:"send,omitempty" yaml:"send,omitempty"`
	// Params is the call data of the document and services repositories.
	// String values starting with "documents." are read from the workflow.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Query is the configured form of a register search. Filter values starting
// with "documents." are read from the workflow before the call.
type Query struct {
	RegisterID any            `json:"registerId" yaml:"registerId"`
	KeyID      any            `json:"keyId,omitempty" yaml:"keyId,omitempty"`
	Filters    map[string]any `json:"filters,omitempty" yaml:"filters,omitempty"`
	Sort       string         `json:"sort,omitempty" yaml:"sort,omitempty"`
	Descending bool           `json:"descending,omitempty" yaml:"descending,omitempty"`
	Limit      int            `json:"limit,omitempty" yaml:"limit,omitempty"`
	Offset     int            `json:"offset,omitempty" yaml:"offset,omitempty"`
	PostFilter string         `json:"postFilter,omitempty" yaml:"postFilter,omitempty"`
	Comparator string         `json:"comparator,omitempty" yaml:"comparator,omitempty"`
}

// Export describes a CSV export and the document created for it.
type Export struct {
	Query              `yaml:",inline"`
	Columns            []string `json:"columns,omitempty" yaml:"columns,omitempty"`
	FileName           string   `json:"fileName" yaml:"fileName"`
	Description        string   `json:"description,omitempty" yaml:"description,omitempty"`
	DocumentTemplateID int      `json:"documentTemplateId" yaml:"documentTemplateId"`
}

// Anchor selects the document to anchor and, for get/update/delete, the
// ledger id. ID may be a "documents." path.
type Anchor struct {
	ID                 string `json:"id,omitempty" yaml:"id,omitempty"`
	DocumentTemplateID int    `json:"documentTemplateId,omitempty" yaml:"documentTemplateId,omitempty"`
	Hash               string `json:"hash,omitempty" yaml:"hash,omitempty"`
}

func (q Query) build(ec rules.EventContext) provider.Query {
	filters := make(map[string]any, len(q.Filters))
	for k, v := range q.Filters {
		filters[k] = fromWorkflow(v, ec)
	}
	return provider.Query{
		RegisterID: fromWorkflow(q.RegisterID, ec),
		KeyID:      fromWorkflow(q.KeyID, ec),
		Filters:    filters,
		Sort:       q.Sort,
		Descending: q.Descending,
		Limit:      q.Limit,
		Offset:     q.Offset,
		PostFilter: q.PostFilter,
		Comparator: q.Comparator,
	}
}

// fromWorkflow replaces "documents.<tpl>.<path>" strings with the value they
// point at; anything else is returned unchanged.
func fromWorkflow(v any, ec rules.EventContext) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	path, ok := strings.CutPrefix(strings.TrimSpace(s), "documents.")
	if !ok {
		return v
	}
	out, _ := ec.Documents.Lookup(path)
	return out
}

func resolveParams(params map[string]any, ec rules.EventContext) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		switch x := v.(type) {
		case map[string]any:
			out[k] = resolveParams(x, ec)
		default:
			out[k] = fromWorkflow(v, ec)
		}
	}
	return out
}
