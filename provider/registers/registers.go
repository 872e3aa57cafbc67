// Package registers is the HTTP backend of the registers capability.
package registers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/provider"
	"github.com/goliatone/go-rules/record"
	"github.com/goliatone/go-rules/sandbox"
	"github.com/goliatone/go-rules/transport"
)

const Name = "http"

// Provider talks to a register service exposing
// /registers/{registerId}/records[/{recordId}].
type Provider struct {
	client *transport.Client
	eval   record.Evaluator
	logger rules.Logger
}

func New(client *transport.Client, eval record.Evaluator, logger rules.Logger) *Provider {
	return &Provider{
		client: client,
		eval:   eval,
		logger: rules.NormalizeLogger(logger),
	}
}

// Factory registers the provider under Name.
func Factory(_ context.Context, settings provider.Settings, deps provider.Deps) (any, error) {
	if settings.BaseURL == "" {
		return nil, rules.NewConfigurationError("registers provider requires base_url", nil)
	}
	return New(deps.HTTPClient(settings), deps.Evaluator, deps.Logger), nil
}

func (p *Provider) Search(ctx context.Context, q provider.Query) (*provider.Page, error) {
	path, err := recordsPath(q.RegisterID, nil)
	if err != nil {
		return nil, err
	}

	page := &provider.Page{}
	if err := p.client.SendJSON(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  searchParams(q),
	}, page); err != nil {
		p.logger.Error("register search failed register=%v: %v", q.RegisterID, err)
		return nil, err
	}

	if q.PostFilter != "" {
		kept := page.Items[:0]
		for i, item := range page.Items {
			ok, err := p.keep(ctx, q, item)
			if err != nil {
				return nil, fmt.Errorf("post filter on item %d: %w", i, err)
			}
			if ok {
				kept = append(kept, item)
			}
		}
		page.Items = kept
	}

	if q.Comparator != "" {
		if err := p.reorder(ctx, q, page.Items); err != nil {
			return nil, err
		}
	}
	return page, nil
}

func (p *Provider) GetRecord(ctx context.Context, ref provider.RecordRef) (map[string]any, error) {
	path, err := recordsPath(ref.RegisterID, ref.RecordID)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := p.client.SendJSON(ctx, transport.Request{Method: http.MethodGet, Path: path, Query: keyParams(ref.KeyID)}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Provider) CreateRecord(ctx context.Context, rec *record.Record) (map[string]any, error) {
	if rec == nil {
		return nil, rules.NewValidationError("record required", nil)
	}
	path, err := recordsPath(rec.RegisterID, nil)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := p.client.SendJSON(ctx, transport.Request{Method: http.MethodPost, Path: path, Body: rec}, &out); err != nil {
		p.logger.Error("register create failed register=%v: %v", rec.RegisterID, err)
		return nil, err
	}
	return out, nil
}

func (p *Provider) UpdateRecord(ctx context.Context, rec *record.Record) (map[string]any, error) {
	if rec == nil {
		return nil, rules.NewValidationError("record required", nil)
	}
	if isBlank(rec.RecordID) {
		return nil, rules.NewValidationError("recordId required to update a register record",
			map[string]any{"register_id": rec.RegisterID})
	}
	path, err := recordsPath(rec.RegisterID, rec.RecordID)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := p.client.SendJSON(ctx, transport.Request{Method: http.MethodPut, Path: path, Body: rec}, &out); err != nil {
		p.logger.Error("register update failed register=%v record=%v: %v", rec.RegisterID, rec.RecordID, err)
		return nil, err
	}
	return out, nil
}

func (p *Provider) DeleteRecord(ctx context.Context, ref provider.RecordRef) error {
	if isBlank(ref.RecordID) {
		return rules.NewValidationError("recordId required to delete a register record",
			map[string]any{"register_id": ref.RegisterID})
	}
	path, err := recordsPath(ref.RegisterID, ref.RecordID)
	if err != nil {
		return err
	}
	_, err = p.client.Send(ctx, transport.Request{Method: http.MethodDelete, Path: path, Query: keyParams(ref.KeyID)})
	return err
}

// ExportCSV returns the remote CSV body unread.
func (p *Provider) ExportCSV(ctx context.Context, q provider.Query) (*transport.Stream, error) {
	path, err := recordsPath(q.RegisterID, nil)
	if err != nil {
		return nil, err
	}
	params := searchParams(q)
	params.Set("format", "csv")
	for _, col := range q.Columns {
		params.Add("columns", col)
	}
	return p.client.Stream(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   path + "/export",
		Query:  params,
		Header: http.Header{"Accept": {"text/csv"}},
	})
}

func (p *Provider) keep(ctx context.Context, q provider.Query, item map[string]any) (bool, error) {
	if p.eval == nil {
		return false, rules.NewConfigurationError("registers provider has no evaluator for post filters", nil)
	}
	out, err := p.eval.Evaluate(ctx, q.PostFilter, q.Scope, sandbox.WithArguments(item), sandbox.WithField("postFilter"))
	if err != nil {
		return false, err
	}
	return truthy(out), nil
}

func (p *Provider) reorder(ctx context.Context, q provider.Query, items []map[string]any) error {
	if p.eval == nil {
		return rules.NewConfigurationError("registers provider has no evaluator for comparators", nil)
	}
	var firstErr error
	sort.SliceStable(items, func(i, j int) bool {
		if firstErr != nil {
			return false
		}
		out, err := p.eval.Evaluate(ctx, q.Comparator, q.Scope, sandbox.WithArguments(items[i], items[j]), sandbox.WithField("comparator"))
		if err != nil {
			firstErr = err
			return false
		}
		less, err := compareResult(out)
		if err != nil {
			firstErr = rules.NewEvaluationError("", "comparator", err)
			return false
		}
		return less
	})
	return firstErr
}

// compareResult accepts a signed number (negative sorts a first) or a bool
// meaning "a before b".
func compareResult(v any) (bool, error) {
	switch n := v.(type) {
	case bool:
		return n, nil
	case int:
		return n < 0, nil
	case int64:
		return n < 0, nil
	case float64:
		return n < 0, nil
	case float32:
		return n < 0, nil
	}
	return false, fmt.Errorf("comparator must return a number or bool, got %T", v)
}

func truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return b != ""
	case int:
		return b != 0
	case float64:
		return b != 0
	}
	return true
}

func recordsPath(registerID, recordID any) (string, error) {
	if isBlank(registerID) {
		return "", rules.NewValidationError("registerId required", nil)
	}
	path := "registers/" + url.PathEscape(fmt.Sprint(registerID)) + "/records"
	if !isBlank(recordID) {
		path += "/" + url.PathEscape(fmt.Sprint(recordID))
	}
	return path, nil
}

func searchParams(q provider.Query) url.Values {
	params := keyParams(q.KeyID)
	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params.Set("filter["+k+"]", queryValue(q.Filters[k]))
	}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
		if q.Descending {
			params.Set("order", "desc")
		} else {
			params.Set("order", "asc")
		}
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	return params
}

func keyParams(keyID any) url.Values {
	params := url.Values{}
	if !isBlank(keyID) {
		params.Set("keyId", fmt.Sprint(keyID))
	}
	return params
}

func queryValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case map[string]any, []any:
		raw, err := json.Marshal(x)
		if err == nil {
			return string(raw)
		}
	}
	return fmt.Sprint(v)
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

var _ provider.Registers = (*Provider)(nil)
