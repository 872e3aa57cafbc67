// Package servicesrepo is the HTTP backend of the services repository
// capability. Calls name a service and its params; services may declare
// params that must be present before anything is sent.
package servicesrepo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/provider"
	"github.com/goliatone/go-rules/transport"
)

const Name = "http"

type Provider struct {
	client   *transport.Client
	required map[string][]string
	logger   rules.Logger
}

func New(client *transport.Client, required map[string][]string, logger rules.Logger) *Provider {
	if required == nil {
		required = map[string][]string{}
	}
	return &Provider{client: client, required: required, logger: rules.NormalizeLogger(logger)}
}

// Factory reads the optional "required" option, a map of service name to
// the param names it needs.
func Factory(_ context.Context, settings provider.Settings, deps provider.Deps) (any, error) {
	if settings.BaseURL == "" {
		return nil, rules.NewConfigurationError("services repository provider requires base_url", nil)
	}
	required := map[string][]string{}
	if raw, ok := settings.Options["required"].(map[string]any); ok {
		for service, params := range raw {
			list, ok := params.([]any)
			if !ok {
				return nil, rules.NewConfigurationError(
					fmt.Sprintf("required params of %s must be a list, got %T", service, params), nil)
			}
			for _, p := range list {
				required[service] = append(required[service], fmt.Sprint(p))
			}
		}
	}
	return New(deps.HTTPClient(settings), required, deps.Logger), nil
}

func (p *Provider) Get(ctx context.Context, call provider.Call) (any, error) {
	return p.do(ctx, http.MethodGet, call)
}

func (p *Provider) Create(ctx context.Context, call provider.Call) (any, error) {
	return p.do(ctx, http.MethodPost, call)
}

func (p *Provider) Update(ctx context.Context, call provider.Call) (any, error) {
	return p.do(ctx, http.MethodPut, call)
}

func (p *Provider) Delete(ctx context.Context, call provider.Call) (any, error) {
	return p.do(ctx, http.MethodDelete, call)
}

func (p *Provider) do(ctx context.Context, method string, call provider.Call) (any, error) {
	service, params, err := p.validate(call.Data)
	if err != nil {
		return nil, err
	}

	req := transport.Request{Method: method, Path: "services/" + url.PathEscape(service)}
	if method == http.MethodGet || method == http.MethodDelete {
		req.Query = query(params)
	} else {
		req.Body = params
	}

	var out any
	if err := p.client.SendJSON(ctx, req, &out); err != nil {
		p.logger.Error("services repository %s %s failed workflow=%s: %v", method, service, call.Event.WorkflowID, err)
		return nil, err
	}
	return out, nil
}

func (p *Provider) validate(data map[string]any) (string, map[string]any, error) {
	service, _ := data["service"].(string)
	service = strings.TrimSpace(service)
	if service == "" {
		return "", nil, rules.NewValidationError("service name required", nil)
	}
	params, _ := data["params"].(map[string]any)
	if params == nil {
		params = map[string]any{}
	}

	var missing []string
	for _, name := range p.required[service] {
		v, ok := params[name]
		if !ok || v == nil || v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", nil, rules.NewValidationError(
			fmt.Sprintf("service %s is missing required params: %s", service, strings.Join(missing, ", ")),
			map[string]any{"service": service, "missing": missing},
		)
	}
	return service, params, nil
}

func query(params map[string]any) url.Values {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	q := url.Values{}
	for _, k := range keys {
		if params[k] != nil {
			q.Set(k, fmt.Sprint(params[k]))
		}
	}
	return q
}

var _ provider.ServicesRepository = (*Provider)(nil)
