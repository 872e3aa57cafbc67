// Package document is the HTTP backend of the document repository capability.
package document

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/provider"
	"github.com/goliatone/go-rules/transport"
)

const Name = "http"

// Provider stores documents in a remote repository under /documents. The
// call data carries the remote "id" and the document body under "data".
type Provider struct {
	client *transport.Client
	logger rules.Logger
}

func New(client *transport.Client, logger rules.Logger) *Provider {
	return &Provider{client: client, logger: rules.NormalizeLogger(logger)}
}

func Factory(_ context.Context, settings provider.Settings, deps provider.Deps) (any, error) {
	if settings.BaseURL == "" {
		return nil, rules.NewConfigurationError("document provider requires base_url", nil)
	}
	return New(deps.HTTPClient(settings), deps.Logger), nil
}

func (p *Provider) Get(ctx context.Context, call provider.Call) (any, error) {
	path, err := documentPath(call.Data)
	if err != nil {
		return nil, err
	}
	return p.send(ctx, http.MethodGet, path, nil, call)
}

func (p *Provider) Create(ctx context.Context, call provider.Call) (any, error) {
	return p.send(ctx, http.MethodPost, "documents", body(call.Data), call)
}

func (p *Provider) Update(ctx context.Context, call provider.Call) (any, error) {
	path, err := documentPath(call.Data)
	if err != nil {
		return nil, err
	}
	return p.send(ctx, http.MethodPut, path, body(call.Data), call)
}

func (p *Provider) Delete(ctx context.Context, call provider.Call) (any, error) {
	path, err := documentPath(call.Data)
	if err != nil {
		return nil, err
	}
	return p.send(ctx, http.MethodDelete, path, nil, call)
}

func (p *Provider) send(ctx context.Context, method, path string, payload any, call provider.Call) (any, error) {
	var out any
	if err := p.client.SendJSON(ctx, transport.Request{Method: method, Path: path, Body: payload}, &out); err != nil {
		p.logger.Error("document repository %s %s failed workflow=%s: %v", method, path, call.Event.WorkflowID, err)
		return nil, err
	}
	return out, nil
}

func body(data map[string]any) any {
	if inner, ok := data["data"]; ok {
		return inner
	}
	return data
}

func documentPath(data map[string]any) (string, error) {
	id, ok := data["id"]
	if !ok || id == nil || fmt.Sprint(id) == "" {
		return "", rules.NewValidationError("document id required", nil)
	}
	return "documents/" + url.PathEscape(fmt.Sprint(id)), nil
}

var _ provider.DocumentRepository = (*Provider)(nil)
