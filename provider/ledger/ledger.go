// Package ledger anchors document fingerprints on a blockchain gateway over HTTP.
package ledger

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/provider"
	"github.com/goliatone/go-rules/transport"
)

const Name = "http"

type Provider struct {
	client *transport.Client
	logger rules.Logger
}

func New(client *transport.Client, logger rules.Logger) *Provider {
	return &Provider{client: client, logger: rules.NormalizeLogger(logger)}
}

func Factory(_ context.Context, settings provider.Settings, deps provider.Deps) (any, error) {
	if settings.BaseURL == "" {
		return nil, rules.NewConfigurationError("ledger provider requires base_url", nil)
	}
	return New(deps.HTTPClient(settings), deps.Logger), nil
}

func (p *Provider) Get(ctx context.Context, id string) (*provider.Receipt, error) {
	path, err := anchorPath(id)
	if err != nil {
		return nil, err
	}
	return p.call(ctx, http.MethodGet, path, nil)
}

func (p *Provider) Register(ctx context.Context, anchor provider.Anchor) (*provider.Receipt, error) {
	if strings.TrimSpace(anchor.DocumentID) == "" {
		return nil, rules.NewValidationError("documentId required to anchor a document", nil)
	}
	return p.call(ctx, http.MethodPost, "anchors", anchor)
}

func (p *Provider) Update(ctx context.Context, id string, anchor provider.Anchor) (*provider.Receipt, error) {
	path, err := anchorPath(id)
	if err != nil {
		return nil, err
	}
	return p.call(ctx, http.MethodPut, path, anchor)
}

func (p *Provider) Revoke(ctx context.Context, id string) (*provider.Receipt, error) {
	path, err := anchorPath(id)
	if err != nil {
		return nil, err
	}
	return p.call(ctx, http.MethodPost, path+"/revoke", nil)
}

func (p *Provider) call(ctx context.Context, method, path string, body any) (*provider.Receipt, error) {
	out := &provider.Receipt{}
	if err := p.client.SendJSON(ctx, transport.Request{Method: method, Path: path, Body: body}, out); err != nil {
		p.logger.Error("ledger %s %s failed: %v", method, path, err)
		return nil, err
	}
	return out, nil
}

func anchorPath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", rules.NewValidationError("ledger id required", nil)
	}
	return "anchors/" + url.PathEscape(id), nil
}

var _ provider.Ledger = (*Provider)(nil)
