// Package external delivers decorated payloads to external government systems,
// either over HTTP or onto a NATS JetStream subject.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/provider"
	"github.com/goliatone/go-rules/transport"
)

const HTTPName = "http"

// System maps an external system to its endpoints. Path is the default entry
// point; Methods holds the bound methods reachable through "system.method".
type System struct {
	Path    string
	Methods map[string]string
}

// HTTPProvider posts payloads to systems/{system}[/{method}] unless a System
// overrides the paths.
type HTTPProvider struct {
	client  *transport.Client
	systems map[string]System
	logger  rules.Logger
}

func NewHTTP(client *transport.Client, systems map[string]System, logger rules.Logger) *HTTPProvider {
	if systems == nil {
		systems = map[string]System{}
	}
	return &HTTPProvider{client: client, systems: systems, logger: rules.NormalizeLogger(logger)}
}

// HTTPFactory reads the optional "systems" option:
//
//	systems:
//	  egov:
//	    path: /api/petitions
//	    methods:
//	      status: /api/petitions/status
func HTTPFactory(_ context.Context, settings provider.Settings, deps provider.Deps) (any, error) {
	if settings.BaseURL == "" {
		return nil, rules.NewConfigurationError("external service provider requires base_url", nil)
	}
	systems, err := parseSystems(settings.Options["systems"])
	if err != nil {
		return nil, err
	}
	return NewHTTP(deps.HTTPClient(settings), systems, deps.Logger), nil
}

func (p *HTTPProvider) Send(ctx context.Context, out provider.Outbound) (*provider.SendResult, error) {
	path, err := p.path(out.System, out.Method)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Send(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   out.Payload,
		Header: http.Header{"Accept": {"application/json"}},
	})
	if err != nil {
		p.logger.Error("external send failed system=%s method=%s template=%d: %v", out.System, out.Method, out.TemplateID, err)
		return nil, err
	}
	return DecodeResult(resp.Body)
}

// Methods lists the bound methods configured for system.
func (p *HTTPProvider) Methods(system string) []string {
	sys, ok := p.systems[system]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(sys.Methods))
	for name := range sys.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *HTTPProvider) path(system, method string) (string, error) {
	system = strings.TrimSpace(system)
	if system == "" {
		return "", rules.NewConfigurationError("external system name required", nil)
	}
	sys, configured := p.systems[system]
	if !configured {
		if method == "" {
			return "systems/" + url.PathEscape(system), nil
		}
		return "systems/" + url.PathEscape(system) + "/" + url.PathEscape(method), nil
	}
	if method == "" {
		if sys.Path == "" {
			return "systems/" + url.PathEscape(system), nil
		}
		return sys.Path, nil
	}
	path, ok := sys.Methods[method]
	if !ok {
		return "", rules.NewConfigurationError(
			fmt.Sprintf("external system %s has no method %s", system, method),
			map[string]any{"system": system, "method": method, "known": p.Methods(system)},
		)
	}
	return path, nil
}

// DecodeResult reads a JSON answer and lifts externalIdToSave out of it.
// Non-JSON bodies are returned as text.
func DecodeResult(body []byte) (*provider.SendResult, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return &provider.SendResult{}, nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return &provider.SendResult{Body: trimmed}, nil
	}

	res := &provider.SendResult{Body: decoded}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return res, nil
	}
	if raw, ok := obj["externalIdToSave"]; !ok || raw == nil {
		return res, nil
	}

	var envelope struct {
		Save map[string]any `json:"externalIdToSave"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return nil, rules.NewValidationError("malformed externalIdToSave: "+err.Error(), nil)
	}
	save := &rules.ExternalIDToSave{
		DocumentID: idString(envelope.Save["documentId"]),
		ExternalID: idString(envelope.Save["externalId"]),
	}
	if ids, ok := envelope.Save["documentIds"].([]any); ok {
		for _, id := range ids {
			save.DocumentIDs = append(save.DocumentIDs, idString(id))
		}
	}
	res.ExternalIDToSave = save
	return res, nil
}

// idString renders string or numeric ids; numbers keep their exact digits.
func idString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	}
	return fmt.Sprint(v)
}

func parseSystems(raw any) (map[string]System, error) {
	out := map[string]System{}
	if raw == nil {
		return out, nil
	}
	entries, ok := raw.(map[string]any)
	if !ok {
		return nil, rules.NewConfigurationError(fmt.Sprintf("systems option must be a map, got %T", raw), nil)
	}
	for name, value := range entries {
		cfg, ok := value.(map[string]any)
		if !ok {
			return nil, rules.NewConfigurationError(fmt.Sprintf("system %s must be a map, got %T", name, value), nil)
		}
		sys := System{Methods: map[string]string{}}
		if path, ok := cfg["path"].(string); ok {
			sys.Path = path
		}
		if methods, ok := cfg["methods"].(map[string]any); ok {
			for m, path := range methods {
				sys.Methods[m] = fmt.Sprint(path)
			}
		}
		out[name] = sys
	}
	return out, nil
}

var (
	_ provider.ExternalService = (*HTTPProvider)(nil)
	_ provider.MethodProvider  = (*HTTPProvider)(nil)
)
