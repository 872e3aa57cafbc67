package servicesrepo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/provider"
	"github.com/goliatone/go-rules/transport"
)

func TestMissingRequiredParamsNeverReachTheNetwork(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	p := New(transport.New(transport.WithBaseURL(srv.URL)), map[string][]string{"licence": {"taxId", "year"}}, nil)

	_, err := p.Create(context.Background(), provider.Call{Data: map[string]any{
		"service": "licence",
		"params":  map[string]any{"taxId": "123", "year": ""},
	}})
	require.Error(t, err)
	assert.True(t, rules.IsValidationError(err))
	assert.Equal(t, []string{"year"}, rules.ErrorMetadata(err)["missing"])
	assert.Zero(t, hits)

	_, err = p.Get(context.Background(), provider.Call{Data: map[string]any{}})
	assert.True(t, rules.IsValidationError(err))
}

func TestServiceCalls(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	p := New(transport.New(transport.WithBaseURL(srv.URL)), map[string][]string{"licence": {"taxId"}}, nil)
	call := provider.Call{Data: map[string]any{"service": "licence", "params": map[string]any{"taxId": 5, "kind": "a"}}}

	out, err := p.Get(context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, out)
	_, err = p.Update(context.Background(), call)
	require.NoError(t, err)

	assert.Equal(t, []string{"GET /services/licence?kind=a&taxId=5", "PUT /services/licence?"}, got)
}
