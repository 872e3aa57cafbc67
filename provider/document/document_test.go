package document

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/provider"
	"github.com/goliatone/go-rules/transport"
)

func TestDocumentCRUD(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		calls = append(calls, r.Method+" "+r.URL.Path+" "+string(raw))
		_, _ = w.Write([]byte(`{"id":"7"}`))
	}))
	defer srv.Close()

	p := New(transport.New(transport.WithBaseURL(srv.URL)), nil)
	ctx := context.Background()

	out, err := p.Create(ctx, provider.Call{Data: map[string]any{"data": map[string]any{"title": "a"}}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "7"}, out)

	_, err = p.Get(ctx, provider.Call{Data: map[string]any{"id": 7}})
	require.NoError(t, err)
	_, err = p.Update(ctx, provider.Call{Data: map[string]any{"id": "7", "data": map[string]any{"title": "b"}}})
	require.NoError(t, err)
	_, err = p.Delete(ctx, provider.Call{Data: map[string]any{"id": "7"}})
	require.NoError(t, err)

	assert.Equal(t, []string{
		`POST /documents {"title":"a"}`,
		"GET /documents/7 ",
		`PUT /documents/7 {"title":"b"}`,
		"DELETE /documents/7 ",
	}, calls)
}

func TestDocumentIDRequired(t *testing.T) {
	p := New(transport.New(), nil)
	_, err := p.Delete(context.Background(), provider.Call{Data: map[string]any{}})
	assert.True(t, rules.IsValidationError(err))
}
