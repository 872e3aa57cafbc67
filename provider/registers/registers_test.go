package registers

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
	"github.com/goliatone/go-rules/record"
	"github.com/goliatone/go-rules/sandbox"
	"github.com/goliatone/go-rules/transport"
)

func newProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(transport.New(transport.WithBaseURL(srv.URL)), sandbox.New(), nil)
}

func TestSearchComposesRemoteAndLocalFiltering(t *testing.T) {
	var query map[string][]string
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/registers/7/records", r.URL.Path)
		query = r.URL.Query()
		_, _ = w.Write([]byte(`{"total":3,"items":[
			{"id":1,"data":{"score":5,"status":"active"}},
			{"id":2,"data":{"score":1,"status":"closed"}},
			{"id":3,"data":{"score":9,"status":"active"}}
		]}`))
	})

	page, err := p.Search(context.Background(), provider.Query{
		RegisterID: 7,
		KeyID:      "k1",
		Filters:    map[string]any{"region": "north"},
		Sort:       "createdAt",
		Descending: true,
		Limit:      20,
		PostFilter: `(record) => record.data.status == "active"`,
		Comparator: `(a, b) => b.data.score - a.data.score`,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"north"}, query["filter[region]"])
	assert.Equal(t, []string{"k1"}, query["keyId"])
	assert.Equal(t, []string{"desc"}, query["order"])
	assert.Equal(t, []string{"20"}, query["limit"])

	require.Len(t, page.Items, 2)
	assert.Equal(t, float64(3), page.Items[0]["id"])
	assert.Equal(t, float64(1), page.Items[1]["id"])
	assert.Equal(t, 3, page.Total)
}

func TestSearchPostFilterErrorAborts(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"id":1}]}`))
	})
	_, err := p.Search(context.Background(), provider.Query{RegisterID: 1, PostFilter: `(r) => nope(r)`})
	require.Error(t, err)
	assert.True(t, rules.IsEvaluationError(err))
}

func TestCreateAndUpdateRecord(t *testing.T) {
	var methods, paths []string
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"rec-9"}`))
	})

	rec := &record.Record{RegisterID: 4, KeyID: 2, Data: map[string]any{"name": "x"}}
	out, err := p.CreateRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "rec-9", out["id"])

	_, err = p.UpdateRecord(context.Background(), rec)
	assert.True(t, rules.IsValidationError(err))

	rec.RecordID = "rec-9"
	_, err = p.UpdateRecord(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, []string{http.MethodPost, http.MethodPut}, methods)
	assert.Equal(t, []string{"/registers/4/records", "/registers/4/records/rec-9"}, paths)
}

func TestRemoteErrorPropagates(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "register locked", http.StatusConflict)
	})
	err := p.DeleteRecord(context.Background(), provider.RecordRef{RegisterID: 1, RecordID: 2})
	require.Error(t, err)
	assert.True(t, rules.IsTransportError(err))
	assert.Contains(t, err.Error(), "register locked")
}

func TestExportCSVStreams(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/registers/3/records/export", r.URL.Path)
		assert.Equal(t, "csv", r.URL.Query().Get("format"))
		assert.Equal(t, []string{"a", "b"}, r.URL.Query()["columns"])
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("a,b\n1,2\n"))
	})

	s, err := p.ExportCSV(context.Background(), provider.Query{RegisterID: 3, Columns: []string{"a", "b"}})
	require.NoError(t, err)
	defer s.Body.Close()
	raw, err := io.ReadAll(s.Body)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(raw))
}

func TestRegisterIDRequired(t *testing.T) {
	p := New(transport.New(), nil, nil)
	_, err := p.Search(context.Background(), provider.Query{})
	assert.True(t, rules.IsValidationError(err))
}
