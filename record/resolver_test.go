package record

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/sandbox"
	"github.com/goliatone/go-rules/sequence"
)

type fixedIDs struct {
	value int64
	calls int
}

func (f *fixedIDs) NewID() (int64, error) {
	f.calls++
	return f.value, nil
}

func fixtureDocuments() rules.Documents {
	return rules.Documents{
		{ID: "d11", DocumentTemplateID: 11, Data: map[string]any{"step": map[string]any{"text": "abc"}}},
		{ID: "d5", DocumentTemplateID: 5, Data: map[string]any{}, IsFinal: true},
	}
}

func withItems(docs rules.Documents) rules.Documents {
	docs[1].Data["items"] = []any{
		map[string]any{"value": "zero"},
		map[string]any{"value": "one"},
		map[string]any{"value": "two"},
	}
	return docs
}

func newTestResolver(opts ...Option) *Resolver {
	return NewResolver(sandbox.New(), opts...)
}

func TestResolveDocumentPath(t *testing.T) {
	res := newTestResolver()
	spec := &Spec{Map: FieldMap{{Name: "x", Value: "documents.11.data.step.text"}}}

	rec, err := res.Resolve(context.Background(), spec, fixtureDocuments(), nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", rec.Data["x"])
}

func TestResolveMissingPathIsUndefined(t *testing.T) {
	res := newTestResolver()
	spec := &Spec{Map: FieldMap{{Name: "missing", Value: "documents.999.data.missing"}}}

	rec, err := res.Resolve(context.Background(), spec, fixtureDocuments(), nil)
	require.NoError(t, err)
	assert.Contains(t, rec.Data, "missing")
	assert.Nil(t, rec.Data["missing"])
}

func TestResolveArrayIndexSubstitution(t *testing.T) {
	res := newTestResolver()
	spec := &Spec{Map: FieldMap{
		{Name: "byPath", Value: "documents.5.data.items.X.value"},
		{Name: "byBracket", Value: "documents.5.data.items[X].value"},
		{Name: "byExpression", Value: "(documents) => document(5).data.items[X].value + '!'"},
	}}

	rec, err := res.Resolve(context.Background(), spec, withItems(fixtureDocuments()), nil, WithArrayIndex(2))
	require.NoError(t, err)
	assert.Equal(t, "two", rec.Data["byPath"])
	assert.Equal(t, "two", rec.Data["byBracket"])
	assert.Equal(t, "two!", rec.Data["byExpression"])
}

func TestResolveIsDeterministicExceptIDTokens(t *testing.T) {
	res := newTestResolver()
	spec := &Spec{
		RegisterID: 3,
		KeyID:      "key-7",
		Person:     `() => {"name": document(11).data.step.text}`,
		Map: FieldMap{
			{Name: "text", Value: "documents.11.data.step.text"},
			{Name: "final", Value: "(documents) => document(5).isFinal"},
			{Name: "count", Value: 3},
			{Name: "id", Value: "id.number"},
		},
	}

	first, err := res.Resolve(context.Background(), spec, fixtureDocuments(), nil)
	require.NoError(t, err)
	second, err := res.Resolve(context.Background(), spec, fixtureDocuments(), nil)
	require.NoError(t, err)

	delete(first.Data, "id")
	delete(second.Data, "id")
	assert.Equal(t, first, second)
	assert.Equal(t, map[string]any{"name": "abc"}, first.Person)
	assert.Equal(t, 3, first.RegisterID)
	assert.Equal(t, true, first.Data["final"])
	assert.Equal(t, 3, first.Data["count"])
}

func TestResolveIDTokensShareOneNumber(t *testing.T) {
	ids := &fixedIDs{value: 123456789012}
	res := newTestResolver(WithIDSource(ids))
	spec := &Spec{Map: FieldMap{
		{Name: "n", Value: "id.number"},
		{Name: "s", Value: "id.string"},
	}}

	rec, err := res.Resolve(context.Background(), spec, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(123456789012), rec.Data["n"])
	assert.Equal(t, EncodeID(123456789012), rec.Data["s"])
	assert.Equal(t, 1, ids.calls)
}

func TestRandomIDsAreTwelveDigits(t *testing.T) {
	for i := 0; i < 20; i++ {
		n, err := RandomIDs{}.NewID()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, idMin)
		assert.Less(t, n, idMax)
	}
}

func TestResolveCustomHandlersSeeResolvedSiblingsInOrder(t *testing.T) {
	custom := NewCustomRegistry()
	var seen []map[string]any
	require.NoError(t, custom.Register("audit.snapshot", func(_ context.Context, call CustomCall) (any, error) {
		seen = append(seen, call.Resolved)
		return len(call.Resolved), nil
	}))

	res := newTestResolver(WithCustomRegistry(custom))
	spec := &Spec{Map: FieldMap{
		{Name: "a", Value: "documents.11.data.step.text"},
		{Name: "first", Value: "custom.audit.snapshot"},
		{Name: "b", Value: "() => 'b'"},
		{Name: "second", Value: "custom.audit.snapshot"},
	}}

	rec, err := res.Resolve(context.Background(), spec, fixtureDocuments(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Data["first"])
	assert.Equal(t, 3, rec.Data["second"])
	require.Len(t, seen, 2)
	assert.Equal(t, map[string]any{"a": "abc"}, seen[0])
}

func TestResolveUnknownCustomHandlerAlwaysFails(t *testing.T) {
	seq := sequence.NewMemory()
	custom := NewCustomRegistry()
	require.NoError(t, custom.Register(ExecutiveDocumentNumber, ExecutiveDocumentNumberHandler(seq, nil)))

	res := newTestResolver(WithCustomRegistry(custom))
	spec := &Spec{Map: FieldMap{
		{Name: "number", Value: "custom." + ExecutiveDocumentNumber},
		{Name: "bad", Value: "custom.unknown.thing"},
	}}

	for _, docs := range []rules.Documents{nil, fixtureDocuments()} {
		_, err := res.Resolve(context.Background(), spec, docs, nil, WithTemplateID("31"))
		require.Error(t, err)
		assert.True(t, rules.IsConfigurationError(err))
		assert.Equal(t, "bad", rules.ErrorMetadata(err)["field"])
	}
	assert.Zero(t, seq.Current(sequence.YearScoped("executive_document_number", time.Now())),
		"no handler may run when another one is unknown")
}

func TestExecutiveDocumentNumberPerYear(t *testing.T) {
	seq := sequence.NewMemory()
	now := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	h := ExecutiveDocumentNumberHandler(seq, func() time.Time { return now })

	first, err := h(context.Background(), CustomCall{})
	require.NoError(t, err)
	second, err := h(context.Background(), CustomCall{})
	require.NoError(t, err)
	assert.Equal(t, "1/2026", first)
	assert.Equal(t, "2/2026", second)

	now = now.AddDate(1, 0, 0)
	third, err := h(context.Background(), CustomCall{})
	require.NoError(t, err)
	assert.Equal(t, "1/2027", third)
}

func TestCustomRegistryValidation(t *testing.T) {
	r := NewCustomRegistry()
	noop := func(context.Context, CustomCall) (any, error) { return nil, nil }

	assert.Error(t, r.Register("nodot", noop))
	assert.Error(t, r.Register("a.b.c", noop))
	assert.Error(t, r.Register("svc.method", nil))
	require.NoError(t, r.Register("custom.svc.method", noop))
	assert.True(t, rules.IsConfigurationError(r.Register("svc.method", noop)))

	_, ok := r.Lookup("custom.svc.method")
	assert.True(t, ok)
	assert.Equal(t, []string{"svc.method"}, r.IDs())
}

func TestResolveFieldFailureAbortsWholeRecord(t *testing.T) {
	res := newTestResolver()
	spec := &Spec{Map: FieldMap{
		{Name: "ok", Value: "documents.11.data.step.text"},
		{Name: "broken", Value: "() => notAHelper(1)"},
		{Name: "never", Value: "documents.11.data.step.text"},
	}}

	rec, err := res.Resolve(context.Background(), spec, fixtureDocuments(), nil, WithTemplateID("8"))
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.True(t, rules.HasCode(err, rules.ErrCodeFieldResolution))
	assert.True(t, rules.IsEvaluationError(err))
	assert.Equal(t, "broken", rules.ErrorMetadata(err)["field"])
}

func TestResolveRawClosure(t *testing.T) {
	res := newTestResolver()
	spec := &Spec{Raw: `(documents) => {"registerId": 4, "keyId": 9, "data": {"text": document(11).data.step.text}}`}

	rec, err := res.Resolve(context.Background(), spec, fixtureDocuments(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.RegisterID)
	assert.Equal(t, 9, rec.KeyID)
	assert.Equal(t, map[string]any{"text": "abc"}, rec.Data)

	_, err = res.Resolve(context.Background(), &Spec{Raw: `() => 42`}, nil, nil)
	assert.True(t, rules.IsValidationError(err))

	_, err = res.Resolve(context.Background(), nil, nil, nil)
	assert.True(t, rules.IsValidationError(err))
}

func TestSpecDecodingKeepsFieldOrder(t *testing.T) {
	yamlSrc := `
registerId: 12
keyId: 40
recordId: "() => 'fixed'"
map:
  zeta: documents.11.data.step.text
  alpha: id.number
  middle: 7
`
	var fromYAML Spec
	require.NoError(t, yaml.Unmarshal([]byte(yamlSrc), &fromYAML))
	assert.Equal(t, []string{"zeta", "alpha", "middle"}, fromYAML.Map.Names())
	assert.Equal(t, 12, fromYAML.RegisterID)

	jsonSrc := `{"registerId": 12, "map": {"zeta": "a", "alpha": "b", "middle": 1}}`
	var fromJSON Spec
	require.NoError(t, json.Unmarshal([]byte(jsonSrc), &fromJSON))
	assert.Equal(t, []string{"zeta", "alpha", "middle"}, fromJSON.Map.Names())

	out, err := json.Marshal(fromJSON.Map)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":"a","alpha":"b","middle":1}`, string(out))

	var raw Spec
	require.NoError(t, json.Unmarshal([]byte(`"() => {}"`), &raw))
	assert.True(t, raw.IsRaw())

	var rawYAML Spec
	require.NoError(t, yaml.Unmarshal([]byte(`"(documents) => 1"`), &rawYAML))
	assert.Equal(t, "(documents) => 1", rawYAML.Raw)
}

func TestResolveClosureReadsItsParameters(t *testing.T) {
	res := newTestResolver()
	events := rules.Events{{ID: "ev-1", EventTemplateID: 3, Data: map[string]any{"n": 1}}}
	spec := &Spec{Map: FieldMap{
		{Name: "count", Value: "(documents, events) => len(documents) + len(events)"},
		{Name: "text", Value: "(documents) => filter(documents, .documentTemplateId == 11)[0].data.step.text"},
	}}

	rec, err := res.Resolve(context.Background(), spec, fixtureDocuments(), events)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Data["count"])
	assert.Equal(t, "abc", rec.Data["text"])
}
