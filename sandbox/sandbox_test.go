package sandbox

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rules "github.com/goliatone/go-rules"
)

func fixtureArgs() Args {
	return Args{
		Documents: rules.Documents{
			{ID: "doc-11", DocumentTemplateID: 11, Data: map[string]any{
				"step":  map[string]any{"text": "abc"},
				"items": []any{map[string]any{"value": 10}, map[string]any{"value": 20}},
			}},
			{ID: "doc-12", DocumentTemplateID: 12, Data: map[string]any{"amount": 250}},
		},
		Events: rules.Events{
			{ID: "ev-1", EventTemplateID: 5, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Data: map[string]any{"n": 1}},
			{ID: "ev-2", EventTemplateID: 5, CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), Data: map[string]any{"n": 2}},
		},
	}
}

func TestEvaluateClosureForms(t *testing.T) {
	sb := New()
	ctx := context.Background()

	cases := map[string]struct {
		source string
		want   any
	}{
		"arrow with params":  {`(documents, events) => document(11).data.step.text`, "abc"},
		"renamed params":     {`(docs, evts) => len(docs) + len(evts)`, 4},
		"no params":          {`() => document(12).data.amount * 2`, 500},
		"single param":       {`docs => filter(docs, .documentTemplateId == 12)[0].data.amount`, 250},
		"block body":         {`() => { const base = 2; return base * 3; }`, 6},
		"function literal":   {`function (documents) { return len(documents); }`, 2},
		"self invoking":      {`(() => "x")()`, "x"},
		"bare expression":    {`latestEvent(5).data.n`, 2},
		"pick helper":        {`pick(document(11), "data.items.1.value")`, 20},
		"optional chaining":  {`document(999)?.data?.missing`, nil},
		"events list access": {`map(events, .id)`, []any{"ev-1", "ev-2"}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := sb.Evaluate(ctx, tc.source, fixtureArgs())
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestEvaluateMeta(t *testing.T) {
	sb := New()
	out, err := sb.Evaluate(context.Background(), `meta.workflowId + "-" + string(len(documents))`, fixtureArgs(),
		WithMeta(map[string]any{"workflowId": "wf-9"}))
	require.NoError(t, err)
	assert.Equal(t, "wf-9-2", out)
}

func TestEvaluateRejectsUnknownNames(t *testing.T) {
	sb := New()
	_, err := sb.Evaluate(context.Background(), `() => os.Getenv("HOME")`, fixtureArgs(),
		WithTemplateID("77"), WithField("person"))
	require.Error(t, err)
	assert.True(t, rules.IsEvaluationError(err))

	meta := rules.ErrorMetadata(err)
	assert.Equal(t, "77", meta["event_template_id"])
	assert.Equal(t, "person", meta["field"])
}

func TestEvaluateSyntaxAndRuntimeErrors(t *testing.T) {
	sb := New()

	_, err := sb.Evaluate(context.Background(), `(documents) => document(11).data.(`, fixtureArgs())
	assert.True(t, rules.IsEvaluationError(err))

	_, err = sb.Evaluate(context.Background(), `document(999).data.missing`, fixtureArgs())
	assert.True(t, rules.IsEvaluationError(err), "reading through an absent document is a runtime failure")

	_, err = sb.Evaluate(context.Background(), "   ", fixtureArgs())
	assert.True(t, rules.IsEvaluationError(err))
}

func TestParamShadowingHelperIsRejected(t *testing.T) {
	sb := New()
	_, err := sb.Evaluate(context.Background(), `(document) => document`, fixtureArgs())
	assert.True(t, rules.IsEvaluationError(err))
}

func TestAsyncHelpersAreAwaited(t *testing.T) {
	var calls int32
	sb := New(WithAsyncHelper("registryLookup", func(_ context.Context, args Args, params ...any) (any, error) {
		atomic.AddInt32(&calls, 1)
		return len(args.Documents) * 10, nil
	}))

	isAsync, err := sb.IsAsync(`() => registryLookup("x") + 1`)
	require.NoError(t, err)
	assert.True(t, isAsync)

	out, err := sb.Evaluate(context.Background(), `() => registryLookup("x") + 1`, fixtureArgs())
	require.NoError(t, err)
	assert.Equal(t, 21, out)

	out, err = sb.Evaluate(context.Background(), `() => await(registryLookup("x"))`, fixtureArgs())
	require.NoError(t, err)
	assert.Equal(t, 20, out)

	out, err = sb.Evaluate(context.Background(), `registryLookup(registryLookup(1))`, fixtureArgs())
	require.NoError(t, err)
	assert.Equal(t, 20, out)

	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))

	isAsync, err = sb.IsAsync(`() => len(documents)`)
	require.NoError(t, err)
	assert.False(t, isAsync)
}

func TestAsyncHelperHonoursTimeout(t *testing.T) {
	sb := New(
		WithTimeout(10*time.Millisecond),
		WithAsyncHelper("slow", func(ctx context.Context, _ Args, _ ...any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	)

	_, err := sb.Evaluate(context.Background(), `() => slow()`, fixtureArgs())
	require.Error(t, err)
	assert.True(t, rules.IsEvaluationError(err))
}

func TestHelperErrorsSurface(t *testing.T) {
	sb := New(WithHelper("explode", func(context.Context, Args, ...any) (any, error) {
		return nil, errors.New("helper exploded")
	}))
	_, err := sb.Evaluate(context.Background(), `explode()`, fixtureArgs())
	require.Error(t, err)
	assert.True(t, rules.IsEvaluationError(err))
}

func TestReservedHelperNamesIgnored(t *testing.T) {
	sb := New(WithHelper("documents", func(context.Context, Args, ...any) (any, error) { return "hijacked", nil }))
	out, err := sb.Evaluate(context.Background(), `len(documents)`, fixtureArgs())
	require.NoError(t, err)
	assert.Equal(t, 2, out)
	assert.NotContains(t, sb.HelperNames(), "documents")
}

func TestEvaluateIsDeterministic(t *testing.T) {
	sb := New()
	src := `(documents, events) => {"text": document(11).data.step.text, "count": len(events)}`

	first, err := sb.Evaluate(context.Background(), src, fixtureArgs())
	require.NoError(t, err)
	second, err := sb.Evaluate(context.Background(), src, fixtureArgs())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

type fileStoreAdapter struct{}

func (fileStoreAdapter) GetFile(_ context.Context, id string, _ bool) (*rules.File, error) {
	return &rules.File{Name: id + ".pdf", ContentType: "application/pdf", FileContent: "JVBERi0="}, nil
}

func (fileStoreAdapter) UploadFileFromStream(context.Context, io.Reader, rules.Upload) (*rules.FileInfo, error) {
	return nil, errors.New("not used")
}

type fixedLinks struct{}

func (fixedLinks) Link(_ context.Context, name string, params map[string]any) (string, error) {
	return "https://example.test/" + name + "/" + params["id"].(string), nil
}

func TestFileAndLinkHelpers(t *testing.T) {
	sb := New(WithFileStore(fileStoreAdapter{}), WithLinkResolver(fixedLinks{}))

	out, err := sb.Evaluate(context.Background(), `() => getFile("f-1").name`, fixtureArgs())
	require.NoError(t, err)
	assert.Equal(t, "f-1.pdf", out)

	out, err = sb.Evaluate(context.Background(), `() => link("download", {"id": "abc"})`, fixtureArgs())
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/download/abc", out)
}

func TestEvaluateWithArguments(t *testing.T) {
	sb := New()
	rec := map[string]any{"data": map[string]any{"status": "active", "score": 7}}

	keep, err := sb.Evaluate(context.Background(), `(record) => record.data.status == "active" && record.data.score > 5`,
		fixtureArgs(), WithArguments(rec))
	require.NoError(t, err)
	assert.Equal(t, true, keep)

	cmp, err := sb.Evaluate(context.Background(), `(a, b) => a.data.score - b.data.score`,
		fixtureArgs(), WithArguments(rec, map[string]any{"data": map[string]any{"score": 9}}))
	require.NoError(t, err)
	assert.Equal(t, -2, cmp)
}

func TestClosureParamsAreTypedByTheirArguments(t *testing.T) {
	sb := New()
	ctx := context.Background()

	n, err := sb.Evaluate(ctx, `(documents, events) => len(documents) + len(events)`, fixtureArgs())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	amount, err := sb.Evaluate(ctx, `(docs) => filter(docs, .documentTemplateId == 12)[0].data.amount`, fixtureArgs())
	require.NoError(t, err)
	assert.Equal(t, 250, amount)

	// same source, bound first to the documents list and then to a record
	src := `(x) => len(x)`
	n, err = sb.Evaluate(ctx, src, fixtureArgs())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = sb.Evaluate(ctx, src, fixtureArgs(), WithArguments(map[string]any{"a": 1, "b": 2, "c": 3}))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
