package external

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/provider"
	"github.com/goliatone/go-rules/transport"
)

func TestHTTPSendDefaultAndBoundMethods(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"petition":1}`, string(body))
		_, _ = w.Write([]byte(`{"ok":true,"externalIdToSave":{"documentId":"d1","documentIds":["d2",3],"externalId":123456789012345}}`))
	}))
	defer srv.Close()

	systems, err := parseSystems(map[string]any{
		"egov": map[string]any{
			"path":    "/api/petitions",
			"methods": map[string]any{"status": "/api/petitions/status"},
		},
	})
	require.NoError(t, err)
	p := NewHTTP(transport.New(transport.WithBaseURL(srv.URL)), systems, nil)

	res, err := p.Send(context.Background(), provider.Outbound{System: "egov", Payload: map[string]any{"petition": 1}})
	require.NoError(t, err)
	require.NotNil(t, res.ExternalIDToSave)
	assert.Equal(t, "d1", res.ExternalIDToSave.DocumentID)
	assert.Equal(t, []string{"d2", "3"}, res.ExternalIDToSave.DocumentIDs)
	assert.Equal(t, "123456789012345", res.ExternalIDToSave.ExternalID)

	_, err = p.Send(context.Background(), provider.Outbound{System: "egov", Method: "status", Payload: map[string]any{"petition": 1}})
	require.NoError(t, err)

	_, err = p.Send(context.Background(), provider.Outbound{System: "tax", Method: "submit", Payload: map[string]any{"petition": 1}})
	require.NoError(t, err)

	assert.Equal(t, []string{"/api/petitions", "/api/petitions/status", "/systems/tax/submit"}, paths)
	assert.Equal(t, []string{"status"}, p.Methods("egov"))

	_, err = p.Send(context.Background(), provider.Outbound{System: "egov", Method: "cancel"})
	assert.True(t, rules.IsConfigurationError(err))
}

func TestDecodeResult(t *testing.T) {
	res, err := DecodeResult([]byte(`{"status":"queued"}`))
	require.NoError(t, err)
	assert.Nil(t, res.ExternalIDToSave)
	assert.Equal(t, map[string]any{"status": "queued"}, res.Body)

	res, err = DecodeResult([]byte("accepted"))
	require.NoError(t, err)
	assert.Equal(t, "accepted", res.Body)

	res, err = DecodeResult(nil)
	require.NoError(t, err)
	assert.Nil(t, res.Body)

	_, err = DecodeResult([]byte(`{"externalIdToSave":"nope"}`))
	assert.True(t, rules.IsValidationError(err))
}

type fakePublisher struct {
	subject string
	data    []byte
	err     error
}

func (f *fakePublisher) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	f.subject, f.data = subj, data
	if f.err != nil {
		return nil, f.err
	}
	return &nats.PubAck{Stream: "RULES_EXTERNAL", Sequence: 42}, nil
}

func TestJetStreamSendPublishesEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	p := NewJetStream(pub, "", nil)

	res, err := p.Send(context.Background(), provider.Outbound{System: "egov", Method: "status", TemplateID: 9, Payload: map[string]any{"a": 1}})
	require.NoError(t, err)
	assert.Equal(t, "rules.external.egov.status", pub.subject)
	assert.Nil(t, res.ExternalIDToSave)
	assert.Equal(t, uint64(42), res.Body.(map[string]any)["sequence"])

	var env Envelope
	require.NoError(t, json.Unmarshal(pub.data, &env))
	assert.Equal(t, "egov", env.System)
	assert.Equal(t, 9, env.TemplateID)

	pub.err = errors.New("no responders")
	_, err = p.Send(context.Background(), provider.Outbound{System: "egov"})
	assert.True(t, rules.IsTransportError(err))
	assert.NoError(t, p.Close())
}
