package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rules "github.com/goliatone/go-rules"
)

type stubLedger struct {
	UnimplementedLedger
	settings Settings
	closed   bool
}

func (s *stubLedger) Close() error {
	s.closed = true
	return nil
}

func TestParseCapability(t *testing.T) {
	c, err := ParseCapability(" externalservice ")
	require.NoError(t, err)
	assert.Equal(t, CapabilityExternalService, c)

	_, err = ParseCapability("fax")
	require.Error(t, err)
	assert.True(t, rules.IsConfigurationError(err))
}

func TestRegistryBuildsOneProviderPerCapability(t *testing.T) {
	reg := NewRegistry()
	builds := 0
	require.NoError(t, reg.Register(CapabilityBlockchain, "stub", func(_ context.Context, s Settings, _ Deps) (any, error) {
		builds++
		return &stubLedger{settings: s}, nil
	}))
	require.NoError(t, reg.Register(CapabilityBlockchain, "other", func(context.Context, Settings, Deps) (any, error) {
		return UnimplementedLedger{}, nil
	}))
	assert.Equal(t, []string{"other", "stub"}, reg.Names(CapabilityBlockchain))

	set, err := reg.Build(context.Background(), map[Capability]Settings{
		CapabilityBlockchain: {Name: "stub", BaseURL: "http://ledger"},
		CapabilityRegisters:  {},
	}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, 1, builds)

	first, err := set.Ledger()
	require.NoError(t, err)
	second, err := set.Ledger()
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, "http://ledger", first.(*stubLedger).settings.BaseURL)

	assert.False(t, set.Has(CapabilityRegisters))
	_, err = set.Registers()
	assert.True(t, rules.HasCode(err, rules.ErrCodeProviderNotFound))

	require.NoError(t, set.Close())
	assert.True(t, first.(*stubLedger).closed)
}

func TestRegistryRejectsDuplicatesAndUnknownNames(t *testing.T) {
	reg := NewRegistry()
	f := func(context.Context, Settings, Deps) (any, error) { return UnimplementedCRUD{}, nil }
	require.NoError(t, reg.Register(CapabilityDocument, "http", f))
	assert.True(t, rules.IsConfigurationError(reg.Register(CapabilityDocument, "http", f)))
	assert.True(t, rules.IsConfigurationError(reg.Register(Capability("bogus"), "http", f)))

	_, err := reg.Build(context.Background(), map[Capability]Settings{
		CapabilityDocument: {Name: "grpc"},
	}, Deps{})
	require.Error(t, err)
	assert.True(t, rules.IsConfigurationError(err))
}

func TestRegistryRejectsWrongContract(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(CapabilityRegisters, "ledger", func(context.Context, Settings, Deps) (any, error) {
		return UnimplementedLedger{}, nil
	}))
	_, err := reg.Build(context.Background(), map[Capability]Settings{CapabilityRegisters: {Name: "ledger"}}, Deps{})
	require.Error(t, err)
	assert.True(t, rules.IsConfigurationError(err))
}

func TestRegistryFactoryError(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("dial failed")
	require.NoError(t, reg.Register(CapabilityExternalService, "nats", func(context.Context, Settings, Deps) (any, error) {
		return nil, boom
	}))
	_, err := reg.Build(context.Background(), map[Capability]Settings{CapabilityExternalService: {Name: "nats"}}, Deps{})
	assert.ErrorIs(t, err, boom)
}

func TestUnimplementedFailsLoudly(t *testing.T) {
	ctx := context.Background()

	_, err := UnimplementedCRUD{Capability: CapabilityDocument}.Delete(ctx, Call{})
	assert.True(t, rules.IsNotImplemented(err))
	assert.Contains(t, err.Error(), "document")

	_, err = UnimplementedRegisters{}.Search(ctx, Query{})
	assert.True(t, rules.IsNotImplemented(err))

	_, err = UnimplementedLedger{}.Revoke(ctx, "x")
	assert.True(t, rules.IsNotImplemented(err))

	_, err = UnimplementedExternalService{}.Send(ctx, Outbound{})
	assert.True(t, rules.IsNotImplemented(err))
}

func TestSettingsOption(t *testing.T) {
	s := Settings{Options: map[string]any{"subject": "rules", "empty": "", "nil": nil, "n": 3}}
	assert.Equal(t, "rules", s.Option("subject", "x"))
	assert.Equal(t, "x", s.Option("empty", "x"))
	assert.Equal(t, "x", s.Option("nil", "x"))
	assert.Equal(t, "3", s.Option("n", "x"))
	assert.Equal(t, "x", s.Option("missing", "x"))
}
