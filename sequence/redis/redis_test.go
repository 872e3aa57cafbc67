package redis

import (
	"context"
	"errors"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIncr struct {
	keys   []string
	counts map[string]int64
	err    error
}

func (f *fakeIncr) Incr(_ context.Context, key string) *goredis.IntCmd {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return goredis.NewIntResult(0, f.err)
	}
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[key]++
	return goredis.NewIntResult(f.counts[key], nil)
}

func TestNextIncrementsPrefixedKey(t *testing.T) {
	client := &fakeIncr{}
	store := New(client, WithPrefix("rules:seq:"))

	first, err := store.Next(context.Background(), "exec_2026")
	require.NoError(t, err)
	second, err := store.Next(context.Background(), "exec_2026")
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
	assert.Equal(t, []string{"rules:seq:exec_2026", "rules:seq:exec_2026"}, client.keys)
}

func TestNextWrapsClientErrors(t *testing.T) {
	store := New(&fakeIncr{err: errors.New("connection refused")})
	_, err := store.Next(context.Background(), "exec_2026")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = store.Next(context.Background(), "")
	assert.Error(t, err)
}
