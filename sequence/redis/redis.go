// Package redis backs sequence.Store with Redis INCR.
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	seq := redis.New(client, redis.WithPrefix("rules:seq:"))
package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

// Incrementer is the slice of redis.Cmdable the store needs.
type Incrementer interface {
	Incr(ctx context.Context, key string) *goredis.IntCmd
}

// Option configures the Store.
type Option func(*Store)

// WithPrefix sets the key prefix, "sequence:" by default.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// Store implements sequence.Store. The caller owns the client lifecycle.
type Store struct {
	client Incrementer
	prefix string
}

func New(client Incrementer, opts ...Option) *Store {
	s := &Store{client: client, prefix: "sequence:"}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

func (s *Store) Key(name string) string {
	return s.prefix + strings.TrimSpace(name)
}

// Next atomically increments the counter; a missing key starts at 1.
func (s *Store) Next(ctx context.Context, name string) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("sequence/redis: name required")
	}
	v, err := s.client.Incr(ctx, s.Key(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("sequence/redis: incr %s: %w", name, err)
	}
	return v, nil
}
