// Package sequence provides named, strictly increasing counters. Production
// stores (redis, postgres) rely on an atomic increment in the backing store so
// that several engine processes can share a counter.
package sequence

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Store hands out the next value of a named sequence. Values start at 1.
type Store interface {
	Next(ctx context.Context, name string) (int64, error)
}

// YearScoped names the sequence for the calendar year of t.
func YearScoped(name string, t time.Time) string {
	return fmt.Sprintf("%s_%d", strings.TrimSpace(name), t.Year())
}

// Memory is an in-process Store. It is only safe for a single process.
type Memory struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]int64)}
}

func (m *Memory) Next(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("sequence: name required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name]++
	return m.values[name], nil
}

// Current returns the last value handed out, zero when unused.
func (m *Memory) Current(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[name]
}
