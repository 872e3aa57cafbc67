package dispatch

import (
	"context"
	"time"
)

// MetricsRecorder receives per operation timings and outcomes. Names are
// "<requesterType>.<operation>".
type MetricsRecorder interface {
	RecordDuration(name string, duration time.Duration)
	RecordError(name string)
	RecordSuccess(name string)
}

type nopMetrics struct{}

func (nopMetrics) RecordDuration(string, time.Duration) {}
func (nopMetrics) RecordError(string)                   {}
func (nopMetrics) RecordSuccess(string)                 {}

// measure wraps fn with the recorder.
func measure(ctx context.Context, recorder MetricsRecorder, name string, fn func(context.Context) (any, error)) (any, error) {
	start := time.Now()
	out, err := fn(ctx)
	recorder.RecordDuration(name, time.Since(start))
	if err != nil {
		recorder.RecordError(name)
	} else {
		recorder.RecordSuccess(name)
	}
	return out, err
}
