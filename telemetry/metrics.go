// Package telemetry records dispatch metrics with OpenTelemetry.
package telemetry

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of the engine metrics.
const meterName = "github.com/goliatone/go-rules"

// Recorder implements dispatch.MetricsRecorder on top of an OTel meter.
//
// Instruments:
//   - rules.dispatch.duration (Float64Histogram, seconds)
//   - rules.dispatch.calls (Int64Counter) with a status attribute of "ok" or "error"
//
// Both carry the requester_type and operation attributes split from the
// recorded name.
type Recorder struct {
	duration metric.Float64Histogram
	calls    metric.Int64Counter
}

// NewRecorder uses the global MeterProvider.
func NewRecorder() *Recorder {
	return NewRecorderWithMeter(otel.Meter(meterName))
}

// NewRecorderWithMeter builds the instruments on meter. Instrument errors
// leave noop instruments in place.
func NewRecorderWithMeter(meter metric.Meter) *Recorder {
	duration, _ := meter.Float64Histogram(
		"rules.dispatch.duration",
		metric.WithDescription("Duration of provider dispatches in seconds"),
		metric.WithUnit("s"),
	)
	calls, _ := meter.Int64Counter(
		"rules.dispatch.calls",
		metric.WithDescription("Total number of provider dispatches"),
		metric.WithUnit("{call}"),
	)
	return &Recorder{duration: duration, calls: calls}
}

func (r *Recorder) RecordDuration(name string, d time.Duration) {
	if r == nil || r.duration == nil {
		return
	}
	r.duration.Record(context.Background(), d.Seconds(), metric.WithAttributes(attrs(name)...))
}

func (r *Recorder) RecordError(name string) {
	r.count(name, "error")
}

func (r *Recorder) RecordSuccess(name string) {
	r.count(name, "ok")
}

func (r *Recorder) count(name, status string) {
	if r == nil || r.calls == nil {
		return
	}
	kv := append(attrs(name), attribute.String("status", status))
	r.calls.Add(context.Background(), 1, metric.WithAttributes(kv...))
}

func attrs(name string) []attribute.KeyValue {
	requester, op, _ := strings.Cut(name, ".")
	return []attribute.KeyValue{
		attribute.String("requester_type", requester),
		attribute.String("operation", op),
	}
}
