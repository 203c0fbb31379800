// Package telemetry records per-query stage timings and outcome counters.
// Recording is fire-and-forget: it must never block or fail the response
// path, so every failure in here is swallowed after logging.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/civicrag/civicrag/engine/domain"
	"github.com/civicrag/civicrag/pkg/metrics"
	"github.com/civicrag/civicrag/pkg/natsutil"
)

// MetricsSubject is the NATS subject query events are published to.
const MetricsSubject = "civicrag.metrics.query"

// QueryMetrics is the per-request record handed to Record. Stage durations
// are keyed by stage name; absent stages were never reached.
type QueryMetrics struct {
	Outcome   domain.Outcome
	ErrorKind string // set when Outcome is OutcomeError
	Stages    map[string]time.Duration
}

// QueryEvent is the JSON shape published to the metrics sink.
type QueryEvent struct {
	Timestamp time.Time        `json:"timestamp"`
	Outcome   string           `json:"outcome"`
	ErrorKind string           `json:"error_kind,omitempty"`
	StagesMS  map[string]int64 `json:"stages_ms"`
}

// Recorder aggregates into a local registry and publishes events to NATS.
// A nil NATS conn disables publishing; a nil registry disables aggregation.
type Recorder struct {
	reg    *metrics.Registry
	nc     *nats.Conn
	logger *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(reg *metrics.Registry, nc *nats.Conn, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{reg: reg, nc: nc, logger: logger}
}

// Record captures one finished request. It never returns an error and
// never panics outward.
func (r *Recorder) Record(ctx context.Context, qm QueryMetrics) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("telemetry: panic while recording, dropped", "panic", p)
		}
	}()

	if r.reg != nil {
		r.reg.Counter(metrics.WithLabels("civicrag_query_outcomes_total", "outcome", string(qm.Outcome)),
			"Query outcomes by kind.").Inc()
		if qm.ErrorKind != "" {
			r.reg.Counter(metrics.WithLabels("civicrag_query_errors_total", "kind", qm.ErrorKind),
				"Query errors by taxonomy kind.").Inc()
		}
		for stage, d := range qm.Stages {
			r.reg.Histogram(metrics.WithLabels("civicrag_stage_duration_ms", "stage", stage),
				"Per-stage pipeline durations in milliseconds.", nil).ObserveDuration(d)
		}
	}

	if r.nc != nil {
		ev := QueryEvent{
			Timestamp: time.Now().UTC(),
			Outcome:   string(qm.Outcome),
			ErrorKind: qm.ErrorKind,
			StagesMS:  make(map[string]int64, len(qm.Stages)),
		}
		for stage, d := range qm.Stages {
			ev.StagesMS[stage] = d.Milliseconds()
		}
		if err := natsutil.Publish(ctx, r.nc, MetricsSubject, ev); err != nil {
			r.logger.Warn("telemetry: metrics publish failed, dropped", "err", err)
		}
	}
}
