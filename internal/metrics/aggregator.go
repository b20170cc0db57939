package metrics

import (
	"time"

	"github.com/pressq/pressq/internal/types"
)

// Aggregator observes dispatch outcomes and exposes both the Prometheus
// registry and the JSON snapshot used by the status endpoint.
//
// All recording methods are driven by atomic counters and never block a
// dispatch worker. The Aggregator is created at server start and owns the
// only shared counter state in the process.
type Aggregator struct {
	reg *Registry

	// depthFn reports the current queue depth. Injected by the dispatcher at
	// wiring time; nil reports 0.
	depthFn func() int
}

// NewAggregator creates an Aggregator around reg.
func NewAggregator(reg *Registry) *Aggregator {
	return &Aggregator{reg: reg}
}

// Registry exposes the underlying counter registry (for the /metrics handler).
func (a *Aggregator) Registry() *Registry { return a.reg }

// SetDepthFn injects the queue-depth probe used by Snapshot.
func (a *Aggregator) SetDepthFn(fn func() int) { a.depthFn = fn }

// RecordSubmitted counts a message accepted into the queue and bumps the
// pending gauge.
func (a *Aggregator) RecordSubmitted(action types.Action) {
	a.reg.Submitted.Inc(string(action))
	a.reg.PendingGauge.Add(1)
}

// RecordRejected counts a submission rejected before enqueue. Rejected
// messages never appear in any other counter.
func (a *Aggregator) RecordRejected(action, reason string) {
	a.reg.Rejected.Inc(RejectKey(action, reason))
}

// RecordTransition records a status transition for msg. kind qualifies
// transitions into StatusFailed and is ignored otherwise.
//
// Transitions drive the pending/in-flight gauges and the terminal counters;
// terminal transitions also record submission-to-completion latency.
func (a *Aggregator) RecordTransition(msg *types.Message, from, to types.Status, kind types.FailureKind) {
	switch {
	case from == types.StatusPending && to == types.StatusInFlight:
		a.reg.PendingGauge.Add(-1)
		a.reg.InFlightGauge.Add(1)

	case from == types.StatusInFlight && to == types.StatusPending:
		// Retry re-enqueue.
		a.reg.InFlightGauge.Add(-1)
		a.reg.PendingGauge.Add(1)
		a.reg.Retried.Inc(string(msg.Action))

	case to == types.StatusSucceeded:
		a.reg.InFlightGauge.Add(-1)
		a.reg.Succeeded.Inc(string(msg.Action))
		a.recordLatency(msg)

	case to == types.StatusFailed:
		if from == types.StatusInFlight {
			a.reg.InFlightGauge.Add(-1)
		} else {
			a.reg.PendingGauge.Add(-1)
		}
		a.reg.Failed.Inc(FailKey(string(msg.Action), string(kind)))
		if kind == types.KindCancelled {
			a.reg.Cancelled.Inc(string(msg.Action))
		}
		a.recordLatency(msg)
	}
}

func (a *Aggregator) recordLatency(msg *types.Message) {
	lat := time.Now().UnixMilli() - msg.SubmittedAt
	if lat < 0 {
		lat = 0
	}
	a.reg.LatencySumMs.Add(lat)
	a.reg.LatencyCount.Add(1)
}

// Snapshot is a point-in-time view of aggregate dispatch state.
type Snapshot struct {
	QueueDepth   int64   `json:"queue_depth"`
	Pending      int64   `json:"pending"`
	InFlight     int64   `json:"in_flight"`
	Succeeded    int64   `json:"succeeded"`
	Failed       int64   `json:"failed"`
	Retried      int64   `json:"retried"`
	Cancelled    int64   `json:"cancelled"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Snapshot returns the current aggregate counters. Cheap: a handful of atomic
// loads plus one pass over the per-action counter maps.
func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		Pending:   a.reg.PendingGauge.Load(),
		InFlight:  a.reg.InFlightGauge.Load(),
		Succeeded: a.reg.Succeeded.Total(),
		Failed:    a.reg.Failed.Total(),
		Retried:   a.reg.Retried.Total(),
		Cancelled: a.reg.Cancelled.Total(),
	}
	if a.depthFn != nil {
		s.QueueDepth = int64(a.depthFn())
	}
	if n := a.reg.LatencyCount.Load(); n > 0 {
		s.AvgLatencyMs = float64(a.reg.LatencySumMs.Load()) / float64(n)
	}
	return s
}
