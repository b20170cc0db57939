// Package metrics provides the Status/Metrics Aggregator for pressq: a
// lightweight Prometheus-compatible registry plus a JSON snapshot for the
// status endpoint. It deliberately avoids the prometheus/client_golang
// package so the server binary stays small with no additional dependencies.
//
// # Counter naming convention
//
// Every counter uses a tab-separated string as its label key so that a single
// sync.Map can hold all label combinations without additional map nesting.
//
//	Submitted / Succeeded / Retried / Cancelled  →  key = "action"
//	Rejected                                     →  key = "action\treason"
//	Failed                                       →  key = "action\tkind"
//	HTTPReqs                                     →  key = "method\tpath\tstatus"
//	HTTPDurMs / HTTPDurCnt                       →  key = "method\tpath"
//
// # Prometheus text output
//
// Registry.Handler() returns an http.Handler that renders all counters in the
// Prometheus exposition format (text/plain; version=0.0.4).
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// ─── labelCounter ─────────────────────────────────────────────────────────────

// labelCounter is a lock-free, label-keyed counter map backed by sync.Map and
// atomic.Int64 values. Updates never block a dispatch worker.
type labelCounter struct {
	vals sync.Map // key string → *atomic.Int64
}

func (lc *labelCounter) get(key string) *atomic.Int64 {
	v, _ := lc.vals.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc increments the counter for key by 1.
func (lc *labelCounter) Inc(key string) { lc.get(key).Add(1) }

// Add increments the counter for key by delta.
func (lc *labelCounter) Add(key string, delta int64) { lc.get(key).Add(delta) }

// Each calls fn for every key/value pair. The order is non-deterministic.
func (lc *labelCounter) Each(fn func(key string, val int64)) {
	lc.vals.Range(func(k, v any) bool {
		fn(k.(string), v.(*atomic.Int64).Load())
		return true
	})
}

// Total sums every label's value.
func (lc *labelCounter) Total() int64 {
	var n int64
	lc.Each(func(_ string, val int64) { n += val })
	return n
}

// ─── Registry ─────────────────────────────────────────────────────────────────

// Registry holds all pressq application metrics.
type Registry struct {
	// Message-level counters.
	Submitted labelCounter // key = action
	Rejected  labelCounter // key = "action\treason"
	Succeeded labelCounter // key = action
	Failed    labelCounter // key = "action\tkind"
	Retried   labelCounter // key = action
	Cancelled labelCounter // key = action

	// Lifecycle gauges, driven by status transitions.
	PendingGauge  atomic.Int64
	InFlightGauge atomic.Int64

	// Terminal latency accumulators (submission → completion).
	LatencySumMs atomic.Int64
	LatencyCount atomic.Int64

	// HTTP-level counters.
	HTTPReqs   labelCounter // key = "method\tpath\tstatus"
	HTTPDurMs  labelCounter // sum of request durations in milliseconds
	HTTPDurCnt labelCounter // number of requests (same key as HTTPDurMs, for avg)
}

// ─── Prometheus text serialisation ────────────────────────────────────────────

// Handler returns an http.Handler that renders all metrics in the Prometheus
// plain-text exposition format (text/plain; version=0.0.4).
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)

		var b strings.Builder

		// ── message counters ──────────────────────────────────────────────────
		writeFamily(&b, "pressq_messages_submitted_total",
			"Total messages accepted into the queue", "counter",
			func(fn func(labels, val string)) {
				r.Submitted.Each(func(key string, val int64) {
					fn(fmt.Sprintf(`action=%q`, key), fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "pressq_messages_rejected_total",
			"Total submissions rejected before enqueue", "counter",
			func(fn func(labels, val string)) {
				r.Rejected.Each(func(key string, val int64) {
					action, reason := splitTwo(key)
					fn(fmt.Sprintf(`action=%q,reason=%q`, action, reason),
						fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "pressq_messages_succeeded_total",
			"Total messages whose remote operation succeeded", "counter",
			func(fn func(labels, val string)) {
				r.Succeeded.Each(func(key string, val int64) {
					fn(fmt.Sprintf(`action=%q`, key), fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "pressq_messages_failed_total",
			"Total messages finalised as failed, by failure kind", "counter",
			func(fn func(labels, val string)) {
				r.Failed.Each(func(key string, val int64) {
					action, kind := splitTwo(key)
					fn(fmt.Sprintf(`action=%q,kind=%q`, action, kind),
						fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "pressq_messages_retried_total",
			"Total retry re-enqueues after retryable failures", "counter",
			func(fn func(labels, val string)) {
				r.Retried.Each(func(key string, val int64) {
					fn(fmt.Sprintf(`action=%q`, key), fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "pressq_messages_cancelled_total",
			"Total messages cancelled by the submitter", "counter",
			func(fn func(labels, val string)) {
				r.Cancelled.Each(func(key string, val int64) {
					fn(fmt.Sprintf(`action=%q`, key), fmt.Sprintf("%d", val))
				})
			})

		// ── gauges ────────────────────────────────────────────────────────────
		fmt.Fprintf(&b, "# HELP pressq_messages_pending Messages currently pending dispatch\n")
		fmt.Fprintf(&b, "# TYPE pressq_messages_pending gauge\n")
		fmt.Fprintf(&b, "pressq_messages_pending %d\n", r.PendingGauge.Load())
		fmt.Fprintf(&b, "# HELP pressq_messages_in_flight Messages currently held by a worker\n")
		fmt.Fprintf(&b, "# TYPE pressq_messages_in_flight gauge\n")
		fmt.Fprintf(&b, "pressq_messages_in_flight %d\n", r.InFlightGauge.Load())

		// ── latency ───────────────────────────────────────────────────────────
		fmt.Fprintf(&b, "# HELP pressq_message_latency_milliseconds_sum Sum of submission-to-completion latencies\n")
		fmt.Fprintf(&b, "# TYPE pressq_message_latency_milliseconds_sum counter\n")
		fmt.Fprintf(&b, "pressq_message_latency_milliseconds_sum %d\n", r.LatencySumMs.Load())
		fmt.Fprintf(&b, "# HELP pressq_message_latency_milliseconds_count Count of completed messages\n")
		fmt.Fprintf(&b, "# TYPE pressq_message_latency_milliseconds_count counter\n")
		fmt.Fprintf(&b, "pressq_message_latency_milliseconds_count %d\n", r.LatencyCount.Load())

		// ── HTTP counters ─────────────────────────────────────────────────────
		writeFamily(&b, "pressq_http_requests_total",
			"Total HTTP requests by method, path, and status code", "counter",
			func(fn func(labels, val string)) {
				r.HTTPReqs.Each(func(key string, val int64) {
					method, path, status := splitThree(key)
					fn(fmt.Sprintf(`method=%q,path=%q,status=%q`, method, path, status),
						fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "pressq_http_request_duration_milliseconds_sum",
			"Sum of HTTP request durations in milliseconds", "counter",
			func(fn func(labels, val string)) {
				r.HTTPDurMs.Each(func(key string, val int64) {
					method, path := splitTwo(key)
					fn(fmt.Sprintf(`method=%q,path=%q`, method, path),
						fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "pressq_http_request_duration_milliseconds_count",
			"Count of observed HTTP request durations", "counter",
			func(fn func(labels, val string)) {
				r.HTTPDurCnt.Each(func(key string, val int64) {
					method, path := splitTwo(key)
					fn(fmt.Sprintf(`method=%q,path=%q`, method, path),
						fmt.Sprintf("%d", val))
				})
			})

		fmt.Fprint(w, b.String())
	})
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// writeFamily writes a single Prometheus metric family to b.
// fill is called with a writer function that appends individual label+value lines.
func writeFamily(
	b *strings.Builder,
	name, help, typ string,
	fill func(fn func(labels, val string)),
) {
	// Buffer individual metric lines so we can skip the header when empty.
	var lines []string
	fill(func(labels, val string) {
		lines = append(lines, fmt.Sprintf("%s{%s} %s\n", name, labels, val))
	})
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
	for _, l := range lines {
		b.WriteString(l)
	}
}

// splitTwo splits a tab-delimited key of the form "a\tb" into (a, b).
// If there is no tab, the whole string is returned as the first component.
func splitTwo(key string) (string, string) {
	i := strings.IndexByte(key, '\t')
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}

// splitThree splits a tab-delimited key "a\tb\tc" into (a, b, c).
func splitThree(key string) (string, string, string) {
	a, rest := splitTwo(key)
	b, c := splitTwo(rest)
	return a, b, c
}

// ─── Convenience key builders ─────────────────────────────────────────────────

// RejectKey builds the label key used by Rejected.
func RejectKey(action, reason string) string {
	return action + "\t" + reason
}

// FailKey builds the label key used by Failed.
func FailKey(action, kind string) string {
	return action + "\t" + kind
}

// HTTPKey builds the label key used by HTTPReqs.
func HTTPKey(method, path, status string) string {
	return method + "\t" + path + "\t" + status
}

// HTTPDurKey builds the label key used by HTTPDurMs / HTTPDurCnt.
func HTTPDurKey(method, path string) string {
	return method + "\t" + path
}
