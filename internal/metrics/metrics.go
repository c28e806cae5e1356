/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

// Package metrics holds the Prometheus instrumentation for cache and
// proxy events. It is internal instrumentation only: the core never
// mounts an HTTP handler for these — exposing a /metrics endpoint is an
// external supervisor's concern (spec.md §1 Non-goals), the same
// separation trickster draws between internal/util/metrics (the
// collectors) and its own metrics HTTP listener.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CacheEvents counts cache outcomes by kind: hit, miss, store, evict.
	CacheEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rustysquid",
		Subsystem: "cache",
		Name:      "events_total",
		Help:      "Count of cache lookup/store/eviction outcomes by kind.",
	}, []string{"kind"})

	// CacheEntries is the current number of live cache entries.
	CacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rustysquid",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Current number of entries held in the cache.",
	})

	// CacheBytes is the current aggregate byte accounting total.
	CacheBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rustysquid",
		Subsystem: "cache",
		Name:      "bytes",
		Help:      "Current aggregate byte accounting total across all cache entries.",
	})

	// ActiveConnections is the current number of admitted client sessions.
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rustysquid",
		Subsystem: "listener",
		Name:      "active_connections",
		Help:      "Current number of admitted, in-flight client connections.",
	})

	// RequestsTotal counts completed requests by the session-handler
	// outcome (hit, miss, error) and status (the response status code, or
	// streamed/streamed-error for an oversized response passed through).
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rustysquid",
		Subsystem: "session",
		Name:      "requests_total",
		Help:      "Count of completed client requests by outcome.",
	}, []string{"outcome", "status"})

	// UpstreamDials counts dial attempts made by the connection pool.
	UpstreamDials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rustysquid",
		Subsystem: "upstream",
		Name:      "dials_total",
		Help:      "Count of upstream dial attempts by result.",
	}, []string{"result"})
)

// Registry is the registry all RustySquid collectors are registered to.
// An operator's own process wires Registry into an HTTP handler if it
// wants to expose /metrics; the core never does so itself.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(CacheEvents, CacheEntries, CacheBytes, ActiveConnections, RequestsTotal, UpstreamDials)
}

// CacheHit increments the cache hit counter.
func CacheHit() { CacheEvents.WithLabelValues("hit").Inc() }

// CacheMiss increments the cache miss counter.
func CacheMiss() { CacheEvents.WithLabelValues("miss").Inc() }

// CacheStore increments the cache store counter.
func CacheStore() { CacheEvents.WithLabelValues("store").Inc() }

// CacheEvict increments the cache eviction counter.
func CacheEvict() { CacheEvents.WithLabelValues("evict").Inc() }

// SetCacheGauges updates the entries/bytes gauges to the given values.
func SetCacheGauges(entries, bytes int64) {
	CacheEntries.Set(float64(entries))
	CacheBytes.Set(float64(bytes))
}

// SetActiveConnections updates the active-connection gauge.
func SetActiveConnections(n int64) { ActiveConnections.Set(float64(n)) }

// RecordRequest increments the completed-request counter for outcome/status.
func RecordRequest(outcome, status string) { RequestsTotal.WithLabelValues(outcome, status).Inc() }

// RecordDial increments the upstream dial counter for result ("new", "reused", "failed").
func RecordDial(result string) { UpstreamDials.WithLabelValues(result).Inc() }
