/*
Gale Messaging Gateway - Unified SMS/MMS/Email messaging gateway.
Copyright © 2024-2026 Max Mazurov <fox.cpp@disroot.org>, Gale Messaging Gateway contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus builds a dedicated prometheus registry whose collectors read
// straight from the atomic counters, for the OpenMetrics listener. Nothing
// is double-counted and no global registry state is touched.
func (r *Registry) Prometheus() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	counter := func(subsystem, name, help string, v *atomic.Uint64, labels prometheus.Labels) {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "gale",
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(v.Load()) }))
	}
	gauge := func(subsystem, name, help string, f func() float64) {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "gale",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, f))
	}

	counter("http", "rate_limited", "Amount of requests rejected due to ratelimiting", &r.RateLimited, nil)
	counter("http", "breaker_open", "Amount of requests rejected by the open circuit breaker", &r.BreakerOpen, nil)
	counter("http", "breaker_transitions", "Global circuit breaker state transitions", &r.BreakerTransitions, nil)

	counter("dispatch", "attempts", "Outbound dispatch attempts", &r.DispatchAttempts, nil)
	counter("dispatch", "success", "Outbound dispatches that succeeded", &r.DispatchSuccess, nil)
	counter("dispatch", "rate_limited", "Outbound dispatches rejected by the provider ratelimit", &r.DispatchRateLimited, nil)
	counter("dispatch", "error", "Outbound dispatches that failed", &r.DispatchError, nil)

	counter("worker", "claimed", "Inbound events claimed for processing", &r.WorkerClaimed, nil)
	counter("worker", "processed", "Inbound events fully processed", &r.workerProcessed, nil)
	counter("worker", "error", "Inbound events that failed processing", &r.WorkerError, nil)
	counter("worker", "dead_letter", "Inbound events dead-lettered after retries ran out", &r.WorkerDeadLetter, nil)

	counter("dispatch", "invalid_routing", "Events dropped due to unroutable channel", &r.InvalidRouting, nil)

	counter("conversations", "created", "Conversations created by the upsert engine", &r.ConversationsCreated, nil)
	counter("conversations", "reused", "Conversations reused by the upsert engine", &r.ConversationsReused, nil)
	counter("conversations", "failures", "Conversation upsert failures", &r.ConversationsFailures, nil)

	for _, p := range []struct {
		label string
		pc    *ProviderCounters
	}{
		{LabelSMSMMS, &r.SMSMMS},
		{LabelEmail, &r.Email},
	} {
		lbl := prometheus.Labels{"provider": p.label}
		counter("provider", "attempts", "Dispatch attempts per provider", &p.pc.Attempts, lbl)
		counter("provider", "success", "Successful dispatches per provider", &p.pc.Success, lbl)
		counter("provider", "rate_limited", "Ratelimited dispatches per provider", &p.pc.RateLimited, lbl)
		counter("provider", "error", "Failed dispatches per provider", &p.pc.Error, lbl)
		counter("provider", "breaker_transitions", "Breaker state transitions per provider", &p.pc.BreakerTransitions, lbl)
	}

	gauge("worker", "latency_avg_us", "Average inbound event processing latency (microseconds)", func() float64 {
		processed := r.workerProcessed.Load()
		if processed == 0 {
			return 0
		}
		return float64(r.workerLatencyTotalUS.Load() / processed)
	})
	gauge("worker", "latency_max_us", "Peak inbound event processing latency (microseconds)", func() float64 {
		return float64(r.workerLatencyMaxUS.Load())
	})

	return reg
}
