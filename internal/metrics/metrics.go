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

// Package metrics keeps the process-wide gateway counters.
//
// Counters are plain atomics bumped on hot paths without locks; Snapshot is
// a point-in-time read with no cross-counter consistency guarantee. The
// registry is created at startup and passed around explicitly so tests get
// a fresh instance instead of resetting process globals.
package metrics

import (
	"strings"
	"sync/atomic"
	"time"
)

// Provider labels used for per-provider counters and routing.
const (
	LabelSMSMMS = "sms-mms"
	LabelEmail  = "email"
)

// ProviderCounters is the per-provider slice of the registry.
type ProviderCounters struct {
	Attempts           atomic.Uint64
	Success            atomic.Uint64
	RateLimited        atomic.Uint64
	Error              atomic.Uint64
	BreakerTransitions atomic.Uint64
}

func (pc *ProviderCounters) fill(snap map[string]uint64, label string) {
	prefix := "provider_" + strings.ReplaceAll(label, "-", "_") + "_"
	snap[prefix+"attempts"] = pc.Attempts.Load()
	snap[prefix+"success"] = pc.Success.Load()
	snap[prefix+"rate_limited"] = pc.RateLimited.Load()
	snap[prefix+"error"] = pc.Error.Load()
	snap[prefix+"breaker_transitions"] = pc.BreakerTransitions.Load()
}

type Registry struct {
	RateLimited        atomic.Uint64
	BreakerOpen        atomic.Uint64
	BreakerTransitions atomic.Uint64

	DispatchAttempts    atomic.Uint64
	DispatchSuccess     atomic.Uint64
	DispatchRateLimited atomic.Uint64
	DispatchError       atomic.Uint64

	WorkerClaimed    atomic.Uint64
	WorkerError      atomic.Uint64
	WorkerDeadLetter atomic.Uint64

	InvalidRouting atomic.Uint64

	ConversationsCreated  atomic.Uint64
	ConversationsReused   atomic.Uint64
	ConversationsFailures atomic.Uint64

	SMSMMS ProviderCounters
	Email  ProviderCounters

	workerProcessed      atomic.Uint64
	workerLatencyTotalUS atomic.Uint64
	workerLatencyMaxUS   atomic.Uint64
}

func New() *Registry {
	return &Registry{}
}

var discard ProviderCounters

// Provider returns the counters for the named provider. Unknown names get a
// discard instance.
func (r *Registry) Provider(label string) *ProviderCounters {
	switch label {
	case LabelSMSMMS:
		return &r.SMSMMS
	case LabelEmail:
		return &r.Email
	default:
		return &discard
	}
}

// RecordWorkerProcessed accounts one fully processed inbound event and its
// processing latency.
func (r *Registry) RecordWorkerProcessed(elapsed time.Duration) {
	us := uint64(elapsed.Microseconds())
	r.workerProcessed.Add(1)
	r.workerLatencyTotalUS.Add(us)
	for {
		cur := r.workerLatencyMaxUS.Load()
		if us <= cur || r.workerLatencyMaxUS.CompareAndSwap(cur, us) {
			return
		}
	}
}

// Snapshot returns all counters keyed by their wire name, plus the
// ts_unix_ms capture timestamp.
func (r *Registry) Snapshot() map[string]uint64 {
	processed := r.workerProcessed.Load()
	var avgUS uint64
	if processed != 0 {
		avgUS = r.workerLatencyTotalUS.Load() / processed
	}

	snap := map[string]uint64{
		"ts_unix_ms": uint64(time.Now().UnixMilli()),

		"rate_limited":        r.RateLimited.Load(),
		"breaker_open":        r.BreakerOpen.Load(),
		"breaker_transitions": r.BreakerTransitions.Load(),

		"dispatch_attempts":     r.DispatchAttempts.Load(),
		"dispatch_success":      r.DispatchSuccess.Load(),
		"dispatch_rate_limited": r.DispatchRateLimited.Load(),
		"dispatch_error":        r.DispatchError.Load(),

		"worker_claimed":        r.WorkerClaimed.Load(),
		"worker_processed":      processed,
		"worker_error":          r.WorkerError.Load(),
		"worker_dead_letter":    r.WorkerDeadLetter.Load(),
		"worker_latency_avg_us": avgUS,
		"worker_latency_max_us": r.workerLatencyMaxUS.Load(),

		"invalid_routing": r.InvalidRouting.Load(),

		"conversations_created":  r.ConversationsCreated.Load(),
		"conversations_reused":   r.ConversationsReused.Load(),
		"conversations_failures": r.ConversationsFailures.Load(),
	}
	r.SMSMMS.fill(snap, LabelSMSMMS)
	r.Email.fill(snap, LabelEmail)
	return snap
}
