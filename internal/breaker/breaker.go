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

// Package breaker implements a three-state circuit breaker.
//
// The breaker opens after a number of consecutive failures and stays open
// for a recovery timeout. The first admission check past the timeout moves
// it to half-open, letting one probe through; a success closes it, a
// failure snaps it back open. Each provider owns an independent breaker, so
// a failing sms-mms provider never blocks email dispatch. A separate
// instance guards the HTTP surface as a whole.
package breaker

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

type Breaker struct {
	threshold int
	recovery  time.Duration

	// Replaced in tests.
	now func() time.Time

	lck      sync.Mutex
	failures int
	state    State
	openedAt time.Time
}

func New(threshold int, recovery time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		recovery:  recovery,
		now:       time.Now,
	}
}

// BeforeRequest is the admission decision: it moves an open breaker whose
// recovery timeout elapsed to half-open and returns the state the caller
// should act on. StateOpen means short-circuit without calling downstream.
func (b *Breaker) BeforeRequest() State {
	b.lck.Lock()
	defer b.lck.Unlock()

	if b.state == StateOpen && !b.openedAt.IsZero() && b.now().Sub(b.openedAt) >= b.recovery {
		b.state = StateHalfOpen
	}
	return b.state
}

// RecordSuccess resets the failure count and closes the breaker. It reports
// whether the state actually changed, so the caller can count transitions.
func (b *Breaker) RecordSuccess() bool {
	b.lck.Lock()
	defer b.lck.Unlock()

	changed := b.state != StateClosed
	b.failures = 0
	b.state = StateClosed
	b.openedAt = time.Time{}
	return changed
}

// RecordFailure counts one failure and opens the breaker once the threshold
// is reached. Failures past the threshold refresh the open timestamp but do
// not count as another transition.
func (b *Breaker) RecordFailure() bool {
	b.lck.Lock()
	defer b.lck.Unlock()

	b.failures++
	if b.failures < b.threshold {
		return false
	}
	changed := b.state != StateOpen
	b.state = StateOpen
	b.openedAt = b.now()
	return changed
}

func (b *Breaker) State() State {
	b.lck.Lock()
	defer b.lck.Unlock()
	return b.state
}
