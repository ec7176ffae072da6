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

package provider

import (
	"math/bits"
	"sync"
	"time"

	"github.com/foxcpp/gale/internal/config"
)

// lcgInit is the golden-ratio fallback state used when no seed is set.
const lcgInit = 0x9E3779B97F4A7C15

// Mock simulates a carrier by sampling an outcome from configured failure
// percentages. Each instance owns an independent LCG state: with a seed the
// outcome sequence is fully reproducible, without one the state is
// perturbed by a time-derived XOR before every draw.
type Mock struct {
	name string

	// Replaced in tests; mixed into unseeded draws only.
	nowNanos func() uint64

	lck    sync.Mutex
	faults config.Faults
	state  uint64
	seeded bool
}

func NewMock(name string, faults config.Faults) *Mock {
	m := &Mock{
		name:     name,
		nowNanos: func() uint64 { return uint64(time.Now().UnixNano()) },
		state:    lcgInit,
	}
	m.SetFaults(faults)
	return m
}

func (m *Mock) Name() string {
	return m.name
}

// SetFaults replaces the fault injection settings. A present seed restarts
// the LCG sequence from it; an absent seed keeps the current state and
// returns to time-perturbed draws.
func (m *Mock) SetFaults(f config.Faults) {
	m.lck.Lock()
	defer m.lck.Unlock()

	m.faults = f
	if f.Seed != nil {
		m.state = *f.Seed
		m.seeded = true
	} else {
		m.seeded = false
	}
}

func (m *Mock) Faults() config.Faults {
	m.lck.Lock()
	defer m.lck.Unlock()
	return m.faults
}

// Dispatch draws the next roll and classifies it into an outcome. The
// percentages carve up the 0..99 roll space in the order timeout, error,
// ratelimit; success is whatever remains.
func (m *Mock) Dispatch(_ *Message) DispatchResult {
	m.lck.Lock()
	if !m.seeded {
		m.state ^= bits.RotateLeft64(m.nowNanos(), 7)
	}
	m.state = m.state*6364136223846793005 + 1
	roll := uint32(m.state % 100)
	timeout := clampPct(m.faults.TimeoutPct)
	errPct := clampPct(m.faults.ErrorPct)
	rlPct := clampPct(m.faults.RatelimitPct)
	m.lck.Unlock()

	var outcome Outcome
	switch {
	case roll < timeout:
		outcome = OutcomeTimeout
	case roll < timeout+errPct:
		outcome = OutcomeError
	case roll < timeout+errPct+rlPct:
		outcome = OutcomeRateLimited
	default:
		outcome = OutcomeSuccess
	}

	return DispatchResult{ProviderName: m.name, Outcome: outcome}
}

func clampPct(p int) uint32 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return uint32(p)
	}
}
