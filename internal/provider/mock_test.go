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
	"testing"

	"github.com/foxcpp/gale/internal/config"
	"github.com/foxcpp/gale/internal/conversation"
	"github.com/foxcpp/gale/internal/metrics"
)

func seededFaults(timeout, err, rl int, seed uint64) config.Faults {
	return config.Faults{
		TimeoutPct:   timeout,
		ErrorPct:     err,
		RatelimitPct: rl,
		Seed:         &seed,
	}
}

func TestMockSeededSequence(t *testing.T) {
	// With state = 42 the LCG rolls are 87, 60, 41, 94, 71, 20, 57, 50.
	// Buckets 30/30/30 classify them as below.
	m := NewMock(metrics.LabelSMSMMS, seededFaults(30, 30, 30, 42))

	want := []Outcome{
		OutcomeRateLimited,
		OutcomeRateLimited,
		OutcomeError,
		OutcomeSuccess,
		OutcomeRateLimited,
		OutcomeTimeout,
		OutcomeError,
		OutcomeError,
	}
	for i, w := range want {
		res := m.Dispatch(&Message{Channel: conversation.ChannelSMS})
		if res.Outcome != w {
			t.Errorf("dispatch %d: outcome = %v, want %v", i, res.Outcome, w)
		}
		if res.ProviderName != metrics.LabelSMSMMS {
			t.Errorf("dispatch %d: provider = %q, want %q", i, res.ProviderName, metrics.LabelSMSMMS)
		}
	}
}

func TestMockSameSeedSameSequence(t *testing.T) {
	a := NewMock("a", seededFaults(25, 25, 25, 1234))
	b := NewMock("b", seededFaults(25, 25, 25, 1234))

	for i := 0; i < 50; i++ {
		ra := a.Dispatch(&Message{})
		rb := b.Dispatch(&Message{})
		if ra.Outcome != rb.Outcome {
			t.Fatalf("dispatch %d: sequences diverged: %v vs %v", i, ra.Outcome, rb.Outcome)
		}
	}
}

func TestMockAlwaysError(t *testing.T) {
	m := NewMock("m", seededFaults(0, 100, 0, 9))
	for i := 0; i < 20; i++ {
		if res := m.Dispatch(&Message{}); res.Outcome != OutcomeError {
			t.Fatalf("dispatch %d: outcome = %v, want error", i, res.Outcome)
		}
	}
}

func TestMockClampsPercentages(t *testing.T) {
	m := NewMock("m", seededFaults(200, -5, -5, 77))
	for i := 0; i < 20; i++ {
		if res := m.Dispatch(&Message{}); res.Outcome != OutcomeTimeout {
			t.Fatalf("dispatch %d: outcome = %v, want timeout (clamped to 100)", i, res.Outcome)
		}
	}
}

func TestMockSetFaultsRestartsSequence(t *testing.T) {
	m := NewMock("m", seededFaults(30, 30, 30, 999))
	for i := 0; i < 5; i++ {
		m.Dispatch(&Message{})
	}

	m.SetFaults(seededFaults(30, 30, 30, 42))
	want := []Outcome{OutcomeRateLimited, OutcomeRateLimited, OutcomeError, OutcomeSuccess}
	for i, w := range want {
		if res := m.Dispatch(&Message{}); res.Outcome != w {
			t.Errorf("dispatch %d after reseed: outcome = %v, want %v", i, res.Outcome, w)
		}
	}
}

func TestMockSeededDrawSkipsClock(t *testing.T) {
	m := NewMock("m", seededFaults(0, 0, 0, 5))
	m.nowNanos = func() uint64 {
		t.Error("seeded draw consulted the clock")
		return 0
	}
	m.Dispatch(&Message{})

	var calls int
	m.SetFaults(config.Faults{})
	m.nowNanos = func() uint64 {
		calls++
		return 123456789
	}
	m.Dispatch(&Message{})
	m.Dispatch(&Message{})
	if calls != 2 {
		t.Errorf("unseeded draws consulted the clock %d times, want 2", calls)
	}
}

func TestRegistryRouting(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.Get(conversation.ChannelSMS); ok {
		t.Error("fresh registry routed a channel")
	}

	sms := NewMock(metrics.LabelSMSMMS, config.Faults{})
	email := NewMock(metrics.LabelEmail, config.Faults{})
	reg.Insert(conversation.ChannelSMS, sms)
	reg.Insert(conversation.ChannelMMS, sms)
	reg.Insert(conversation.ChannelEmail, email)

	got, ok := reg.Get(conversation.ChannelMMS)
	if !ok {
		t.Fatal("mms channel not routed")
	}
	if got.Name() != metrics.LabelSMSMMS {
		t.Errorf("mms routed to %q, want %q", got.Name(), metrics.LabelSMSMMS)
	}

	if _, ok := reg.Get(conversation.Channel("fax")); ok {
		t.Error("unknown channel routed to a provider")
	}
}
