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

// Package provider defines the outbound dispatch abstraction and the mock
// providers used in place of real carrier integrations.
package provider

import (
	"sync"

	"github.com/foxcpp/gale/internal/conversation"
)

// Outcome is the result class of one dispatch attempt. It drives metrics
// and breaker updates in the outbound worker.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeError
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeError:
		return "error"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "success"
	}
}

// Message is an outbound message ready for provider dispatch. To, From and
// Body may be empty; validation happens in the API layer before the message
// is built. Attachments are unused by mock providers but kept for parity
// with real ones.
type Message struct {
	Channel        conversation.Channel
	From           string
	To             string
	Body           string
	Attachments    []string
	IdempotencyKey string
}

// DispatchResult echoes the logical provider name for metrics and log
// correlation along with the outcome.
type DispatchResult struct {
	ProviderName string
	Outcome      Outcome
}

type Provider interface {
	Name() string
	Dispatch(msg *Message) DispatchResult
}

// Registry maps channels to providers. sms and mms both point at the same
// sms-mms instance; a channel with no provider is unroutable and the caller
// accounts it as invalid_routing.
type Registry struct {
	lck sync.RWMutex
	m   map[conversation.Channel]Provider
}

func NewRegistry() *Registry {
	return &Registry{m: map[conversation.Channel]Provider{}}
}

func (r *Registry) Insert(ch conversation.Channel, p Provider) {
	r.lck.Lock()
	defer r.lck.Unlock()
	r.m[ch] = p
}

func (r *Registry) Get(ch conversation.Channel) (Provider, bool) {
	r.lck.RLock()
	defer r.lck.RUnlock()
	p, ok := r.m[ch]
	return p, ok
}
