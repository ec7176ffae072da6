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

// Package idempotency tracks recently seen Idempotency-Key values.
//
// The store is process-local and not durable. A gateway restart forgets all
// keys, which means a client retrying across the restart produces a
// duplicate. Callers accept this trade-off.
package idempotency

import (
	"sync"
	"time"
)

type Store struct {
	ttl time.Duration

	// Replaced in tests.
	now func() time.Time

	mLck sync.Mutex
	m    map[string]time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl: ttl,
		now: time.Now,
		m:   map[string]time.Time{},
	}
}

// SeenOrInsert reports whether key is new and records it if so. A key seen
// within the TTL returns false, telling the caller to suppress the
// duplicate. Expired entries are dropped on each call.
func (s *Store) SeenOrInsert(key string) bool {
	s.mLck.Lock()
	defer s.mLck.Unlock()

	now := s.now()
	for k, at := range s.m {
		if now.Sub(at) >= s.ttl {
			delete(s.m, k)
		}
	}

	if at, ok := s.m[key]; ok && now.Sub(at) < s.ttl {
		return false
	}
	s.m[key] = now
	return true
}
