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

package idempotency

import (
	"testing"
	"time"
)

func TestSeenOrInsert(t *testing.T) {
	s := NewStore(2 * time.Hour)

	if !s.SeenOrInsert("key-1") {
		t.Error("fresh key reported as seen")
	}
	if s.SeenOrInsert("key-1") {
		t.Error("repeated key reported as new")
	}
	if !s.SeenOrInsert("key-2") {
		t.Error("unrelated key reported as seen")
	}
}

func TestExpiry(t *testing.T) {
	s := NewStore(2 * time.Hour)

	current := time.Unix(1700000000, 0)
	s.now = func() time.Time { return current }

	s.SeenOrInsert("key")

	current = current.Add(2*time.Hour - time.Second)
	if s.SeenOrInsert("key") {
		t.Error("key expired before TTL")
	}

	current = current.Add(2 * time.Second)
	if !s.SeenOrInsert("key") {
		t.Error("key still seen after TTL")
	}
}

func TestEvictionOnCall(t *testing.T) {
	s := NewStore(time.Hour)

	current := time.Unix(1700000000, 0)
	s.now = func() time.Time { return current }

	s.SeenOrInsert("a")
	s.SeenOrInsert("b")

	current = current.Add(2 * time.Hour)
	s.SeenOrInsert("c")

	s.mLck.Lock()
	n := len(s.m)
	s.mLck.Unlock()
	if n != 1 {
		t.Errorf("entries after eviction = %d, want 1", n)
	}
}
