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

// Package limits implements fixed-window request counting.
package limits

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// WindowSet combines a group of fixed-window counters into a single
// key-indexed structure. Each unique key gets its own window; a request is
// allowed while the key's count within the current window stays below the
// limit. When the window elapses the count starts over. Windows are fixed,
// not sliding: a burst right before and right after a window boundary is
// allowed through.
//
// Amount of tracked keys is bounded. When the internal map grows past that
// value, the next Take call drops expired windows. An expired window cannot
// deny anything anymore, so this loses no state that matters.
//
// If limit <= 0, all methods are no-op and always allow.
type WindowSet struct {
	limit    int
	interval time.Duration
	maxKeys  int

	// Replaced in tests.
	now func() time.Time

	mLck sync.Mutex
	m    map[string]*window
}

func NewWindowSet(limit int, interval time.Duration, maxKeys int) *WindowSet {
	return &WindowSet{
		limit:    limit,
		interval: interval,
		maxKeys:  maxKeys,
		now:      time.Now,
		m:        map[string]*window{},
	}
}

// Take counts one request against key and reports whether it is allowed.
func (s *WindowSet) Take(key string) bool {
	if s.limit <= 0 {
		return true
	}

	s.mLck.Lock()
	defer s.mLck.Unlock()

	now := s.now()

	if len(s.m) > s.maxKeys {
		for k, w := range s.m {
			if now.Sub(w.start) >= s.interval {
				delete(s.m, k)
			}
		}
	}

	w, ok := s.m[key]
	if !ok {
		s.m[key] = &window{start: now, count: 1}
		return true
	}
	if now.Sub(w.start) >= s.interval {
		w.start = now
		w.count = 1
		return true
	}
	if w.count < s.limit {
		w.count++
		return true
	}
	return false
}
