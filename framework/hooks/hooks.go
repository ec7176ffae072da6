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

package hooks

import "sync"

type Event int

const (
	// EventShutdown is triggered when the gateway process is about to stop.
	// Components register teardown callbacks for it during assembly; they run
	// in the reverse registration order so dependents close before their
	// dependencies (endpoints and workers before stores).
	EventShutdown Event = iota

	// EventLogRotate is triggered when the server process receives the SIGUSR1
	// signal (on POSIX platforms) and indicates the request to reopen used log
	// files since they might have rotated.
	EventLogRotate
)

var (
	hooks    = make(map[Event][]func())
	hooksLck sync.Mutex
)

func hooksToRun(eventName Event) []func() {
	hooksLck.Lock()
	defer hooksLck.Unlock()
	hooksEv := hooks[eventName]
	if hooksEv == nil {
		return nil
	}

	// The slice is copied so hooks can be run without holding the lock what
	// might be important since they are likely to do a lot of I/O.
	hooksEvCpy := make([]func(), 0, len(hooksEv))
	hooksEvCpy = append(hooksEvCpy, hooksEv...)

	return hooksEvCpy
}

// RunHooks runs the hooks installed for the specified eventName in the reverse
// order.
func RunHooks(eventName Event) {
	hooks := hooksToRun(eventName)
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// AddHook installs the hook to be executed when certain event occurs.
func AddHook(eventName Event, f func()) {
	hooksLck.Lock()
	defer hooksLck.Unlock()

	hooks[eventName] = append(hooks[eventName], f)
}
