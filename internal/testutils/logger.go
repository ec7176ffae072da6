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

package testutils

import (
	"flag"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/foxcpp/gale/framework/log"
)

var (
	debugLog  = flag.Bool("test.debuglog", false, "(gale) Turn on debug log messages")
	directLog = flag.Bool("test.directlog", false, "(gale) Log to stderr instead of test log")
)

func Logger(t *testing.T, name string) log.Logger {
	if *directLog {
		return log.Logger{
			Out:   log.WriterOutput(os.Stderr, true),
			Name:  name,
			Debug: *debugLog,
		}
	}

	return log.Logger{
		Out: log.FuncOutput(func(_ time.Time, debug bool, str string) {
			t.Helper()
			str = strings.TrimSuffix(str, "\n")
			if debug {
				str = "[debug] " + str
			}
			t.Log(str)
		}, func() error {
			return nil
		}),
		Name:  name,
		Debug: *debugLog,
	}
}
