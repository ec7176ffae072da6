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

// Package snippet builds short message previews for conversation listings.
package snippet

import (
	"strings"

	"github.com/rivo/uniseg"
)

// Make returns a preview of body that is at most maxGraphemes grapheme
// clusters long. Leading and trailing whitespace is trimmed and any run of
// whitespace inside the body collapses to a single space.
//
// Truncation never splits a grapheme cluster: a combining emoji sequence is
// either kept whole or dropped. Empty bodies and maxGraphemes == 0 produce
// the empty string.
func Make(body string, maxGraphemes int) string {
	if maxGraphemes <= 0 {
		return ""
	}

	normalized := strings.Join(strings.Fields(body), " ")
	if normalized == "" {
		return ""
	}

	var (
		b     strings.Builder
		state = -1
		rest  = normalized
		taken = 0
	)
	for len(rest) > 0 && taken < maxGraphemes {
		var cluster string
		cluster, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
		b.WriteString(cluster)
		taken++
	}
	return b.String()
}
