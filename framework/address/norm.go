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

// Package address implements canonicalization of participant addresses.
//
// Two addresses that normalize to the same string belong to the same
// conversation participant. The rules are deliberately byte-exact contracts,
// not RFC-grade address processing: conversation identity must be stable
// across gateway versions and across stores.
package address

import (
	"strings"
)

// NormalizeEmail transforms an email address into the canonical form used
// for conversation identity.
//
// The whole address is case-folded to lower case. If an at-sign is present,
// the local part is truncated at the first plus sign, dropping the
// subaddressing tag ("user+tag@example.org" and "user@example.org" are the
// same participant). Inputs without an at-sign are returned case-folded
// and otherwise unchanged.
//
// Idempotent: NormalizeEmail(NormalizeEmail(x)) == NormalizeEmail(x).
func NormalizeEmail(addr string) string {
	lower := strings.ToLower(addr)

	at := strings.IndexByte(lower, '@')
	if at == -1 {
		return lower
	}

	local, domain := lower[:at], lower[at+1:]
	if plus := strings.IndexByte(local, '+'); plus != -1 {
		local = local[:plus]
	}
	return local + "@" + domain
}

// NormalizePhone transforms a phone number into the canonical form used for
// conversation identity.
//
// The result starts with a plus sign if and only if the first input
// character is a plus sign, followed by all ASCII digits of the input in
// order. Everything else (spaces, dashes, parentheses, letters) is
// discarded.
//
// Idempotent: NormalizePhone(NormalizePhone(x)) == NormalizePhone(x).
func NormalizePhone(number string) string {
	var b strings.Builder
	b.Grow(len(number))

	if strings.HasPrefix(number, "+") {
		b.WriteByte('+')
	}
	for _, ch := range number {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}
