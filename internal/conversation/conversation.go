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

// Package conversation defines conversation identity: the channel and
// direction enumerations and the canonical key derived from a pair of
// normalized participant addresses.
//
// Messages between the same two participants on the same channel collapse
// into one conversation no matter which side sent first, so key derivation
// must be symmetric in the participants. This is the single place that
// encodes the key format; both stores and all handlers go through it.
package conversation

import (
	"github.com/foxcpp/gale/framework/address"
)

// Channel is the transport a conversation happens over.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelMMS   Channel = "mms"
)

// Valid reports whether ch is one of the supported channels.
func (ch Channel) Valid() bool {
	switch ch {
	case ChannelEmail, ChannelSMS, ChannelMMS:
		return true
	}
	return false
}

// Direction tells whether a message entered the gateway from a provider
// (inbound) or was submitted by an application for dispatch (outbound).
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// Key is the canonical conversation identity.
type Key struct {
	Channel Channel

	// ParticipantA and ParticipantB are the normalized addresses in
	// lexicographic order, ParticipantA <= ParticipantB.
	ParticipantA string
	ParticipantB string

	// Value is "{channel}:{participant_a}<->{participant_b}".
	Value string
}

// Normalize canonicalizes addr for the given channel: email addresses are
// case-folded with the plus-tag stripped, phone numbers keep the leading
// plus and ASCII digits only.
func Normalize(ch Channel, addr string) string {
	if ch == ChannelEmail {
		return address.NormalizeEmail(addr)
	}
	return address.NormalizePhone(addr)
}

// DeriveKey builds the canonical key for a conversation between a and b on
// the given channel. Symmetric: DeriveKey(ch, a, b) == DeriveKey(ch, b, a).
func DeriveKey(ch Channel, a, b string) Key {
	na := Normalize(ch, a)
	nb := Normalize(ch, b)
	if nb < na {
		na, nb = nb, na
	}
	return Key{
		Channel:      ch,
		ParticipantA: na,
		ParticipantB: nb,
		Value:        string(ch) + ":" + na + "<->" + nb,
	}
}
