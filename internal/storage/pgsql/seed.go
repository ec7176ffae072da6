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

package pgsql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/foxcpp/gale/internal/conversation"
)

// EnsureIdentities creates the bootstrap customer and provider rows that
// message inserts reference by id. Safe to call on every startup.
func (s *Store) EnsureIdentities(ctx context.Context) error {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM customers WHERE id = 1`).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.ExecContext(ctx, `INSERT INTO customers (id, name) VALUES (1, 'Demo Customer')`); err != nil {
			return fmt.Errorf("pgsql: seed customer: %w", err)
		}
		s.log.Msg("created bootstrap customer", "id", 1)
	case err != nil:
		return fmt.Errorf("pgsql: seed customer: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT id FROM providers WHERE id = 1`).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.ExecContext(ctx, `INSERT INTO providers (id, customer_id, kind, name) VALUES (1, 1, 'sms', 'Mock SMS Provider')`); err != nil {
			return fmt.Errorf("pgsql: seed provider: %w", err)
		}
		s.log.Msg("created bootstrap provider", "id", 1)
	case err != nil:
		return fmt.Errorf("pgsql: seed provider: %w", err)
	}
	return nil
}

// SeedDemo inserts a demo conversation holding one inbound message with an
// attachment. The fixed timestamp makes repeat runs hit the message
// duplicate check, so it is safe to call on every startup.
func (s *Store) SeedDemo(ctx context.Context) error {
	msgID, err := s.InsertMessage(ctx, conversation.DirectionInbound, conversation.ChannelSMS,
		"+15550001111", "+15550002222",
		"Welcome to the seeded conversation!",
		[]string{"https://example.com/demo.jpg"},
		"2024-01-01T00:00:00Z")
	if err != nil {
		return fmt.Errorf("pgsql: seed demo: %w", err)
	}
	s.log.DebugMsg("demo data seeded", "msg_id", msgID)
	return nil
}
