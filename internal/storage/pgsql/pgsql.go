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

// Package pgsql implements the durable storage backend on top of
// PostgreSQL. It owns the gateway schema (conversations, messages, shared
// bodies and attachments, the inbound event queue) and tolerates the
// attachment_urls column variants left behind by older deployments.
package pgsql

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	_ "github.com/lib/pq"

	"github.com/foxcpp/gale/framework/log"
	"github.com/foxcpp/gale/internal/metrics"
)

//go:embed schema.sql
var schemaSQL string

// attachmentSchema enumerates the attachment_urls table layouts found in
// the wild. Older databases store the URL in a raw column keyed by a
// 64-bit hash, the current layout keys by the URL itself.
type attachmentSchema int

const (
	attachmentURLOnly attachmentSchema = iota
	attachmentRawHash
	attachmentRawHashURL
)

func (a attachmentSchema) String() string {
	switch a {
	case attachmentURLOnly:
		return "url-only"
	case attachmentRawHash:
		return "raw+hash"
	case attachmentRawHashURL:
		return "raw+hash+url"
	}
	return "unknown"
}

type Store struct {
	db      *sql.DB
	log     log.Logger
	metrics *metrics.Registry

	attachOnce sync.Once
	attachKind attachmentSchema
}

func New(dsn string, logger log.Logger, reg *metrics.Registry) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgsql: open: %w", err)
	}
	db.SetMaxOpenConns(5)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgsql: ping: %w", err)
	}
	return &Store{db: db, log: logger, metrics: reg}, nil
}

func (s *Store) Durable() bool {
	return true
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema creates all gateway tables and indexes. Statements use IF NOT
// EXISTS so it is safe to run on every startup.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("pgsql: init schema: %w", err)
	}
	return nil
}

func classifyAttachmentColumns(cols []string) attachmentSchema {
	var hasURL, hasRaw, hasHash bool
	for _, c := range cols {
		switch c {
		case "url":
			hasURL = true
		case "raw":
			hasRaw = true
		case "hash":
			hasHash = true
		}
	}
	switch {
	case hasRaw && hasHash && hasURL:
		return attachmentRawHashURL
	case hasRaw && hasHash:
		return attachmentRawHash
	default:
		return attachmentURLOnly
	}
}

// attachmentSchemaKind inspects information_schema once and caches the
// detected attachment_urls variant for the lifetime of the store.
func (s *Store) attachmentSchemaKind(ctx context.Context) attachmentSchema {
	s.attachOnce.Do(func() {
		rows, err := s.db.QueryContext(ctx,
			`SELECT column_name FROM information_schema.columns WHERE table_name = 'attachment_urls'`)
		if err != nil {
			s.attachKind = attachmentURLOnly
			return
		}
		defer rows.Close()

		var cols []string
		for rows.Next() {
			var c string
			if err := rows.Scan(&c); err != nil {
				continue
			}
			cols = append(cols, c)
		}
		s.attachKind = classifyAttachmentColumns(cols)
		s.log.DebugMsg("attachment schema detected", "variant", s.attachKind.String())
	})
	return s.attachKind
}
