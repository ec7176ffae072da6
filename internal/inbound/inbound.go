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

// Package inbound drains the durable event queue produced by webhook
// intake. Events are claimed in batches, turned into persisted inbound
// messages and marked done; failures retry with exponential backoff until
// they exceed the retry budget and dead-letter.
package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foxcpp/gale/framework/exterrors"
	"github.com/foxcpp/gale/framework/log"
	"github.com/foxcpp/gale/internal/conversation"
	"github.com/foxcpp/gale/internal/metrics"
	"github.com/foxcpp/gale/internal/storage"
)

const (
	idleSleep  = 500 * time.Millisecond
	errorSleep = time.Second
)

// Worker polls the event store. All fields are required.
type Worker struct {
	Log     log.Logger
	Store   storage.Store
	Metrics *metrics.Registry

	BatchSize    int
	MaxRetries   int
	BackoffBase  time.Duration
	ClaimTimeout time.Duration
}

// Run claims and processes events until ctx is cancelled. Events claimed
// but unfinished at cancellation go back to pending via the stale reaper
// (here or in another instance) after ClaimTimeout.
func (w *Worker) Run(ctx context.Context) {
	w.Log.DebugMsg("inbound worker started", "batch", w.BatchSize, "max_retries", w.MaxRetries)
	for {
		delay := w.iterate(ctx)
		if delay == 0 {
			if ctx.Err() != nil {
				break
			}
			continue
		}
		select {
		case <-ctx.Done():
			w.Log.DebugMsg("inbound worker stopped")
			return
		case <-time.After(delay):
		}
	}
	w.Log.DebugMsg("inbound worker stopped")
}

// iterate runs one claim/process/reap cycle and returns how long to idle
// before the next one. Zero means more work may be immediately available.
func (w *Worker) iterate(ctx context.Context) time.Duration {
	var delay time.Duration
	ids, err := w.Store.ClaimBatch(ctx, w.BatchSize)
	switch {
	case err != nil:
		w.Log.Error("claim batch failed", err)
		delay = errorSleep
	case len(ids) == 0:
		delay = idleSleep
	default:
		w.Metrics.WorkerClaimed.Add(uint64(len(ids)))
		for _, id := range ids {
			w.handle(ctx, id)
		}
	}

	// Requeue claims whose worker died mid-processing. Runs every cycle,
	// also after claim errors.
	if n, err := w.Store.ReapStale(ctx, w.ClaimTimeout); err != nil {
		w.Log.Error("reap stale failed", err)
	} else if n > 0 {
		w.Log.Msg("requeued stale claims", "count", n)
	}
	return delay
}

func (w *Worker) handle(ctx context.Context, id int64) {
	start := time.Now()
	err := w.processOne(ctx, id)
	if err == nil {
		w.Metrics.RecordWorkerProcessed(time.Since(start))
		return
	}

	retries := w.MaxRetries
	if !exterrors.IsTemporaryOrUnspec(err) {
		// No retry budget for failures that repeat with identical inputs.
		retries = 0
	}
	dead, markErr := w.Store.MarkError(ctx, id, "process_error", err.Error(), retries, w.BackoffBase)
	if markErr != nil {
		w.Log.Error("failed to mark event error, claim stays until reaped", markErr, "inbound_event_id", id)
	}
	if dead {
		w.Metrics.WorkerDeadLetter.Add(1)
	} else {
		w.Metrics.WorkerError.Add(1)
	}
	w.Log.Error("inbound event processing failed", err, "inbound_event_id", id, "dead", dead)
}

func (w *Worker) processOne(ctx context.Context, id int64) error {
	evt, err := w.Store.FetchEvent(ctx, id)
	if err != nil {
		return err
	}
	// A missing row is not an error; the claim is still marked done.
	if evt != nil {
		ch := conversation.Channel(evt.Channel)
		if !ch.Valid() {
			// Stored on the row, identical on every retry.
			return exterrors.WithTemporary(fmt.Errorf("inbound: unsupported channel: %s", evt.Channel), false)
		}

		var payload struct {
			Body        string   `json:"body"`
			Attachments []string `json:"attachments"`
			Timestamp   string   `json:"timestamp"`
		}
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			w.Log.DebugMsg("undecodable event payload, using defaults", "inbound_event_id", id, "reason", err.Error())
		}

		from, to := evt.From, evt.To
		if from == "" {
			from = "unknown"
		}
		if to == "" {
			to = "unknown"
		}

		if _, err := w.Store.InsertMessage(ctx, conversation.DirectionInbound, ch,
			from, to, payload.Body, payload.Attachments, payload.Timestamp); err != nil {
			return err
		}
	}
	return w.Store.MarkProcessed(ctx, id)
}
