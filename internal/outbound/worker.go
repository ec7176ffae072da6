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

package outbound

import (
	"context"

	"github.com/foxcpp/gale/framework/log"
	"github.com/foxcpp/gale/internal/breaker"
	"github.com/foxcpp/gale/internal/conversation"
	"github.com/foxcpp/gale/internal/metrics"
	"github.com/foxcpp/gale/internal/provider"
	"github.com/foxcpp/gale/internal/storage"
)

// Worker consumes the queue and dispatches through the provider registry.
// All fields are required. Breakers is keyed by provider label; providers
// without an entry fall back to Fallback.
type Worker struct {
	Log      log.Logger
	Queue    *Queue
	Registry *provider.Registry
	Breakers map[string]*breaker.Breaker
	Fallback *breaker.Breaker
	Store    storage.Store
	Metrics  *metrics.Registry
}

// Run consumes events until ctx is cancelled. Buffered events remaining at
// cancellation are dropped with the queue.
func (w *Worker) Run(ctx context.Context) {
	w.Log.DebugMsg("outbound worker started")
	for {
		select {
		case <-ctx.Done():
			w.Log.DebugMsg("outbound worker stopped", "queued", w.Queue.Len())
			return
		case evt := <-w.Queue.Events():
			w.process(ctx, evt)
		}
	}
}

func (w *Worker) process(ctx context.Context, evt Event) {
	if evt.Name != EventSMS && evt.Name != EventEmail {
		w.Log.DebugMsg("skipping non-outbound event", "event", evt.Name)
		return
	}
	ch := evt.Channel()

	prov, ok := w.Registry.Get(ch)
	if !ok {
		w.Metrics.InvalidRouting.Add(1)
		w.Log.Msg("no provider registered for channel", "channel", string(ch), "event", evt.Name)
		return
	}
	label := prov.Name()

	brk := w.breakerFor(label)
	if brk.BeforeRequest() == breaker.StateOpen {
		w.Metrics.BreakerOpen.Add(1)
		w.Log.Msg("provider breaker open, short-circuiting dispatch", "provider", label, "channel", string(ch))
		return
	}

	w.Metrics.DispatchAttempts.Add(1)
	w.Metrics.Provider(label).Attempts.Add(1)

	res := prov.Dispatch(&provider.Message{
		Channel:        ch,
		From:           evt.Payload.From,
		To:             evt.Payload.To,
		Body:           evt.Payload.Body,
		Attachments:    evt.Payload.Attachments,
		IdempotencyKey: evt.IdempotencyKey,
	})

	switch res.Outcome {
	case provider.OutcomeSuccess:
		w.Metrics.DispatchSuccess.Add(1)
		w.Metrics.Provider(label).Success.Add(1)
		w.noteTransition(label, brk, brk.RecordSuccess())
	case provider.OutcomeRateLimited:
		// Upstream throttling does not feed the breaker.
		w.Metrics.DispatchRateLimited.Add(1)
		w.Metrics.Provider(label).RateLimited.Add(1)
	default: // Error, Timeout
		w.Metrics.DispatchError.Add(1)
		w.Metrics.Provider(label).Error.Add(1)
		w.noteTransition(label, brk, brk.RecordFailure())
	}
	w.Log.DebugMsg("dispatch done", "provider", label, "channel", string(ch), "outcome", res.Outcome.String())

	msgID, err := w.Store.InsertMessage(ctx, conversation.DirectionOutbound, ch,
		evt.Payload.From, evt.Payload.To, evt.Payload.Body, evt.Payload.Attachments, evt.Payload.Timestamp)
	if err != nil {
		w.Log.Error("failed to persist outbound message", err, "channel", string(ch))
		return
	}
	w.Log.DebugMsg("outbound message persisted", "msg_id", msgID, "channel", string(ch))
}

func (w *Worker) breakerFor(label string) *breaker.Breaker {
	if b, ok := w.Breakers[label]; ok {
		return b
	}
	return w.Fallback
}

func (w *Worker) noteTransition(label string, brk *breaker.Breaker, changed bool) {
	if !changed {
		return
	}
	w.Metrics.BreakerTransitions.Add(1)
	w.Metrics.Provider(label).BreakerTransitions.Add(1)
	w.Log.Msg("provider breaker transition", "provider", label, "state", brk.State().String())
}
