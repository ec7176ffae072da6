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

// Package api implements the gateway HTTP surface: message submission,
// provider webhooks, the conversation read API, mock provider control and
// the health/metrics endpoints.
//
// Every request passes the admission pipeline before its handler runs:
// request logging, body size cap, per-IP rate limit, global circuit
// breaker, Idempotency-Key extraction and JSON content negotiation, in that
// order. Handlers map failures onto the error body shape
// {"code","message","details"?}; this package is the only place that turns
// internal errors into HTTP status codes.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxcpp/gale/framework/log"
	"github.com/foxcpp/gale/internal/breaker"
	"github.com/foxcpp/gale/internal/config"
	"github.com/foxcpp/gale/internal/idempotency"
	"github.com/foxcpp/gale/internal/limits"
	"github.com/foxcpp/gale/internal/metrics"
	"github.com/foxcpp/gale/internal/outbound"
	"github.com/foxcpp/gale/internal/provider"
	"github.com/foxcpp/gale/internal/storage"
)

// How long Close waits for in-flight handlers before cutting connections.
const shutdownTimeout = 5 * time.Second

const idempotencyTTL = 2 * time.Hour

// Key count cap for the rate limiter maps. Expired windows are dropped once
// a map grows past it.
const maxTrackedKeys = 10000

type Endpoint struct {
	log log.Logger
	cfg *config.Config

	store   storage.Store
	queue   *outbound.Queue
	metrics *metrics.Registry

	// breaker is the global admission breaker, fed by response status.
	// The per-provider breakers live with the dispatch worker.
	breaker     *breaker.Breaker
	ipLimit     *limits.WindowSet
	senderLimit *limits.WindowSet
	idem        *idempotency.Store

	// mocks are the fault-injection targets of /api/provider/mock/config.
	mocks     []*provider.Mock
	faultsLck sync.Mutex
	faults    config.Faults

	serv        http.Server
	listenersWg sync.WaitGroup
}

// New assembles the endpoint. The global breaker is shared with the
// outbound worker (it serves as the fallback for unlabeled providers), so
// the caller owns it.
func New(cfg *config.Config, logger log.Logger, store storage.Store, queue *outbound.Queue,
	reg *metrics.Registry, globalBreaker *breaker.Breaker, mocks []*provider.Mock) *Endpoint {

	e := &Endpoint{
		log:         logger,
		cfg:         cfg,
		store:       store,
		queue:       queue,
		metrics:     reg,
		breaker:     globalBreaker,
		ipLimit:     limits.NewWindowSet(cfg.RateLimitPerIPPerMin, time.Minute, maxTrackedKeys),
		senderLimit: limits.NewWindowSet(cfg.RateLimitPerSenderPerMin, time.Minute, maxTrackedKeys),
		idem:        idempotency.NewStore(idempotencyTTL),
		mocks:       mocks,
		faults: config.Faults{
			TimeoutPct:   cfg.ProviderTimeoutPct,
			ErrorPct:     cfg.ProviderErrorPct,
			RatelimitPct: cfg.ProviderRatelimitPct,
			Seed:         cfg.ProviderSeed,
		},
	}
	e.serv.Handler = e.router()
	return e
}

func (e *Endpoint) router() http.Handler {
	r := chi.NewRouter()

	// Admission pipeline, outermost first.
	r.Use(e.logRequests)
	r.Use(e.bodyLimit)
	r.Use(e.rateLimitIP)
	r.Use(e.breakerGate)
	r.Use(extractIdempotencyKey)
	r.Use(requireJSONContentType)
	r.Use(requireJSONAccept)

	r.Get(e.cfg.HealthPath, e.health)
	r.Get("/metrics", e.metricsSnapshot)

	r.Post("/api/messages/sms", e.postSMS)
	r.Post("/api/messages/email", e.postEmail)
	r.Post("/api/webhooks/sms", e.postWebhookSMS)
	r.Post("/api/webhooks/email", e.postWebhookEmail)

	r.Get("/api/conversations", e.listConversations)
	r.Get("/api/conversations/{id}/messages", e.listMessages)

	r.Post("/api/provider/mock/inbound", e.postMockInbound)
	r.Get("/api/provider/mock/config", e.getMockConfig)
	r.Put("/api/provider/mock/config", e.putMockConfig)

	return r
}

// Handler exposes the assembled router so tests can drive the endpoint
// without a listener.
func (e *Endpoint) Handler() http.Handler {
	return e.serv.Handler
}

// Listen binds addr and starts serving on it in the background.
func (e *Endpoint) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	e.listenersWg.Add(1)
	go func() {
		e.log.Println("listening on", l.Addr())
		err := e.serv.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("serve failed", err, "endpoint", addr)
		}
		e.listenersWg.Done()
	}()

	return nil
}

// Close stops accepting connections and drains in-flight handlers, forcing
// termination after the shutdown timeout.
func (e *Endpoint) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.serv.Shutdown(ctx); err != nil {
		e.serv.Close()
	}
	e.listenersWg.Wait()
	return nil
}

func (e *Endpoint) health(w http.ResponseWriter, r *http.Request) {
	e.log.DebugMsg("health check")
	writeJSON(w, http.StatusOK, statusBody{Status: "ok"})
}

func (e *Endpoint) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, e.metrics.Snapshot())
}
