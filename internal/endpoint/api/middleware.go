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

package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxcpp/gale/framework/exterrors"
	"github.com/foxcpp/gale/internal/breaker"
)

// clientIP decides the rate limit key: leftmost X-Forwarded-For entry, then
// X-Real-IP, then "unknown". The socket peer address is never consulted;
// the gateway expects to sit behind a proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return "unknown"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// logRequests writes one access log line per request and mirrors the
// correlation id onto the response. Sensitive header values never reach the
// log, only the fact of their presence does.
func (e *Endpoint) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		fields := []interface{}{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP(r),
			"request_id", reqID,
		}
		if r.Header.Get("Authorization") != "" {
			fields = append(fields, "authorization", "REDACTED")
		}
		e.log.Msg("handled request", fields...)
	})
}

func (e *Endpoint) bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, e.cfg.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (e *Endpoint) rateLimitIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodGet:
			if !e.ipLimit.Take(clientIP(r)) {
				e.metrics.RateLimited.Add(1)
				w.Header().Set("Retry-After", "60")
				writeError(w, exterrors.RateLimited("Too many requests from IP"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// breakerGate short-circuits while the global breaker is open and feeds it
// from the response status afterwards: any 5xx counts as a failure, any 2xx
// as a success, everything else leaves the breaker alone. State changes
// here do not count as breaker transitions; only dispatch outcomes do.
func (e *Endpoint) breakerGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e.breaker.BeforeRequest() == breaker.StateOpen {
			e.metrics.BreakerOpen.Add(1)
			w.Header().Set("Retry-After", strconv.Itoa(e.cfg.BreakerOpenSecs))
			writeError(w, exterrors.ServiceUnavailable("Temporarily unavailable"))
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		switch {
		case rec.status >= 500:
			e.breaker.RecordFailure()
		case rec.status >= 200 && rec.status < 300:
			e.breaker.RecordSuccess()
		}
	})
}

type ctxKey int

const idemKeyCtx ctxKey = 0

func extractIdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get("Idempotency-Key"); key != "" {
			r = r.WithContext(context.WithValue(r.Context(), idemKeyCtx, key))
		}
		next.ServeHTTP(w, r)
	})
}

// idempotencyKey returns the Idempotency-Key header value stashed by the
// admission pipeline, or "" when the request carried none.
func idempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idemKeyCtx).(string)
	return key
}

func requireJSONContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			ct := strings.ToLower(r.Header.Get("Content-Type"))
			if !strings.HasPrefix(ct, "application/json") {
				writeError(w, exterrors.UnsupportedMediaType("Unsupported Content-Type"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// acceptsJSON runs a comma-separated scan over the Accept header. A part
// passes if it is exactly */* or starts with application/json, so a lone
// "*/*;q=0.8" does not pass.
func acceptsJSON(header string) bool {
	for _, part := range strings.Split(strings.ToLower(header), ",") {
		part = strings.TrimSpace(part)
		if part == "*/*" || strings.HasPrefix(part, "application/json") {
			return true
		}
	}
	return false
}

func requireJSONAccept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			if accept := r.Header.Get("Accept"); accept != "" && !acceptsJSON(accept) {
				writeError(w, exterrors.NotAcceptable("Unsupported Accept header"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
