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

// Package openmetrics exposes the counter registry in the OpenMetrics text
// format on a dedicated listener (METRICS_LISTEN). The JSON snapshot on the
// main API port is unaffected by this endpoint.
package openmetrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foxcpp/gale/framework/log"
	"github.com/foxcpp/gale/internal/metrics"
)

const modName = "openmetrics"

type Endpoint struct {
	logger log.Logger

	listenersWg sync.WaitGroup
	serv        http.Server
	mux         *http.ServeMux
}

// New wires the endpoint to reg's prometheus views. The collectors read the
// atomic counters directly; the global prometheus registry is not touched.
func New(logger log.Logger, reg *metrics.Registry) *Endpoint {
	e := &Endpoint{logger: logger}

	e.mux = http.NewServeMux()
	e.mux.Handle("/metrics", promhttp.HandlerFor(reg.Prometheus(), promhttp.HandlerOpts{}))
	e.serv.Handler = e.mux

	return e
}

func (e *Endpoint) Listen(addrs ...string) error {
	for _, a := range addrs {
		a := a
		l, err := net.Listen("tcp", a)
		if err != nil {
			return fmt.Errorf("%s: %v", modName, err)
		}

		e.listenersWg.Add(1)
		go func() {
			e.logger.Println("listening on", l.Addr())
			err := e.serv.Serve(l)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("serve failed", err, "endpoint", a)
			}
			e.listenersWg.Done()
		}()
	}

	return nil
}

func (e *Endpoint) Close() error {
	if err := e.serv.Close(); err != nil {
		return err
	}
	e.listenersWg.Wait()
	return nil
}
