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

// Package gale ties the gateway together: configuration, the message store,
// the mock providers, the dispatch workers and the HTTP endpoints. The
// executable in cmd/gale is a thin wrapper around internal/cli; subcommands
// register themselves via init, the 'run' one lives here.
package gale

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/foxcpp/gale/framework/hooks"
	"github.com/foxcpp/gale/framework/log"
	"github.com/foxcpp/gale/internal/breaker"
	galecli "github.com/foxcpp/gale/internal/cli"
	"github.com/foxcpp/gale/internal/config"
	"github.com/foxcpp/gale/internal/conversation"
	"github.com/foxcpp/gale/internal/endpoint/api"
	"github.com/foxcpp/gale/internal/endpoint/openmetrics"
	"github.com/foxcpp/gale/internal/inbound"
	"github.com/foxcpp/gale/internal/metrics"
	"github.com/foxcpp/gale/internal/outbound"
	"github.com/foxcpp/gale/internal/provider"
	"github.com/foxcpp/gale/internal/storage"
	"github.com/foxcpp/gale/internal/storage/memory"
	"github.com/foxcpp/gale/internal/storage/pgsql"
)

// outboundQueueCap bounds the buffer between accepted API requests and the
// dispatch worker. TryEnqueue drops the event with a warning past it.
const outboundQueueCap = 1024

// storeInitTimeout covers connecting to Postgres, applying the schema and
// creating the provider identities at startup.
const storeInitTimeout = 15 * time.Second

// shutdownTimeout bounds the worker drain after the endpoints stop.
const shutdownTimeout = 5 * time.Second

func init() {
	galecli.AddSubcommand(&cli.Command{
		Name:  "run",
		Usage: "Start the messaging gateway",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging early",
			},
			&cli.StringFlag{
				Name:  "debug.pprof",
				Usage: "enable live profiler HTTP endpoint and listen on the specified address",
			},
			&cli.IntFlag{
				Name:  "debug.blockprofrate",
				Usage: "set blocking profile rate",
			},
			&cli.IntFlag{
				Name:  "debug.mutexproffract",
				Usage: "set mutex profile fraction",
			},
		},
		Action: Run,
	})
	galecli.AddSubcommand(&cli.Command{
		Name:  "version",
		Usage: "Print version and exit",
		Action: func(c *cli.Context) error {
			fmt.Println("gale", BuildInfo())
			return nil
		},
	})
}

// Run reads the environment configuration, assembles the gateway and blocks
// until a termination signal arrives. All startup failures except the store
// connection are fatal; a broken store degrades to the in-memory one so the
// gateway still serves traffic.
func Run(c *cli.Context) error {
	cfg, srcs, err := config.Load()
	if err != nil {
		systemdStatusErr(err)
		return cli.Exit(err.Error(), 2)
	}
	if c.Bool("debug") {
		cfg.LogLevel = "debug"
	}

	initLogging(cfg)
	defer log.DefaultLogger.Out.Close()
	initDebug(c)

	log.DefaultLogger.Msg("gale starting",
		"version", BuildInfo(),
		"port", strconv.Itoa(int(cfg.Port)),
		"port_from", srcs.Port.String(),
		"health_path", cfg.HealthPath,
		"health_path_from", srcs.HealthPath.String(),
		"log_level", cfg.LogLevel,
		"log_level_from", srcs.LogLevel.String())

	reg := metrics.New()

	store := openStore(cfg, reg)
	defer func() {
		if err := store.Close(); err != nil {
			log.DefaultLogger.Error("store close failed", err)
		}
	}()
	if !store.Durable() {
		log.DefaultLogger.Msg("store is not durable, conversation history and queued events are lost on restart")
	}

	mockSMS := provider.NewMock(metrics.LabelSMSMMS, cfg.SMSFaults())
	mockEmail := provider.NewMock(metrics.LabelEmail, cfg.EmailFaults())
	for _, m := range []*provider.Mock{mockSMS, mockEmail} {
		if f := m.Faults(); f.Seed != nil {
			log.DefaultLogger.Msg("provider fault injection seeded",
				"provider", m.Name(), "seed", *f.Seed)
		}
	}

	providers := provider.NewRegistry()
	providers.Insert(conversation.ChannelSMS, mockSMS)
	providers.Insert(conversation.ChannelMMS, mockSMS)
	providers.Insert(conversation.ChannelEmail, mockEmail)

	recovery := time.Duration(cfg.BreakerOpenSecs) * time.Second
	globalBreaker := breaker.New(cfg.BreakerErrorThreshold, recovery)
	breakers := map[string]*breaker.Breaker{
		metrics.LabelSMSMMS: breaker.New(cfg.BreakerErrorThreshold, recovery),
		metrics.LabelEmail:  breaker.New(cfg.BreakerErrorThreshold, recovery),
	}

	queue := outbound.NewQueue(outboundQueueCap, log.Logger{Name: "outbound", Debug: cfg.Debug()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workers, workerCtx := errgroup.WithContext(ctx)
	workers.Go(func() error {
		(&outbound.Worker{
			Log:      log.Logger{Name: "outbound", Debug: cfg.Debug()},
			Queue:    queue,
			Registry: providers,
			Breakers: breakers,
			Fallback: globalBreaker,
			Store:    store,
			Metrics:  reg,
		}).Run(workerCtx)
		return nil
	})
	workers.Go(func() error {
		(&inbound.Worker{
			Log:          log.Logger{Name: "inbound", Debug: cfg.Debug()},
			Store:        store,
			Metrics:      reg,
			BatchSize:    cfg.WorkerBatchSize,
			MaxRetries:   cfg.WorkerMaxRetries,
			BackoffBase:  time.Duration(cfg.WorkerBackoffBaseMs) * time.Millisecond,
			ClaimTimeout: time.Duration(cfg.WorkerClaimTimeoutSecs) * time.Second,
		}).Run(workerCtx)
		return nil
	})

	endp := api.New(cfg, log.Logger{Name: "api", Debug: cfg.Debug()}, store, queue, reg,
		globalBreaker, []*provider.Mock{mockSMS, mockEmail})
	if err := endp.Listen(":" + strconv.Itoa(int(cfg.Port))); err != nil {
		systemdStatusErr(err)
		cancel()
		_ = workers.Wait()
		return cli.Exit(err.Error(), 2)
	}

	var om *openmetrics.Endpoint
	if cfg.MetricsListen != "" {
		om = openmetrics.New(log.Logger{Name: "openmetrics", Debug: cfg.Debug()}, reg)
		if err := om.Listen(cfg.MetricsListen); err != nil {
			systemdStatusErr(err)
			_ = endp.Close()
			cancel()
			_ = workers.Wait()
			return cli.Exit(err.Error(), 2)
		}
	}

	systemdStatus(SDReady, "Listening for incoming requests...")

	handleSignals()

	systemdStatus(SDStopping, "Waiting for running requests to complete...")

	// Intake stops first, then the workers, the store closes last (deferred).
	if err := endp.Close(); err != nil {
		log.DefaultLogger.Error("api endpoint close failed", err)
	}
	if om != nil {
		if err := om.Close(); err != nil {
			log.DefaultLogger.Error("openmetrics endpoint close failed", err)
		}
	}
	cancel()

	workersDone := make(chan struct{})
	go func() {
		_ = workers.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
	case <-time.After(shutdownTimeout):
		log.DefaultLogger.Msg("worker drain timed out, exiting with events in flight",
			"timeout", shutdownTimeout.String())
	}

	hooks.RunHooks(hooks.EventShutdown)

	return nil
}

// initLogging applies LOG_LEVEL and LOG_FORMAT to the process-wide logger.
func initLogging(cfg *config.Config) {
	if cfg.LogFormat == "json" {
		log.DefaultLogger.Out = log.ZapOutput(os.Stderr)
	} else {
		log.DefaultLogger.Out = log.WriterOutput(os.Stderr, false)
	}
	log.DefaultLogger.Debug = cfg.Debug()
}

func initDebug(c *cli.Context) {
	if endp := c.String("debug.pprof"); endp != "" {
		go func() {
			log.Println("listening on", "http://"+endp, "for profiler requests")
			log.Println("failed to listen on profiler endpoint:", http.ListenAndServe(endp, nil))
		}()
	}

	// These values can also be affected by environment so set them
	// only if argument is specified.
	if f := c.Int("debug.mutexproffract"); f != 0 {
		runtime.SetMutexProfileFraction(f)
	}
	if r := c.Int("debug.blockprofrate"); r != 0 {
		runtime.SetBlockProfileRate(r)
	}
}

// openStore connects to Postgres when DATABASE_URL is set. Connection or
// migration failures fall back to the in-memory store with a warning
// instead of aborting startup.
func openStore(cfg *config.Config, reg *metrics.Registry) storage.Store {
	logger := log.Logger{Name: "storage", Debug: cfg.Debug()}

	if cfg.DatabaseURL == "" {
		logger.Msg("using in-memory store", "reason", "DATABASE_URL not set")
		return memory.New(logger, reg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeInitTimeout)
	defer cancel()

	pg, err := pgsql.New(cfg.DatabaseURL, logger, reg)
	if err == nil {
		err = pg.InitSchema(ctx)
		if err == nil {
			err = pg.EnsureIdentities(ctx)
		}
		if err != nil {
			_ = pg.Close()
		}
	}
	if err != nil {
		logger.Error("postgres unavailable, using in-memory store", err)
		return memory.New(logger, reg)
	}

	if cfg.SeedDB {
		if err := pg.SeedDemo(ctx); err != nil {
			logger.Error("demo seed failed", err)
		}
	}

	logger.Msg("using postgres store")
	return pg
}
