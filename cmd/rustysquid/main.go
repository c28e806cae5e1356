/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

// Command rustysquid runs the forward-caching HTTP proxy: it loads
// configuration, binds the listener, and serves connections until an OS
// termination signal requests a graceful shutdown.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/trickstertech/rustysquid/internal/cache"
	"github.com/trickstertech/rustysquid/internal/cachepolicy"
	"github.com/trickstertech/rustysquid/internal/config"
	"github.com/trickstertech/rustysquid/internal/listener"
	"github.com/trickstertech/rustysquid/internal/log"
	"github.com/trickstertech/rustysquid/internal/session"
	"github.com/trickstertech/rustysquid/internal/tracing"
	"github.com/trickstertech/rustysquid/internal/upstream"
)

const (
	applicationName    = "rustysquid"
	applicationVersion = "1.0.0"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(applicationName, applicationVersion, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", applicationName, err)
		return 1
	}
	if cfg == nil {
		// -version was requested and already printed.
		return 0
	}

	log.SetLevel(log.ParseLevel(cfg.Logging.LogLevel))

	var traceWriter io.Writer
	if cfg.Tracing.Implementation == "stdout" {
		traceWriter = os.Stdout
	}
	shutdownTracing, err := tracing.SetTracer(traceWriter)
	if err != nil {
		log.Error("failed to initialize tracing", log.Pairs{"error": err.Error()})
		return 1
	}
	defer shutdownTracing(context.Background())

	h := &session.Handler{
		Cache: cache.New(),
		Pool:  upstream.New(),
		Policy: cachepolicy.Options{
			DisableHeuristicTTL: cfg.Caching.DisableHeuristicTTL,
		},
		Compression:          cfg.Caching.Compression,
		MemoryThresholdBytes: cfg.Caching.MemoryThresholdBytes,
	}

	addr := net.JoinHostPort(cfg.Listen.Address, strconv.Itoa(cfg.Listen.Port))
	shutdownGrace := time.Duration(cfg.Listen.ShutdownGraceMS) * time.Millisecond
	ln, err := listener.New(addr, h.Handle, cfg.Listen.MaxConnections, shutdownGrace)
	if err != nil {
		log.Error("failed to bind listener", log.Pairs{"address": addr, "error": err.Error()})
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.Pool.RunPruner(ctx, upstream.IdleTimeout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- ln.Serve(ctx) }()

	log.Info("listening", log.Pairs{"address": addr})

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", log.Pairs{"signal": sig.String()})
	case err := <-serveErr:
		if err != nil {
			log.Error("listener exited unexpectedly", log.Pairs{"error": err.Error()})
			cancel()
			return 1
		}
	}

	cancel()
	ln.Shutdown()
	h.Pool.CloseAll()
	return 0
}
