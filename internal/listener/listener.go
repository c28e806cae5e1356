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

// Package listener implements the accept loop and connection-admission
// supervisor (C9): bind, admit up to MaxConnections concurrent sessions,
// reject the rest with 503, and drain gracefully on shutdown.
package listener

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertech/rustysquid/internal/headers"
	"github.com/trickstertech/rustysquid/internal/log"
	"github.com/trickstertech/rustysquid/internal/metrics"
)

// MaxConnections is the hard cap on concurrently admitted sessions.
const MaxConnections = 100

// ShutdownGrace bounds how long a shutdown waits for in-flight sessions
// to drain before forcing close.
const ShutdownGrace = 10 * time.Second

// SessionHandler serves one accepted connection. Serve closes conn after
// the handler returns.
type SessionHandler func(ctx context.Context, conn net.Conn)

// Listener owns the accept loop, the atomic admission counter, and the
// wait group tracking in-flight sessions, per spec.md §4.8/§5.
type Listener struct {
	ln             net.Listener
	handle         SessionHandler
	maxConnections int32
	shutdownGrace  time.Duration
	active         int32
	wg             sync.WaitGroup
}

// New binds a TCP listener at addr and wraps it with admission control.
// maxConnections caps concurrently admitted sessions and shutdownGrace
// bounds how long Shutdown waits for them to drain; a value <= 0 for
// either falls back to the package defaults (MaxConnections,
// ShutdownGrace).
func New(addr string, handle SessionHandler, maxConnections int, shutdownGrace time.Duration) (*Listener, error) {
	if maxConnections <= 0 {
		maxConnections = MaxConnections
	}
	if shutdownGrace <= 0 {
		shutdownGrace = ShutdownGrace
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding listener on %s: %w", addr, err)
	}
	return &Listener{
		ln:             ln,
		handle:         handle,
		maxConnections: int32(maxConnections),
		shutdownGrace:  shutdownGrace,
	}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve runs the accept loop until ctx is cancelled, admitting at most
// the connection cap given to New concurrent sessions and rejecting the
// rest with 503.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		if atomic.AddInt32(&l.active, 1) > l.maxConnections {
			atomic.AddInt32(&l.active, -1)
			rejectOverCapacity(conn)
			continue
		}
		metrics.SetActiveConnections(int64(atomic.LoadInt32(&l.active)))

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer func() {
				atomic.AddInt32(&l.active, -1)
				metrics.SetActiveConnections(int64(atomic.LoadInt32(&l.active)))
			}()
			defer conn.Close()
			l.handle(ctx, conn)
		}()
	}
}

// Shutdown stops accepting connections and waits up to the shutdown grace
// given to New for in-flight sessions to drain before returning.
func (l *Listener) Shutdown() {
	l.ln.Close()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("all sessions drained cleanly", log.Pairs{})
	case <-time.After(l.shutdownGrace):
		log.Warn("shutdown grace period elapsed with sessions still in flight", log.Pairs{})
	}
}

// ActiveConnections reports the current admitted-session count.
func (l *Listener) ActiveConnections() int32 { return atomic.LoadInt32(&l.active) }

// rejectOverCapacity writes a 503 and closes conn without ever invoking
// the session handler, per spec.md §4.8.
func rejectOverCapacity(conn net.Conn) {
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	bw := bufio.NewWriter(conn)
	body := []byte("Service Unavailable")
	fmt.Fprintf(bw, "HTTP/1.1 503 Service Unavailable\r\n")
	fmt.Fprintf(bw, "%s: %d\r\n", headers.NameContentLength, len(body))
	fmt.Fprintf(bw, "%s: close\r\n\r\n", headers.NameConnection)
	bw.Write(body)
	bw.Flush()
}
