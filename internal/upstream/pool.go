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

// Package upstream implements the keep-alive connection pool to origin
// servers (C7): acquiring an idle connection or dialing a new one,
// returning healthy connections for reuse, and pruning connections that
// have sat idle past IdleTimeout.
package upstream

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/trickstertech/rustysquid/internal/apperror"
	"github.com/trickstertech/rustysquid/internal/log"
	"github.com/trickstertech/rustysquid/internal/metrics"
)

const (
	// ConnectTimeout bounds dialing a new upstream connection.
	ConnectTimeout = 10 * time.Second
	// IdleTimeout is how long an idle pooled connection remains eligible
	// for reuse before it is considered stale.
	IdleTimeout = 60 * time.Second
	// MaxPerHost is the maximum number of idle connections kept per
	// (host, port) key.
	MaxPerHost = 4
)

// Key identifies a pooled connection's origin.
type Key struct {
	Host string
	Port uint16
}

func (k Key) String() string { return fmt.Sprintf("%s:%d", k.Host, k.Port) }

// idleConn is a pooled connection plus the time it was released.
type idleConn struct {
	conn    net.Conn
	idleAt  time.Time
}

// Pool is a keep-alive connection pool keyed by origin (host, port). All
// methods are safe for concurrent use; dialing happens outside the lock
// so a slow origin never blocks unrelated keys.
type Pool struct {
	dialer net.Dialer

	mu    sync.Mutex
	idle  map[Key][]idleConn
}

// New constructs an empty Pool.
func New() *Pool {
	return &Pool{
		dialer: net.Dialer{Timeout: ConnectTimeout},
		idle:   make(map[Key][]idleConn),
	}
}

// Acquire returns a healthy idle connection for key if one is available,
// otherwise dials a new one with ConnectTimeout, per spec.md §4.6.
func (p *Pool) Acquire(ctx context.Context, key Key) (net.Conn, error) {
	if c, ok := p.takeIdle(key); ok {
		metrics.RecordDial("reused")
		return c, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	conn, err := p.dialer.DialContext(dialCtx, "tcp", key.String())
	if err != nil {
		metrics.RecordDial("failed")
		if apperror.IsTimeout(err) || dialCtx.Err() == context.DeadlineExceeded {
			return nil, apperror.Wrap(apperror.UpstreamTimeout, "dial upstream timed out", err)
		}
		return nil, apperror.Wrap(apperror.UpstreamUnreachable, "dial upstream failed", err)
	}
	metrics.RecordDial("new")
	return conn, nil
}

// takeIdle pops the freshest still-valid idle connection for key, pruning
// any that have exceeded IdleTimeout along the way.
func (p *Pool) takeIdle(key Key) (net.Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := p.idle[key]
	now := time.Now()
	for len(conns) > 0 {
		last := conns[len(conns)-1]
		conns = conns[:len(conns)-1]
		if now.Sub(last.idleAt) > IdleTimeout {
			last.conn.Close()
			continue
		}
		p.idle[key] = conns
		return last.conn, true
	}
	p.idle[key] = conns
	return nil, false
}

// Release returns a fully-drained, still-healthy stream to the pool for
// reuse under key. If the per-host cap would be exceeded, the oldest idle
// connection for that key is closed first, per spec.md §4.6.
func (p *Pool) Release(key Key, conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := p.idle[key]
	if len(conns) >= MaxPerHost {
		oldest := conns[0]
		oldest.conn.Close()
		conns = conns[1:]
	}
	conns = append(conns, idleConn{conn: conn, idleAt: time.Now()})
	p.idle[key] = conns
}

// Discard closes conn without returning it to the pool, for use when the
// stream is known to be broken.
func (p *Pool) Discard(conn net.Conn) {
	conn.Close()
}

// Prune closes and drops every pooled connection that has exceeded
// IdleTimeout. It is meant to be called periodically by a supervisor
// goroutine rather than relying solely on opportunistic pruning in
// Acquire, so long-idle origins don't hold sockets open indefinitely.
func (p *Pool) Prune() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for key, conns := range p.idle {
		kept := conns[:0]
		for _, c := range conns {
			if now.Sub(c.idleAt) > IdleTimeout {
				c.conn.Close()
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			delete(p.idle, key)
		} else {
			p.idle[key] = kept
		}
	}
}

// RunPruner starts a goroutine that calls Prune on the given interval
// until ctx is cancelled.
func (p *Pool) RunPruner(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				p.Prune()
			}
		}
	}()
}

// CloseAll closes every pooled connection, for shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, conns := range p.idle {
		for _, c := range conns {
			c.conn.Close()
		}
		delete(p.idle, key)
	}
	log.Debug("upstream pool closed", log.Pairs{})
}
