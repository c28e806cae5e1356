package upstream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/trickstertech/rustysquid/internal/apperror"
)

func listenLocal(t *testing.T) (net.Listener, Key) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return ln, Key{Host: "127.0.0.1", Port: uint16(addr.Port)}
}

func TestAcquire_DialsWhenNoIdleConnection(t *testing.T) {
	ln, key := listenLocal(t)
	defer ln.Close()

	p := New()
	conn, err := p.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()
}

func TestAcquireRelease_ReusesIdleConnection(t *testing.T) {
	ln, key := listenLocal(t)
	defer ln.Close()

	p := New()
	conn, err := p.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Release(key, conn)

	reused, err := p.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reused != conn {
		t.Fatal("expected Acquire to return the released connection")
	}
	reused.Close()
}

func TestRelease_EnforcesPerHostCap(t *testing.T) {
	ln, key := listenLocal(t)
	defer ln.Close()

	p := New()
	var conns []net.Conn
	for i := 0; i < MaxPerHost+2; i++ {
		c, err := p.Acquire(context.Background(), key)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		conns = append(conns, c)
	}
	for _, c := range conns {
		p.Release(key, c)
	}

	p.mu.Lock()
	got := len(p.idle[key])
	p.mu.Unlock()
	if got != MaxPerHost {
		t.Fatalf("expected idle pool capped at %d, got %d", MaxPerHost, got)
	}
}

func TestTakeIdle_PrunesStaleConnections(t *testing.T) {
	ln, key := listenLocal(t)
	defer ln.Close()

	p := New()
	conn, err := p.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.mu.Lock()
	p.idle[key] = []idleConn{{conn: conn, idleAt: time.Now().Add(-2 * IdleTimeout)}}
	p.mu.Unlock()

	if _, ok := p.takeIdle(key); ok {
		t.Fatal("expected stale idle connection to be pruned, not reused")
	}
}

func TestPrune_RemovesStaleEntriesAcrossKeys(t *testing.T) {
	ln, key := listenLocal(t)
	defer ln.Close()

	p := New()
	conn, err := p.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.mu.Lock()
	p.idle[key] = []idleConn{{conn: conn, idleAt: time.Now().Add(-2 * IdleTimeout)}}
	p.mu.Unlock()

	p.Prune()

	p.mu.Lock()
	_, present := p.idle[key]
	p.mu.Unlock()
	if present {
		t.Fatal("expected key to be removed entirely once its only connection goes stale")
	}
}

func TestAcquire_DialTimeoutMapsToUpstreamTimeout(t *testing.T) {
	p := New()

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done() // already expired, so DialContext fails without any real network wait

	_, err := p.Acquire(ctx, Key{Host: "127.0.0.1", Port: 80})
	ae, ok := apperror.As(err)
	if !ok {
		t.Fatalf("expected *apperror.Error, got %T", err)
	}
	if ae.Kind != apperror.UpstreamTimeout {
		t.Fatalf("expected UpstreamTimeout, got %v", ae.Kind)
	}
}

func TestCloseAll_EmptiesPool(t *testing.T) {
	ln, key := listenLocal(t)
	defer ln.Close()

	p := New()
	conn, _ := p.Acquire(context.Background(), key)
	p.Release(key, conn)

	p.CloseAll()

	p.mu.Lock()
	got := len(p.idle)
	p.mu.Unlock()
	if got != 0 {
		t.Fatalf("expected empty pool after CloseAll, got %d keys", got)
	}
}
