package listener

import (
	"bufio"
	"context"
	"net"
	"net/textproto"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func dial(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestServe_AdmitsAndInvokesHandler(t *testing.T) {
	var handled int32
	release := make(chan struct{})
	l, err := New("127.0.0.1:0", func(ctx context.Context, conn net.Conn) {
		atomic.AddInt32(&handled, 1)
		<-release
	}, 0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go l.Serve(ctx)

	conn := dial(t, l.Addr())
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&handled) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&handled) != 1 {
		t.Fatal("expected handler to be invoked once")
	}

	close(release)
	cancel()
}

func TestServe_RejectsOverCapacity(t *testing.T) {
	block := make(chan struct{})
	var wg sync.WaitGroup
	l, err := New("127.0.0.1:0", func(ctx context.Context, conn net.Conn) {
		wg.Done()
		<-block
	}, 0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	wg.Add(MaxConnections)
	var conns []net.Conn
	for i := 0; i < MaxConnections; i++ {
		conns = append(conns, dial(t, l.Addr()))
	}
	wg.Wait()

	over := dial(t, l.Addr())
	defer over.Close()

	over.SetReadDeadline(time.Now().Add(2 * time.Second))
	tp := textproto.NewReader(bufio.NewReader(over))
	statusLine, err := tp.ReadLine()
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if statusLine != "HTTP/1.1 503 Service Unavailable" {
		t.Fatalf("expected 503 status line, got %q", statusLine)
	}

	close(block)
	for _, c := range conns {
		c.Close()
	}
}

func TestServe_HonorsCustomMaxConnections(t *testing.T) {
	const maxConn = 2
	block := make(chan struct{})
	var wg sync.WaitGroup
	l, err := New("127.0.0.1:0", func(ctx context.Context, conn net.Conn) {
		wg.Done()
		<-block
	}, maxConn, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	wg.Add(maxConn)
	var conns []net.Conn
	for i := 0; i < maxConn; i++ {
		conns = append(conns, dial(t, l.Addr()))
	}
	wg.Wait()

	over := dial(t, l.Addr())
	defer over.Close()

	over.SetReadDeadline(time.Now().Add(2 * time.Second))
	tp := textproto.NewReader(bufio.NewReader(over))
	statusLine, err := tp.ReadLine()
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if statusLine != "HTTP/1.1 503 Service Unavailable" {
		t.Fatalf("expected a connection beyond the custom cap of %d to be rejected, got %q", maxConn, statusLine)
	}

	close(block)
	for _, c := range conns {
		c.Close()
	}
}

func TestShutdown_WaitsForDrain(t *testing.T) {
	done := make(chan struct{})
	l, err := New("127.0.0.1:0", func(ctx context.Context, conn net.Conn) {
		close(done)
	}, 0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	conn := dial(t, l.Addr())
	defer conn.Close()

	<-done
	l.Shutdown()
}
