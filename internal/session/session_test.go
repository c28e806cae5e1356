package session

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/trickstertech/rustysquid/internal/cache"
	"github.com/trickstertech/rustysquid/internal/cachepolicy"
	"github.com/trickstertech/rustysquid/internal/upstream"
)

// fakeOrigin starts a tiny HTTP/1.1 server on the loopback interface that
// always returns the given raw response bytes for every accepted
// connection, so FETCHING has something real to dial.
func fakeOrigin(t *testing.T, response string) (host string, port uint16, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				conn.SetReadDeadline(time.Now().Add(time.Second))
				conn.Read(buf)
				conn.Write([]byte(response))
			}()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", uint16(addr.Port), func() { ln.Close() }
}

// pipeSession runs h.Handle against one end of an in-memory pipe wired to
// a raw HTTP request, and returns the client's view of the response.
func pipeSession(t *testing.T, h *Handler, rawRequest string) string {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		h.Handle(context.Background(), server)
		close(done)
	}()

	client.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Write([]byte(rawRequest)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := client.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	client.Close()
	<-done
	return sb.String()
}

func newHandler() *Handler {
	return &Handler{
		Cache:       cache.New(),
		Pool:        upstream.New(),
		Policy:      cachepolicy.Options{},
		Compression: false,
	}
}

func TestHandle_MissFetchesFromUpstreamAndServes(t *testing.T) {
	host, port, closeOrigin := fakeOrigin(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nCache-Control: max-age=60\r\n\r\nhello")
	defer closeOrigin()

	h := newHandler()
	req := "GET / HTTP/1.1\r\nHost: " + net.JoinHostPort(host, strconv.Itoa(int(port))) + "\r\n\r\n"
	resp := pipeSession(t, h, req)

	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK") {
		t.Fatalf("expected 200 OK, got: %q", resp)
	}
	if !strings.Contains(resp, "hello") {
		t.Fatalf("expected body 'hello', got: %q", resp)
	}
}

func TestHandle_SecondRequestIsServedFromCache(t *testing.T) {
	host, port, closeOrigin := fakeOrigin(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nCache-Control: max-age=60\r\n\r\nhello")
	defer closeOrigin()

	h := newHandler()
	req := "GET / HTTP/1.1\r\nHost: " + net.JoinHostPort(host, strconv.Itoa(int(port))) + "\r\n\r\n"

	pipeSession(t, h, req)
	closeOrigin() // upstream is now unreachable; a second HIT must not dial it

	resp := pipeSession(t, h, req)
	if !strings.Contains(resp, "hello") {
		t.Fatalf("expected cached hit to still serve body, got: %q", resp)
	}
}

func TestHandle_MalformedRequestReturnsBadRequest(t *testing.T) {
	h := newHandler()
	resp := pipeSession(t, h, "GET /\r\n\r\n")

	tp := textproto.NewReader(bufio.NewReader(strings.NewReader(resp)))
	statusLine, _ := tp.ReadLine()
	if !strings.Contains(statusLine, "400") {
		t.Fatalf("expected 400 Bad Request, got: %q", statusLine)
	}
}

func TestReadUpstreamResponse_BuffersWithinBound(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	status, header, body, remainder, err := readUpstreamResponse(strings.NewReader(raw), 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != 200 {
		t.Fatalf("expected status 200, got %d", status)
	}
	if string(body) != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", body)
	}
	if remainder != nil {
		t.Fatal("expected no remainder for a body within bound")
	}
	_ = header
}

func TestReadUpstreamResponse_StreamsBodyExceedingBound(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n0123456789"
	status, _, body, remainder, err := readUpstreamResponse(strings.NewReader(raw), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != 200 {
		t.Fatalf("expected status 200, got %d", status)
	}
	if string(body) != "0123" {
		t.Fatalf("expected buffered prefix %q, got %q", "0123", body)
	}
	if remainder == nil {
		t.Fatal("expected a non-nil remainder for a body exceeding the bound")
	}
	rest, err := io.ReadAll(remainder)
	if err != nil {
		t.Fatalf("reading remainder: %v", err)
	}
	if string(rest) != "456789" {
		t.Fatalf("expected remainder %q, got %q", "456789", rest)
	}
}

func TestHandle_OversizedResponseIsStreamedNotCached(t *testing.T) {
	body := strings.Repeat("x", int(cache.MaxEntrySize)+4096)
	raw := "HTTP/1.1 200 OK\r\nContent-Length: " + strconv.Itoa(len(body)) + "\r\nCache-Control: max-age=60\r\n\r\n" + body
	host, port, closeOrigin := fakeOrigin(t, raw)
	defer closeOrigin()

	h := newHandler()
	req := "GET / HTTP/1.1\r\nHost: " + net.JoinHostPort(host, strconv.Itoa(int(port))) + "\r\n\r\n"
	resp := pipeSession(t, h, req)

	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK") {
		t.Fatalf("expected 200 OK, got: %q", resp)
	}
	if !strings.HasSuffix(resp, body) {
		t.Fatal("expected response to end with the full body")
	}
	if h.Cache.Len() != 0 {
		t.Fatal("expected an oversized response to be streamed, never inserted into the cache")
	}
}

func TestHandle_UnreachableUpstreamReturnsBadGateway(t *testing.T) {
	h := newHandler()
	req := "GET / HTTP/1.1\r\nHost: 127.0.0.1:1\r\n\r\n"
	resp := pipeSession(t, h, req)

	tp := textproto.NewReader(bufio.NewReader(strings.NewReader(resp)))
	statusLine, _ := tp.ReadLine()
	if !strings.Contains(statusLine, "502") {
		t.Fatalf("expected 502 Bad Gateway, got: %q", statusLine)
	}
}

