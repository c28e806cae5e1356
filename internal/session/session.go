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

// Package session drives the per-connection state machine (C8): admit,
// parse, look up, fetch, store, reply. One Handle call serves exactly one
// request, mirroring the teacher's ProxyRequest/PrepareFetchReader/Respond
// split but over a raw net.Conn instead of net/http's server plumbing.
package session

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/trickstertech/rustysquid/internal/apperror"
	"github.com/trickstertech/rustysquid/internal/cache"
	"github.com/trickstertech/rustysquid/internal/cachepolicy"
	"github.com/trickstertech/rustysquid/internal/fingerprint"
	"github.com/trickstertech/rustysquid/internal/headers"
	"github.com/trickstertech/rustysquid/internal/log"
	"github.com/trickstertech/rustysquid/internal/metrics"
	"github.com/trickstertech/rustysquid/internal/reqparse"
	"github.com/trickstertech/rustysquid/internal/sysmem"
	"github.com/trickstertech/rustysquid/internal/tracing"
	"github.com/trickstertech/rustysquid/internal/upstream"
)

// ReadTimeout bounds how long PARSING may wait for a complete request.
const ReadTimeout = 30 * time.Second

// FetchTimeout bounds the entire upstream exchange during FETCHING.
const FetchTimeout = 30 * time.Second

// WriteTimeout bounds writing the response back to the client.
const WriteTimeout = 30 * time.Second

// TracerName is the otel tracer name sessions register spans under.
const TracerName = "rustysquid/session"

// Handler holds the shared, process-wide resources a session needs:
// the cache, the upstream pool, and the cache-policy options. It carries
// no per-connection state, so a single Handler serves every connection.
type Handler struct {
	Cache  *cache.Cache
	Pool   *upstream.Pool
	Policy cachepolicy.Options

	// Compression controls whether artifacts are snappy-encoded before
	// being stored in the cache.
	Compression bool

	// MemoryThresholdBytes gates STORE on the memory pressure probe
	// (C10): when available memory falls below this, responses are
	// still served but never inserted into the cache. Zero disables
	// the gate.
	MemoryThresholdBytes int64
}

// Handle serves exactly one request read from conn, following
// ACCEPTED → PARSING → LOOKUP → HIT|MISS → (FETCHING → STORE?) → WRITING →
// DONE, with any failure diverting to ERROR → WRITING_ERROR → DONE.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	ctx, span := tracing.NewSpan(ctx, TracerName, "session")
	defer span.End()

	if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		log.Warn("failed to set read deadline", log.Pairs{"error": err.Error()})
	}

	req, err := reqparse.Parse(conn)
	if err != nil {
		h.writeError(conn, err)
		return
	}

	fp := fingerprint.Of(req.Host, req.Port, req.Path)
	cacheable := isLookupEligible(req)

	if cacheable {
		if artifact, ok := h.Cache.Get(fp); ok {
			defer artifact.Release()
			h.writeArtifact(conn, artifact)
			metrics.RecordRequest("hit", strconv.Itoa(artifact.Status))
			return
		}
	}

	artifact, streamed, err := h.fetch(ctx, conn, req)
	if streamed {
		// A status line and (possibly partial) body may already be on the
		// wire, so a failure here can no longer be reported with a fresh
		// writeError response — that would corrupt the stream with a
		// second HTTP response appended to the first.
		outcome := "streamed"
		if err != nil {
			log.Warn("oversized response streaming failed mid-transfer", log.Pairs{"error": err.Error()})
			outcome = "streamed-error"
		}
		metrics.RecordRequest("miss", outcome)
		return
	}
	if err != nil {
		h.writeError(conn, err)
		status := apperror.Internal.Status()
		if ae, ok := apperror.As(err); ok {
			status = ae.Kind.Status()
		}
		metrics.RecordRequest("error", strconv.Itoa(status))
		return
	}
	defer artifact.Release()

	if cacheable && sysmem.Available(h.MemoryThresholdBytes) &&
		cachepolicy.IsCacheable(req.Method, artifact.Status, artifact.Header, req.HasHeader(headers.NameAuthorization)) {
		ttl := cachepolicy.ComputeTTL(artifact.Header, time.Now(), h.Policy)
		if ttl > 0 {
			stored := cache.NewArtifact(artifact.Status, artifact.Header, mustDecode(artifact), ttl, h.Compression)
			h.Cache.Insert(fp, stored)
			metrics.CacheStore()
		}
	}

	h.writeArtifact(conn, artifact)
	metrics.RecordRequest("miss", strconv.Itoa(artifact.Status))
}

// isLookupEligible reports whether LOOKUP applies at all: only GET
// requests without Authorization, Cookie, or a Cache-Control no-store
// directive are candidates, per spec.md §4.4/§4.7.
func isLookupEligible(req *reqparse.Request) bool {
	if !strings.EqualFold(req.Method, "GET") {
		return false
	}
	if req.HasHeader(headers.NameAuthorization) || req.HasHeader(headers.NameCookie) {
		return false
	}
	directives := req.HeaderValue(headers.NameCacheControl)
	if strings.Contains(strings.ToLower(directives), "no-store") {
		return false
	}
	return true
}

// fetch performs the FETCHING state: acquire an upstream connection,
// forward a sanitized request, and read back the response. Only up to
// cache.MaxEntrySize bytes of the body are ever buffered in memory; a
// response whose body exceeds that cap is streamed straight through to
// clientConn instead of being materialized into an Artifact, per
// spec.md §4.7 ("streamed to the client but not cached"). streamed
// reports whether that direct-streaming path was taken, in which case
// the returned artifact is nil and the caller must not write again.
func (h *Handler) fetch(ctx context.Context, clientConn net.Conn, req *reqparse.Request) (artifact *cache.Artifact, streamed bool, err error) {
	fetchCtx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	fetchCtx, span := tracing.NewSpan(fetchCtx, TracerName, "fetch")
	defer span.End()

	key := upstream.Key{Host: req.Host, Port: req.Port}
	conn, err := h.Pool.Acquire(fetchCtx, key)
	if err != nil {
		return nil, false, err
	}

	if deadline, ok := fetchCtx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := writeForwardedRequest(conn, req); err != nil {
		h.Pool.Discard(conn)
		return nil, false, wrapUpstreamErr("failed to write forwarded request", err)
	}

	status, respHeader, body, remainder, err := readUpstreamResponse(conn, cache.MaxEntrySize)
	if err != nil {
		h.Pool.Discard(conn)
		return nil, false, wrapUpstreamErr("failed to read upstream response", err)
	}

	if remainder != nil {
		// remainder still reads from conn (it wraps the live bufio.Reader
		// over it), so the connection can't be discarded until after it's
		// fully drained; the declared (or observed) body exceeds
		// MaxEntrySize either way, so it's never handed back to the pool.
		streamErr := streamOversizedResponse(clientConn, status, respHeader, body, remainder)
		h.Pool.Discard(conn)
		if streamErr != nil {
			return nil, true, wrapUpstreamErr("failed to stream oversized response", streamErr)
		}
		return nil, true, nil
	}

	conn.SetDeadline(time.Time{})
	h.Pool.Release(key, conn)

	return cache.NewArtifact(status, respHeader, body, time.Hour, false), false, nil
}

// streamOversizedResponse writes status, headers, and body (prefix
// followed by remainder) directly to conn without ever holding the full
// body in memory at once.
func streamOversizedResponse(conn net.Conn, status int, header []headers.Field, prefix []byte, remainder io.Reader) error {
	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))

	bw := bufio.NewWriter(conn)
	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", status, statusText(status)); err != nil {
		return err
	}
	for _, f := range header {
		if headers.IsHopByHop(f.Name) || strings.EqualFold(f.Name, headers.NameContentLength) {
			continue
		}
		if _, err := fmt.Fprintf(bw, "%s: %s\r\n", f.Name, f.Value); err != nil {
			return err
		}
	}
	// Length is not known to the client in advance since it exceeds what
	// was buffered; Connection: close delimits the body instead.
	if _, err := fmt.Fprintf(bw, "%s: close\r\n\r\n", headers.NameConnection); err != nil {
		return err
	}
	if _, err := bw.Write(prefix); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	_, err := io.Copy(conn, remainder)
	return err
}

// wrapUpstreamErr classifies a mid-stream upstream I/O failure as
// UpstreamTimeout (a deadline expired) or UpstreamBroken (anything else),
// per spec.md §7.
func wrapUpstreamErr(detail string, err error) error {
	if apperror.IsTimeout(err) {
		return apperror.Wrap(apperror.UpstreamTimeout, detail, err)
	}
	return apperror.Wrap(apperror.UpstreamBroken, detail, err)
}

// writeForwardedRequest writes the forwarded request line and a
// sanitized header block to conn: hop-by-hop headers are stripped and a
// correct Host header is guaranteed, per spec.md §4.7.
func writeForwardedRequest(w io.Writer, req *reqparse.Request) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", req.Method, req.Path); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "%s: %s\r\n", headers.NameHost, req.Host); err != nil {
		return err
	}
	for _, f := range req.Header {
		if strings.EqualFold(f.Name, headers.NameHost) || headers.IsHopByHop(f.Name) {
			continue
		}
		if _, err := fmt.Fprintf(bw, "%s: %s\r\n", f.Name, f.Value); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(bw, "%s: close\r\n\r\n", headers.NameConnection); err != nil {
		return err
	}
	return bw.Flush()
}

// readUpstreamResponse reads a status line and headers from r in full,
// then buffers at most maxBuffered bytes of the body. If the body turns
// out to be larger than that — by a declared Content-Length, or because
// more bytes than maxBuffered arrive before EOF on a close-delimited
// response — body holds only the first maxBuffered bytes and remainder
// is a non-nil io.Reader yielding the rest, which the caller must stream
// rather than buffer. remainder is nil when body holds the entire
// response.
func readUpstreamResponse(r io.Reader, maxBuffered int64) (status int, header []headers.Field, body []byte, remainder io.Reader, err error) {
	br := bufio.NewReaderSize(r, 4096)

	statusLine, err := readLine(br)
	if err != nil {
		return 0, nil, nil, nil, err
	}
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		return 0, nil, nil, nil, fmt.Errorf("malformed status line %q", statusLine)
	}
	status, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, nil, nil, nil, fmt.Errorf("malformed status code %q", parts[1])
	}

	for {
		line, err := readLine(br)
		if err != nil {
			return 0, nil, nil, nil, err
		}
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if headers.IsHopByHop(name) {
			continue
		}
		header = append(header, headers.Field{Name: name, Value: value})
	}

	contentLength := -1
	for _, f := range header {
		if strings.EqualFold(f.Name, headers.NameContentLength) {
			if n, err := strconv.Atoi(f.Value); err == nil {
				contentLength = n
			}
		}
	}

	if contentLength >= 0 {
		if int64(contentLength) <= maxBuffered {
			body = make([]byte, contentLength)
			if _, err := io.ReadFull(br, body); err != nil {
				return 0, nil, nil, nil, err
			}
			return status, header, body, nil, nil
		}
		body = make([]byte, maxBuffered)
		if _, err := io.ReadFull(br, body); err != nil {
			return 0, nil, nil, nil, err
		}
		return status, header, body, io.LimitReader(br, int64(contentLength)-maxBuffered), nil
	}

	// No Content-Length: read one byte past maxBuffered to detect overflow
	// without ever buffering an unbounded close-delimited body in full.
	lr := &io.LimitedReader{R: br, N: maxBuffered + 1}
	buffered, err := io.ReadAll(lr)
	if err != nil {
		return 0, nil, nil, nil, err
	}
	if int64(len(buffered)) > maxBuffered {
		return status, header, buffered[:maxBuffered], io.MultiReader(bytes.NewReader(buffered[maxBuffered:]), br), nil
	}
	return status, header, buffered, nil, nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// writeArtifact serializes artifact's status line, headers, and body to
// conn. On a cache hit this is the shared artifact itself — no copy.
func (h *Handler) writeArtifact(conn net.Conn, artifact *cache.Artifact) {
	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))

	body, err := artifact.DecodedBody()
	if err != nil {
		log.Error("failed to decode cached artifact body", log.Pairs{"error": err.Error()})
		h.writeError(conn, apperror.Wrap(apperror.Internal, "decode failure", err))
		return
	}

	bw := bufio.NewWriter(conn)
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", artifact.Status, statusText(artifact.Status))
	for _, f := range artifact.Header {
		if headers.IsHopByHop(f.Name) || strings.EqualFold(f.Name, headers.NameContentLength) {
			continue
		}
		fmt.Fprintf(bw, "%s: %s\r\n", f.Name, f.Value)
	}
	fmt.Fprintf(bw, "%s: %d\r\n", headers.NameContentLength, len(body))
	fmt.Fprintf(bw, "%s: close\r\n\r\n", headers.NameConnection)
	bw.Write(body)
	bw.Flush()
}

// writeError maps err to a client-visible status line, per apperror's
// Kind-to-status mapping (spec.md §7).
func (h *Handler) writeError(conn net.Conn, err error) {
	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))

	status := apperror.Internal.Status()
	if ae, ok := apperror.As(err); ok {
		status = ae.Kind.Status()
		log.Warn("request failed", log.Pairs{"kind": ae.Kind.String(), "detail": ae.Detail})
	} else {
		log.Error("unexpected error serving request", log.Pairs{"error": err.Error()})
	}

	body := []byte(statusText(status))
	bw := bufio.NewWriter(conn)
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", status, statusText(status))
	fmt.Fprintf(bw, "%s: %d\r\n", headers.NameContentLength, len(body))
	fmt.Fprintf(bw, "%s: close\r\n\r\n", headers.NameConnection)
	bw.Write(body)
	bw.Flush()
}

func mustDecode(a *cache.Artifact) []byte {
	b, err := a.DecodedBody()
	if err != nil {
		return nil
	}
	return b
}

func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 203:
		return "Non-Authoritative Information"
	case 300:
		return "Multiple Choices"
	case 301:
		return "Moved Permanently"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 408:
		return "Request Timeout"
	case 410:
		return "Gone"
	case 413:
		return "Request Entity Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	default:
		return "Unknown"
	}
}
