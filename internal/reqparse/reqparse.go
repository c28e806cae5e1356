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

// Package reqparse implements the byte-bounded HTTP/1.x request-line and
// header parser (C5). It deliberately does not use net/http's server
// request reading, since that path has no built-in cap on header bytes —
// the DoS-resistance spec.md requires comes from reading at most
// MaxRequestSize bytes before giving up.
package reqparse

import (
	"bufio"
	"io"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/trickstertech/rustysquid/internal/apperror"
	"github.com/trickstertech/rustysquid/internal/headers"
)

// MaxRequestSize is the hard cap on bytes read while looking for the
// blank line that terminates request headers.
const MaxRequestSize = 64 * 1024

// DefaultPort is used when a request omits an explicit port.
const DefaultPort = 80

// Request is the parsed request line plus headers, extracted per
// spec.md §4.4.
type Request struct {
	Method  string
	Host    string
	Port    uint16
	Path    string
	Proto   string
	Header  []headers.Field
	RawHost string // Host header or authority, before port-splitting
}

// HeaderValue returns the first value of name (case-insensitive), or "".
func (r *Request) HeaderValue(name string) string {
	for _, f := range r.Header {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// HasHeader reports whether name (case-insensitive) is present.
func (r *Request) HasHeader(name string) bool {
	for _, f := range r.Header {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Parse reads a single HTTP request from r, enforcing MaxRequestSize on
// the bytes consumed while searching for the header-terminating blank
// line. It returns *apperror.Error with Kind RequestTooLarge if the cap
// is hit before a terminator is found, or BadRequest/UnsupportedMethod
// for malformed input, matching spec.md §4.4/§4.7.
func Parse(r io.Reader) (*Request, error) {
	lr := &io.LimitedReader{R: r, N: MaxRequestSize + 1}
	br := bufio.NewReaderSize(lr, 4096)
	tp := textproto.NewReader(br)

	line, err := readBoundedLine(tp, lr)
	if err != nil {
		return nil, err
	}
	if line == "" {
		return nil, apperror.New(apperror.BadRequest, "empty request line")
	}

	method, target, proto, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}

	if method == "CONNECT" {
		return nil, apperror.New(apperror.UnsupportedMethod, "CONNECT is not supported")
	}

	hdr, err := readBoundedHeaders(tp, lr)
	if err != nil {
		return nil, err
	}

	req := &Request{Method: method, Proto: proto, Header: hdr}

	if err := resolveTarget(req, target); err != nil {
		return nil, err
	}

	return req, nil
}

func readBoundedLine(tp *textproto.Reader, lr *io.LimitedReader) (string, error) {
	line, err := tp.ReadLine()
	if err != nil {
		if lr.N <= 0 {
			return "", apperror.New(apperror.RequestTooLarge, "request line exceeded MAX_REQUEST_SIZE")
		}
		if apperror.IsTimeout(err) {
			return "", apperror.Wrap(apperror.ClientTimeout, "timed out reading request line", err)
		}
		return "", apperror.Wrap(apperror.BadRequest, "failed to read request line", err)
	}
	return line, nil
}

func readBoundedHeaders(tp *textproto.Reader, lr *io.LimitedReader) ([]headers.Field, error) {
	var out []headers.Field
	for {
		line, err := tp.ReadLine()
		if err != nil {
			if lr.N <= 0 {
				return nil, apperror.New(apperror.RequestTooLarge, "headers exceeded MAX_REQUEST_SIZE")
			}
			if apperror.IsTimeout(err) {
				return nil, apperror.Wrap(apperror.ClientTimeout, "timed out reading headers", err)
			}
			return nil, apperror.Wrap(apperror.BadRequest, "failed to read headers", err)
		}
		if line == "" {
			return out, nil
		}
		name, value, ok := splitHeaderLine(line)
		if !ok {
			return nil, apperror.New(apperror.BadRequest, "malformed header line")
		}
		out = append(out, headers.Field{Name: name, Value: value})
	}
}

// splitHeaderLine splits "Name: value" allowing the liberal whitespace
// spec.md §4.4 calls for around the colon, while still requiring the
// colon itself to be present.
func splitHeaderLine(line string) (name, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", false
	}
	name = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	if name == "" {
		return "", "", false
	}
	return name, value, true
}

func parseRequestLine(line string) (method, target, proto string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", "", apperror.New(apperror.BadRequest, "malformed request line")
	}
	method = strings.ToUpper(parts[0])
	target = parts[1]
	proto = parts[2]
	if !strings.HasPrefix(proto, "HTTP/") {
		return "", "", "", apperror.New(apperror.BadRequest, "malformed protocol version")
	}
	return method, target, proto, nil
}

// resolveTarget fills req.Host/Port/Path from the request-line target,
// which is either an absolute URI or an origin-form path requiring a
// Host header, per spec.md §4.4.
func resolveTarget(req *Request, target string) error {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		u, err := url.Parse(target)
		if err != nil {
			return apperror.Wrap(apperror.BadRequest, "malformed absolute-URI target", err)
		}
		req.RawHost = u.Host
		req.Path = u.EscapedPath()
		if req.Path == "" {
			req.Path = "/"
		}
		if u.RawQuery != "" {
			req.Path += "?" + u.RawQuery
		}
		return splitHostPort(req)
	}

	if !strings.HasPrefix(target, "/") {
		return apperror.New(apperror.BadRequest, "target must be an absolute-URI or an absolute path")
	}
	req.Path = target

	host := req.HeaderValue(headers.NameHost)
	if host == "" {
		return apperror.New(apperror.BadRequest, "origin-form request missing Host header")
	}
	req.RawHost = host
	return splitHostPort(req)
}

func splitHostPort(req *Request) error {
	host := req.RawHost
	port := DefaultPort
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 && !strings.Contains(host[idx:], "]") {
		p, err := strconv.Atoi(host[idx+1:])
		if err != nil || p < 1 || p > 65535 {
			return apperror.New(apperror.BadRequest, "invalid port in Host")
		}
		port = p
		host = host[:idx]
	}
	if host == "" {
		return apperror.New(apperror.BadRequest, "empty host")
	}
	req.Host = host
	req.Port = uint16(port)
	return nil
}
