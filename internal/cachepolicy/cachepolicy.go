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

// Package cachepolicy decides whether a request/response pair may be
// cached (C6) and, if so, for how long.
package cachepolicy

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/trickstertech/rustysquid/internal/headers"
)

// DefaultTTL is used when a response carries no explicit or heuristic
// freshness information.
const DefaultTTL = time.Hour

// MaxTTL caps every computed TTL, explicit or heuristic.
const MaxTTL = 24 * time.Hour

var cacheableStatuses = map[int]bool{
	200: true, 203: true, 300: true, 301: true, 404: true, 410: true,
}

// Options tunes policy decisions that an operator may want to override.
// DisableHeuristicTTL controls the Last-Modified heuristic (SPEC_FULL.md
// §10): when true, ComputeTTL skips step 3 entirely and falls straight to
// DefaultTTL, so a response without explicit freshness headers is still
// cached for DefaultTTL.
type Options struct {
	DisableHeuristicTTL bool
}

// IsCacheable reports whether a GET response may be stored, per the rules
// method==GET, status in the cacheable set, no Cache-Control directive
// among {no-store, no-cache, private}, no Set-Cookie, and no Authorization
// on the originating request.
func IsCacheable(method string, status int, respHeader []headers.Field, hasAuth bool) bool {
	if !strings.EqualFold(method, http.MethodGet) {
		return false
	}
	if !cacheableStatuses[status] {
		return false
	}
	if hasAuth {
		return false
	}
	if headerValue(respHeader, headers.NameSetCookie) != "" {
		return false
	}
	directives := parseCacheControl(headerValue(respHeader, headers.NameCacheControl))
	if _, ok := directives["no-store"]; ok {
		return false
	}
	if _, ok := directives["no-cache"]; ok {
		return false
	}
	if _, ok := directives["private"]; ok {
		return false
	}
	return true
}

// ComputeTTL derives the freshness lifetime from response headers,
// following max-age, then Expires-minus-Date, then (unless disabled) a
// Last-Modified heuristic, then DefaultTTL — each capped at MaxTTL. now is
// passed in explicitly so callers can test deterministically.
func ComputeTTL(respHeader []headers.Field, now time.Time, opts Options) time.Duration {
	directives := parseCacheControl(headerValue(respHeader, headers.NameCacheControl))

	if raw, ok := directives["max-age"]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			return capTTL(time.Duration(n) * time.Second)
		}
	}

	if raw := headerValue(respHeader, headers.NameExpires); raw != "" {
		if expires, err := http.ParseTime(raw); err == nil {
			date := now
			if rawDate := headerValue(respHeader, headers.NameDate); rawDate != "" {
				if d, err := http.ParseTime(rawDate); err == nil {
					date = d
				}
			}
			ttl := expires.Sub(date)
			if ttl < 0 {
				ttl = 0
			}
			return capTTL(ttl)
		}
	}

	if !opts.DisableHeuristicTTL {
		if raw := headerValue(respHeader, headers.NameLastModified); raw != "" {
			if lm, err := http.ParseTime(raw); err == nil && now.After(lm) {
				return capTTL(now.Sub(lm) / 10)
			}
		}
	}

	return capTTL(DefaultTTL)
}

func capTTL(d time.Duration) time.Duration {
	if d > MaxTTL {
		return MaxTTL
	}
	if d < 0 {
		return 0
	}
	return d
}

func headerValue(h []headers.Field, name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// parseCacheControl splits a Cache-Control header into a lowercase
// directive map; values are unquoted when present (e.g. max-age=60).
func parseCacheControl(value string) map[string]string {
	directives := make(map[string]string)
	if value == "" {
		return directives
	}
	for _, segment := range strings.Split(value, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		kv := strings.SplitN(segment, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		if len(kv) == 2 {
			directives[key] = strings.Trim(kv[1], `" `)
		} else {
			directives[key] = ""
		}
	}
	return directives
}
