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

// Package headers centralizes the header-name constants and the
// hop-by-hop header table so the forwarding and caching logic never
// drifts on what must be stripped.
package headers

import "strings"

// Canonical header names referenced by more than one package.
const (
	NameHost          = "Host"
	NameDate          = "Date"
	NameAuthorization = "Authorization"
	NameCookie        = "Cookie"
	NameSetCookie     = "Set-Cookie"
	NameCacheControl  = "Cache-Control"
	NameExpires       = "Expires"
	NameLastModified  = "Last-Modified"
	NameContentLength = "Content-Length"
	NameConnection    = "Connection"
)

// hopByHop is the table of headers that apply only to a single transport
// hop and must never be forwarded or cached, keyed on their lowercase
// name so lookups are case-insensitive without per-call normalization
// logic scattered through callers.
var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// IsHopByHop reports whether name (in any case) is a hop-by-hop header
// that must be stripped before forwarding upstream or storing in the
// cache. Names with a "Proxy-" prefix are hop-by-hop regardless of
// whether they appear in the static table, per spec.md §4.7.
func IsHopByHop(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "proxy-") {
		return true
	}
	return hopByHop[lower]
}

// Field is an ordered header name/value pair, used by cache.Artifact to
// preserve upstream header order byte-for-byte across a cache round trip.
type Field struct {
	Name  string
	Value string
}
