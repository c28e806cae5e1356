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

// Package fingerprint computes the 64-bit cache key used by the bounded
// LRU cache to identify a (host, port, path) triple without allocating.
package fingerprint

import (
	"github.com/cespare/xxhash/v2"
)

// lowerChunkSize bounds the stack buffer used to fold the host to lowercase
// before feeding it to the hasher, so hosts of any length still cost zero
// heap allocations.
const lowerChunkSize = 64

// Of computes the fingerprint of a (host, port, path) triple. host is
// lowercased a chunk at a time as it is fed into the hash state; it is
// never copied into a new string. port is fed as two big-endian bytes.
// path is fed verbatim, since path case is significant per spec.
//
// Two calls with the same (host, port, path) modulo host case always
// return the same value; the hash is not guaranteed stable across process
// restarts or xxhash versions.
func Of(host string, port uint16, path string) uint64 {
	var d xxhash.Digest
	d.Reset()

	var buf [lowerChunkSize]byte
	for len(host) > 0 {
		n := len(host)
		if n > lowerChunkSize {
			n = lowerChunkSize
		}
		for i := 0; i < n; i++ {
			c := host[i]
			if c >= 'A' && c <= 'Z' {
				c += 'a' - 'A'
			}
			buf[i] = c
		}
		_, _ = d.Write(buf[:n])
		host = host[n:]
	}

	var portBuf [2]byte
	portBuf[0] = byte(port >> 8)
	portBuf[1] = byte(port)
	_, _ = d.Write(portBuf[:])

	_, _ = d.WriteString(path)

	return d.Sum64()
}
