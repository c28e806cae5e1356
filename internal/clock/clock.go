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

// Package clock provides the monotonic time and byte-accounting helpers
// shared by the cache and session packages.
package clock

import "time"

var start = time.Now()

// NowSeconds returns a monotonic second counter anchored at process start.
// It is used instead of time.Now().Unix() so that artifact freshness is
// immune to wall-clock adjustments (NTP step, manual clock changes).
func NowSeconds() int64 {
	return int64(time.Since(start).Seconds())
}

// Expired reports whether an entry created at createdAt (monotonic seconds)
// with the given ttl is stale as of now.
func Expired(createdAt int64, ttl time.Duration, now int64) bool {
	return now >= createdAt+int64(ttl.Seconds())
}

const (
	// KiB is 1024 bytes.
	KiB = 1024
	// MiB is 1024 KiB.
	MiB = 1024 * KiB
)

// ByteSize formats a byte count the way operator-facing log lines expect it:
// a plain integer followed by its unit, picking the largest unit that keeps
// the mantissa readable.
func ByteSize(n int64) string {
	switch {
	case n >= MiB:
		return itoa(n/MiB) + "MiB"
	case n >= KiB:
		return itoa(n/KiB) + "KiB"
	default:
		return itoa(n) + "B"
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
