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

// Package cache implements the bounded, byte-budgeted LRU cache (C4) and
// its immutable, reference-counted artifact record (C3).
package cache

import (
	"sync/atomic"
	"time"

	"github.com/golang/snappy"

	"github.com/trickstertech/rustysquid/internal/clock"
	"github.com/trickstertech/rustysquid/internal/headers"
)

// FixedOverhead is the fixed per-entry byte-accounting penalty applied to
// every artifact, so that many tiny artifacts are penalized the same way
// a real allocation would be (map bucket, list node, bookkeeping fields).
const FixedOverhead = 256

// Artifact is an immutable, reference-counted HTTP response record. Once
// constructed by NewArtifact, none of its fields are ever mutated; callers share
// the same *Artifact rather than copying it on a cache hit.
//
// Ownership: the cache holds one reference from insertion until eviction;
// every in-flight responder holds an additional reference taken via
// Acquire and released via Release. The artifact's storage is reclaimed
// (by the garbage collector, once unreferenced) only after both the
// cache and all responders have released it — Go's GC makes this
// automatic once the last Go-level reference to the *Artifact drops, so
// Acquire/Release exist to make that lifecycle explicit and auditable
// rather than to manage memory by hand.
type Artifact struct {
	Status     int
	Header     []headers.Field
	Body       []byte // possibly snappy-compressed; see Compressed
	Compressed bool
	CreatedAt  int64 // clock.NowSeconds() at construction
	TTL        time.Duration

	size        int64 // contentSize + FixedOverhead; what the cache's aggregate counter charges
	contentSize int64 // header + stored body bytes, no overhead; what MaxEntrySize admission is judged against

	refs int32
}

// NewArtifact constructs an Artifact. If compress is true, body is
// snappy-encoded before being stored, and Size() accounts for the
// compressed length — the invariant is that Size always matches the
// artifact's actual byte footprint, compressed or not.
func NewArtifact(status int, header []headers.Field, body []byte, ttl time.Duration, compress bool) *Artifact {
	stored := body
	if compress {
		stored = snappy.Encode(nil, body)
	}
	a := &Artifact{
		Status:     status,
		Header:     header,
		Body:       stored,
		Compressed: compress,
		CreatedAt:  clock.NowSeconds(),
		TTL:        ttl,
		refs:       1,
	}
	a.contentSize = headerBytes(header) + int64(len(stored))
	a.size = a.contentSize + FixedOverhead
	return a
}

// Size returns the byte-accounting total: headers + stored body + the
// fixed per-entry overhead. This is what the cache's aggregate byte
// counter charges against MaxCacheBytes.
func (a *Artifact) Size() int64 { return a.size }

// ContentSize returns headers + stored body, excluding FixedOverhead.
// MaxEntrySize admission is judged against this, not Size(), so that
// FixedOverhead — a bookkeeping charge against the aggregate budget —
// never shrinks the largest body the cache can actually hold.
func (a *Artifact) ContentSize() int64 { return a.contentSize }

// DecodedBody returns the artifact's body, transparently decompressing it
// if it was stored compressed. The returned slice must be treated as
// read-only; it is not a defensive copy when the artifact is uncompressed.
func (a *Artifact) DecodedBody() ([]byte, error) {
	if !a.Compressed {
		return a.Body, nil
	}
	return snappy.Decode(nil, a.Body)
}

// Acquire takes an additional reference on the artifact. Callers that
// intend to hold the artifact across a suspension point (e.g. writing it
// to a client) must Acquire before handing it off and Release when done.
func (a *Artifact) Acquire() *Artifact {
	atomic.AddInt32(&a.refs, 1)
	return a
}

// Release drops a reference taken by Acquire or by construction. It does
// not free anything itself — Go's garbage collector reclaims the
// artifact's memory once nothing references it — but keeps an auditable
// refcount for invariant checks in tests.
func (a *Artifact) Release() {
	atomic.AddInt32(&a.refs, -1)
}

// RefCount reports the current reference count, for tests and diagnostics.
func (a *Artifact) RefCount() int32 { return atomic.LoadInt32(&a.refs) }

func headerBytes(h []headers.Field) int64 {
	var n int64
	for _, f := range h {
		n += int64(len(f.Name) + len(f.Value))
	}
	return n
}
