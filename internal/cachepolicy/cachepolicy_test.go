package cachepolicy

import (
	"testing"
	"time"

	"github.com/trickstertech/rustysquid/internal/headers"
)

func field(name, value string) headers.Field { return headers.Field{Name: name, Value: value} }

func TestIsCacheable_SimpleGetOK(t *testing.T) {
	h := []headers.Field{field(headers.NameCacheControl, "max-age=60")}
	if !IsCacheable("GET", 200, h, false) {
		t.Fatal("expected GET 200 with max-age to be cacheable")
	}
}

func TestIsCacheable_NonGetMethodRejected(t *testing.T) {
	if IsCacheable("POST", 200, nil, false) {
		t.Fatal("expected POST to be rejected")
	}
}

func TestIsCacheable_UncacheableStatusRejected(t *testing.T) {
	if IsCacheable("GET", 500, nil, false) {
		t.Fatal("expected 500 to be rejected")
	}
}

func TestIsCacheable_AuthorizationOnRequestRejected(t *testing.T) {
	if IsCacheable("GET", 200, nil, true) {
		t.Fatal("expected request carrying Authorization to be rejected")
	}
}

func TestIsCacheable_SetCookieRejected(t *testing.T) {
	h := []headers.Field{field(headers.NameSetCookie, "sid=abc")}
	if IsCacheable("GET", 200, h, false) {
		t.Fatal("expected Set-Cookie response to be rejected")
	}
}

func TestIsCacheable_NoStoreRejected(t *testing.T) {
	h := []headers.Field{field(headers.NameCacheControl, "no-store")}
	if IsCacheable("GET", 200, h, false) {
		t.Fatal("expected no-store to be rejected")
	}
}

func TestIsCacheable_PrivateRejected(t *testing.T) {
	h := []headers.Field{field(headers.NameCacheControl, "private")}
	if IsCacheable("GET", 200, h, false) {
		t.Fatal("expected private to be rejected")
	}
}

func TestComputeTTL_MaxAgeWins(t *testing.T) {
	h := []headers.Field{field(headers.NameCacheControl, "max-age=120")}
	got := ComputeTTL(h, time.Now(), Options{})
	if got != 120*time.Second {
		t.Fatalf("got %v", got)
	}
}

func TestComputeTTL_MaxAgeCappedAtMaxTTL(t *testing.T) {
	h := []headers.Field{field(headers.NameCacheControl, "max-age=999999")}
	got := ComputeTTL(h, time.Now(), Options{})
	if got != MaxTTL {
		t.Fatalf("expected cap at MaxTTL, got %v", got)
	}
}

func TestComputeTTL_MaxAgeZeroMeansImmediatelyStale(t *testing.T) {
	h := []headers.Field{field(headers.NameCacheControl, "max-age=0")}
	got := ComputeTTL(h, time.Now(), Options{})
	if got != 0 {
		t.Fatalf("expected max-age=0 to yield a zero TTL, got %v", got)
	}
}

func TestComputeTTL_ExpiresMinusDate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	date := now.Format(http_TimeFormat)
	expires := now.Add(30 * time.Second).Format(http_TimeFormat)
	h := []headers.Field{field(headers.NameDate, date), field(headers.NameExpires, expires)}
	got := ComputeTTL(h, now, Options{})
	if got != 30*time.Second {
		t.Fatalf("got %v", got)
	}
}

func TestComputeTTL_HeuristicFromLastModified(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lastModified := now.Add(-100 * time.Second).Format(http_TimeFormat)
	h := []headers.Field{field(headers.NameLastModified, lastModified)}
	got := ComputeTTL(h, now, Options{})
	if got != 10*time.Second {
		t.Fatalf("expected 10%% of 100s = 10s, got %v", got)
	}
}

func TestComputeTTL_HeuristicDisabledFallsBackToDefault(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lastModified := now.Add(-100 * time.Second).Format(http_TimeFormat)
	h := []headers.Field{field(headers.NameLastModified, lastModified)}
	got := ComputeTTL(h, now, Options{DisableHeuristicTTL: true})
	if got != DefaultTTL {
		t.Fatalf("expected DefaultTTL when heuristic disabled, got %v", got)
	}
}

func TestComputeTTL_DefaultWhenNoHeaders(t *testing.T) {
	got := ComputeTTL(nil, time.Now(), Options{})
	if got != DefaultTTL {
		t.Fatalf("got %v", got)
	}
}

// http_TimeFormat mirrors net/http's TimeFormat constant without importing
// it twice under a different name in test scope.
const http_TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
