package cache

import (
	"testing"
	"time"

	"github.com/badu/httpcore/internal/hdr"
)

func respHeaders(pairs ...string) hdr.Header { return hdr.New(pairs...) }

func TestComputeNoCacheEntryRequestsNetwork(t *testing.T) {
	s := Compute(hdr.New(), nil, time.Now())
	if !s.NetworkRequest || s.CacheResponse != nil {
		t.Fatalf("got %+v", s)
	}
}

func TestComputeOnlyIfCachedWithNoEntryIsUnsatisfiable(t *testing.T) {
	req := respHeaders(hdr.CacheControl, "only-if-cached")
	s := Compute(req, nil, time.Now())
	if s.Satisfiable() {
		t.Fatalf("got %+v, want unsatisfiable", s)
	}
}

func TestComputeFreshEntryServedFromCache(t *testing.T) {
	now := time.Now()
	e := &Entry{
		ResponseHeaders: respHeaders(hdr.CacheControl, "max-age=3600", hdr.Date, now.Format(hdr.TimeFormat)),
		SentAt:          now,
		ReceivedAt:      now,
	}
	s := Compute(hdr.New(), e, now.Add(10*time.Second))
	if s.CacheResponse == nil || s.NetworkRequest {
		t.Fatalf("got %+v, want fresh cache hit", s)
	}
}

func TestComputeStaleEntryWithValidatorIsConditional(t *testing.T) {
	now := time.Now()
	old := now.Add(-2 * time.Hour)
	e := &Entry{
		ResponseHeaders: respHeaders(
			hdr.CacheControl, "max-age=60",
			hdr.Date, old.Format(hdr.TimeFormat),
			hdr.Etag, `"v1"`,
		),
		SentAt:     old,
		ReceivedAt: old,
	}
	s := Compute(hdr.New(), e, now)
	if !s.NetworkRequest || s.CacheResponse == nil {
		t.Fatalf("got %+v, want conditional", s)
	}
	if s.IfNoneMatch != `"v1"` {
		t.Fatalf("IfNoneMatch = %q", s.IfNoneMatch)
	}
}

func TestComputeStaleEntryWithoutValidatorIsNetworkOnly(t *testing.T) {
	now := time.Now()
	old := now.Add(-2 * time.Hour)
	e := &Entry{
		ResponseHeaders: respHeaders(hdr.CacheControl, "max-age=60", hdr.Date, old.Format(hdr.TimeFormat)),
		SentAt:          old,
		ReceivedAt:      old,
	}
	s := Compute(hdr.New(), e, now)
	if !s.NetworkRequest || s.CacheResponse != nil {
		t.Fatalf("got %+v, want network-only", s)
	}
}

func TestComputeRequestNoCacheForcesNetwork(t *testing.T) {
	now := time.Now()
	e := &Entry{
		ResponseHeaders: respHeaders(hdr.CacheControl, "max-age=3600", hdr.Date, now.Format(hdr.TimeFormat)),
		SentAt:          now,
		ReceivedAt:      now,
	}
	req := respHeaders(hdr.CacheControl, "no-cache")
	s := Compute(req, e, now)
	if !s.NetworkRequest || s.CacheResponse != nil {
		t.Fatalf("got %+v, want forced network", s)
	}
}

func TestComputeExistingConditionalHeadersSkipEntryConditions(t *testing.T) {
	now := time.Now()
	old := now.Add(-2 * time.Hour)
	e := &Entry{
		ResponseHeaders: respHeaders(hdr.CacheControl, "max-age=60", hdr.Date, old.Format(hdr.TimeFormat), hdr.Etag, `"v1"`),
		SentAt:          old,
		ReceivedAt:      old,
	}
	req := respHeaders(hdr.IfNoneMatch, `"caller-etag"`)
	s := Compute(req, e, now)
	if !s.NetworkRequest || s.CacheResponse != nil {
		t.Fatalf("got %+v, want plain network request with caller's own validators preserved", s)
	}
}

func TestMergeNotModifiedDropsHopByHopAndKeepsCachedHeaders(t *testing.T) {
	cached := respHeaders(hdr.Etag, `"v1"`, hdr.ContentType, "text/plain")
	network := respHeaders(hdr.Etag, `"v1"`, hdr.Connection, "close")
	merged := MergeNotModified(cached, network)
	if merged.Get(hdr.Connection) != "" {
		t.Fatal("hop-by-hop header leaked into merged result")
	}
	if merged.Get(hdr.ContentType) != "text/plain" {
		t.Fatal("expected original content-type to survive merge")
	}
}

func TestVaryMatches(t *testing.T) {
	cachedReq := respHeaders("Accept-Encoding", "gzip")
	newReq := respHeaders("Accept-Encoding", "gzip")
	resp := respHeaders(hdr.Vary, "Accept-Encoding")
	if !VaryMatches(cachedReq, newReq, resp) {
		t.Fatal("expected vary match")
	}

	newReq2 := respHeaders("Accept-Encoding", "identity")
	if VaryMatches(cachedReq, newReq2, resp) {
		t.Fatal("expected vary mismatch")
	}
}

func TestCacheableRejectsNoStore(t *testing.T) {
	if Cacheable(hdr.New(), respHeaders(hdr.CacheControl, "no-store"), 200) {
		t.Fatal("expected no-store response to be uncacheable")
	}
}

func TestKeyIsStableHash(t *testing.T) {
	a := Key("https://example.com/x")
	b := Key("https://example.com/x")
	if a != b || len(a) != 64 {
		t.Fatalf("key = %q", a)
	}
}
