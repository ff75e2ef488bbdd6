// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/placemirror/placemirror/internal/models"
	"github.com/placemirror/placemirror/internal/transform"
)

var testBBox = models.BBox{South: 59.4, West: 24.6, North: 59.5, East: 24.8}

const fixtureBody = `{"elements":[
	{"id":1,"type":"node","lat":59.43,"lon":24.75,"version":2,
	 "timestamp":"2026-01-15T10:30:00Z","tags":{"name":"Cafe A","amenity":"cafe"}},
	{"id":2,"type":"node","lat":59.44,"lon":24.76,"version":1,
	 "timestamp":"2026-01-15T10:31:00Z","tags":{}}
]}`

func testConfig(endpoints ...string) Config {
	return Config{
		Endpoints:   endpoints,
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	}
}

func TestFetch_DecodesEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("content type = %s", ct)
		}
		w.Write([]byte(fixtureBody)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	els := c.Fetch(context.Background(), testBBox, nil)
	if len(els) != 2 {
		t.Fatalf("got %d elements, want 2", len(els))
	}
	if els[0].ID != 1 || els[0].Tags["name"] != "Cafe A" {
		t.Errorf("first element = %+v", els[0])
	}
	if els[0].Lat == nil || *els[0].Lat != 59.43 {
		t.Error("latitude not decoded")
	}
}

func TestFetch_RotatesEndpointsOnOverload(t *testing.T) {
	t.Parallel()

	var overloadedHits atomic.Int64
	overloaded := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		overloadedHits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer overloaded.Close()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fixtureBody)) //nolint:errcheck
	}))
	defer healthy.Close()

	c := NewClient(testConfig(overloaded.URL, healthy.URL))
	els := c.Fetch(context.Background(), testBBox, nil)
	if len(els) != 2 {
		t.Fatalf("got %d elements, want 2 after rotating to healthy endpoint", len(els))
	}
	if overloadedHits.Load() != 1 {
		t.Errorf("overloaded endpoint hit %d times, want 1", overloadedHits.Load())
	}
}

func TestFetch_FilterRejectionFallsBackUnfiltered(t *testing.T) {
	t.Parallel()

	var sawFiltered, sawUnfiltered atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		query := r.Form.Get("data")
		if strings.Contains(query, "newer:") {
			sawFiltered.Store(true)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		sawUnfiltered.Store(true)
		w.Write([]byte(fixtureBody)) //nolint:errcheck
	}))
	defer srv.Close()

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClient(testConfig(srv.URL))
	els := c.Fetch(context.Background(), testBBox, &since)

	if !sawFiltered.Load() || !sawUnfiltered.Load() {
		t.Fatal("expected a filtered attempt followed by an unfiltered fallback")
	}
	if len(els) != 2 {
		t.Fatalf("got %d elements from fallback, want 2", len(els))
	}
}

// An endpoint that rejects the changed-since clause is healthy, just
// opinionated: repeated watermarked fetches must not trip its breaker and
// drop it out of rotation.
func TestFetch_FilterRejectionDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	var rejectingHits atomic.Int64
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rejectingHits.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if strings.Contains(r.Form.Get("data"), "newer:") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(fixtureBody)) //nolint:errcheck
	}))
	defer rejecting.Close()

	accepting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fixtureBody)) //nolint:errcheck
	}))
	defer accepting.Close()

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClient(testConfig(rejecting.URL, accepting.URL))

	// Rotation sends every filtered attempt to the rejecting endpoint and
	// every unfiltered fallback to the accepting one. Six rounds is past
	// the breaker's consecutive-failure threshold.
	const rounds = 6
	for i := 0; i < rounds; i++ {
		els := c.Fetch(context.Background(), testBBox, &since)
		if len(els) != 2 {
			t.Fatalf("round %d: got %d elements, want 2", i, len(els))
		}
	}
	if got := rejectingHits.Load(); got != rounds {
		t.Errorf("rejecting endpoint hit %d times, want %d (breaker must not open on filter rejection)", got, rounds)
	}
}

func TestFetch_ExhaustionReturnsEmpty(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	els := c.Fetch(context.Background(), testBBox, nil)
	if els != nil {
		t.Errorf("got %v, want nil after exhausting retries", els)
	}
	if hits.Load() != 3 {
		t.Errorf("endpoint hit %d times, want 3 (attempt ceiling)", hits.Load())
	}
}

func TestBuildQuery(t *testing.T) {
	t.Parallel()

	filters := []transform.TagFilter{{Key: "amenity", Values: []string{"bar", "cafe"}}}
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	q := BuildQuery(filters, testBBox, &since)
	for _, want := range []string{
		"[out:json]",
		`node["amenity"~"^(bar|cafe)$"]`,
		`way["amenity"~"^(bar|cafe)$"]`,
		`(newer:"2026-01-01T00:00:00Z")`,
		"(59.4,24.6,59.5,24.8)",
		"out center meta;",
	} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q:\n%s", want, q)
		}
	}

	unfiltered := BuildQuery(filters, testBBox, nil)
	if strings.Contains(unfiltered, "newer:") {
		t.Error("unfiltered query must not carry a changed-since clause")
	}
}
