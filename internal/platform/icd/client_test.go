package icd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T, body string, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.URL.Query().Get("sf") != "code,title" || r.URL.Query().Get("df") != "code,title" {
			t.Errorf("unexpected field params: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearch_ParsesDisplayRows(t *testing.T) {
	var calls int32
	srv := newTestServer(t, `[2,["1A00","1A01"],null,[["1A00","Cholera"],["1A01","Intestinal infection"]]]`, &calls)

	c := NewClient(srv.URL, 0, zerolog.Nop())
	results, err := c.Search(context.Background(), "chol", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Code != "1A00" || results[0].Name != "Cholera" {
		t.Errorf("unexpected first result: %+v", results[0])
	}
}

func TestSearch_ShortQuerySkipsRequest(t *testing.T) {
	var calls int32
	srv := newTestServer(t, `[]`, &calls)

	c := NewClient(srv.URL, 0, zerolog.Nop())
	for _, q := range []string{"", "a", " b "} {
		results, err := c.Search(context.Background(), q, 0)
		if err != nil {
			t.Fatalf("query %q: unexpected error: %v", q, err)
		}
		if len(results) != 0 {
			t.Errorf("query %q: expected no results, got %d", q, len(results))
		}
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("expected no upstream calls, got %d", calls)
	}
}

func TestSearch_DefaultMaxList(t *testing.T) {
	var gotMax string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMax = r.URL.Query().Get("maxList")
		w.Write([]byte(`[0,[],null,[]]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, zerolog.Nop())
	if _, err := c.Search(context.Background(), "sepsis", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMax != "7" {
		t.Errorf("expected maxList 7, got %q", gotMax)
	}
}

func TestSearch_TruncatesToMax(t *testing.T) {
	var calls int32
	srv := newTestServer(t, `[3,[],null,[["A","a"],["B","b"],["C","c"]]]`, &calls)

	results, err := NewClient(srv.URL, 0, zerolog.Nop()).Search(context.Background(), "abc", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
}

func TestSearch_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, 0, zerolog.Nop()).Search(context.Background(), "sepsis", 0); err == nil {
		t.Fatal("expected error for upstream failure")
	}
}

func TestSearch_ShortPayload(t *testing.T) {
	var calls int32
	srv := newTestServer(t, `[0,[]]`, &calls)

	results, err := NewClient(srv.URL, 0, zerolog.Nop()).Search(context.Background(), "sepsis", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}
