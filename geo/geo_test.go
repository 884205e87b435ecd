package geo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestSuggest_ShortQuery(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	l := New(Options{PrimaryURL: srv.URL, FallbackURL: srv.URL}, nil)
	got := l.Suggest(context.Background(), " ab ")
	if got == nil || len(got) != 0 {
		t.Fatalf("got %v, want empty non-nil", got)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Errorf("providers called %d times", hits)
	}
}

func TestSuggest_PrimaryCapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "Hafen" {
			t.Errorf("q = %q", r.URL.Query().Get("q"))
		}
		if r.Header.Get("User-Agent") != "Tool Custody" {
			t.Errorf("user agent = %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte("["))
		for i := 0; i < 8; i++ {
			if i > 0 {
				w.Write([]byte(","))
			}
			fmt.Fprintf(w, `{"display_name":"Hafenstrasse %d, Hamburg"}`, i)
		}
		w.Write([]byte("]"))
	}))
	defer srv.Close()

	l := New(Options{PrimaryURL: srv.URL, UserAgent: "Tool Custody"}, nil)
	got := l.Suggest(context.Background(), "Hafen")
	if len(got) != MaxResults || got[0] != "Hafenstrasse 0, Hamburg" {
		t.Fatalf("got %v", got)
	}
}

func TestSuggest_FallbackOnPrimaryFailure(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features":[
			{"properties":{"street":"Hafenstrasse","housenumber":"4","postcode":"20457","city":"Hamburg","country":"Germany"}},
			{"properties":{"name":"Elbphilharmonie","city":"Hamburg"}}
		]}`))
	}))
	defer fallback.Close()

	l := New(Options{PrimaryURL: primary.URL, FallbackURL: fallback.URL}, nil)
	got := l.Suggest(context.Background(), "Hafenstr")
	want := []string{"Hafenstrasse 4, 20457 Hamburg, Germany", "Elbphilharmonie, Hamburg"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSuggest_AllProvidersDown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	l := New(Options{PrimaryURL: down.URL, FallbackURL: "http://127.0.0.1:1", Timeout: time.Second}, nil)
	got := l.Suggest(context.Background(), "Main Street")
	if got == nil || len(got) != 0 {
		t.Fatalf("got %v, want empty non-nil", got)
	}
}

func TestSuggest_CachesResults(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`[{"display_name":"Lot 7, Berlin"}]`))
	}))
	defer srv.Close()

	l := New(Options{PrimaryURL: srv.URL, CacheTTL: time.Hour}, newRedis(t))
	for i := 0; i < 3; i++ {
		got := l.Suggest(context.Background(), "Lot 7")
		if len(got) != 1 || got[0] != "Lot 7, Berlin" {
			t.Fatalf("call %d: got %v", i, got)
		}
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("provider hit %d times, want 1", hits)
	}
}
