package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthzURL(t *testing.T) {
	tests := map[string]string{
		"":               "http://localhost:8080/healthz",
		":9090":          "http://localhost:9090/healthz",
		"127.0.0.1:8081": "http://127.0.0.1:8081/healthz",
	}
	for addr, want := range tests {
		if got := healthzURL(addr); got != want {
			t.Errorf("healthzURL(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestTargetURLPrefersExplicit(t *testing.T) {
	t.Setenv("HEALTHCHECK_URL", "http://relay:1234/healthz")
	t.Setenv("CLIPRELAY_HTTP__ADDR", ":1")
	if got := targetURL(); got != "http://relay:1234/healthz" {
		t.Errorf("targetURL() = %q", got)
	}
}

func TestCheck(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	if err := check(context.Background(), srv.Client(), srv.URL+"/healthz"); err != nil {
		t.Fatalf("check() healthy error: %v", err)
	}
	status = http.StatusServiceUnavailable
	if err := check(context.Background(), srv.Client(), srv.URL+"/healthz"); err == nil {
		t.Fatal("check() should fail on 503")
	}
}
