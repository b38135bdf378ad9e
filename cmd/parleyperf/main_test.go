package main

import (
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	values := []time.Duration{
		40 * time.Millisecond,
		10 * time.Millisecond,
		30 * time.Millisecond,
		20 * time.Millisecond,
		50 * time.Millisecond,
	}
	if got := percentile(values, 50); got != 30*time.Millisecond {
		t.Fatalf("p50 = %s, want 30ms", got)
	}
	if got := percentile(values, 100); got != 50*time.Millisecond {
		t.Fatalf("p100 = %s, want 50ms", got)
	}
	if got := percentile(values, 0); got != 10*time.Millisecond {
		t.Fatalf("p0 = %s, want 10ms", got)
	}
}

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("http://127.0.0.1:8080", "abc def")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	want := "ws://127.0.0.1:8080/v1/sessions/ws?session_id=abc+def"
	if got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}

	got, err = wsURLForSession("https://parley.example/api/", "s1")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	want = "wss://parley.example/api/v1/sessions/ws?session_id=s1"
	if got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}

	if _, err := wsURLForSession("ftp://parley.example", "s1"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}
