package ratelimit

import (
	"testing"
	"time"
)

func TestCheckAdmitsUpToThreshold(t *testing.T) {
	l := New(5)
	for i := 0; i < 5; i++ {
		if !l.Check("10.0.0.1") {
			t.Fatalf("request %d should have been admitted", i)
		}
	}
	for i := 0; i < 5; i++ {
		if l.Check("10.0.0.1") {
			t.Fatalf("request %d beyond threshold should have been denied", i)
		}
	}
}

func TestCheckIsPerSource(t *testing.T) {
	l := New(1)
	if !l.Check("10.0.0.1") {
		t.Fatalf("first request from .1 should be admitted")
	}
	if !l.Check("10.0.0.2") {
		t.Fatalf("first request from .2 should be admitted independently")
	}
	if l.Check("10.0.0.1") {
		t.Fatalf(".1's second request should be denied")
	}
}

func TestCheckWindowExpires(t *testing.T) {
	l := New(1)
	if !l.Check("10.0.0.1") {
		t.Fatalf("first request should be admitted")
	}
	// simulate an expired window by directly manipulating internal state
	l.mu.Lock()
	for i := range l.windows["10.0.0.1"] {
		l.windows["10.0.0.1"][i] = l.windows["10.0.0.1"][i].Add(-2 * time.Second)
	}
	l.mu.Unlock()
	if !l.Check("10.0.0.1") {
		t.Fatalf("request after window expiry should be admitted")
	}
}
