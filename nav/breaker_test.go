package nav

import (
	"testing"
	"time"
)

func TestBreakerTripsAboveThreshold(t *testing.T) {
	b := NewBreaker()
	for i := 0; i < 3; i++ {
		if b.Record("/profile", "/login") {
			t.Fatalf("tripped after %d transitions, threshold is %d", i+1, b.threshold)
		}
	}
	if !b.Record("/profile", "/login") {
		t.Fatal("fourth identical transition must trip the breaker")
	}
	if !b.Tripped() {
		t.Fatal("Tripped() = false after trip")
	}
	// Once tripped, Record reports false so the trip is logged only once.
	if b.Record("/profile", "/login") {
		t.Fatal("Record must not re-trip")
	}
}

func TestBreakerDistinctTransitionsDoNotAccumulate(t *testing.T) {
	b := NewBreaker()
	paths := []string{"/a", "/b", "/c", "/d", "/e"}
	for _, p := range paths {
		if b.Record(p, "/login") {
			t.Fatalf("distinct transition %s -> /login tripped the breaker", p)
		}
	}
	if b.Tripped() {
		t.Fatal("breaker tripped without a repeating transition")
	}
}

func TestBreakerWindowExpiry(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	b := NewBreaker()
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		b.Record("/profile", "/login")
	}
	// Old transitions age out of the window; the next one starts over.
	now = now.Add(defaultLoopWindow + time.Second)
	if b.Record("/profile", "/login") {
		t.Fatal("transitions outside the window must not count toward the trip")
	}
	if b.Tripped() {
		t.Fatal("breaker tripped across the window boundary")
	}
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker()
	for i := 0; i < 4; i++ {
		b.Record("/profile", "/login")
	}
	if !b.Tripped() {
		t.Fatal("setup: breaker should be tripped")
	}
	b.Reset()
	if b.Tripped() {
		t.Fatal("Reset must re-enable navigation")
	}
	// History is cleared too, not just the flag.
	if b.Record("/profile", "/login") {
		t.Fatal("first transition after reset must not trip")
	}
}

func TestValidatePath(t *testing.T) {
	valid := []string{"/", "/login", "/profile/settings", "/a-b_c.d"}
	for _, p := range valid {
		if err := validatePath(p); err != nil {
			t.Errorf("validatePath(%q) = %v, want nil", p, err)
		}
	}
	invalid := []string{
		"",
		"profile",
		"/with space",
		"/tab\there",
		"/ctrl\x00",
		"/" + string(make([]byte, MaxPathLength)),
	}
	for _, p := range invalid {
		if err := validatePath(p); err == nil {
			t.Errorf("validatePath(%q) = nil, want error", p)
		}
	}
}
