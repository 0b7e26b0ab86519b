package telemetry

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkSuccessfulDelivery(t *testing.T) {
	var body []byte
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSink(srv.URL, "")
	s.Enqueue(Report{
		ID:       "rep-1",
		Kind:     KindNavigation,
		Message:  "navigation interrupted",
		Path:     "/profile",
		Severity: SeverityMedium,
	})
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, body)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &parsed))
	assert.Equal(t, "rep-1", parsed["id"])
	assert.Equal(t, "navigation", parsed["kind"])
	assert.Equal(t, "navigation interrupted", parsed["message"])
	assert.Equal(t, "/profile", parsed["path"])
	assert.Equal(t, "medium", parsed["severity"])
}

func TestSinkRetryOn500(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSink(srv.URL, "")
	s.Enqueue(Report{ID: "rep-1", Kind: KindLoop})
	s.Close()

	assert.Equal(t, int32(2), attempts.Load(), "should have retried once after 500")
}

func TestSinkNoRetryOn400(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewSink(srv.URL, "")
	s.Enqueue(Report{ID: "rep-1", Kind: KindLoop})
	s.Close()

	assert.Equal(t, int32(1), attempts.Load(), "should not retry on 4xx")
}

func TestSinkAuthHeader(t *testing.T) {
	var gotAuth string
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSink(srv.URL, "Authorization: Bearer token-123")
	s.Enqueue(Report{ID: "rep-1"})
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer token-123", gotAuth)
}

func TestSinkEnqueueNeverBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {} // slow consumer
	}))
	defer srv.Close()

	s := &Sink{
		url:     srv.URL,
		client:  &http.Client{Timeout: 100 * time.Millisecond},
		reports: make(chan Report, 2),
	}
	s.wg.Add(1)
	go s.loop()

	for i := 0; i < 10; i++ {
		s.Enqueue(Report{ID: "flood"})
	}
	// Reaching here without blocking is the assertion. The goroutine is
	// stuck in the blocking handler, so don't wait on it.
	close(s.reports)
}

func TestSinkCloseDrainsAndIsIdempotent(t *testing.T) {
	var count atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSink(srv.URL, "")
	for i := 0; i < 5; i++ {
		s.Enqueue(Report{ID: "drain"})
	}
	s.Close()
	s.Close()

	assert.Equal(t, int32(5), count.Load(), "all queued reports should be delivered on close")
}
