package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// sinkQueueSize is the bounded channel capacity for outbound reports.
const sinkQueueSize = 256

// Sink dispatches error reports to an external HTTP endpoint. Reports are
// enqueued non-blockingly into a bounded channel and sent by a background
// goroutine. If the channel is full, reports are dropped. Delivery
// failures never propagate to the reporting component.
type Sink struct {
	url        string
	authHeader string // "Header: Value" format, e.g., "Authorization: Bearer xxx"
	client     *http.Client
	reports    chan Report
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewSink creates a sink dispatcher and starts its background loop.
func NewSink(url, authHeader string) *Sink {
	s := &Sink{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		reports:    make(chan Report, sinkQueueSize),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Enqueue adds a report to the dispatch queue. If the queue is full, the
// report is dropped and a warning is logged. This method never blocks.
func (s *Sink) Enqueue(report Report) {
	select {
	case s.reports <- report:
	default:
		slog.Warn("telemetry sink: queue full, dropping report", "kind", report.Kind)
	}
}

// Close shuts down the sink, draining any remaining reports. Idempotent.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		close(s.reports)
		s.wg.Wait()
	})
}

func (s *Sink) loop() {
	defer s.wg.Done()
	for report := range s.reports {
		s.send(report)
	}
}

// send POSTs the report to the configured URL with one retry on 5xx.
func (s *Sink) send(report Report) {
	body, err := json.Marshal(report)
	if err != nil {
		slog.Warn("telemetry sink: marshal failed", "error", err)
		return
	}

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(1 * time.Second)
		}

		req, err := http.NewRequest("POST", s.url, bytes.NewReader(body))
		if err != nil {
			slog.Warn("telemetry sink: request creation failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "SessionSync-Telemetry/1.0")

		if s.authHeader != "" {
			parts := strings.SplitN(s.authHeader, ":", 2)
			if len(parts) == 2 {
				req.Header.Set(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
			}
		}

		resp, err := s.client.Do(req)
		if err != nil {
			slog.Warn("telemetry sink: request failed", "error", err, "attempt", attempt+1)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return
		}
		if resp.StatusCode >= 500 {
			slog.Warn("telemetry sink: server error", "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}
		// 4xx: log and do not retry.
		slog.Warn("telemetry sink: client error", "status", resp.StatusCode)
		return
	}
}
