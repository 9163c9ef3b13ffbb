package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	callsStartedTotal   atomic.Uint64
	callsCompletedTotal atomic.Uint64
	callsFailedTotal    atomic.Uint64
	segmentsTotal       atomic.Uint64
	fallbackTotal       atomic.Uint64
	jobsRetriedTotal    atomic.Uint64
	jobsDroppedTotal    atomic.Uint64

	callDuration = newHistogram([]float64{1000, 5000, 15000, 30000, 60000, 120000, 300000, 600000})
)

// IncCallStarted increments the started counter.
func IncCallStarted() {
	callsStartedTotal.Add(1)
}

// IncCallCompleted increments the completed counter.
func IncCallCompleted() {
	callsCompletedTotal.Add(1)
}

// IncCallFailed increments the failed counter.
func IncCallFailed() {
	callsFailedTotal.Add(1)
}

// AddSegmentsTranscribed counts audio segments sent to a speech provider.
func AddSegmentsTranscribed(n int) {
	if n > 0 {
		segmentsTotal.Add(uint64(n))
	}
}

// IncFallbackTranscription counts calls routed to the fallback speech provider.
func IncFallbackTranscription() {
	fallbackTotal.Add(1)
}

// IncJobRetried counts job deliveries scheduled for another attempt.
func IncJobRetried() {
	jobsRetriedTotal.Add(1)
}

// IncJobDropped counts job deliveries abandoned as permanent failures or exhausted.
func IncJobDropped() {
	jobsDroppedTotal.Add(1)
}

// ObserveCallDurationMs records a pipeline duration in milliseconds.
func ObserveCallDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	callDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "calls_started_total", "Total call pipelines started", callsStartedTotal.Load())
	writeCounter(&buf, "calls_completed_total", "Total call pipelines completed", callsCompletedTotal.Load())
	writeCounter(&buf, "calls_failed_total", "Total call pipelines failed", callsFailedTotal.Load())
	writeCounter(&buf, "transcription_segments_total", "Total audio segments transcribed", segmentsTotal.Load())
	writeCounter(&buf, "transcription_fallback_total", "Total transcriptions routed to the fallback provider", fallbackTotal.Load())
	writeCounter(&buf, "jobs_retried_total", "Total job deliveries scheduled for retry", jobsRetriedTotal.Load())
	writeCounter(&buf, "jobs_dropped_total", "Total job deliveries dropped", jobsDroppedTotal.Load())
	writeHistogram(&buf, "call_duration_ms", "Call pipeline duration in milliseconds", callDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	// Observe already counts a value in every bucket whose bound it fits under.
	for i, bound := range snap.buckets {
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), snap.counts[i])
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
