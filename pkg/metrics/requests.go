package metrics

import (
	"math"
	"sync"
	"time"
)

// RequestMetrics tracks chat calls made by a single bot.
type RequestMetrics struct {
	mu sync.RWMutex

	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	Heartbeats         int64
	ResponseTime       time.Duration
	Started            time.Time
}

// NewRequestMetrics creates a new RequestMetrics instance
func NewRequestMetrics() *RequestMetrics {
	return &RequestMetrics{Started: time.Now()}
}

// RecordRequest records one completed chat call.
func (m *RequestMetrics) RecordRequest(success bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRequests++
	if success {
		m.SuccessfulRequests++
	} else {
		m.FailedRequests++
	}
	m.ResponseTime += latency
}

// RecordHeartbeat records one pass of the worker loop.
func (m *RequestMetrics) RecordHeartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Heartbeats++
}

// SuccessRate is the percentage of successful requests, rounded to two decimals.
func (m *RequestMetrics) SuccessRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.successRate()
}

func (m *RequestMetrics) successRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	rate := float64(m.SuccessfulRequests) / float64(m.TotalRequests) * 100
	return math.Round(rate*100) / 100
}

// HeartbeatRate is the number of loop passes per second since Started.
func (m *RequestMetrics) HeartbeatRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heartbeatRate()
}

func (m *RequestMetrics) heartbeatRate() float64 {
	elapsed := time.Since(m.Started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.Heartbeats) / elapsed
}

// Counts returns the total, successful and failed request counts.
func (m *RequestMetrics) Counts() (total, successful, failed int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TotalRequests, m.SuccessfulRequests, m.FailedRequests
}

// AverageResponseTime is the mean latency over all recorded requests.
func (m *RequestMetrics) AverageResponseTime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.TotalRequests == 0 {
		return 0
	}
	return m.ResponseTime / time.Duration(m.TotalRequests)
}

// GetMetrics returns a snapshot of the current metrics
func (m *RequestMetrics) GetMetrics() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	avg := 0.0
	if m.TotalRequests > 0 {
		avg = m.ResponseTime.Seconds() / float64(m.TotalRequests)
	}

	return map[string]any{
		"total_requests":      m.TotalRequests,
		"successful_requests": m.SuccessfulRequests,
		"failed_requests":     m.FailedRequests,
		"success_rate":        m.successRate(),
		"heartbeats":          m.Heartbeats,
		"heartbeat_rate":      m.heartbeatRate(),
		"avg_response_time":   avg,
	}
}

// Reset clears all counters and restarts the clock.
func (m *RequestMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRequests = 0
	m.SuccessfulRequests = 0
	m.FailedRequests = 0
	m.Heartbeats = 0
	m.ResponseTime = 0
	m.Started = time.Now()
}
