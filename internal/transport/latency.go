// internal/transport/latency.go
package transport

import (
	"sync"
	"time"
)

// Quality buckets a smoothed latency.
type Quality string

const (
	QualityUnknown   Quality = "unknown"
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
)

// Classify buckets a latency: <50ms excellent, <100ms good, <200ms fair.
func Classify(latency time.Duration) Quality {
	switch {
	case latency < 50*time.Millisecond:
		return QualityExcellent
	case latency < 100*time.Millisecond:
		return QualityGood
	case latency < 200*time.Millisecond:
		return QualityFair
	}
	return QualityPoor
}

// Estimator smooths RTT samples the way TCP does: latency with gain 1/8 and
// jitter (mean deviation) with gain 1/4.
type Estimator struct {
	mu      sync.Mutex
	srtt    time.Duration
	rttvar  time.Duration
	samples int
}

// Observe folds one round trip into the estimate.
func (e *Estimator) Observe(rtt time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.samples == 0 {
		e.srtt = rtt
		e.rttvar = rtt / 2
	} else {
		diff := e.srtt - rtt
		if diff < 0 {
			diff = -diff
		}
		e.rttvar = (3*e.rttvar + diff) / 4
		e.srtt = (7*e.srtt + rtt) / 8
	}
	e.samples++
}

// Latency is the smoothed round trip, zero before the first sample.
func (e *Estimator) Latency() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.srtt
}

// Jitter is the smoothed deviation of the round trip.
func (e *Estimator) Jitter() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rttvar
}

func (e *Estimator) Quality() Quality {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.samples == 0 {
		return QualityUnknown
	}
	return Classify(e.srtt)
}
