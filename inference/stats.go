package inference

import (
	"errors"
	"sync"
	"time"
)

// ProviderStats aggregates the outcome of calls to one provider.
type ProviderStats struct {
	Requests     int           `json:"requests"`
	Successes    int           `json:"successes"`
	Failures     int           `json:"failures"`
	Timeouts     int           `json:"timeouts"`
	ParseErrors  int           `json:"parse_errors"`
	Retries      int           `json:"retries"`
	TotalLatency time.Duration `json:"total_latency"`
}

// AverageLatency returns the mean latency of all requests.
func (s ProviderStats) AverageLatency() time.Duration {
	if s.Requests == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Requests)
}

type statsRecorder struct {
	mu    sync.Mutex
	stats map[string]ProviderStats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{stats: map[string]ProviderStats{}}
}

func (r *statsRecorder) observe(id string, attempts int, dur time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats[id]
	s.Requests++
	s.TotalLatency += dur
	if attempts > 1 {
		s.Retries += attempts - 1
	}
	switch {
	case err == nil:
		s.Successes++
	case errors.Is(err, ErrTimeout):
		s.Failures++
		s.Timeouts++
	case errors.Is(err, ErrParse):
		s.Failures++
		s.ParseErrors++
	default:
		s.Failures++
	}
	r.stats[id] = s
}

func (r *statsRecorder) snapshot() map[string]ProviderStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]ProviderStats, len(r.stats))
	for k, v := range r.stats {
		out[k] = v
	}
	return out
}
