package server

import (
	"math"
	"net/http"

	metrics "github.com/rcrowley/go-metrics"
)

// opMetrics counts accepted and rejected operations for /api/metrics.
type opMetrics struct {
	reg metrics.Registry

	files        metrics.Counter
	grants       metrics.Counter
	collected    metrics.Counter
	withdrawn    metrics.Counter
	rejected     metrics.Counter
	authFailures metrics.Counter
	rateLimited  metrics.Counter
}

func newOpMetrics() *opMetrics {
	r := metrics.NewRegistry()
	return &opMetrics{
		reg:          r,
		files:        metrics.NewRegisteredCounter("files.created", r),
		grants:       metrics.NewRegisteredCounter("grants.created", r),
		collected:    metrics.NewRegisteredCounter("fees.collected", r),
		withdrawn:    metrics.NewRegisteredCounter("fees.withdrawn", r),
		rejected:     metrics.NewRegisteredCounter("requests.rejected", r),
		authFailures: metrics.NewRegisteredCounter("requests.auth_failed", r),
		rateLimited:  metrics.NewRegisteredCounter("requests.rate_limited", r),
	}
}

// addAmount adds a fee amount to c, saturating at MaxInt64 instead of
// wrapping negative.
func addAmount(c metrics.Counter, amount uint64) {
	if room := uint64(math.MaxInt64 - c.Count()); amount > room {
		amount = room
	}
	c.Inc(int64(amount))
}

// snapshot returns every counter by name.
func (m *opMetrics) snapshot() map[string]int64 {
	out := make(map[string]int64)
	m.reg.Each(func(name string, i interface{}) {
		if c, ok := i.(metrics.Counter); ok {
			out[name] = c.Count()
		}
	})
	return out
}

// handleMetrics handles GET /api/metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.snapshot())
}
