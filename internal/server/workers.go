package server

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// StartWorkers launches all background goroutines. Call with a cancellable
// context for graceful shutdown.
func (s *Server) StartWorkers(ctx context.Context) {
	go s.runRateLimitCleanup(ctx)
	go s.runStatsReporter(ctx)
}

// --- Rate Limit Cleanup Worker ---

// runRateLimitCleanup drops expired per-IP limiters every minute.
func (s *Server) runRateLimitCleanup(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Minute):
			if n := s.limiter.cleanup(); n > 0 {
				s.log.WithField("worker", "ratelimit").Debugf("dropped %d idle limiters", n)
			}
		}
	}
}

// --- Stats Reporter Worker ---

// runStatsReporter logs registry counters every StatsInterval.
func (s *Server) runStatsReporter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.StatsInterval):
			s.reportStats()
		}
	}
}

// reportStats logs one snapshot of the registry and request counters.
func (s *Server) reportStats() logrus.Fields {
	fields := logrus.Fields{
		"worker":       "stats",
		"files":        s.reg.FileCount(),
		"total_access": s.reg.TotalAccessCount(),
		"balance":      s.reg.Balance(),
		"sequence":     s.reg.Sequence(),
		"events":       s.reg.Events().Len(),
	}
	for name, v := range s.metrics.snapshot() {
		fields[name] = v
	}
	s.log.WithFields(fields).Info("registry stats")
	return fields
}
