package supervisor

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/shikharish/pgmoneta/pkg/log"
	"github.com/shikharish/pgmoneta/pkg/metrics"
)

// sweepPeriod is the fixed wall-clock interval for both periodic tasks,
// with zero initial offset, per spec.md §4.6.
const sweepPeriod = 60 * time.Second

// SweepFunc performs one cycle of a periodic task.
type SweepFunc func() error

// Scheduler fires the WAL-compression sweep and retention sweep at
// sweepPeriod, guarding each task against overlap with an atomic.Bool — the
// "behavior-preserving tightening" spec.md §4.6 explicitly recommends.
type Scheduler struct {
	logger zerolog.Logger
	stopCh chan struct{}
	period time.Duration

	compressionEnabled bool
	compressionSweep   SweepFunc
	retentionSweep     SweepFunc

	compressionRunning atomic.Bool
	retentionRunning   atomic.Bool
}

// NewScheduler constructs a Scheduler. compressionSweep is only armed if
// compressionEnabled is true (mirroring "only armed if compression policy
// != NONE"); retentionSweep is always armed.
func NewScheduler(compressionEnabled bool, compressionSweep, retentionSweep SweepFunc) *Scheduler {
	return &Scheduler{
		logger:             log.WithComponent("scheduler"),
		stopCh:             make(chan struct{}),
		period:             sweepPeriod,
		compressionEnabled: compressionEnabled,
		compressionSweep:   compressionSweep,
		retentionSweep:     retentionSweep,
	}
}

// Start arms the periodic tasks in their own goroutines.
func (s *Scheduler) Start() {
	if s.compressionEnabled {
		go s.run("wal-compression", s.period, &s.compressionRunning, s.compressionSweep,
			metrics.CompressionSweepDuration)
	}
	go s.run("retention", s.period, &s.retentionRunning, s.retentionSweep,
		metrics.RetentionSweepDuration)
}

// setPeriodForTest shrinks the sweep period so tests don't wait 60 seconds
// per tick. Must be called before Start.
func (s *Scheduler) setPeriodForTest(d time.Duration) {
	s.period = d
}

// Stop halts every armed periodic task.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run(name string, period time.Duration, running *atomic.Bool, fn SweepFunc, histogram interface {
	Observe(float64)
}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.logger.Info().Str("task", name).Msg("periodic task armed")

	for {
		select {
		case <-ticker.C:
			if !running.CompareAndSwap(false, true) {
				s.logger.Warn().Str("task", name).Msg("previous sweep still running, skipping this tick")
				metrics.SweepSkippedTotal.WithLabelValues(name).Inc()
				continue
			}

			start := time.Now()
			if err := fn(); err != nil {
				s.logger.Error().Str("task", name).Err(err).Msg("sweep failed")
			}
			histogram.Observe(time.Since(start).Seconds())
			running.Store(false)

		case <-s.stopCh:
			s.logger.Info().Str("task", name).Msg("periodic task stopped")
			return
		}
	}
}
