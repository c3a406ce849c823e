package attachment

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Simulated progress parameters for the single-put path, which has no
// native progress signal: start at 5%, climb in random 3-8% steps while
// the transfer is outstanding, cap at 90%, and jump to 100% only once the
// transfer call resolves. This is an approximation, not a measurement.
const (
	simProgressStart    = 5
	simProgressCeiling  = 90
	simProgressInterval = 120 * time.Millisecond
)

// simulatedProgress drives a synthetic percentage ramp on a timer. All
// emissions happen from one goroutine plus the final call in finish, which
// only runs after that goroutine has stopped, so the callback observes a
// strictly non-decreasing sequence.
type simulatedProgress struct {
	report   func(percent int)
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func startSimulatedProgress(report func(percent int), interval time.Duration) *simulatedProgress {
	s := &simulatedProgress{
		report:   report,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *simulatedProgress) run() {
	defer close(s.done)

	current := simProgressStart
	s.report(current)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if current >= simProgressCeiling {
				continue
			}
			current = min(current+3+rand.IntN(6), simProgressCeiling)
			s.report(current)
		}
	}
}

// halt stops the ramp without reporting completion. Used on transfer
// failure.
func (s *simulatedProgress) halt() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

// finish stops the ramp and reports 100%.
func (s *simulatedProgress) finish() {
	s.halt()
	s.report(100)
}

// monotonicPercent wraps a progress callback and drops regressions, so
// scaled multipart fractions can never move the reported percentage
// backwards.
func monotonicPercent(report func(percent int)) func(fraction float64) {
	var mu sync.Mutex
	last := -1
	return func(fraction float64) {
		percent := int(math.Round(fraction * 100))
		if percent > 100 {
			percent = 100
		}
		mu.Lock()
		defer mu.Unlock()
		if percent <= last {
			return
		}
		last = percent
		report(percent)
	}
}
