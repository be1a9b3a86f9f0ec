package bootloader

import "sync"

// Phase weights for the reported completion ratio. Programming dominates
// the wall clock, so it gets nearly the whole range; validation,
// verification and reboot get the thin slices at the edges. The ratio
// reaches 1.0 only in the completed state.
const (
	progressValidated   = 0.02
	progressProgramSpan = 0.88
	progressVerifying   = 0.92
	progressRebooting   = 0.95
)

// tracker folds acknowledged bytes and phase boundaries into a single
// monotonic completion ratio.
type tracker struct {
	mu        sync.Mutex
	total     int
	acked     int
	current   float64
	completed bool
}

func (tr *tracker) setTotal(n int) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.total = n
}

// ackBytes records n more acknowledged image bytes and returns the
// updated ratio.
func (tr *tracker) ackBytes(n int) float64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.acked += n
	if tr.total > 0 {
		tr.raise(progressValidated + progressProgramSpan*float64(tr.acked)/float64(tr.total))
	}
	return tr.current
}

// enter raises the ratio to a phase boundary and returns the result.
func (tr *tracker) enter(v float64) float64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.raise(v)
	return tr.current
}

// complete marks the session finished. Only here does the ratio hit 1.
func (tr *tracker) complete() float64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.completed = true
	tr.current = 1
	return tr.current
}

// ratio returns the last reported completion ratio.
func (tr *tracker) ratio() float64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.current
}

// ackedRatio returns the fraction of image bytes acknowledged so far.
// The cancellation safety check keys off this, not the phase-weighted
// ratio.
func (tr *tracker) ackedRatio() float64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.total == 0 {
		return 0
	}
	return float64(tr.acked) / float64(tr.total)
}

func (tr *tracker) raise(v float64) {
	if !tr.completed && v > tr.current {
		tr.current = v
	}
}
