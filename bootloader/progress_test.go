package bootloader

import (
	"math"
	"testing"
)

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTrackerPhases(t *testing.T) {
	tr := &tracker{}
	if tr.ratio() != 0 {
		t.Fatalf("fresh ratio = %v, want 0", tr.ratio())
	}

	tr.setTotal(100)

	if got := tr.enter(progressValidated); !almost(got, 0.02) {
		t.Errorf("after validation = %v, want 0.02", got)
	}
	if got := tr.ackBytes(25); !almost(got, 0.02+0.88*0.25) {
		t.Errorf("quarter written = %v, want %v", got, 0.02+0.88*0.25)
	}
	if got := tr.ackBytes(75); !almost(got, 0.90) {
		t.Errorf("fully written = %v, want 0.90", got)
	}
	if got := tr.enter(progressVerifying); !almost(got, 0.92) {
		t.Errorf("verifying = %v, want 0.92", got)
	}
	if got := tr.enter(progressRebooting); !almost(got, 0.95) {
		t.Errorf("rebooting = %v, want 0.95", got)
	}
	if got := tr.complete(); got != 1.0 {
		t.Errorf("completed = %v, want exactly 1.0", got)
	}
}

func TestTrackerMonotonic(t *testing.T) {
	tr := &tracker{}
	tr.setTotal(100)

	tr.enter(0.5)
	if got := tr.enter(0.1); got != 0.5 {
		t.Errorf("ratio regressed to %v after a lower phase boundary", got)
	}
	if got := tr.ackBytes(10); got != 0.5 {
		t.Errorf("ratio regressed to %v after a small ack", got)
	}
}

func TestTrackerOneOnlyWhenComplete(t *testing.T) {
	tr := &tracker{}
	tr.setTotal(100)

	if got := tr.ackBytes(100); got >= 1.0 {
		t.Errorf("ratio hit %v with only the transfer done", got)
	}
	if got := tr.enter(progressRebooting); got >= 1.0 {
		t.Errorf("ratio hit %v before completion", got)
	}
	if got := tr.complete(); got != 1.0 {
		t.Errorf("completed = %v, want exactly 1.0", got)
	}
}

func TestTrackerFrozenAfterComplete(t *testing.T) {
	tr := &tracker{}
	tr.setTotal(100)
	tr.complete()

	if got := tr.ackBytes(50); got != 1.0 {
		t.Errorf("ratio moved to %v after completion", got)
	}
	if got := tr.enter(0.5); got != 1.0 {
		t.Errorf("ratio moved to %v after completion", got)
	}
	if tr.ratio() != 1.0 {
		t.Errorf("ratio = %v, want 1.0", tr.ratio())
	}
}

func TestTrackerAckedRatio(t *testing.T) {
	tr := &tracker{}
	if got := tr.ackedRatio(); got != 0 {
		t.Fatalf("ackedRatio with no total = %v, want 0", got)
	}

	tr.setTotal(200)
	tr.ackBytes(50)

	if got := tr.ackedRatio(); !almost(got, 0.25) {
		t.Errorf("ackedRatio = %v, want 0.25", got)
	}
	// The weighted ratio reads differently from the raw byte fraction.
	if got := tr.ratio(); !almost(got, 0.02+0.88*0.25) {
		t.Errorf("ratio = %v, want %v", got, 0.02+0.88*0.25)
	}
}
