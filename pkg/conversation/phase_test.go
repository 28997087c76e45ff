package conversation

import (
	"testing"
	"time"
)

func TestPhaseTimeouts(t *testing.T) {
	cfg := DefaultPhaseTimeouts()

	cases := []struct {
		phase   Phase
		timeout time.Duration
		maxIdle int
	}{
		{PhaseAwaiting, 500 * time.Millisecond, 60},
		{PhaseStreaming, 2 * time.Second, 3},
		{PhaseToolPending, 5 * time.Second, 24},
		{PhaseCompacting, 5 * time.Second, 30},
	}
	for _, c := range cases {
		if got := c.phase.Timeout(cfg); got != c.timeout {
			t.Errorf("%s timeout = %v, want %v", c.phase, got, c.timeout)
		}
		if got := c.phase.MaxIdle(cfg); got != c.maxIdle {
			t.Errorf("%s max idle = %d, want %d", c.phase, got, c.maxIdle)
		}
	}
}

func TestPhaseExtendedWait(t *testing.T) {
	if PhaseAwaiting.IsExtendedWait() || PhaseStreaming.IsExtendedWait() {
		t.Fatal("awaiting/streaming are not extended waits")
	}
	if !PhaseToolPending.IsExtendedWait() || !PhaseCompacting.IsExtendedWait() {
		t.Fatal("tool-pending/compacting are extended waits")
	}
}
