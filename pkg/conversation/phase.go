package conversation

import "time"

// Phase is the response-handling state of the event loop. It replaces the
// boolean soup (got first content, tool pending, compacting) with one
// explicit machine, and drives the adaptive timeout strategy: short polls
// while waiting for first content, medium during streaming, extended during
// server-side tool execution and compaction.
type Phase string

const (
	// PhaseAwaiting waits for first content from the agent.
	PhaseAwaiting Phase = "awaiting"
	// PhaseStreaming is active content reception.
	PhaseStreaming Phase = "streaming"
	// PhaseToolPending waits on server-side tool execution.
	PhaseToolPending Phase = "tool_pending"
	// PhaseCompacting waits on context compaction.
	PhaseCompacting Phase = "compacting"
)

// PhaseTimeouts configures per-phase poll timeouts and idle tolerances.
type PhaseTimeouts struct {
	Initial   time.Duration
	Streaming time.Duration
	Extended  time.Duration

	MaxIdleInitial     int
	MaxIdleStreaming   int
	MaxIdleToolPending int
	MaxIdleCompacting  int
}

// DefaultPhaseTimeouts returns the tuned defaults: 30s total to first
// content, 6s idle tolerance while streaming, 2min for pending tools,
// 2.5min for compaction.
func DefaultPhaseTimeouts() PhaseTimeouts {
	return PhaseTimeouts{
		Initial:            500 * time.Millisecond,
		Streaming:          2 * time.Second,
		Extended:           5 * time.Second,
		MaxIdleInitial:     60,
		MaxIdleStreaming:   3,
		MaxIdleToolPending: 24,
		MaxIdleCompacting:  30,
	}
}

// Timeout returns the poll timeout for this phase.
func (p Phase) Timeout(t PhaseTimeouts) time.Duration {
	switch p {
	case PhaseStreaming:
		return t.Streaming
	case PhaseToolPending, PhaseCompacting:
		return t.Extended
	default:
		return t.Initial
	}
}

// MaxIdle returns the number of consecutive idle polls tolerated before the
// response is assumed complete.
func (p Phase) MaxIdle(t PhaseTimeouts) int {
	switch p {
	case PhaseStreaming:
		return t.MaxIdleStreaming
	case PhaseToolPending:
		return t.MaxIdleToolPending
	case PhaseCompacting:
		return t.MaxIdleCompacting
	default:
		return t.MaxIdleInitial
	}
}

// IsExtendedWait reports whether the phase is waiting on a long operation.
func (p Phase) IsExtendedWait() bool {
	return p == PhaseToolPending || p == PhaseCompacting
}
