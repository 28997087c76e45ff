package dispatch

import "github.com/odvcencio/palaver/pkg/conversation"

// Refs is the dispatcher's mutable scratch state. It is never observable:
// the reducer does not read it and the store never exposes it. One Refs per
// conversation; explicitly passed, never package-level, so multiple
// conversations can run without cross-talk.
type Refs struct {
	// Partial-JSON accumulators for streaming tool input. Fragments may
	// truncate anywhere; a failed parse just waits for the next chunk.
	toolInputJSON string
	todoJSON      string
	questionJSON  string

	// Exclusive collection mode: at most one is active at a time.
	collecting collectMode

	// collectingToolID is the tool receiving plain tool-input fragments.
	collectingToolID string

	// toolNames maps current-turn tool ids to their names, for plan-file
	// capture and result routing. Cleared each turn.
	toolNames map[string]string

	// pendingResults buffers results that arrived before their tool's
	// start event. Cleared each turn.
	pendingResults map[string]pendingResult

	// pendingSubagents buffers subagent signals that arrived before the
	// owning Task tool exists anywhere in state. Cleared each turn.
	pendingSubagents map[string][]subagentSignal

	// Background-task correlation survives across turns: a task is first
	// known by a bridge-local alias, then by the canonical id supplied by
	// a registration event.
	aliasToTask    map[string]string
	pendingDone    map[string]string        // alias or id -> status
	pendingTaskRes map[string]pendingResult // alias or id -> final result
	finalized      *finalizedSet

	// Block boundaries signaled by the bridge force the next delta to
	// open a fresh block instead of extending the previous one.
	forceNewText     bool
	forceNewThinking bool

	// lastResultContent is the final summary text from the result event,
	// used as fallback message content when nothing streamed.
	lastResultContent string

	// sawContextUpdate records whether the provider reported token usage
	// this turn. When it never does, the turn ends with a local estimate.
	sawContextUpdate bool
}

type collectMode int

const (
	collectNone collectMode = iota
	collectToolInput
	collectTodo
	collectQuestion
)

type pendingResult struct {
	Result  string
	IsError bool
}

// subagentSignal is one buffered subagent patch awaiting its owning tool.
type subagentSignal struct {
	patch conversation.SubagentPatch
}

// NewRefs creates scratch state with the given finalized-set capacity.
func NewRefs(finalizedCap int) *Refs {
	if finalizedCap <= 0 {
		finalizedCap = DefaultFinalizedCap
	}
	return &Refs{
		toolNames:        make(map[string]string),
		pendingResults:   make(map[string]pendingResult),
		pendingSubagents: make(map[string][]subagentSignal),
		aliasToTask:      make(map[string]string),
		pendingDone:      make(map[string]string),
		pendingTaskRes:   make(map[string]pendingResult),
		finalized:        newFinalizedSet(finalizedCap),
	}
}

// DefaultFinalizedCap bounds the finalized background-task set.
const DefaultFinalizedCap = 2000

// takePendingResult removes and returns the buffered result for a tool id.
func (r *Refs) takePendingResult(id string) (pendingResult, bool) {
	res, ok := r.pendingResults[id]
	if ok {
		delete(r.pendingResults, id)
	}
	return res, ok
}

// bufferResult inserts a pending result only if none is buffered yet; the
// first arrival wins, matching the duplicate-suppression rule.
func (r *Refs) bufferResult(id string, res pendingResult) bool {
	if _, exists := r.pendingResults[id]; exists {
		return false
	}
	r.pendingResults[id] = res
	return true
}

// resolveTask maps an alias to its canonical task id, or returns the input
// unchanged when no registration has been seen.
func (r *Refs) resolveTask(id string) string {
	if canonical, ok := r.aliasToTask[id]; ok {
		return canonical
	}
	return id
}

// resetTurn clears per-turn scratch. Background-task correlation state is
// deliberately retained: tasks outlive turns.
func (r *Refs) resetTurn() {
	r.toolInputJSON = ""
	r.todoJSON = ""
	r.questionJSON = ""
	r.collecting = collectNone
	r.collectingToolID = ""
	r.toolNames = make(map[string]string)
	r.pendingResults = make(map[string]pendingResult)
	r.pendingSubagents = make(map[string][]subagentSignal)
	r.forceNewText = false
	r.forceNewThinking = false
	r.lastResultContent = ""
	r.sawContextUpdate = false
}

// finalizedSet is a fixed-capacity set with FIFO eviction. The queue and
// membership set move together so eviction order is auditable.
type finalizedSet struct {
	cap     int
	order   []string
	members map[string]struct{}
}

func newFinalizedSet(capacity int) *finalizedSet {
	return &finalizedSet{
		cap:     capacity,
		members: make(map[string]struct{}),
	}
}

// Add inserts an id, evicting the oldest entry when full. Re-adding an
// existing id does not change its eviction position.
func (f *finalizedSet) Add(id string) {
	if _, ok := f.members[id]; ok {
		return
	}
	if len(f.order) >= f.cap {
		oldest := f.order[0]
		f.order = f.order[1:]
		delete(f.members, oldest)
	}
	f.order = append(f.order, id)
	f.members[id] = struct{}{}
}

func (f *finalizedSet) Contains(id string) bool {
	_, ok := f.members[id]
	return ok
}

func (f *finalizedSet) Len() int {
	return len(f.order)
}
