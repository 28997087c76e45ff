// Package store owns the live conversation state. Action batches commit
// atomically: one lock acquisition and one bus notification per event, no
// matter how many actions the event produced. Proven-hot actions (tool
// add/update, streamed text) take a narrow in-place path addressed through
// id-to-index caches; everything else runs through the reducer. Both paths
// are observably equivalent.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/palaver/pkg/bus"
	"github.com/odvcencio/palaver/pkg/conversation"
	"github.com/odvcencio/palaver/pkg/logging"
)

// Store is the observable state container for one conversation.
type Store struct {
	mu        sync.RWMutex
	state     *conversation.State
	sessionID string
	bus       bus.MessageBus
	log       *logging.Logger

	// Amortized O(1) id-to-index caches for the fast paths. A cached slot
	// is trusted only if the id still matches; otherwise the store falls
	// back to an O(n) scan and repairs the cache.
	toolIndex  map[string]int
	blockIndex map[string]int

	// fastPath can be disabled to force every action through the reducer;
	// the equivalence test runs both configurations.
	fastPath bool
}

// Option configures a Store.
type Option func(*Store)

// WithBus attaches a notification bus; a change summary is published after
// each committed batch.
func WithBus(b bus.MessageBus) Option {
	return func(s *Store) { s.bus = b }
}

// WithLogger attaches a structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithoutFastPath forces all actions through the reducer.
func WithoutFastPath() Option {
	return func(s *Store) { s.fastPath = false }
}

// New creates a store with a fresh conversation state.
func New(sessionID string, opts ...Option) *Store {
	s := &Store{
		state:      conversation.NewState(),
		sessionID:  sessionID,
		log:        logging.NewNop(),
		toolIndex:  make(map[string]int),
		blockIndex: make(map[string]int),
		fastPath:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the live state. Callers on the event-loop goroutine may
// read it directly; other goroutines must use Snapshot.
func (s *Store) State() *conversation.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns a deep copy safe for concurrent observers.
func (s *Store) Snapshot() *conversation.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Snapshot()
}

// Apply commits a batch of actions as one atomic state transition.
func (s *Store) Apply(actions ...conversation.Action) {
	if len(actions) == 0 {
		return
	}

	s.mu.Lock()
	for _, action := range actions {
		s.applyOne(action)
	}
	s.mu.Unlock()

	metricCommits.Inc()
	metricActionsApplied.Add(float64(len(actions)))
	s.notify(len(actions))
}

func (s *Store) applyOne(action conversation.Action) {
	if s.fastPath {
		switch act := action.(type) {
		case conversation.AddTool:
			s.fastAddTool(act)
			return
		case conversation.UpdateTool:
			if s.fastUpdateTool(act) {
				return
			}
			// Cache miss with no tool anywhere reachable by the fast
			// path: the reducer settles it (usually a silent drop).
		case conversation.UpdateToolSubagent:
			if s.fastUpdateSubagent(act) {
				return
			}
			// Falls through for the finalized-message search.
		case conversation.AppendText:
			s.fastAppendText(act)
			return
		}
	}

	s.state = conversation.Reduce(s.state, action)

	// Turn boundaries invalidate every per-turn index.
	switch action.(type) {
	case conversation.FinishStreaming, conversation.ResetStreaming:
		s.toolIndex = make(map[string]int)
		s.blockIndex = make(map[string]int)
	}
	metricReducerApplies.Inc()
}

func (s *Store) fastAddTool(act conversation.AddTool) {
	next := conversation.Reduce(s.state, act)
	s.state = next
	s.toolIndex[act.Tool.ID] = len(next.Tools.Current) - 1
	s.blockIndex[act.Tool.ID] = len(next.Streaming.Blocks) - 1
	metricFastApplies.Inc()
}

// fastUpdateTool patches the tool in place through the caches. Returns false
// when the id is unresolvable in the current turn.
func (s *Store) fastUpdateTool(act conversation.UpdateTool) bool {
	ti, tok := s.lookupTool(act.ID)
	bi, bok := s.lookupBlock(act.ID)
	if !tok && !bok {
		return false
	}
	if tok {
		conversation.ApplyToolPatch(&s.state.Tools.Current[ti], act.Patch, act.Timestamp)
	}
	if bok {
		conversation.ApplyToolPatch(&s.state.Streaming.Blocks[bi].Tool, act.Patch, act.Timestamp)
	}
	if act.Patch.Result != nil {
		s.state.Session.Phase = conversation.PhaseStreaming
	}
	metricFastApplies.Inc()
	return true
}

// fastUpdateSubagent handles the current-turn case; the finalized-message
// search stays on the reducer path.
func (s *Store) fastUpdateSubagent(act conversation.UpdateToolSubagent) bool {
	ti, tok := s.lookupTool(act.ID)
	bi, bok := s.lookupBlock(act.ID)
	if !tok && !bok {
		return false
	}
	if tok {
		conversation.ApplySubagentPatch(&s.state.Tools.Current[ti], act.Patch)
	}
	if bok {
		conversation.ApplySubagentPatch(&s.state.Streaming.Blocks[bi].Tool, act.Patch)
	}
	metricFastApplies.Inc()
	return true
}

func (s *Store) fastAppendText(act conversation.AppendText) {
	st := s.state
	st.Streaming.Content += act.Text
	blocks := st.Streaming.Blocks
	last := len(blocks) - 1
	if !act.NewBlock && last >= 0 && blocks[last].Kind == conversation.BlockText {
		blocks[last].Text += act.Text
	} else {
		st.Streaming.Blocks = append(blocks, conversation.Block{
			Kind: conversation.BlockText,
			Text: act.Text,
		})
	}
	st.Session.Phase = conversation.PhaseStreaming
	metricFastApplies.Inc()
}

// lookupTool resolves a tool id to its Tools.Current index, trusting the
// cache only when the slot still matches and repairing it otherwise.
func (s *Store) lookupTool(id string) (int, bool) {
	tools := s.state.Tools.Current
	if i, ok := s.toolIndex[id]; ok && i < len(tools) && tools[i].ID == id {
		return i, true
	}
	if i := s.state.Tools.FindTool(id); i >= 0 {
		s.toolIndex[id] = i
		metricCacheRepairs.Inc()
		return i, true
	}
	delete(s.toolIndex, id)
	return 0, false
}

func (s *Store) lookupBlock(id string) (int, bool) {
	blocks := s.state.Streaming.Blocks
	if i, ok := s.blockIndex[id]; ok && i < len(blocks) &&
		blocks[i].Kind == conversation.BlockToolUse && blocks[i].Tool.ID == id {
		return i, true
	}
	if i := s.state.Streaming.FindToolBlock(id); i >= 0 {
		s.blockIndex[id] = i
		metricCacheRepairs.Inc()
		return i, true
	}
	delete(s.blockIndex, id)
	return 0, false
}

// changeSummary is the bus notification payload. Observers pull a Snapshot
// rather than receiving full state on every commit; the commit id lets them
// de-duplicate redelivered notifications.
type changeSummary struct {
	CommitID  string    `json:"commit_id"`
	SessionID string    `json:"session_id"`
	Actions   int       `json:"actions"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Store) notify(actionCount int) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(changeSummary{
		CommitID:  uuid.NewString(),
		SessionID: s.sessionID,
		Actions:   actionCount,
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}
	subject := fmt.Sprintf("%s%s", bus.SubjectConversationPrefix, s.sessionID)
	if err := s.bus.Publish(context.Background(), subject, payload); err != nil {
		s.log.Warn(logging.CategoryBus, "publish_failed", subject,
			map[string]any{"error": err.Error()})
	}
}
