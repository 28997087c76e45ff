package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/palaver/pkg/bus"
	"github.com/odvcencio/palaver/pkg/conversation"
)

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }

func TestApplyCommitsBatchAtomically(t *testing.T) {
	s := New("sess-1")

	s.Apply(
		conversation.AppendText{Text: "hello "},
		conversation.AppendText{Text: "world"},
	)

	st := s.State()
	require.Equal(t, "hello world", st.Streaming.Content)
	require.Len(t, st.Streaming.Blocks, 1)
	assert.Equal(t, conversation.PhaseStreaming, st.Session.Phase)
}

func TestFastPathToolLifecycle(t *testing.T) {
	s := New("sess-1")
	ts := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	s.Apply(conversation.AddTool{Tool: conversation.ToolUse{
		ID: "tool-1", Name: "Bash", IsLoading: true,
	}})
	s.Apply(conversation.UpdateTool{
		ID:        "tool-1",
		Patch:     conversation.ToolPatch{Result: strp("ok"), Loading: boolp(false)},
		Timestamp: ts,
	})

	st := s.State()
	require.Len(t, st.Tools.Current, 1)
	tool := st.Tools.Current[0]
	assert.Equal(t, "ok", tool.Result)
	assert.True(t, tool.HasResult)
	assert.False(t, tool.IsLoading)
	assert.Equal(t, ts, tool.CompletedAt)

	// The streaming block mirrors the tool set.
	i := st.Streaming.FindToolBlock("tool-1")
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, "ok", st.Streaming.Blocks[i].Tool.Result)
}

func TestFastPathSubagentUpdate(t *testing.T) {
	s := New("sess-1")
	running := conversation.SubagentRunning

	s.Apply(conversation.AddTool{Tool: conversation.ToolUse{ID: "tool-1", Name: "Task"}})
	s.Apply(conversation.UpdateToolSubagent{
		ID:    "tool-1",
		Patch: conversation.SubagentPatch{Status: &running, AgentType: strp("explorer")},
	})

	st := s.State()
	require.NotNil(t, st.Tools.Current[0].Subagent)
	assert.Equal(t, "explorer", st.Tools.Current[0].Subagent.AgentType)
	i := st.Streaming.FindToolBlock("tool-1")
	require.GreaterOrEqual(t, i, 0)
	require.NotNil(t, st.Streaming.Blocks[i].Tool.Subagent)
}

func TestUnknownToolUpdateIsDroppedOnBothPaths(t *testing.T) {
	fast := New("sess-1")
	slow := New("sess-1", WithoutFastPath())
	act := conversation.UpdateTool{ID: "ghost", Patch: conversation.ToolPatch{Result: strp("x")}}

	fast.Apply(act)
	slow.Apply(act)

	assert.Empty(t, fast.State().Tools.Current)
	assert.Empty(t, slow.State().Tools.Current)
}

func TestCacheSurvivesIndexShift(t *testing.T) {
	s := New("sess-1")
	for i := 0; i < 3; i++ {
		s.Apply(conversation.AddTool{Tool: conversation.ToolUse{
			ID: fmt.Sprintf("tool-%d", i), Name: "Bash",
		}})
	}
	// Finalize the turn, start a new one, and reuse an id position. Stale
	// cached indices must be detected and repaired, never trusted.
	s.Apply(conversation.FinishStreaming{MessageID: "m1", Timestamp: time.Now()})
	s.Apply(conversation.AddTool{Tool: conversation.ToolUse{ID: "tool-9", Name: "Read"}})
	s.Apply(conversation.UpdateTool{
		ID:        "tool-9",
		Patch:     conversation.ToolPatch{Result: strp("data")},
		Timestamp: time.Now(),
	})

	st := s.State()
	require.Len(t, st.Tools.Current, 1)
	assert.Equal(t, "data", st.Tools.Current[0].Result)
}

func TestSnapshotIsolatedFromLiveState(t *testing.T) {
	s := New("sess-1")
	s.Apply(conversation.AddTool{Tool: conversation.ToolUse{ID: "tool-1", Name: "Bash"}})

	snap := s.Snapshot()
	s.Apply(conversation.UpdateTool{
		ID:        "tool-1",
		Patch:     conversation.ToolPatch{Result: strp("after")},
		Timestamp: time.Now(),
	})

	assert.False(t, snap.Tools.Current[0].HasResult)
	assert.True(t, s.State().Tools.Current[0].HasResult)
}

func TestPublishesChangeSummary(t *testing.T) {
	mb := bus.NewMemoryBus()
	defer mb.Close()

	received := make(chan []byte, 1)
	_, err := mb.Subscribe(context.Background(), bus.SubjectConversationPrefix+"sess-7",
		func(msg *bus.Message) []byte {
			select {
			case received <- msg.Data:
			default:
			}
			return nil
		})
	require.NoError(t, err)

	s := New("sess-7", WithBus(mb))
	s.Apply(conversation.AppendText{Text: "hi"}, conversation.AppendText{Text: "!"})

	select {
	case data := <-received:
		var summary changeSummary
		require.NoError(t, json.Unmarshal(data, &summary))
		assert.Equal(t, "sess-7", summary.SessionID)
		assert.Equal(t, 2, summary.Actions)
		assert.NotEmpty(t, summary.CommitID)
	case <-time.After(2 * time.Second):
		t.Fatal("no change summary published")
	}
}

// randomActions generates a deterministic action stream exercising the fast
// paths, their miss cases, and turn boundaries.
func randomActions(rng *rand.Rand, n int) []conversation.Action {
	actions := make([]conversation.Action, 0, n)
	nextTool := 0
	var live []string

	anyTool := func() string {
		if len(live) == 0 || rng.Intn(5) == 0 {
			return fmt.Sprintf("ghost-%d", rng.Intn(100))
		}
		return live[rng.Intn(len(live))]
	}

	for i := 0; i < n; i++ {
		ts := time.Unix(1700000000+int64(i), 0).UTC()
		switch rng.Intn(10) {
		case 0, 1:
			actions = append(actions, conversation.AppendText{
				Text:     fmt.Sprintf("t%d ", i),
				NewBlock: rng.Intn(4) == 0,
			})
		case 2:
			actions = append(actions, conversation.AppendThinking{
				Thinking: fmt.Sprintf("th%d ", i),
			})
		case 3, 4:
			id := fmt.Sprintf("tool-%d", nextTool)
			nextTool++
			live = append(live, id)
			actions = append(actions, conversation.AddTool{Tool: conversation.ToolUse{
				ID: id, Name: "Bash", IsLoading: true,
			}})
		case 5, 6:
			actions = append(actions, conversation.UpdateTool{
				ID: anyTool(),
				Patch: conversation.ToolPatch{
					Result:  strp(fmt.Sprintf("r%d", i)),
					IsError: boolp(rng.Intn(8) == 0),
					Loading: boolp(false),
				},
				Timestamp: ts,
			})
		case 7:
			status := conversation.SubagentRunning
			actions = append(actions, conversation.UpdateToolSubagent{
				ID:    anyTool(),
				Patch: conversation.SubagentPatch{Status: &status, ToolCount: intp(rng.Intn(9))},
			})
		case 8:
			actions = append(actions, conversation.FinishStreaming{
				MessageID: fmt.Sprintf("msg-%d", i),
				Timestamp: ts,
			})
			live = nil
		case 9:
			actions = append(actions, conversation.ResetStreaming{})
			live = nil
		}
	}
	return actions
}

func intp(i int) *int { return &i }

// Both paths must produce identical final states for any action sequence.
func TestFastPathEquivalentToReducer(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		actions := randomActions(rng, 200)

		fast := New("sess-eq")
		pure := conversation.NewState()
		for _, act := range actions {
			fast.Apply(act)
			pure = conversation.Reduce(pure, act)
		}

		if !reflect.DeepEqual(fast.State(), pure) {
			t.Fatalf("seed %d: fast-path state diverged from reducer state", seed)
		}
	}
}

func TestEmptyApplyIsNoOp(t *testing.T) {
	mb := bus.NewMemoryBus()
	defer mb.Close()

	got := make(chan struct{}, 1)
	_, err := mb.Subscribe(context.Background(), bus.SubjectConversationPrefix+"sess-1",
		func(*bus.Message) []byte { got <- struct{}{}; return nil })
	require.NoError(t, err)

	s := New("sess-1", WithBus(mb))
	before := s.State()
	s.Apply()

	assert.Same(t, before, s.State())
	select {
	case <-got:
		t.Fatal("empty batch should not notify")
	case <-time.After(50 * time.Millisecond):
	}
}
