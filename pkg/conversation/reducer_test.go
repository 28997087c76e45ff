package conversation

import (
	"testing"
	"time"
)

func TestReduceUnknownActionReturnsSameState(t *testing.T) {
	s := NewState()
	next := Reduce(s, nil)
	if next != s {
		t.Fatal("unknown action must return the identical state reference")
	}
}

func TestReduceAppendTextMergesLastBlock(t *testing.T) {
	s := NewState()
	s = Reduce(s, AppendText{Text: "hello "})
	s = Reduce(s, AppendText{Text: "world"})

	if s.Streaming.Content != "hello world" {
		t.Fatalf("content = %q, want %q", s.Streaming.Content, "hello world")
	}
	if len(s.Streaming.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(s.Streaming.Blocks))
	}
	if s.Streaming.Blocks[0].Text != "hello world" {
		t.Fatalf("block text = %q", s.Streaming.Blocks[0].Text)
	}
	if s.Session.Phase != PhaseStreaming {
		t.Fatalf("phase = %q, want %q", s.Session.Phase, PhaseStreaming)
	}
}

func TestReduceAppendTextNewBlockSplits(t *testing.T) {
	s := NewState()
	s = Reduce(s, AppendText{Text: "first"})
	s = Reduce(s, AppendText{Text: "second", NewBlock: true})

	if len(s.Streaming.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(s.Streaming.Blocks))
	}
	if s.Streaming.Content != "firstsecond" {
		t.Fatalf("content = %q", s.Streaming.Content)
	}
}

func TestReduceBlockInterleavingAcrossTool(t *testing.T) {
	s := NewState()
	s = Reduce(s, AppendText{Text: "before "})
	s = Reduce(s, AddTool{Tool: ToolUse{ID: "t1", Name: "Bash", IsLoading: true}})
	s = Reduce(s, AppendText{Text: "after"})

	if len(s.Streaming.Blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(s.Streaming.Blocks))
	}
	kinds := []BlockKind{BlockText, BlockToolUse, BlockText}
	for i, want := range kinds {
		if s.Streaming.Blocks[i].Kind != want {
			t.Fatalf("block %d kind = %q, want %q", i, s.Streaming.Blocks[i].Kind, want)
		}
	}
	// Concatenating text blocks reconstructs delta arrival order.
	if got := s.Streaming.Blocks[0].Text + s.Streaming.Blocks[2].Text; got != "before after" {
		t.Fatalf("reconstructed text = %q", got)
	}
	if s.Streaming.Content != "before after" {
		t.Fatalf("content = %q", s.Streaming.Content)
	}
}

func TestReduceAddToolAppearsInBothViews(t *testing.T) {
	s := NewState()
	s = Reduce(s, AddTool{Tool: ToolUse{ID: "t1", Name: "Read", IsLoading: true}})

	if len(s.Tools.Current) != 1 || s.Tools.Current[0].ID != "t1" {
		t.Fatalf("tools = %+v", s.Tools.Current)
	}
	idx := s.Streaming.FindToolBlock("t1")
	if idx < 0 {
		t.Fatal("tool block not found in streaming blocks")
	}
	if s.Streaming.Blocks[idx].Tool.Name != "Read" {
		t.Fatalf("block tool name = %q", s.Streaming.Blocks[idx].Tool.Name)
	}
}

func TestReduceUpdateToolPatchesBothViews(t *testing.T) {
	s := NewState()
	s = Reduce(s, AddTool{Tool: ToolUse{ID: "t1", Name: "Bash", IsLoading: true}})

	result := "ok"
	loading := false
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s = Reduce(s, UpdateTool{
		ID:        "t1",
		Patch:     ToolPatch{Result: &result, Loading: &loading},
		Timestamp: ts,
	})

	tool := s.Tools.Current[0]
	if !tool.HasResult || tool.Result != "ok" || tool.IsLoading {
		t.Fatalf("tool = %+v", tool)
	}
	if !tool.CompletedAt.Equal(ts) {
		t.Fatalf("completed at = %v, want %v", tool.CompletedAt, ts)
	}
	block := s.Streaming.Blocks[s.Streaming.FindToolBlock("t1")]
	if block.Tool.Result != "ok" || !block.Tool.HasResult {
		t.Fatalf("block tool = %+v", block.Tool)
	}
}

func TestReduceUpdateToolCompletedAtStampedOnce(t *testing.T) {
	s := NewState()
	s = Reduce(s, AddTool{Tool: ToolUse{ID: "t1", Name: "Bash"}})

	first := "one"
	t1 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s = Reduce(s, UpdateTool{ID: "t1", Patch: ToolPatch{Result: &first}, Timestamp: t1})

	second := "two"
	t2 := t1.Add(time.Minute)
	s = Reduce(s, UpdateTool{ID: "t1", Patch: ToolPatch{Result: &second}, Timestamp: t2})

	tool := s.Tools.Current[0]
	if tool.Result != "two" {
		t.Fatalf("result = %q", tool.Result)
	}
	if !tool.CompletedAt.Equal(t1) {
		t.Fatalf("completed at = %v, want first stamp %v", tool.CompletedAt, t1)
	}
}

func TestReduceUpdateToolUnknownIDIsNoop(t *testing.T) {
	s := NewState()
	result := "late"
	next := Reduce(s, UpdateTool{ID: "ghost", Patch: ToolPatch{Result: &result}})
	if next != s {
		t.Fatal("unknown tool id must be a silent no-op")
	}
}

func TestReduceSubagentUpdateOnCurrentTool(t *testing.T) {
	s := NewState()
	s = Reduce(s, AddTool{Tool: ToolUse{ID: "t1", Name: "Task"}})

	agentType := "explorer"
	s = Reduce(s, UpdateToolSubagent{ID: "t1", Patch: SubagentPatch{
		AgentType:    &agentType,
		AppendNested: &NestedTool{Name: "Grep", Detail: "pattern"},
	}})

	info := s.Tools.Current[0].Subagent
	if info == nil || info.AgentType != "explorer" {
		t.Fatalf("subagent = %+v", info)
	}
	if len(info.NestedTools) != 1 || info.NestedTools[0].Name != "Grep" {
		t.Fatalf("nested = %+v", info.NestedTools)
	}
	if info.Status != SubagentRunning {
		t.Fatalf("status = %q", info.Status)
	}
}

func TestReduceSubagentUpdateReachesFinalizedMessage(t *testing.T) {
	s := NewState()
	s = Reduce(s, AddTool{Tool: ToolUse{ID: "t1", Name: "Task"}})
	s = Reduce(s, FinishStreaming{MessageID: "m1", Timestamp: time.Now()})

	if len(s.Tools.Current) != 0 {
		t.Fatal("tools should be cleared after finalize")
	}

	done := SubagentComplete
	result := "found it"
	s = Reduce(s, UpdateToolSubagent{ID: "t1", Patch: SubagentPatch{
		Status: &done,
		Result: &result,
	}})

	msg := s.Messages[0]
	if msg.ToolUses[0].Subagent == nil {
		t.Fatal("subagent info missing on finalized tool use")
	}
	if msg.ToolUses[0].Subagent.Result != "found it" {
		t.Fatalf("result = %q", msg.ToolUses[0].Subagent.Result)
	}
	bi := -1
	for i := range msg.ContentBlocks {
		if msg.ContentBlocks[i].Kind == BlockToolUse && msg.ContentBlocks[i].Tool.ID == "t1" {
			bi = i
		}
	}
	if bi < 0 || msg.ContentBlocks[bi].Tool.Subagent == nil {
		t.Fatal("subagent info missing on finalized content block")
	}
	if msg.ContentBlocks[bi].Tool.Subagent.Status != SubagentComplete {
		t.Fatalf("block subagent status = %q", msg.ContentBlocks[bi].Tool.Subagent.Status)
	}
}

func TestReduceSubagentUpdateUnknownIDIsNoop(t *testing.T) {
	s := NewState()
	done := SubagentComplete
	next := Reduce(s, UpdateToolSubagent{ID: "ghost", Patch: SubagentPatch{Status: &done}})
	if next != s {
		t.Fatal("unknown subagent tool id must be a no-op")
	}
}

func TestReduceFinishStreamingBuildsMessage(t *testing.T) {
	s := NewState()
	s = Reduce(s, AppendText{Text: "answer"})
	s = Reduce(s, AppendThinking{Thinking: "hmm"})
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s = Reduce(s, FinishStreaming{MessageID: "m1", Timestamp: ts})

	if len(s.Messages) != 1 {
		t.Fatalf("messages = %d", len(s.Messages))
	}
	msg := s.Messages[0]
	if msg.ID != "m1" || msg.Role != RoleAssistant || msg.Content != "answer" || msg.Thinking != "hmm" {
		t.Fatalf("message = %+v", msg)
	}
	if s.Streaming.Content != "" || len(s.Streaming.Blocks) != 0 || len(s.Tools.Current) != 0 {
		t.Fatal("streaming and tool state must reset")
	}
	if s.Session.Phase != PhaseAwaiting {
		t.Fatalf("phase = %q", s.Session.Phase)
	}
}

func TestReduceFinishStreamingEmptyTurnSuppressed(t *testing.T) {
	s := NewState()
	s = Reduce(s, FinishStreaming{MessageID: "m1", Timestamp: time.Now()})
	if len(s.Messages) != 0 {
		t.Fatalf("empty turn produced %d messages", len(s.Messages))
	}
}

func TestReduceFinishStreamingFallbackContent(t *testing.T) {
	s := NewState()
	s = Reduce(s, FinishStreaming{
		MessageID:       "m1",
		FallbackContent: "final summary",
		Timestamp:       time.Now(),
	})
	if len(s.Messages) != 1 || s.Messages[0].Content != "final summary" {
		t.Fatalf("messages = %+v", s.Messages)
	}
}

func TestReduceFinishStreamingPreservesShowThinking(t *testing.T) {
	s := NewState()
	s = Reduce(s, SetShowThinking{Show: true})
	s = Reduce(s, AppendText{Text: "x"})
	s = Reduce(s, FinishStreaming{MessageID: "m1", Timestamp: time.Now()})
	if !s.Streaming.ShowThinking {
		t.Fatal("ShowThinking must survive the streaming reset")
	}
}

func TestReduceResetStreaming(t *testing.T) {
	s := NewState()
	s = Reduce(s, AppendText{Text: "stale"})
	s = Reduce(s, SetSessionError{Message: "boom"})
	s = Reduce(s, ResetStreaming{})

	if s.Streaming.Content != "" || !s.Streaming.IsLoading {
		t.Fatalf("streaming = %+v", s.Streaming)
	}
	if s.Session.Error != "" {
		t.Fatalf("error = %q, want cleared", s.Session.Error)
	}
}

func TestReducePermissionQueueFIFO(t *testing.T) {
	s := NewState()
	s = Reduce(s, EnqueuePermission{Request: PermissionRequest{RequestID: "r1", ToolName: "Bash"}})
	s = Reduce(s, EnqueuePermission{Request: PermissionRequest{RequestID: "r2", ToolName: "Write"}})

	if active := s.Permission.Active(); active == nil || active.RequestID != "r1" {
		t.Fatalf("active = %+v, want r1", active)
	}

	s = Reduce(s, ResolvePermission{RequestID: "r1"})
	if active := s.Permission.Active(); active == nil || active.RequestID != "r2" {
		t.Fatalf("active = %+v, want r2", active)
	}

	s = Reduce(s, ResolvePermission{RequestID: "r2"})
	if s.Permission.Active() != nil {
		t.Fatal("queue should be empty")
	}
}

func TestReducePermissionMarkReviewing(t *testing.T) {
	s := NewState()
	s = Reduce(s, EnqueuePermission{Request: PermissionRequest{RequestID: "r1", ToolName: "Bash"}})
	s = Reduce(s, MarkPermissionReviewing{RequestID: "r1", Reviewing: true})
	if !s.Permission.Queue[0].UnderReview {
		t.Fatal("request not flagged as under review")
	}
	s = Reduce(s, MarkPermissionReviewing{RequestID: "r1", Reviewing: false})
	if s.Permission.Queue[0].UnderReview {
		t.Fatal("request should hand back to the human queue")
	}
}

func TestReduceCompactionRoundTrip(t *testing.T) {
	s := NewState()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s = Reduce(s, StartCompaction{PreTokens: 150000, MessageID: "c1", Timestamp: ts})

	if !s.Compaction.Active || s.Compaction.PreTokens != 150000 {
		t.Fatalf("compaction = %+v", s.Compaction)
	}
	if s.Session.Phase != PhaseCompacting {
		t.Fatalf("phase = %q", s.Session.Phase)
	}
	if len(s.Messages) != 1 || s.Messages[0].Content != "150k → ..." {
		t.Fatalf("placeholder = %+v", s.Messages)
	}

	s = Reduce(s, CompleteCompaction{
		PreTokens:   150000,
		PostTokens:  15000,
		BaseContext: 20000,
		MessageID:   "c1",
		Timestamp:   ts,
	})

	if len(s.Messages) != 1 {
		t.Fatalf("messages = %d, want placeholder rewritten in place", len(s.Messages))
	}
	if s.Messages[0].Content != "150k → 35k" {
		t.Fatalf("summary = %q, want %q", s.Messages[0].Content, "150k → 35k")
	}
	if s.Compaction.Active {
		t.Fatal("compaction state must clear")
	}
	if s.Session.Info.TotalContext != 35000 {
		t.Fatalf("total context = %d, want 35000", s.Session.Info.TotalContext)
	}
}

func TestReduceCompactionMissedStartSynthesizes(t *testing.T) {
	s := NewState()
	s = Reduce(s, CompleteCompaction{
		PreTokens:   90000,
		PostTokens:  10000,
		BaseContext: 20000,
		MessageID:   "c9",
		Timestamp:   time.Now(),
	})
	if len(s.Messages) != 1 || s.Messages[0].Content != "90k → 30k" {
		t.Fatalf("messages = %+v", s.Messages)
	}
	if s.Messages[0].Role != RoleSystem {
		t.Fatalf("role = %q", s.Messages[0].Role)
	}
}

func TestReducePlanningLifecycle(t *testing.T) {
	s := NewState()
	s = Reduce(s, EnterPlanning{ToolID: "t1"})
	if !s.Planning.Active || s.Planning.Ready {
		t.Fatalf("planning = %+v", s.Planning)
	}

	s = Reduce(s, SetPlanContent{Path: "/tmp/plan.md", Content: "# Plan"})
	if s.Planning.Content != "# Plan" || s.Planning.NeedsRefresh {
		t.Fatalf("planning = %+v", s.Planning)
	}

	s = Reduce(s, MarkPlanStale{Path: "/tmp/plan.md"})
	if !s.Planning.NeedsRefresh {
		t.Fatal("plan should be marked stale")
	}

	s = Reduce(s, SetPlanReady{RequestID: "r1"})
	if !s.Planning.Ready || s.Planning.RequestID != "r1" {
		t.Fatalf("planning = %+v", s.Planning)
	}

	s = Reduce(s, ResolvePlan{Approved: false, RequestChanges: true})
	if !s.Planning.Active || s.Planning.Ready {
		t.Fatalf("request-changes should return to drafting, got %+v", s.Planning)
	}

	s = Reduce(s, SetPlanReady{RequestID: "r2"})
	s = Reduce(s, ResolvePlan{Approved: true})
	if s.Planning.Active {
		t.Fatal("approval should deactivate planning")
	}
}

func TestReduceSessionLifecycle(t *testing.T) {
	s := NewState()
	s = Reduce(s, SetSessionReady{SessionID: "sess-1", Model: "opus", Tools: 12})
	if s.Session.ID != "sess-1" || s.Session.Model != "opus" || s.Session.ToolCount != 12 {
		t.Fatalf("session = %+v", s.Session)
	}

	s = Reduce(s, SetContextUsage{InputTokens: 42000, RawInputTokens: 50000, CacheRead: 8000})
	if s.Session.Info.TotalContext != 42000 || s.Session.Info.CacheRead != 8000 {
		t.Fatalf("info = %+v", s.Session.Info)
	}

	s = Reduce(s, SetResultStats{Stats: ResultStats{Cost: 0.12, Turns: 3}})
	if s.Session.LastResult == nil || s.Session.LastResult.Turns != 3 {
		t.Fatalf("last result = %+v", s.Session.LastResult)
	}

	s = Reduce(s, SetSessionClosed{Code: 1})
	if s.Session.Active {
		t.Fatal("session must be inactive after close")
	}
	if s.Session.ExitCode != 1 || s.Session.Error == "" {
		t.Fatalf("session = %+v", s.Session)
	}
}

func TestReduceTodosAndQuestions(t *testing.T) {
	s := NewState()
	s = Reduce(s, SetTodos{Items: []TodoItem{{Content: "write tests", Status: "in_progress"}}})
	if len(s.Todo.Items) != 1 || s.Todo.Items[0].Content != "write tests" {
		t.Fatalf("todos = %+v", s.Todo.Items)
	}

	s = Reduce(s, SetQuestion{RequestID: "q1", Items: []QuestionItem{{Question: "Which db?", Options: []string{"sqlite", "postgres"}}}})
	if !s.Question.Active || s.Question.RequestID != "q1" {
		t.Fatalf("question = %+v", s.Question)
	}

	s = Reduce(s, ClearQuestion{})
	if s.Question.Active {
		t.Fatal("question should clear")
	}
}

func TestReduceImmutability(t *testing.T) {
	s := NewState()
	s = Reduce(s, AppendText{Text: "base"})
	before := s.Streaming.Content

	_ = Reduce(s, AppendText{Text: " more"})
	_ = Reduce(s, AddTool{Tool: ToolUse{ID: "t1"}})
	_ = Reduce(s, FinishStreaming{MessageID: "m1", Timestamp: time.Now()})

	if s.Streaming.Content != before {
		t.Fatal("input state was mutated")
	}
	if len(s.Messages) != 0 {
		t.Fatal("input state messages were mutated")
	}
}
