// Package conversation holds the authoritative conversation state for one
// agent session and the pure reducer that advances it. The state is owned by
// the store; dispatchers never mutate it directly, they emit actions.
package conversation

import "time"

// BlockKind identifies the type of a streaming content block.
type BlockKind string

const (
	BlockText     BlockKind = "text"
	BlockThinking BlockKind = "thinking"
	BlockToolUse  BlockKind = "tool_use"
)

// Block is one element of the in-progress turn's interleaved content. Text
// and thinking blocks accumulate deltas; tool blocks carry a copy of the
// tool invocation that must be kept in sync with Tools.Current.
type Block struct {
	Kind BlockKind
	Text string
	Tool ToolUse
}

// SubagentStatus is the lifecycle state of a Task-tool subagent.
type SubagentStatus string

const (
	SubagentRunning  SubagentStatus = "running"
	SubagentComplete SubagentStatus = "complete"
)

// NestedTool records one tool invocation executed inside a subagent.
type NestedTool struct {
	Name   string
	Detail string
}

// SubagentInfo tracks a subagent attached to its owning tool invocation.
type SubagentInfo struct {
	AgentType   string
	Description string
	Status      SubagentStatus
	StartTime   time.Time
	DurationMs  uint64
	ToolCount   int
	NestedTools []NestedTool
	Result      string
}

// ToolUse is one tool invocation by the assistant. The provider-issued ID is
// unique within a turn but not across the session, so it must never be used
// as a global key.
type ToolUse struct {
	ID          string
	Name        string
	Input       map[string]any
	Result      string
	HasResult   bool
	IsError     bool
	IsLoading   bool
	CompletedAt time.Time
	Subagent    *SubagentInfo
}

// MessageRole identifies who authored a finalized message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is a finalized conversation entry. Once appended its ID is stable;
// the only in-place edit is rewriting a compaction placeholder's content.
type Message struct {
	ID            string
	Role          MessageRole
	Content       string
	Thinking      string
	ContentBlocks []Block
	ToolUses      []ToolUse
	Interrupted   bool
	Timestamp     time.Time
}

// Streaming is the in-progress assistant turn. Concatenating Blocks in order
// reconstructs the exact interleaving of text, thinking, and tool events as
// they arrived.
type Streaming struct {
	Content      string
	Thinking     string
	Blocks       []Block
	IsLoading    bool
	ShowThinking bool
}

// ToolState holds the in-progress turn's tool invocations in insertion
// order.
type ToolState struct {
	Current []ToolUse
}

// TodoItem is one entry of the agent's todo list.
type TodoItem struct {
	Content    string
	Status     string
	ActiveForm string
}

// TodoState mirrors the latest TodoWrite invocation.
type TodoState struct {
	Items []TodoItem
}

// QuestionItem is one question posed to the user.
type QuestionItem struct {
	Question    string
	Header      string
	Options     []string
	MultiSelect bool
}

// QuestionState holds an active question set awaiting user answers.
type QuestionState struct {
	Active    bool
	RequestID string
	Items     []QuestionItem
}

// PlanningState tracks interactive plan mode.
//
// inactive -> active (EnterPlanMode tool or plan-like file edit)
// active -> ready (ExitPlanMode permission request)
// ready -> inactive (approve / cancel) or back to active (request changes).
type PlanningState struct {
	Active       bool
	Ready        bool
	ToolID       string
	RequestID    string
	FilePath     string
	Content      string
	NeedsRefresh bool
}

// PermissionRequest is one queued tool-permission prompt.
type PermissionRequest struct {
	RequestID   string
	ToolName    string
	ToolInput   map[string]any
	Description string
	UnderReview bool
}

// PermissionState is a FIFO queue of pending permission prompts. Only the
// head is ever shown or resolved at once.
type PermissionState struct {
	Queue []PermissionRequest
}

// Active returns the request currently eligible for display, or nil.
func (p PermissionState) Active() *PermissionRequest {
	if len(p.Queue) == 0 {
		return nil
	}
	return &p.Queue[0]
}

// CompactionState tracks an in-flight two-phase compaction.
type CompactionState struct {
	Active    bool
	PreTokens uint64
	MessageID string
}

// ResultStats is the final turn summary from the provider.
type ResultStats struct {
	Cost         float64
	DurationMs   uint64
	Turns        int
	IsError      bool
	InputTokens  uint64
	OutputTokens uint64
	CacheRead    uint64
	CacheWrite   uint64
}

// ContextInfo is the current context-window accounting.
type ContextInfo struct {
	TotalContext   uint64
	RawInputTokens uint64
	CacheRead      uint64
	CacheWrite     uint64
}

// SessionState carries session-level metadata and the session error slot.
// Error-adjacent conditions become state here rather than escalating.
type SessionState struct {
	ID         string
	Model      string
	ToolCount  int
	Active     bool
	ExitCode   int
	Error      string
	Info       ContextInfo
	LastResult *ResultStats
	Phase      Phase
}

// UpdateState tracks application-update availability. The embedding
// application applies SetUpdateStatus when its own update checker reports,
// the same way it applies ResolvePlan and ClearQuestion for user choices.
type UpdateState struct {
	Available  bool
	Version    string
	Downloaded bool
}

// State is the single authoritative conversation aggregate. Treat values
// returned by Reduce as immutable; the reducer copies what it changes.
type State struct {
	Messages   []Message
	Streaming  Streaming
	Tools      ToolState
	Todo       TodoState
	Question   QuestionState
	Planning   PlanningState
	Permission PermissionState
	Compaction CompactionState
	Session    SessionState
	Update     UpdateState
}

// NewState creates the initial conversation state.
func NewState() *State {
	return &State{
		Session: SessionState{Active: true, Phase: PhaseAwaiting},
	}
}

// FindTool returns the index of the tool with the given id in the current
// turn, or -1.
func (t ToolState) FindTool(id string) int {
	for i := range t.Current {
		if t.Current[i].ID == id {
			return i
		}
	}
	return -1
}

// FindToolBlock returns the index of the tool block with the given id in the
// streaming blocks, or -1.
func (s Streaming) FindToolBlock(id string) int {
	for i := range s.Blocks {
		if s.Blocks[i].Kind == BlockToolUse && s.Blocks[i].Tool.ID == id {
			return i
		}
	}
	return -1
}

// Snapshot returns a deep copy safe to hand to observers on other
// goroutines while the store keeps mutating the live state.
func (s *State) Snapshot() *State {
	dup := s.clone()
	dup.Messages = make([]Message, len(s.Messages))
	for i := range s.Messages {
		dup.Messages[i] = cloneMessage(s.Messages[i])
	}
	dup.Streaming.Blocks = cloneBlocks(s.Streaming.Blocks)
	dup.Tools.Current = cloneTools(s.Tools.Current)
	dup.Todo.Items = append([]TodoItem(nil), s.Todo.Items...)
	dup.Question.Items = append([]QuestionItem(nil), s.Question.Items...)
	dup.Permission.Queue = append([]PermissionRequest(nil), s.Permission.Queue...)
	if s.Session.LastResult != nil {
		stats := *s.Session.LastResult
		dup.Session.LastResult = &stats
	}
	return dup
}

func cloneMessage(m Message) Message {
	dup := m
	dup.ContentBlocks = cloneBlocks(m.ContentBlocks)
	dup.ToolUses = cloneTools(m.ToolUses)
	return dup
}

func cloneBlocks(blocks []Block) []Block {
	if blocks == nil {
		return nil
	}
	dup := make([]Block, len(blocks))
	for i := range blocks {
		dup[i] = blocks[i]
		dup[i].Tool.Subagent = cloneSubagent(blocks[i].Tool.Subagent)
	}
	return dup
}

func cloneTools(tools []ToolUse) []ToolUse {
	if tools == nil {
		return nil
	}
	dup := make([]ToolUse, len(tools))
	for i := range tools {
		dup[i] = tools[i]
		dup[i].Subagent = cloneSubagent(tools[i].Subagent)
	}
	return dup
}

// clone returns a shallow copy. Callers must copy any slice or nested value
// they intend to modify before writing through it.
func (s *State) clone() *State {
	dup := *s
	return &dup
}

// cloneSubagent deep-copies a subagent so patches never alias prior state.
func cloneSubagent(info *SubagentInfo) *SubagentInfo {
	if info == nil {
		return nil
	}
	dup := *info
	dup.NestedTools = append([]NestedTool(nil), info.NestedTools...)
	return &dup
}
