package conversation

import "time"

// Action is the tagged union of every state transition. Reduce ignores
// action types it does not recognize, returning its input unchanged, so the
// action set can grow without breaking older reducers.
//
// Actions carry their own timestamps and generated ids: the reducer stays
// deterministic given (state, action), with no clock or randomness inside.
type Action interface {
	action()
}

// AppendText concatenates streamed text into the turn. NewBlock forces a
// fresh block even when the previous block is also text, preserving block
// boundaries signaled by the provider.
type AppendText struct {
	Text     string
	NewBlock bool
}

// AppendThinking mirrors AppendText for thinking content.
type AppendThinking struct {
	Thinking string
	NewBlock bool
}

// SetShowThinking toggles the thinking-visibility preference. The
// preference survives streaming resets.
type SetShowThinking struct {
	Show bool
}

// AddTool registers a tool invocation, appending it to both the current
// tool set and the streaming blocks.
type AddTool struct {
	Tool ToolUse
}

// ToolPatch is a partial update to a tool invocation. Nil pointers leave
// the corresponding field untouched.
type ToolPatch struct {
	Input   map[string]any
	Result  *string
	IsError *bool
	Loading *bool
}

// UpdateTool applies a patch to the tool with the given id wherever it
// currently lives (tool set and streaming blocks). Unresolvable ids are
// dropped silently: duplicate and late results are expected protocol
// behavior, not errors.
type UpdateTool struct {
	ID        string
	Patch     ToolPatch
	Timestamp time.Time
}

// SubagentPatch is a partial update to a tool's subagent info.
type SubagentPatch struct {
	AgentType    *string
	Description  *string
	Status       *SubagentStatus
	StartTime    *time.Time
	DurationMs   *uint64
	ToolCount    *int
	AppendNested *NestedTool
	Result       *string
}

// UpdateToolSubagent merges a subagent patch into the tool with the given
// id. Search order: current turn first, then finalized messages, so a
// subagent that outlives its parent turn still lands its result.
type UpdateToolSubagent struct {
	ID    string
	Patch SubagentPatch
}

// MarkToolPending records that a server-side tool is executing.
type MarkToolPending struct{}

// FinishStreaming seals the in-progress turn into a finalized message and
// resets streaming state. FallbackContent substitutes for empty streamed
// content (slash-command responses); if both are empty and no tools or
// blocks accumulated, no message is appended.
type FinishStreaming struct {
	MessageID       string
	Interrupted     bool
	FallbackContent string
	Timestamp       time.Time
}

// ResetStreaming clears the streaming turn and tool set, marks loading, and
// clears the session error. Emitted when a new send begins.
type ResetStreaming struct{}

// SetTodos replaces the todo list.
type SetTodos struct {
	Items []TodoItem
}

// SetQuestion activates a question set awaiting user answers.
type SetQuestion struct {
	RequestID string
	Items     []QuestionItem
}

// ClearQuestion dismisses the active question set.
type ClearQuestion struct{}

// EnterPlanning activates plan mode for the given EnterPlanMode tool id.
type EnterPlanning struct {
	ToolID string
}

// SetPlanReady marks the plan as awaiting approval (ExitPlanMode request).
type SetPlanReady struct {
	RequestID string
}

// SetPlanContent records the captured plan file path and content.
type SetPlanContent struct {
	Path    string
	Content string
}

// MarkPlanStale flags that the plan file changed without full content
// available (Edit tools carry no complete snapshot).
type MarkPlanStale struct {
	Path string
}

// ResolvePlan closes the approval gate. Approved or cancelled plans leave
// plan mode entirely; requested changes return to active-not-ready so the
// agent can iterate.
type ResolvePlan struct {
	Approved       bool
	RequestChanges bool
}

// EnqueuePermission appends a permission prompt to the FIFO queue.
type EnqueuePermission struct {
	Request PermissionRequest
}

// ResolvePermission removes a prompt from the queue by request id; the next
// queued prompt becomes the active one.
type ResolvePermission struct {
	RequestID string
}

// MarkPermissionReviewing flags or unflags a queued prompt as under
// automated review. Unflagging hands the prompt back to the human queue.
type MarkPermissionReviewing struct {
	RequestID string
	Reviewing bool
}

// StartCompaction inserts the compaction placeholder message and opens
// compaction tracking.
type StartCompaction struct {
	PreTokens uint64
	MessageID string
	Timestamp time.Time
}

// CompleteCompaction rewrites the placeholder with before/after sizes and
// updates the context estimate. If the placeholder is missing (start signal
// lost), a fresh message is synthesized instead.
type CompleteCompaction struct {
	PreTokens   uint64
	PostTokens  uint64
	BaseContext uint64
	MessageID   string
	Timestamp   time.Time
}

// SetSessionReady records session metadata from the ready handshake.
type SetSessionReady struct {
	SessionID string
	Model     string
	Tools     int
}

// SetContextUsage updates the live context-window accounting.
type SetContextUsage struct {
	InputTokens    uint64
	RawInputTokens uint64
	CacheRead      uint64
	CacheWrite     uint64
}

// SetResultStats records the final turn summary.
type SetResultStats struct {
	Stats ResultStats
}

// SetSessionError surfaces an error as state.
type SetSessionError struct {
	Message string
}

// SetSessionClosed marks the session inactive after subprocess exit.
type SetSessionClosed struct {
	Code int
}

// SetUpdateStatus records application-update availability. Applied by the
// embedding application, not produced by the event dispatcher.
type SetUpdateStatus struct {
	Available  bool
	Version    string
	Downloaded bool
}

func (AppendText) action()              {}
func (AppendThinking) action()          {}
func (SetShowThinking) action()         {}
func (AddTool) action()                 {}
func (UpdateTool) action()              {}
func (UpdateToolSubagent) action()      {}
func (MarkToolPending) action()         {}
func (FinishStreaming) action()         {}
func (ResetStreaming) action()          {}
func (SetTodos) action()                {}
func (SetQuestion) action()             {}
func (ClearQuestion) action()           {}
func (EnterPlanning) action()           {}
func (SetPlanReady) action()            {}
func (SetPlanContent) action()          {}
func (MarkPlanStale) action()           {}
func (ResolvePlan) action()             {}
func (EnqueuePermission) action()       {}
func (ResolvePermission) action()       {}
func (MarkPermissionReviewing) action() {}
func (StartCompaction) action()         {}
func (CompleteCompaction) action()      {}
func (SetSessionReady) action()         {}
func (SetContextUsage) action()         {}
func (SetResultStats) action()          {}
func (SetSessionError) action()         {}
func (SetSessionClosed) action()        {}
func (SetUpdateStatus) action()         {}
