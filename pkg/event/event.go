// Package event defines the canonical event set emitted by the agent
// subprocess bridge and the normalizer that maps raw line-delimited JSON
// records onto it. The bridge's wire format evolved over time, so the same
// logical event may arrive with either of two field-naming conventions;
// normalization resolves every event to exactly one canonical shape.
package event

// Kind discriminates between event types.
type Kind string

const (
	KindUnknown           Kind = "unknown"
	KindStatus            Kind = "status"
	KindReady             Kind = "ready"
	KindProcessing        Kind = "processing"
	KindThinkingStart     Kind = "thinking_start"
	KindThinkingDelta     Kind = "thinking_delta"
	KindTextDelta         Kind = "text_delta"
	KindToolStart         Kind = "tool_start"
	KindToolInput         Kind = "tool_input"
	KindToolPending       Kind = "tool_pending"
	KindToolResult        Kind = "tool_result"
	KindPermissionRequest Kind = "permission_request"
	KindAskUserQuestion   Kind = "ask_user_question"
	KindBlockEnd          Kind = "block_end"
	KindContextUpdate     Kind = "context_update"
	KindResult            Kind = "result"
	KindDone              Kind = "done"
	KindInterrupted       Kind = "interrupted"
	KindClosed            Kind = "closed"
	KindError             Kind = "error"
	KindSubagentStart     Kind = "subagent_start"
	KindSubagentProgress  Kind = "subagent_progress"
	KindSubagentEnd       Kind = "subagent_end"
	KindTaskRegistered    Kind = "bg_task_registered"
	KindTaskCompleted     Kind = "bg_task_completed"
	KindTaskResult        Kind = "bg_task_result"
)

// Event is the canonical discriminated union. Dispatchers type-switch on the
// concrete event structs; unknown events carry their raw payload through so
// callers can ignore them without losing diagnostics.
type Event interface {
	EventKind() Kind
}

// Status is a free-form bridge status line. Compaction progress rides on
// status events: a "Compacting" message opens a compaction pass and a
// message with IsCompaction set closes it with before/after token counts.
type Status struct {
	Message      string
	IsCompaction bool
	PreTokens    uint64
	PostTokens   uint64
}

func (Status) EventKind() Kind { return KindStatus }

// Ready reports session metadata once the subprocess has initialized.
type Ready struct {
	SessionID string
	Model     string
	Tools     int
}

func (Ready) EventKind() Kind { return KindReady }

// Processing acknowledges that the bridge accepted a user prompt.
type Processing struct {
	Prompt string
}

func (Processing) EventKind() Kind { return KindProcessing }

// ThinkingStart marks the opening of a thinking content block.
type ThinkingStart struct {
	Index    int
	HasIndex bool
}

func (ThinkingStart) EventKind() Kind { return KindThinkingStart }

// ThinkingDelta carries a streamed thinking fragment.
type ThinkingDelta struct {
	Thinking string
}

func (ThinkingDelta) EventKind() Kind { return KindThinkingDelta }

// TextDelta carries a streamed assistant text fragment.
type TextDelta struct {
	Text string
}

func (TextDelta) EventKind() Kind { return KindTextDelta }

// ToolStart announces a tool invocation. ParentToolUseID is set when the
// invocation is nested inside a running subagent.
type ToolStart struct {
	ID              string
	Name            string
	ParentToolUseID string
}

func (ToolStart) EventKind() Kind { return KindToolStart }

// ToolInput carries a fragment of the streaming tool-input JSON. Fragments
// may truncate mid-token; accumulation and reparse happen downstream.
type ToolInput struct {
	JSON string
}

func (ToolInput) EventKind() Kind { return KindToolInput }

// ToolPending signals that a server-side tool is executing.
type ToolPending struct{}

func (ToolPending) EventKind() Kind { return KindToolPending }

// ToolResult delivers a tool's output. ToolUseID may be empty: the bridge
// emits a legacy uncorrelated echo alongside the correlated result, and the
// echo must be ignored rather than applied.
type ToolResult struct {
	ToolUseID string
	Stdout    string
	Stderr    string
	IsError   bool
}

func (ToolResult) EventKind() Kind { return KindToolResult }

// PermissionRequest asks the user to allow or deny a tool invocation.
type PermissionRequest struct {
	RequestID   string
	ToolName    string
	ToolInput   map[string]any
	Description string
}

func (PermissionRequest) EventKind() Kind { return KindPermissionRequest }

// AskUserQuestion carries a structured question set from the agent.
type AskUserQuestion struct {
	RequestID string
	Questions []map[string]any
}

func (AskUserQuestion) EventKind() Kind { return KindAskUserQuestion }

// BlockEnd marks the end of the current content block.
type BlockEnd struct{}

func (BlockEnd) EventKind() Kind { return KindBlockEnd }

// ContextUpdate reports current context-window usage. Fires at the start of
// each response with the token accounting for the upcoming turn.
type ContextUpdate struct {
	InputTokens    uint64
	RawInputTokens uint64
	CacheRead      uint64
	CacheWrite     uint64
}

func (ContextUpdate) EventKind() Kind { return KindContextUpdate }

// Result carries the final turn summary with cost and token accounting.
type Result struct {
	Content      string
	Cost         float64
	DurationMs   uint64
	Turns        int
	IsError      bool
	InputTokens  uint64
	OutputTokens uint64
	CacheRead    uint64
	CacheWrite   uint64
}

func (Result) EventKind() Kind { return KindResult }

// Done marks the end of a response.
type Done struct{}

func (Done) EventKind() Kind { return KindDone }

// Interrupted reports that the user cut the response short.
type Interrupted struct{}

func (Interrupted) EventKind() Kind { return KindInterrupted }

// Closed reports subprocess termination.
type Closed struct {
	Code int
}

func (Closed) EventKind() Kind { return KindClosed }

// Error reports a bridge-level error.
type Error struct {
	Message string
}

func (Error) EventKind() Kind { return KindError }

// SubagentStart announces a Task-tool subagent. ID is the owning tool's id.
type SubagentStart struct {
	ID          string
	AgentType   string
	Description string
	Prompt      string
}

func (SubagentStart) EventKind() Kind { return KindSubagentStart }

// SubagentProgress reports a nested tool executed by a running subagent.
// SubagentID may be empty when the bridge could not attribute the nested
// call; attribution then falls back to the oldest running subagent.
type SubagentProgress struct {
	SubagentID string
	ToolName   string
	ToolDetail string
	ToolCount  int
}

func (SubagentProgress) EventKind() Kind { return KindSubagentProgress }

// SubagentEnd seals a subagent with its duration and result.
type SubagentEnd struct {
	ID         string
	AgentType  string
	DurationMs uint64
	ToolCount  int
	Result     string
}

func (SubagentEnd) EventKind() Kind { return KindSubagentEnd }

// TaskRegistered links a bridge-local background-task alias to the canonical
// provider-issued task id. Completion and result events observed before
// registration are buffered under the alias and replayed once this arrives.
type TaskRegistered struct {
	Alias  string
	TaskID string
}

func (TaskRegistered) EventKind() Kind { return KindTaskRegistered }

// TaskCompleted reports a background task's completion status. TaskID may be
// either the alias or the canonical id.
type TaskCompleted struct {
	TaskID string
	Status string
}

func (TaskCompleted) EventKind() Kind { return KindTaskCompleted }

// TaskResult delivers a background task's final result. TaskID may be either
// the alias or the canonical id.
type TaskResult struct {
	TaskID  string
	Result  string
	IsError bool
}

func (TaskResult) EventKind() Kind { return KindTaskResult }

// Unknown wraps an event type this version does not recognize. Consumers
// must accept and ignore it.
type Unknown struct {
	TypeName string
	Raw      map[string]any
}

func (Unknown) EventKind() Kind { return KindUnknown }
