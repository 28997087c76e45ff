// Package dispatch translates canonical bridge events into reducer actions.
// It owns the race-condition recovery logic: results arriving before their
// tool starts, duplicate result echoes, background-task alias correlation,
// and subagent attribution. All scratch state lives in Refs; everything
// observable goes through the sink as actions.
package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/odvcencio/palaver/pkg/conversation"
	"github.com/odvcencio/palaver/pkg/event"
	"github.com/odvcencio/palaver/pkg/logging"
	"github.com/odvcencio/palaver/pkg/review"
)

// Mode is the active permission-interaction mode.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeRequest Mode = "request"
	ModePlan    Mode = "plan"
	ModeBot     Mode = "bot"
)

// Distinguished tool names the dispatcher treats specially.
const (
	toolTodoWrite     = "TodoWrite"
	toolAskQuestion   = "AskUserQuestion"
	toolTask          = "Task"
	toolEnterPlanMode = "EnterPlanMode"
	toolExitPlanMode  = "ExitPlanMode"
)

// Sink applies action batches to the observable state. One Apply call per
// event: observers never see a partially-applied event.
type Sink interface {
	Apply(actions ...conversation.Action)
	State() *conversation.State
}

// Callbacks are the injected external contracts. None of them may block the
// event loop; permission and review calls run fire-and-forget.
type Callbacks struct {
	// RespondPermission answers a permission request on the bridge's
	// side channel.
	RespondPermission func(ctx context.Context, requestID string, allow bool, toolInput map[string]any) error
	// Mode returns the current interaction mode.
	Mode func() Mode
	// NewID mints unique message ids.
	NewID func() string
	// Reviewer classifies tool invocations in bot mode.
	Reviewer review.Reviewer
}

// Config tunes dispatcher behavior.
type Config struct {
	// BaseContext is the fixed context overhead added to post-compaction
	// token counts.
	BaseContext uint64
	// PlansDir marks paths under it as plan files.
	PlansDir string
	// FinalizedCap bounds the finalized background-task set.
	FinalizedCap int
}

// Dispatcher consumes canonical events one at a time and applies the
// resulting action batches to the sink. Not safe for concurrent Dispatch
// calls; the bridge delivers one line at a time.
type Dispatcher struct {
	sink Sink
	refs *Refs
	cb   Callbacks
	cfg  Config
	log  *logging.Logger
	now  func() time.Time
}

// New creates a dispatcher with fresh scratch state.
func New(sink Sink, cb Callbacks, cfg Config, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.NewNop()
	}
	if cfg.BaseContext == 0 {
		cfg.BaseContext = 20000
	}
	return &Dispatcher{
		sink: sink,
		refs: NewRefs(cfg.FinalizedCap),
		cb:   cb,
		cfg:  cfg,
		log:  log,
		now:  time.Now,
	}
}

// Dispatch consumes one event, emitting zero or more actions as a single
// batch. It never returns an error: malformed or stale input degrades to a
// no-op per the pipeline's error policy.
func (d *Dispatcher) Dispatch(ev event.Event) {
	metricEventsDispatched.WithLabelValues(string(ev.EventKind())).Inc()
	actions := d.handle(ev)
	if len(actions) == 0 {
		return
	}
	metricActionsEmitted.Add(float64(len(actions)))
	d.sink.Apply(actions...)
}

func (d *Dispatcher) handle(ev event.Event) []conversation.Action {
	switch e := ev.(type) {
	case event.Status:
		return d.handleStatus(e)
	case event.Ready:
		return []conversation.Action{conversation.SetSessionReady{
			SessionID: e.SessionID, Model: e.Model, Tools: e.Tools,
		}}
	case event.Processing:
		d.refs.resetTurn()
		metricPendingResults.Set(0)
		return []conversation.Action{conversation.ResetStreaming{}}
	case event.ThinkingStart:
		d.refs.forceNewThinking = true
		return []conversation.Action{conversation.SetShowThinking{Show: true}}
	case event.ThinkingDelta:
		newBlock := d.refs.forceNewThinking
		d.refs.forceNewThinking = false
		return []conversation.Action{conversation.AppendThinking{Thinking: e.Thinking, NewBlock: newBlock}}
	case event.TextDelta:
		newBlock := d.refs.forceNewText
		d.refs.forceNewText = false
		return []conversation.Action{conversation.AppendText{Text: e.Text, NewBlock: newBlock}}
	case event.BlockEnd:
		return d.handleBlockEnd()
	case event.ToolStart:
		return d.handleToolStart(e)
	case event.ToolInput:
		return d.handleToolInput(e)
	case event.ToolPending:
		return []conversation.Action{conversation.MarkToolPending{}}
	case event.ToolResult:
		return d.handleToolResult(e)
	case event.PermissionRequest:
		return d.handlePermission(e)
	case event.AskUserQuestion:
		return []conversation.Action{conversation.SetQuestion{
			RequestID: e.RequestID,
			Items:     questionItems(e.Questions),
		}}
	case event.ContextUpdate:
		d.refs.sawContextUpdate = true
		return []conversation.Action{conversation.SetContextUsage{
			InputTokens:    e.InputTokens,
			RawInputTokens: e.RawInputTokens,
			CacheRead:      e.CacheRead,
			CacheWrite:     e.CacheWrite,
		}}
	case event.Result:
		d.refs.lastResultContent = e.Content
		return []conversation.Action{conversation.SetResultStats{Stats: conversation.ResultStats{
			Cost:         e.Cost,
			DurationMs:   e.DurationMs,
			Turns:        e.Turns,
			IsError:      e.IsError,
			InputTokens:  e.InputTokens,
			OutputTokens: e.OutputTokens,
			CacheRead:    e.CacheRead,
			CacheWrite:   e.CacheWrite,
		}}}
	case event.Done:
		return d.finishTurn(false)
	case event.Interrupted:
		return d.finishTurn(true)
	case event.Closed:
		return []conversation.Action{conversation.SetSessionClosed{Code: e.Code}}
	case event.Error:
		return []conversation.Action{conversation.SetSessionError{Message: e.Message}}
	case event.SubagentStart:
		return d.handleSubagentStart(e)
	case event.SubagentProgress:
		return d.handleSubagentProgress(e)
	case event.SubagentEnd:
		return d.handleSubagentEnd(e)
	case event.TaskRegistered:
		return d.handleTaskRegistered(e)
	case event.TaskCompleted:
		return d.handleTaskCompleted(e)
	case event.TaskResult:
		return d.handleTaskResult(e)
	case event.Unknown:
		d.log.Debug(logging.CategoryDispatch, "unknown_event", e.TypeName, nil)
		return nil
	default:
		return nil
	}
}

func (d *Dispatcher) handleStatus(e event.Status) []conversation.Action {
	if e.IsCompaction {
		st := d.sink.State()
		pre := e.PreTokens
		if pre == 0 {
			pre = st.Compaction.PreTokens
		}
		messageID := st.Compaction.MessageID
		if messageID == "" {
			messageID = d.cb.NewID()
		}
		return []conversation.Action{conversation.CompleteCompaction{
			PreTokens:   pre,
			PostTokens:  e.PostTokens,
			BaseContext: d.cfg.BaseContext,
			MessageID:   messageID,
			Timestamp:   d.now(),
		}}
	}
	if strings.Contains(e.Message, "Compacting") {
		return []conversation.Action{conversation.StartCompaction{
			PreTokens: e.PreTokens,
			MessageID: d.cb.NewID(),
			Timestamp: d.now(),
		}}
	}
	d.log.Debug(logging.CategoryDispatch, "status", e.Message, nil)
	return nil
}

func (d *Dispatcher) handleBlockEnd() []conversation.Action {
	d.refs.forceNewText = true
	d.refs.forceNewThinking = true

	// A block boundary ends any input collection; run one final parse over
	// whatever accumulated.
	var actions []conversation.Action
	switch d.refs.collecting {
	case collectTodo:
		if items, ok := parseTodoList(d.refs.todoJSON); ok {
			actions = append(actions, conversation.SetTodos{Items: items})
		}
	case collectQuestion:
		if items, ok := parseQuestionSet(d.refs.questionJSON); ok {
			actions = append(actions, conversation.SetQuestion{Items: items})
		}
	case collectToolInput:
		if input, ok := parseJSONObject(d.refs.toolInputJSON); ok {
			actions = append(actions, conversation.UpdateTool{
				ID:    d.refs.collectingToolID,
				Patch: conversation.ToolPatch{Input: input},
			})
			actions = append(actions, d.planCaptureFromInput(d.refs.collectingToolID, input)...)
		}
	}
	d.refs.collecting = collectNone
	d.refs.collectingToolID = ""
	return actions
}

func (d *Dispatcher) handleToolStart(e event.ToolStart) []conversation.Action {
	d.refs.toolNames[e.ID] = e.Name

	// Distinguished collectors suppress normal tool-block creation.
	switch e.Name {
	case toolTodoWrite:
		d.refs.collecting = collectTodo
		d.refs.todoJSON = ""
		return nil
	case toolAskQuestion:
		d.refs.collecting = collectQuestion
		d.refs.questionJSON = ""
		return nil
	}

	// A nested invocation inside a subagent is attributed to its parent,
	// not surfaced as a top-level tool.
	if e.ParentToolUseID != "" {
		return d.subagentActions(e.ParentToolUseID, conversation.SubagentPatch{
			AppendNested: &conversation.NestedTool{Name: e.Name},
		})
	}

	d.refs.collecting = collectToolInput
	d.refs.collectingToolID = e.ID
	d.refs.toolInputJSON = ""

	tool := conversation.ToolUse{ID: e.ID, Name: e.Name, IsLoading: true}
	if buffered, ok := d.refs.takePendingResult(e.ID); ok {
		// The result raced ahead of the start: create the tool already
		// resolved, skipping the loading state entirely.
		tool.IsLoading = false
		tool.Result = buffered.Result
		tool.HasResult = true
		tool.IsError = buffered.IsError
		tool.CompletedAt = d.now()
		metricResultsRecovered.Inc()
		metricPendingResults.Dec()
		d.log.Info(logging.CategoryDispatch, "result_before_start_recovered", e.Name,
			map[string]any{"tool_id": e.ID})
	}

	actions := []conversation.Action{conversation.AddTool{Tool: tool}}
	if e.Name == toolEnterPlanMode {
		actions = append(actions, conversation.EnterPlanning{ToolID: e.ID})
	}
	actions = append(actions, d.drainTaskBuffers(e.ID)...)

	// Replay subagent signals that raced ahead of this tool's creation.
	if signals := d.refs.pendingSubagents[e.ID]; len(signals) > 0 {
		delete(d.refs.pendingSubagents, e.ID)
		for _, sig := range signals {
			actions = append(actions, conversation.UpdateToolSubagent{ID: e.ID, Patch: sig.patch})
		}
	}
	return actions
}

func (d *Dispatcher) handleToolInput(e event.ToolInput) []conversation.Action {
	switch d.refs.collecting {
	case collectTodo:
		d.refs.todoJSON += e.JSON
		if items, ok := parseTodoList(d.refs.todoJSON); ok {
			return []conversation.Action{conversation.SetTodos{Items: items}}
		}
	case collectQuestion:
		d.refs.questionJSON += e.JSON
		if items, ok := parseQuestionSet(d.refs.questionJSON); ok {
			return []conversation.Action{conversation.SetQuestion{Items: items}}
		}
	case collectToolInput:
		d.refs.toolInputJSON += e.JSON
		if input, ok := parseJSONObject(d.refs.toolInputJSON); ok {
			actions := []conversation.Action{conversation.UpdateTool{
				ID:    d.refs.collectingToolID,
				Patch: conversation.ToolPatch{Input: input},
			}}
			return append(actions, d.planCaptureFromInput(d.refs.collectingToolID, input)...)
		}
	}
	// Incomplete fragment; wait for the next chunk.
	return nil
}

func (d *Dispatcher) handleToolResult(e event.ToolResult) []conversation.Action {
	if e.ToolUseID == "" {
		// Legacy uncorrelated echo; the correlated variant carries the id.
		metricEchoesSuppressed.Inc()
		return nil
	}

	result := e.Stdout
	if e.IsError && result == "" {
		result = e.Stderr
	}

	st := d.sink.State()
	if st.Tools.FindTool(e.ToolUseID) < 0 && st.Streaming.FindToolBlock(e.ToolUseID) < 0 {
		// Result before start: buffer and wait. First arrival wins.
		if d.refs.bufferResult(e.ToolUseID, pendingResult{Result: result, IsError: e.IsError}) {
			metricResultsBuffered.Inc()
			metricPendingResults.Inc()
		}
		return nil
	}

	if d.refs.collecting == collectToolInput && d.refs.collectingToolID == e.ToolUseID {
		d.refs.collecting = collectNone
		d.refs.collectingToolID = ""
	}

	loading := false
	isErr := e.IsError
	actions := []conversation.Action{conversation.UpdateTool{
		ID:        e.ToolUseID,
		Patch:     conversation.ToolPatch{Result: &result, IsError: &isErr, Loading: &loading},
		Timestamp: d.now(),
	}}

	// A Read of the plan file carries its full content in the result.
	if d.refs.toolNames[e.ToolUseID] == "Read" && !e.IsError {
		if path := toolFilePath(st, e.ToolUseID); d.isPlanPath(path) {
			actions = append(actions, conversation.SetPlanContent{Path: path, Content: result})
		}
	}
	return actions
}

func (d *Dispatcher) handlePermission(e event.PermissionRequest) []conversation.Action {
	// Plan approval rides the permission channel but is its own flow.
	if e.ToolName == toolExitPlanMode {
		return []conversation.Action{conversation.SetPlanReady{RequestID: e.RequestID}}
	}

	req := conversation.PermissionRequest{
		RequestID:   e.RequestID,
		ToolName:    e.ToolName,
		ToolInput:   e.ToolInput,
		Description: e.Description,
	}

	switch d.cb.Mode() {
	case ModeAuto:
		go d.autoApprove(e)
		return nil
	case ModeBot:
		go d.reviewAsync(e)
		return []conversation.Action{
			conversation.EnqueuePermission{Request: req},
			conversation.MarkPermissionReviewing{RequestID: e.RequestID, Reviewing: true},
		}
	default:
		return []conversation.Action{conversation.EnqueuePermission{Request: req}}
	}
}

// autoApprove answers immediately; if the response call itself fails the
// request falls back to the human queue.
func (d *Dispatcher) autoApprove(e event.PermissionRequest) {
	err := d.cb.RespondPermission(context.Background(), e.RequestID, true, e.ToolInput)
	if err == nil {
		return
	}
	d.log.Warn(logging.CategoryPermission, "auto_approve_failed", e.ToolName,
		map[string]any{"request_id": e.RequestID, "error": err.Error()})
	d.sink.Apply(conversation.EnqueuePermission{Request: conversation.PermissionRequest{
		RequestID:   e.RequestID,
		ToolName:    e.ToolName,
		ToolInput:   e.ToolInput,
		Description: e.Description,
	}})
}

// reviewAsync classifies the request; a safe verdict approves and clears the
// queued prompt, anything else hands it back to the human queue.
func (d *Dispatcher) reviewAsync(e event.PermissionRequest) {
	ctx := context.Background()
	verdict, err := d.cb.Reviewer.Review(ctx, review.Request{
		ToolName:    e.ToolName,
		ToolInput:   e.ToolInput,
		Description: e.Description,
	})
	if err != nil || !verdict.Safe {
		reason := "review error"
		if err == nil {
			reason = verdict.Reason
		}
		d.log.Info(logging.CategoryReview, "review_escalated", reason,
			map[string]any{"request_id": e.RequestID, "tool": e.ToolName})
		d.sink.Apply(conversation.MarkPermissionReviewing{RequestID: e.RequestID, Reviewing: false})
		return
	}
	if err := d.cb.RespondPermission(ctx, e.RequestID, true, e.ToolInput); err != nil {
		d.log.Warn(logging.CategoryPermission, "review_approve_failed", e.ToolName,
			map[string]any{"request_id": e.RequestID, "error": err.Error()})
		d.sink.Apply(conversation.MarkPermissionReviewing{RequestID: e.RequestID, Reviewing: false})
		return
	}
	d.sink.Apply(conversation.ResolvePermission{RequestID: e.RequestID})
}

func (d *Dispatcher) finishTurn(interrupted bool) []conversation.Action {
	fallback := d.refs.lastResultContent
	sawUsage := d.refs.sawContextUpdate
	d.refs.resetTurn()
	metricPendingResults.Set(0)
	actions := []conversation.Action{conversation.FinishStreaming{
		MessageID:       d.cb.NewID(),
		Interrupted:     interrupted,
		FallbackContent: fallback,
		Timestamp:       d.now(),
	}}
	if !sawUsage {
		if est, ok := d.estimateContextUsage(fallback); ok {
			metricTokenEstimates.Inc()
			actions = append(actions, conversation.SetContextUsage{InputTokens: est})
		}
	}
	return actions
}

// estimateContextUsage counts tokens over the transcript as it will stand
// once the current turn finalizes, so the context meter still moves on
// turns where the provider never reported usage.
func (d *Dispatcher) estimateContextUsage(fallback string) (uint64, bool) {
	st := d.sink.State()
	content := st.Streaming.Content
	if content == "" {
		content = fallback
	}
	transcript := st.Messages
	if content != "" || st.Streaming.Thinking != "" {
		transcript = append(append([]conversation.Message(nil), st.Messages...), conversation.Message{
			Role:     conversation.RoleAssistant,
			Content:  content,
			Thinking: st.Streaming.Thinking,
		})
	}
	if len(transcript) == 0 {
		return 0, false
	}
	return uint64(conversation.CountTranscriptTokens(transcript)), true
}

func (d *Dispatcher) handleSubagentStart(e event.SubagentStart) []conversation.Action {
	running := conversation.SubagentRunning
	start := d.now()
	patch := conversation.SubagentPatch{
		AgentType:   &e.AgentType,
		Description: &e.Description,
		Status:      &running,
		StartTime:   &start,
	}
	if d.refs.finalized.Contains(d.refs.resolveTask(e.ID)) {
		// The final result already landed; keep the metadata but never
		// regress a completed status back to running.
		patch.Status = nil
		patch.StartTime = nil
	}
	return d.subagentActions(e.ID, patch)
}

func (d *Dispatcher) handleSubagentProgress(e event.SubagentProgress) []conversation.Action {
	target := e.SubagentID
	if target == "" {
		// No explicit attribution: fall back to the oldest running
		// subagent. Best effort, not a guarantee.
		var ok bool
		target, ok = d.oldestRunningSubagent()
		if !ok {
			return nil
		}
	}
	patch := conversation.SubagentPatch{
		AppendNested: &conversation.NestedTool{Name: e.ToolName, Detail: e.ToolDetail},
	}
	if e.ToolCount > 0 {
		patch.ToolCount = &e.ToolCount
	}
	return d.subagentActions(target, patch)
}

func (d *Dispatcher) handleSubagentEnd(e event.SubagentEnd) []conversation.Action {
	complete := conversation.SubagentComplete
	return d.subagentActions(e.ID, conversation.SubagentPatch{
		Status:     &complete,
		DurationMs: &e.DurationMs,
		ToolCount:  &e.ToolCount,
		Result:     &e.Result,
	})
}

func (d *Dispatcher) handleTaskRegistered(e event.TaskRegistered) []conversation.Action {
	d.refs.aliasToTask[e.Alias] = e.TaskID

	var actions []conversation.Action
	if status, ok := d.refs.pendingDone[e.Alias]; ok {
		delete(d.refs.pendingDone, e.Alias)
		metricAliasReplays.Inc()
		actions = append(actions, d.taskCompletion(e.TaskID, status)...)
	}
	if res, ok := d.refs.pendingTaskRes[e.Alias]; ok {
		delete(d.refs.pendingTaskRes, e.Alias)
		metricAliasReplays.Inc()
		actions = append(actions, d.taskFinal(e.TaskID, res)...)
	}
	return actions
}

func (d *Dispatcher) handleTaskCompleted(e event.TaskCompleted) []conversation.Action {
	id := d.refs.resolveTask(e.TaskID)
	if d.refs.finalized.Contains(id) {
		// A completion echo after the final result must not regress it.
		return nil
	}
	if d.toolLocation(id) == toolLocNone {
		d.refs.pendingDone[e.TaskID] = e.Status
		return nil
	}
	return d.taskCompletion(id, e.Status)
}

func (d *Dispatcher) handleTaskResult(e event.TaskResult) []conversation.Action {
	id := d.refs.resolveTask(e.TaskID)
	if d.toolLocation(id) == toolLocNone {
		d.refs.pendingTaskRes[e.TaskID] = pendingResult{Result: e.Result, IsError: e.IsError}
		return nil
	}
	return d.taskFinal(id, pendingResult{Result: e.Result, IsError: e.IsError})
}

// drainTaskBuffers replays completion and result signals buffered under a
// resolved task id, or under any alias mapping to it, once the owning tool
// starts. Signals can land here when they arrive addressed by canonical id
// after registration but before the Task tool itself appears.
func (d *Dispatcher) drainTaskBuffers(id string) []conversation.Action {
	keys := []string{id}
	for alias, task := range d.refs.aliasToTask {
		if task == id && alias != id {
			keys = append(keys, alias)
		}
	}
	var actions []conversation.Action
	for _, key := range keys {
		if status, ok := d.refs.pendingDone[key]; ok {
			delete(d.refs.pendingDone, key)
			metricAliasReplays.Inc()
			actions = append(actions, d.taskCompletion(id, status)...)
		}
		if res, ok := d.refs.pendingTaskRes[key]; ok {
			delete(d.refs.pendingTaskRes, key)
			metricAliasReplays.Inc()
			actions = append(actions, d.taskFinal(id, res)...)
		}
	}
	return actions
}

func (d *Dispatcher) taskCompletion(id, status string) []conversation.Action {
	if d.refs.finalized.Contains(id) {
		return nil
	}
	complete := conversation.SubagentComplete
	patch := conversation.SubagentPatch{Status: &complete}
	if status != "" && status != "completed" {
		patch.Result = &status
	}
	return d.subagentActions(id, patch)
}

func (d *Dispatcher) taskFinal(id string, res pendingResult) []conversation.Action {
	d.refs.finalized.Add(id)
	delete(d.refs.pendingDone, id)
	complete := conversation.SubagentComplete
	return d.subagentActions(id, conversation.SubagentPatch{
		Status: &complete,
		Result: &res.Result,
	})
}

type toolLocation int

const (
	toolLocNone toolLocation = iota
	toolLocCurrent
	toolLocFinalized
)

// toolLocation reports where a tool id currently lives.
func (d *Dispatcher) toolLocation(id string) toolLocation {
	st := d.sink.State()
	if st.Tools.FindTool(id) >= 0 || st.Streaming.FindToolBlock(id) >= 0 {
		return toolLocCurrent
	}
	for mi := range st.Messages {
		for ti := range st.Messages[mi].ToolUses {
			if st.Messages[mi].ToolUses[ti].ID == id {
				return toolLocFinalized
			}
		}
	}
	return toolLocNone
}

// subagentActions routes a subagent patch to its owning tool, buffering the
// patch when the tool does not exist yet anywhere in state.
func (d *Dispatcher) subagentActions(id string, patch conversation.SubagentPatch) []conversation.Action {
	switch d.toolLocation(id) {
	case toolLocNone:
		d.refs.pendingSubagents[id] = append(d.refs.pendingSubagents[id], subagentSignal{patch: patch})
		return nil
	case toolLocFinalized:
		metricLateSubagentMerges.Inc()
		d.log.Info(logging.CategoryDispatch, "late_subagent_merge", "",
			map[string]any{"tool_id": id})
	}
	return []conversation.Action{conversation.UpdateToolSubagent{ID: id, Patch: patch}}
}

// oldestRunningSubagent scans insertion order: current turn first, then
// finalized messages.
func (d *Dispatcher) oldestRunningSubagent() (string, bool) {
	st := d.sink.State()
	for i := range st.Tools.Current {
		sub := st.Tools.Current[i].Subagent
		if sub != nil && sub.Status == conversation.SubagentRunning {
			return st.Tools.Current[i].ID, true
		}
	}
	for mi := range st.Messages {
		for ti := range st.Messages[mi].ToolUses {
			sub := st.Messages[mi].ToolUses[ti].Subagent
			if sub != nil && sub.Status == conversation.SubagentRunning {
				return st.Messages[mi].ToolUses[ti].ID, true
			}
		}
	}
	return "", false
}

// planCaptureFromInput watches Write/Edit inputs for plan-file activity.
// Write carries full content; Edit only flags the plan stale since it has no
// complete snapshot.
func (d *Dispatcher) planCaptureFromInput(toolID string, input map[string]any) []conversation.Action {
	path, _ := input["file_path"].(string)
	if !d.isPlanPath(path) {
		return nil
	}
	switch d.refs.toolNames[toolID] {
	case "Write":
		content, _ := input["content"].(string)
		if content == "" {
			return nil
		}
		return []conversation.Action{conversation.SetPlanContent{Path: path, Content: content}}
	case "Edit", "MultiEdit":
		return []conversation.Action{conversation.MarkPlanStale{Path: path}}
	}
	return nil
}

// isPlanPath reports whether a path is the tracked plan file or looks like
// one. The lookalike rule covers resumed sessions that keep editing a plan
// without replaying the mode-entry event.
func (d *Dispatcher) isPlanPath(path string) bool {
	if path == "" {
		return false
	}
	if tracked := d.sink.State().Planning.FilePath; tracked != "" && path == tracked {
		return true
	}
	lower := strings.ToLower(path)
	if !strings.HasSuffix(lower, ".md") && !strings.HasSuffix(lower, ".markdown") {
		return false
	}
	if d.cfg.PlansDir != "" && strings.HasPrefix(path, d.cfg.PlansDir) {
		return true
	}
	return strings.Contains(lower, "plan")
}

// toolFilePath pulls the file_path argument out of a tool's parsed input.
func toolFilePath(st *conversation.State, id string) string {
	var input map[string]any
	if i := st.Tools.FindTool(id); i >= 0 {
		input = st.Tools.Current[i].Input
	} else if i := st.Streaming.FindToolBlock(id); i >= 0 {
		input = st.Streaming.Blocks[i].Tool.Input
	}
	if input == nil {
		return ""
	}
	path, _ := input["file_path"].(string)
	return path
}

func parseJSONObject(s string) (map[string]any, bool) {
	if s == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func parseTodoList(s string) ([]conversation.TodoItem, bool) {
	obj, ok := parseJSONObject(s)
	if !ok {
		return nil, false
	}
	raw, ok := obj["todos"].([]any)
	if !ok {
		return nil, false
	}
	items := make([]conversation.TodoItem, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item := conversation.TodoItem{}
		item.Content, _ = m["content"].(string)
		item.Status, _ = m["status"].(string)
		item.ActiveForm, _ = m["activeForm"].(string)
		items = append(items, item)
	}
	return items, true
}

func parseQuestionSet(s string) ([]conversation.QuestionItem, bool) {
	obj, ok := parseJSONObject(s)
	if !ok {
		return nil, false
	}
	raw, ok := obj["questions"].([]any)
	if !ok {
		return nil, false
	}
	maps := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if m, ok := entry.(map[string]any); ok {
			maps = append(maps, m)
		}
	}
	return questionItems(maps), true
}

func questionItems(raw []map[string]any) []conversation.QuestionItem {
	items := make([]conversation.QuestionItem, 0, len(raw))
	for _, m := range raw {
		item := conversation.QuestionItem{}
		item.Question, _ = m["question"].(string)
		item.Header, _ = m["header"].(string)
		item.MultiSelect, _ = m["multiSelect"].(bool)
		if opts, ok := m["options"].([]any); ok {
			for _, opt := range opts {
				if s, ok := opt.(string); ok {
					item.Options = append(item.Options, s)
				}
			}
		}
		items = append(items, item)
	}
	return items
}
