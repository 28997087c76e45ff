package conversation

import (
	"fmt"
	"time"
)

// Reduce is the pure transition function: given a state and an action it
// returns the next state. The input state is never mutated; unrecognized
// actions return the identical state reference. No I/O, no clock, no
// randomness.
func Reduce(s *State, a Action) *State {
	switch act := a.(type) {
	case AppendText:
		return reduceAppendText(s, act)
	case AppendThinking:
		return reduceAppendThinking(s, act)
	case SetShowThinking:
		next := s.clone()
		next.Streaming.ShowThinking = act.Show
		return next
	case AddTool:
		return reduceAddTool(s, act)
	case UpdateTool:
		return reduceUpdateTool(s, act)
	case UpdateToolSubagent:
		return reduceUpdateToolSubagent(s, act)
	case MarkToolPending:
		next := s.clone()
		next.Session.Phase = PhaseToolPending
		return next
	case FinishStreaming:
		return reduceFinishStreaming(s, act)
	case ResetStreaming:
		return reduceResetStreaming(s)
	case SetTodos:
		next := s.clone()
		next.Todo.Items = append([]TodoItem(nil), act.Items...)
		return next
	case SetQuestion:
		next := s.clone()
		next.Question = QuestionState{
			Active:    true,
			RequestID: act.RequestID,
			Items:     append([]QuestionItem(nil), act.Items...),
		}
		return next
	case ClearQuestion:
		next := s.clone()
		next.Question = QuestionState{}
		return next
	case EnterPlanning:
		next := s.clone()
		next.Planning.Active = true
		next.Planning.Ready = false
		next.Planning.ToolID = act.ToolID
		return next
	case SetPlanReady:
		next := s.clone()
		next.Planning.Active = true
		next.Planning.Ready = true
		next.Planning.RequestID = act.RequestID
		return next
	case SetPlanContent:
		next := s.clone()
		next.Planning.Active = true
		next.Planning.FilePath = act.Path
		next.Planning.Content = act.Content
		next.Planning.NeedsRefresh = false
		return next
	case MarkPlanStale:
		next := s.clone()
		next.Planning.Active = true
		if act.Path != "" {
			next.Planning.FilePath = act.Path
		}
		next.Planning.NeedsRefresh = true
		return next
	case ResolvePlan:
		next := s.clone()
		if act.RequestChanges {
			next.Planning.Ready = false
			next.Planning.RequestID = ""
			return next
		}
		next.Planning = PlanningState{}
		return next
	case EnqueuePermission:
		next := s.clone()
		queue := append([]PermissionRequest(nil), s.Permission.Queue...)
		next.Permission.Queue = append(queue, act.Request)
		return next
	case ResolvePermission:
		return reduceResolvePermission(s, act)
	case MarkPermissionReviewing:
		return reduceMarkReviewing(s, act)
	case StartCompaction:
		return reduceStartCompaction(s, act)
	case CompleteCompaction:
		return reduceCompleteCompaction(s, act)
	case SetSessionReady:
		next := s.clone()
		next.Session.ID = act.SessionID
		next.Session.Model = act.Model
		next.Session.ToolCount = act.Tools
		next.Session.Active = true
		return next
	case SetContextUsage:
		next := s.clone()
		next.Session.Info = ContextInfo{
			TotalContext:   act.InputTokens,
			RawInputTokens: act.RawInputTokens,
			CacheRead:      act.CacheRead,
			CacheWrite:     act.CacheWrite,
		}
		return next
	case SetResultStats:
		next := s.clone()
		stats := act.Stats
		next.Session.LastResult = &stats
		return next
	case SetSessionError:
		next := s.clone()
		next.Session.Error = act.Message
		return next
	case SetSessionClosed:
		next := s.clone()
		next.Session.Active = false
		next.Session.ExitCode = act.Code
		next.Session.Error = fmt.Sprintf("session closed (exit code %d)", act.Code)
		return next
	case SetUpdateStatus:
		next := s.clone()
		next.Update = UpdateState{
			Available:  act.Available,
			Version:    act.Version,
			Downloaded: act.Downloaded,
		}
		return next
	default:
		return s
	}
}

func reduceAppendText(s *State, act AppendText) *State {
	next := s.clone()
	next.Streaming.Content = s.Streaming.Content + act.Text
	next.Streaming.Blocks = appendBlockText(s.Streaming.Blocks, BlockText, act.Text, act.NewBlock)
	next.Session.Phase = PhaseStreaming
	return next
}

func reduceAppendThinking(s *State, act AppendThinking) *State {
	next := s.clone()
	next.Streaming.Thinking = s.Streaming.Thinking + act.Thinking
	next.Streaming.Blocks = appendBlockText(s.Streaming.Blocks, BlockThinking, act.Thinking, act.NewBlock)
	return next
}

// appendBlockText extends the last block when it has the same kind,
// otherwise appends a fresh block. Text never merges across a tool block:
// text, tool, text yields three blocks.
func appendBlockText(blocks []Block, kind BlockKind, text string, forceNew bool) []Block {
	out := append([]Block(nil), blocks...)
	if !forceNew && len(out) > 0 && out[len(out)-1].Kind == kind {
		out[len(out)-1].Text += text
		return out
	}
	return append(out, Block{Kind: kind, Text: text})
}

func reduceAddTool(s *State, act AddTool) *State {
	next := s.clone()
	tool := act.Tool
	tool.Subagent = cloneSubagent(tool.Subagent)
	next.Tools.Current = append(append([]ToolUse(nil), s.Tools.Current...), tool)
	next.Streaming.Blocks = append(append([]Block(nil), s.Streaming.Blocks...), Block{Kind: BlockToolUse, Tool: tool})
	next.Session.Phase = PhaseStreaming
	return next
}

// ApplyToolPatch merges a partial tool update. The completion timestamp is
// stamped once: later results never restamp it. Shared by the reducer and
// the store's fast path so the two stay observably equivalent.
func ApplyToolPatch(tool *ToolUse, patch ToolPatch, timestamp time.Time) {
	if patch.Input != nil {
		tool.Input = patch.Input
	}
	if patch.Result != nil {
		tool.Result = *patch.Result
		tool.HasResult = true
		if tool.CompletedAt.IsZero() {
			tool.CompletedAt = timestamp
		}
	}
	if patch.IsError != nil {
		tool.IsError = *patch.IsError
	}
	if patch.Loading != nil {
		tool.IsLoading = *patch.Loading
	}
}

func reduceUpdateTool(s *State, act UpdateTool) *State {
	toolIdx := s.Tools.FindTool(act.ID)
	blockIdx := s.Streaming.FindToolBlock(act.ID)
	if toolIdx < 0 && blockIdx < 0 {
		// The tool was already finalized into a message or never existed.
		// Late and duplicate results are expected; drop silently.
		return s
	}
	next := s.clone()
	if toolIdx >= 0 {
		next.Tools.Current = append([]ToolUse(nil), s.Tools.Current...)
		ApplyToolPatch(&next.Tools.Current[toolIdx], act.Patch, act.Timestamp)
	}
	if blockIdx >= 0 {
		next.Streaming.Blocks = append([]Block(nil), s.Streaming.Blocks...)
		ApplyToolPatch(&next.Streaming.Blocks[blockIdx].Tool, act.Patch, act.Timestamp)
	}
	if act.Patch.Result != nil {
		next.Session.Phase = PhaseStreaming
	}
	return next
}

// ApplySubagentPatch merges partial subagent fields into a tool, creating
// the subagent record if absent. Never aliases prior state.
func ApplySubagentPatch(tool *ToolUse, patch SubagentPatch) {
	info := cloneSubagent(tool.Subagent)
	if info == nil {
		info = &SubagentInfo{Status: SubagentRunning}
	}
	if patch.AgentType != nil {
		info.AgentType = *patch.AgentType
	}
	if patch.Description != nil {
		info.Description = *patch.Description
	}
	if patch.Status != nil {
		info.Status = *patch.Status
	}
	if patch.StartTime != nil {
		info.StartTime = *patch.StartTime
	}
	if patch.DurationMs != nil {
		info.DurationMs = *patch.DurationMs
	}
	if patch.ToolCount != nil {
		info.ToolCount = *patch.ToolCount
	}
	if patch.AppendNested != nil {
		info.NestedTools = append(info.NestedTools, *patch.AppendNested)
	}
	if patch.Result != nil {
		info.Result = *patch.Result
	}
	tool.Subagent = info
}

// reduceUpdateToolSubagent merges subagent fields into the owning tool,
// searching the in-progress turn first and finalized messages second. A
// subagent result must never be lost merely because its turn already
// closed; only a fully unresolvable id is dropped.
func reduceUpdateToolSubagent(s *State, act UpdateToolSubagent) *State {
	toolIdx := s.Tools.FindTool(act.ID)
	blockIdx := s.Streaming.FindToolBlock(act.ID)
	if toolIdx >= 0 || blockIdx >= 0 {
		next := s.clone()
		if toolIdx >= 0 {
			next.Tools.Current = append([]ToolUse(nil), s.Tools.Current...)
			ApplySubagentPatch(&next.Tools.Current[toolIdx], act.Patch)
		}
		if blockIdx >= 0 {
			next.Streaming.Blocks = append([]Block(nil), s.Streaming.Blocks...)
			ApplySubagentPatch(&next.Streaming.Blocks[blockIdx].Tool, act.Patch)
		}
		return next
	}

	for mi := len(s.Messages) - 1; mi >= 0; mi-- {
		msg := s.Messages[mi]
		found := false
		for ti := range msg.ToolUses {
			if msg.ToolUses[ti].ID == act.ID {
				found = true
				break
			}
		}
		if !found {
			for bi := range msg.ContentBlocks {
				if msg.ContentBlocks[bi].Kind == BlockToolUse && msg.ContentBlocks[bi].Tool.ID == act.ID {
					found = true
					break
				}
			}
		}
		if !found {
			continue
		}

		next := s.clone()
		next.Messages = append([]Message(nil), s.Messages...)
		updated := msg
		updated.ToolUses = append([]ToolUse(nil), msg.ToolUses...)
		updated.ContentBlocks = append([]Block(nil), msg.ContentBlocks...)
		for ti := range updated.ToolUses {
			if updated.ToolUses[ti].ID == act.ID {
				ApplySubagentPatch(&updated.ToolUses[ti], act.Patch)
			}
		}
		for bi := range updated.ContentBlocks {
			if updated.ContentBlocks[bi].Kind == BlockToolUse && updated.ContentBlocks[bi].Tool.ID == act.ID {
				ApplySubagentPatch(&updated.ContentBlocks[bi].Tool, act.Patch)
			}
		}
		next.Messages[mi] = updated
		return next
	}

	return s
}

func reduceFinishStreaming(s *State, act FinishStreaming) *State {
	next := s.clone()

	content := s.Streaming.Content
	if content == "" {
		content = act.FallbackContent
	}
	hasBody := content != "" || len(s.Tools.Current) > 0 || len(s.Streaming.Blocks) > 0
	if hasBody {
		msg := Message{
			ID:            act.MessageID,
			Role:          RoleAssistant,
			Content:       content,
			Thinking:      s.Streaming.Thinking,
			ContentBlocks: append([]Block(nil), s.Streaming.Blocks...),
			ToolUses:      append([]ToolUse(nil), s.Tools.Current...),
			Interrupted:   act.Interrupted,
			Timestamp:     act.Timestamp,
		}
		next.Messages = append(append([]Message(nil), s.Messages...), msg)
	}

	next.Streaming = Streaming{ShowThinking: s.Streaming.ShowThinking}
	next.Tools = ToolState{}
	next.Session.Phase = PhaseAwaiting
	return next
}

func reduceResetStreaming(s *State) *State {
	next := s.clone()
	next.Streaming = Streaming{
		IsLoading:    true,
		ShowThinking: s.Streaming.ShowThinking,
	}
	next.Tools = ToolState{}
	next.Session.Error = ""
	next.Session.Phase = PhaseAwaiting
	return next
}

func reduceResolvePermission(s *State, act ResolvePermission) *State {
	idx := -1
	for i := range s.Permission.Queue {
		if s.Permission.Queue[i].RequestID == act.RequestID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s
	}
	next := s.clone()
	queue := append([]PermissionRequest(nil), s.Permission.Queue...)
	next.Permission.Queue = append(queue[:idx], queue[idx+1:]...)
	return next
}

func reduceMarkReviewing(s *State, act MarkPermissionReviewing) *State {
	idx := -1
	for i := range s.Permission.Queue {
		if s.Permission.Queue[i].RequestID == act.RequestID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s
	}
	next := s.clone()
	next.Permission.Queue = append([]PermissionRequest(nil), s.Permission.Queue...)
	next.Permission.Queue[idx].UnderReview = act.Reviewing
	return next
}

func reduceStartCompaction(s *State, act StartCompaction) *State {
	next := s.clone()
	placeholder := Message{
		ID:        act.MessageID,
		Role:      RoleSystem,
		Content:   fmt.Sprintf("%dk → ...", act.PreTokens/1000),
		Timestamp: act.Timestamp,
	}
	next.Messages = append(append([]Message(nil), s.Messages...), placeholder)
	next.Compaction = CompactionState{
		Active:    true,
		PreTokens: act.PreTokens,
		MessageID: act.MessageID,
	}
	next.Session.Phase = PhaseCompacting
	return next
}

func reduceCompleteCompaction(s *State, act CompleteCompaction) *State {
	next := s.clone()

	messageID := s.Compaction.MessageID
	if messageID == "" {
		messageID = act.MessageID
	}
	content := fmt.Sprintf("%dk → %dk", act.PreTokens/1000, (act.BaseContext+act.PostTokens)/1000)

	placed := false
	next.Messages = append([]Message(nil), s.Messages...)
	for i := range next.Messages {
		if next.Messages[i].ID == messageID && messageID != "" {
			next.Messages[i].Content = content
			placed = true
			break
		}
	}
	if !placed {
		// The start signal was missed; synthesize the summary rather than
		// dropping the accounting.
		next.Messages = append(next.Messages, Message{
			ID:        act.MessageID,
			Role:      RoleSystem,
			Content:   content,
			Timestamp: act.Timestamp,
		})
	}

	next.Session.Info.TotalContext = act.BaseContext + act.PostTokens
	next.Compaction = CompactionState{}
	if s.Streaming.Content == "" && len(s.Streaming.Blocks) == 0 {
		next.Session.Phase = PhaseAwaiting
	} else {
		next.Session.Phase = PhaseStreaming
	}
	return next
}
