package event

import "encoding/json"

// Normalize parses one raw line from the bridge and maps it to a canonical
// event. It is total: malformed JSON, missing fields, and unrecognized types
// all produce a usable event (Unknown for the first and last, synthesized
// defaults for the middle). It never returns an error and has no side
// effects.
func Normalize(raw []byte) Event {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Unknown{}
	}
	return NormalizeValue(payload)
}

// NormalizeValue maps an already-decoded record to a canonical event.
func NormalizeValue(payload map[string]any) Event {
	kind, _ := payload["type"].(string)

	switch Kind(kind) {
	case KindStatus:
		return Status{
			Message:      getString(payload, "message"),
			IsCompaction: getBool(payload, "isCompaction", "is_compaction"),
			PreTokens:    getUint(payload, "preTokens", "pre_tokens"),
			PostTokens:   getUint(payload, "postTokens", "post_tokens"),
		}

	case KindReady:
		return Ready{
			SessionID: getString(payload, "sessionId", "session_id"),
			Model:     getString(payload, "model"),
			Tools:     int(getUint(payload, "tools")),
		}

	case KindProcessing:
		return Processing{Prompt: getString(payload, "prompt")}

	case KindThinkingStart:
		idx, ok := lookupUint(payload, "index")
		return ThinkingStart{Index: int(idx), HasIndex: ok}

	case KindThinkingDelta:
		return ThinkingDelta{Thinking: getString(payload, "thinking")}

	case KindTextDelta:
		return TextDelta{Text: getString(payload, "text")}

	case KindToolStart:
		return ToolStart{
			ID:              getString(payload, "id"),
			Name:            getString(payload, "name"),
			ParentToolUseID: getString(payload, "parent_tool_use_id", "parentToolUseId"),
		}

	case KindToolInput:
		return ToolInput{JSON: getString(payload, "json", "partial_json")}

	case KindToolPending:
		return ToolPending{}

	case KindToolResult:
		return ToolResult{
			ToolUseID: getString(payload, "tool_use_id", "toolUseId"),
			Stdout:    getString(payload, "stdout"),
			Stderr:    getString(payload, "stderr"),
			IsError:   getBool(payload, "isError", "is_error"),
		}

	case KindPermissionRequest:
		return PermissionRequest{
			RequestID:   getString(payload, "requestId", "request_id"),
			ToolName:    getString(payload, "toolName", "tool_name"),
			ToolInput:   getObject(payload, "toolInput", "tool_input"),
			Description: getString(payload, "description"),
		}

	case KindAskUserQuestion:
		return AskUserQuestion{
			RequestID: getString(payload, "requestId", "request_id"),
			Questions: getObjectList(payload, "questions"),
		}

	case KindBlockEnd:
		return BlockEnd{}

	case KindContextUpdate:
		return ContextUpdate{
			InputTokens:    getUint(payload, "inputTokens", "input_tokens"),
			RawInputTokens: getUint(payload, "rawInputTokens", "raw_input_tokens"),
			CacheRead:      getUint(payload, "cacheRead", "cache_read"),
			CacheWrite:     getUint(payload, "cacheWrite", "cache_write"),
		}

	case KindResult:
		return Result{
			Content:      getString(payload, "content"),
			Cost:         getFloat(payload, "cost"),
			DurationMs:   getUint(payload, "duration"),
			Turns:        int(getUint(payload, "turns")),
			IsError:      getBool(payload, "isError", "is_error"),
			InputTokens:  getUint(payload, "inputTokens", "input_tokens"),
			OutputTokens: getUint(payload, "outputTokens", "output_tokens"),
			CacheRead:    getUint(payload, "cacheRead", "cache_read"),
			CacheWrite:   getUint(payload, "cacheWrite", "cache_write"),
		}

	case KindDone:
		return Done{}

	case KindInterrupted:
		return Interrupted{}

	case KindClosed:
		return Closed{Code: int(getInt(payload, "code"))}

	case KindError:
		msg := getString(payload, "message")
		if msg == "" {
			msg = "unknown error"
		}
		return Error{Message: msg}

	case KindSubagentStart:
		return SubagentStart{
			ID:          getString(payload, "id"),
			AgentType:   getString(payload, "agentType", "agent_type"),
			Description: getString(payload, "description"),
			Prompt:      getString(payload, "prompt"),
		}

	case KindSubagentProgress:
		return SubagentProgress{
			SubagentID: getString(payload, "subagentId", "subagent_id"),
			ToolName:   getString(payload, "toolName", "tool_name"),
			ToolDetail: getString(payload, "toolDetail", "tool_detail"),
			ToolCount:  int(getUint(payload, "toolCount", "tool_count")),
		}

	case KindSubagentEnd:
		return SubagentEnd{
			ID:         getString(payload, "id"),
			AgentType:  getString(payload, "agentType", "agent_type"),
			DurationMs: getUint(payload, "duration"),
			ToolCount:  int(getUint(payload, "toolCount", "tool_count")),
			Result:     getString(payload, "result"),
		}

	case KindTaskRegistered:
		return TaskRegistered{
			Alias:  getString(payload, "alias", "task_alias", "taskAlias"),
			TaskID: getString(payload, "taskId", "task_id"),
		}

	case KindTaskCompleted:
		return TaskCompleted{
			TaskID: getString(payload, "taskId", "task_id"),
			Status: getString(payload, "status"),
		}

	case KindTaskResult:
		return TaskResult{
			TaskID:  getString(payload, "taskId", "task_id"),
			Result:  getString(payload, "result"),
			IsError: getBool(payload, "isError", "is_error"),
		}

	default:
		return Unknown{TypeName: kind, Raw: payload}
	}
}

// getString returns the first present string value among the given keys.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			return s
		}
	}
	return ""
}

// getBool returns the first present bool value among the given keys.
func getBool(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if b, ok := m[k].(bool); ok {
			return b
		}
	}
	return false
}

// getUint returns the first present non-negative numeric value among the
// given keys. JSON numbers decode as float64.
func getUint(m map[string]any, keys ...string) uint64 {
	v, _ := lookupUint(m, keys...)
	return v
}

func lookupUint(m map[string]any, keys ...string) (uint64, bool) {
	for _, k := range keys {
		switch n := m[k].(type) {
		case float64:
			if n < 0 {
				return 0, true
			}
			return uint64(n), true
		case json.Number:
			if i, err := n.Int64(); err == nil && i >= 0 {
				return uint64(i), true
			}
		}
	}
	return 0, false
}

func getInt(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		if n, ok := m[k].(float64); ok {
			return int64(n)
		}
	}
	return 0
}

func getFloat(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if n, ok := m[k].(float64); ok {
			return n
		}
	}
	return 0
}

func getObject(m map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if o, ok := m[k].(map[string]any); ok {
			return o
		}
	}
	return nil
}

func getObjectList(m map[string]any, keys ...string) []map[string]any {
	for _, k := range keys {
		list, ok := m[k].([]any)
		if !ok {
			continue
		}
		out := make([]map[string]any, 0, len(list))
		for _, entry := range list {
			if o, ok := entry.(map[string]any); ok {
				out = append(out, o)
			}
		}
		return out
	}
	return nil
}
