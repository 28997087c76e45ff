// Package review defines the command-safety reviewer boundary used for the
// automated permission mode. The classifier itself lives outside this core;
// only the interface and the instant-decision pattern pre-filter are here.
package review

import (
	"context"
	"regexp"
	"strings"
)

// Request describes one tool invocation awaiting a safety verdict.
type Request struct {
	ToolName    string
	ToolInput   map[string]any
	Description string
}

// Result is a reviewer verdict.
type Result struct {
	Safe   bool
	Reason string
}

// Reviewer classifies a tool invocation as safe to auto-approve or not.
// Implementations may call out to an LLM; they must honor ctx cancellation.
type Reviewer interface {
	Review(ctx context.Context, req Request) (Result, error)
}

// ReviewerFunc adapts a function to the Reviewer interface.
type ReviewerFunc func(ctx context.Context, req Request) (Result, error)

func (f ReviewerFunc) Review(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// bashDenyRules match commands that never need a model to reject.
var bashDenyRules = []struct {
	pattern *regexp.Regexp
	reason  string
}{
	{regexp.MustCompile(`rm\s+(-[a-zA-Z]*\s+)*(/|~)(\s|$)`), "recursive delete of root or home"},
	{regexp.MustCompile(`\bsudo\b`), "privilege escalation"},
	{regexp.MustCompile(`\bmkfs\b|\bdd\s+if=`), "raw disk operation"},
	{regexp.MustCompile(`curl[^|]*\|\s*(ba)?sh|wget[^|]*\|\s*(ba)?sh`), "pipe remote script to shell"},
	{regexp.MustCompile(`git\s+reset\s+--hard`), "discards local changes"},
	{regexp.MustCompile(`git\s+push\s+.*--force`), "force push"},
	{regexp.MustCompile(`git\s+clean\s+-[a-zA-Z]*f`), "removes untracked files"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\|:`), "fork bomb"},
	{regexp.MustCompile(`\.bash_history|id_rsa|\.ssh/|\.aws/credentials`), "reads sensitive files"},
}

// writeDenyPrefixes are path prefixes a Write tool may never target.
var writeDenyPrefixes = []string{
	"/etc/", "/usr/", "/bin/", "/sbin/", "/boot/", "/var/",
}

// InstantDecision applies the pattern pre-filter. The third return reports
// whether a verdict was reached; false means the request needs the full
// reviewer (or a human).
func InstantDecision(req Request) (Result, bool) {
	switch req.ToolName {
	case "Bash":
		cmd, _ := req.ToolInput["command"].(string)
		if cmd == "" {
			return Result{}, false
		}
		for _, rule := range bashDenyRules {
			if rule.pattern.MatchString(cmd) {
				return Result{Safe: false, Reason: rule.reason}, true
			}
		}
		return Result{}, false
	case "Write", "Edit":
		path, _ := req.ToolInput["file_path"].(string)
		if path == "" {
			return Result{}, false
		}
		for _, prefix := range writeDenyPrefixes {
			if strings.HasPrefix(path, prefix) {
				return Result{Safe: false, Reason: "writes outside the workspace"}, true
			}
		}
		return Result{}, false
	case "Read", "Glob", "Grep":
		// Read-only tools are safe unless they target credential files.
		path, _ := req.ToolInput["file_path"].(string)
		if strings.Contains(path, "id_rsa") || strings.Contains(path, ".aws/credentials") {
			return Result{Safe: false, Reason: "reads credentials"}, true
		}
		return Result{Safe: true, Reason: "read-only tool"}, true
	default:
		return Result{}, false
	}
}

// PreFiltered wraps a reviewer with the instant-decision rules so obviously
// dangerous commands never reach the model.
func PreFiltered(next Reviewer) Reviewer {
	return ReviewerFunc(func(ctx context.Context, req Request) (Result, error) {
		if verdict, ok := InstantDecision(req); ok {
			return verdict, nil
		}
		if next == nil {
			return Result{Safe: false, Reason: "no reviewer configured"}, nil
		}
		return next.Review(ctx, req)
	})
}
