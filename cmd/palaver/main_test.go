package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/odvcencio/palaver/pkg/config"
	"github.com/odvcencio/palaver/pkg/conversation"
	"github.com/odvcencio/palaver/pkg/dispatch"
	"github.com/odvcencio/palaver/pkg/event"
	"github.com/odvcencio/palaver/pkg/logging"
	"github.com/odvcencio/palaver/pkg/store"
)

func TestBridgeResponderWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	r := newBridgeResponder(&buf)

	err := r.respondPermission(context.Background(), "req-1", true, map[string]any{"command": "ls"})
	if err != nil {
		t.Fatalf("respondPermission: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	var resp permissionResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if resp.Type != "permission_response" || resp.RequestID != "req-1" || !resp.Allow {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestBridgeResponderHonorsCancellation(t *testing.T) {
	var buf bytes.Buffer
	r := newBridgeResponder(&buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.respondPermission(ctx, "req-1", false, nil); err == nil {
		t.Fatal("expected context error")
	}
	if buf.Len() != 0 {
		t.Errorf("cancelled response still wrote %q", buf.String())
	}
}

func TestRunProcessesStreamToEOF(t *testing.T) {
	cfg := config.DefaultConfig()
	stdin := strings.NewReader(strings.Join([]string{
		`{"type":"ready","sessionId":"s1","model":"m"}`,
		`{"type":"processing"}`,
		`{"type":"text_delta","text":"hello"}`,
		`{"type":"result","content":"hello"}`,
		`{"type":"done"}`,
		``,
	}, "\n"))
	var stdout bytes.Buffer

	if err := run(cfg, "test-session", stdin, &stdout); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestDispatchLoopSealsStalledTurn(t *testing.T) {
	st := store.New("stall-session")
	log := logging.NewNop()
	d := dispatch.New(st, dispatch.Callbacks{
		RespondPermission: func(context.Context, string, bool, map[string]any) error { return nil },
		Mode:              func() dispatch.Mode { return dispatch.ModeRequest },
		NewID:             func() string { return "msg-1" },
	}, dispatch.Config{}, log)

	pt := conversation.PhaseTimeouts{
		Initial:            5 * time.Millisecond,
		Streaming:          5 * time.Millisecond,
		Extended:           5 * time.Millisecond,
		MaxIdleInitial:     2,
		MaxIdleStreaming:   2,
		MaxIdleToolPending: 2,
		MaxIdleCompacting:  2,
	}

	events := make(chan event.Event, 4)
	sigint := make(chan os.Signal)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- dispatchLoop(ctx, d, st, events, sigint, pt, log) }()

	// Stream part of a response, then stall forever without a done event.
	events <- event.Processing{}
	events <- event.TextDelta{Text: "partial answer that never finishes"}

	deadline := time.After(2 * time.Second)
	for {
		s := st.State()
		if len(s.Messages) == 1 && !turnInFlight(s) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("stalled turn was never sealed: phase=%s", st.State().Session.Phase)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := st.State().Messages[0].Content; got != "partial answer that never finishes" {
		t.Errorf("sealed message content = %q", got)
	}

	close(events)
	if err := <-done; err != nil {
		t.Fatalf("dispatchLoop: %v", err)
	}
}

func TestConnectBusMemoryDefault(t *testing.T) {
	cfg := config.DefaultConfig()
	mb, err := connectBus(cfg)
	if err != nil {
		t.Fatalf("connectBus: %v", err)
	}
	defer mb.Close()
}
