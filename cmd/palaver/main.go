// Command palaver consumes the agent bridge's line-delimited JSON event
// stream on stdin, maintains the conversation state machine, and answers
// permission requests on stdout. Observers subscribe to state change
// notifications over the message bus and pull snapshots as needed.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/palaver/pkg/bus"
	"github.com/odvcencio/palaver/pkg/config"
	"github.com/odvcencio/palaver/pkg/conversation"
	"github.com/odvcencio/palaver/pkg/dispatch"
	"github.com/odvcencio/palaver/pkg/event"
	"github.com/odvcencio/palaver/pkg/logging"
	"github.com/odvcencio/palaver/pkg/review"
	"github.com/odvcencio/palaver/pkg/store"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// maxLineBytes bounds single event lines; large tool results arrive chunked
// but a generous ceiling avoids truncating legitimate payloads.
const maxLineBytes = 16 * 1024 * 1024

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file (default: layered ~/.palaver and ./.palaver)")
		sessionID   = flag.String("session", "", "session id (default: generated)")
		mode        = flag.String("mode", "", "permission mode: auto, request, plan, bot")
		busURL      = flag.String("bus-url", "", "NATS server URL (implies nats backend)")
		metricsBind = flag.String("metrics", "", "bind address for the Prometheus endpoint")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("palaver %s (%s, built %s)\n", version, commit, buildDate)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Agent.Mode = *mode
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if *busURL != "" {
		cfg.Bus.Backend = "nats"
		cfg.Bus.URL = *busURL
	}
	if *metricsBind != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Bind = *metricsBind
	}

	sid := *sessionID
	if sid == "" {
		sid = ulid.Make().String()
	}

	if err := run(cfg, sid, os.Stdin, os.Stdout); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func run(cfg *config.Config, sessionID string, stdin io.Reader, stdout io.Writer) error {
	log := logging.NewNop()
	if cfg.Logging.Dir != "" {
		var err error
		log, err = logging.NewLogger(cfg.Logging.Dir, sessionID)
		if err != nil {
			return err
		}
		defer log.Close()
		log.SetMinLevel(logging.Level(cfg.Logging.Level))
	}

	mb, err := connectBus(cfg)
	if err != nil {
		return err
	}
	defer mb.Close()

	st := store.New(sessionID, store.WithBus(mb), store.WithLogger(log))
	responder := newBridgeResponder(stdout)

	d := dispatch.New(st, dispatch.Callbacks{
		RespondPermission: responder.respondPermission,
		Mode:              func() dispatch.Mode { return dispatch.Mode(cfg.Agent.Mode) },
		NewID:             func() string { return ulid.Make().String() },
		Reviewer:          review.PreFiltered(nil),
	}, dispatch.Config{
		BaseContext:  cfg.Dispatch.BaseContext,
		PlansDir:     cfg.Dispatch.PlansDir,
		FinalizedCap: cfg.Dispatch.FinalizedCap,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	// The dispatcher is single-threaded; stdin lines and interrupt signals
	// funnel through one channel so events never race each other.
	events := make(chan event.Event, 64)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(events)
		scanner := bufio.NewScanner(stdin)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			select {
			case events <- event.Normalize(line):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return scanner.Err()
	})

	g.Go(func() error {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		defer signal.Stop(sigint)
		return dispatchLoop(ctx, d, st, events, sigint, cfg.Phases.Timeouts(), log)
	})

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.Metrics.Bind)
		})
	}

	log.Info(logging.CategorySession, "started", sessionID, map[string]any{
		"mode": cfg.Agent.Mode,
		"bus":  cfg.Bus.Backend,
	})
	return g.Wait()
}

// dispatchLoop feeds bridge events and interrupt signals to the dispatcher
// one at a time, and enforces the per-phase idle budget: polls run on the
// current phase's timeout, and when a turn stalls past the phase's idle
// tolerance the turn is sealed locally so state never wedges mid-response.
func dispatchLoop(ctx context.Context, d *dispatch.Dispatcher, st *store.Store, events <-chan event.Event, sigint <-chan os.Signal, pt conversation.PhaseTimeouts, log *logging.Logger) error {
	state := st.State()
	timer := time.NewTimer(state.Session.Phase.Timeout(pt))
	defer timer.Stop()

	idle := 0
	rearm := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(st.State().Session.Phase.Timeout(pt))
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			idle = 0
			d.Dispatch(ev)
			rearm()
		case <-sigint:
			idle = 0
			d.Dispatch(event.Interrupted{})
			rearm()
		case <-timer.C:
			state = st.State()
			if turnInFlight(state) {
				idle++
				if idle >= state.Session.Phase.MaxIdle(pt) {
					log.Warn(logging.CategorySession, "response_timeout", string(state.Session.Phase),
						map[string]any{"idle_polls": idle})
					d.Dispatch(event.Done{})
					idle = 0
				} else if state.Session.Phase.IsExtendedWait() {
					// Long tool or compaction waits are expected; leave a
					// trace so a genuine hang is diagnosable from the log.
					log.Info(logging.CategorySession, "extended_wait", string(state.Session.Phase),
						map[string]any{"idle_polls": idle})
				}
			} else {
				idle = 0
			}
			timer.Reset(st.State().Session.Phase.Timeout(pt))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// turnInFlight reports whether a response is still being assembled. Awaiting
// with no loading flag means the loop is between turns; anything else is a
// turn that must eventually finish or time out.
func turnInFlight(s *conversation.State) bool {
	return s.Streaming.IsLoading || s.Session.Phase != conversation.PhaseAwaiting
}

func connectBus(cfg *config.Config) (bus.MessageBus, error) {
	if cfg.Bus.Backend == "nats" {
		return bus.NewNATSBus(bus.Config{
			URL:     cfg.Bus.URL,
			Name:    cfg.Bus.Name,
			Timeout: cfg.Bus.Timeout,
		})
	}
	return bus.NewMemoryBus(), nil
}

func serveMetrics(ctx context.Context, bind string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: bind, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

// bridgeResponder writes permission responses back to the bridge as JSON
// lines. Responses may originate from reviewer goroutines, so writes are
// serialized.
type bridgeResponder struct {
	mu  sync.Mutex
	out io.Writer
}

func newBridgeResponder(out io.Writer) *bridgeResponder {
	return &bridgeResponder{out: out}
}

type permissionResponse struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	Allow     bool           `json:"allow"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
}

func (r *bridgeResponder) respondPermission(ctx context.Context, requestID string, allow bool, toolInput map[string]any) error {
	data, err := json.Marshal(permissionResponse{
		Type:      "permission_response",
		RequestID: requestID,
		Allow:     allow,
		ToolInput: toolInput,
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = r.out.Write(append(data, '\n'))
	return err
}
