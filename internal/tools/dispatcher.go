// Package tools executes AI-initiated call actions with uniform semantics
// across providers: transfers (blind and attended), hangup with farewell,
// voicemail, and transcript email delivery. Every invocation returns a
// structured JSON result so the model can verbalize the outcome; failures
// are typed and never escape as plain errors.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// ErrToolBusy is returned when a non-concurrent tool is invoked while
// another one is still running.
var ErrToolBusy = errors.New("tools: another tool is already running")

// ErrUnknownTool is returned for names outside the registered set.
var ErrUnknownTool = errors.New("tools: unknown tool")

const defaultToolTimeout = 15 * time.Second

// CallInfo identifies the call a dispatcher serves.
type CallInfo struct {
	ChannelID    string
	CallerName   string
	CallerNumber string
}

// Spec declares one executable tool.
type Spec struct {
	// Definition is the schema offered to the model.
	Definition llm.ToolDefinition

	// Terminal marks tools whose success ends the call (transfer, hangup).
	Terminal bool

	// Concurrent tools may run alongside agent speech and other tools.
	Concurrent bool

	// Timeout bounds execution; zero uses the dispatcher default.
	Timeout time.Duration

	// Run executes the tool. The returned value is JSON-encoded into the
	// result payload; errors should be *Error so the model sees the kind.
	Run func(ctx context.Context, args json.RawMessage) (any, error)
}

// Result is the outcome of one dispatch. Payload is always a valid JSON
// document suitable for SubmitToolResult, success or failure alike.
type Result struct {
	CallID   string
	Name     string
	Payload  string
	Err      error
	Terminal bool

	// Elapsed is the tool's execution time. Zero when the call was
	// rejected before running (unknown tool, busy dispatcher).
	Elapsed time.Duration
}

// Dispatcher executes tool calls for a single session. At most one
// non-concurrent tool runs at a time.
type Dispatcher struct {
	log   *slog.Logger
	specs map[string]Spec

	mu      sync.Mutex
	running string
}

// NewDispatcher creates an empty dispatcher. Register the session's allowed
// tools before use.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{log: log, specs: make(map[string]Spec)}
}

// Register adds a tool. Registering the same name twice replaces the spec.
func (d *Dispatcher) Register(spec Spec) {
	d.specs[spec.Definition.Name] = spec
}

// Definitions returns the registered tool schemas for the provider session.
func (d *Dispatcher) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(d.specs))
	for _, spec := range d.specs {
		defs = append(defs, spec.Definition)
	}
	return defs
}

// Has reports whether the named tool is registered.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.specs[name]
	return ok
}

// Dispatch runs one tool call to completion and returns its structured
// result. Callers run it from a helper goroutine; the call blocks for up to
// the tool's timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, call llm.ToolCall) Result {
	spec, ok := d.specs[call.Name]
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
		return Result{CallID: call.ID, Name: call.Name, Payload: encodeFailure(KindInvalidArgs, err.Error()), Err: err}
	}

	if !spec.Concurrent {
		d.mu.Lock()
		if d.running != "" {
			other := d.running
			d.mu.Unlock()
			err := fmt.Errorf("%w: %s", ErrToolBusy, other)
			return Result{CallID: call.ID, Name: call.Name, Payload: encodeFailure(KindInvalidArgs, err.Error()), Err: err}
		}
		d.running = call.Name
		d.mu.Unlock()
		defer func() {
			d.mu.Lock()
			d.running = ""
			d.mu.Unlock()
		}()
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	value, err := spec.Run(runCtx, json.RawMessage(call.Arguments))
	elapsed := time.Since(started)

	if err != nil {
		var toolErr *Error
		if !errors.As(err, &toolErr) {
			if runCtx.Err() == context.DeadlineExceeded {
				toolErr = wrapError(KindTimeout, call.Name, "execution deadline exceeded", err)
			} else {
				toolErr = wrapError(KindInvalidArgs, call.Name, err.Error(), err)
			}
		}
		d.log.Warn("tool failed",
			"tool", call.Name,
			"kind", toolErr.Kind.String(),
			"elapsed", elapsed,
			"err", toolErr)
		return Result{
			CallID:  call.ID,
			Name:    call.Name,
			Payload: encodeFailure(toolErr.Kind, toolErr.Msg),
			Err:     toolErr,
			Elapsed: elapsed,
		}
	}

	d.log.Info("tool completed", "tool", call.Name, "elapsed", elapsed)
	return Result{
		CallID:   call.ID,
		Name:     call.Name,
		Payload:  encodeSuccess(value),
		Terminal: spec.Terminal,
		Elapsed:  elapsed,
	}
}

// Running returns the name of the currently running non-concurrent tool, or
// empty.
func (d *Dispatcher) Running() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func encodeSuccess(value any) string {
	payload := map[string]any{"status": "success"}
	if value != nil {
		payload["result"] = value
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return `{"status":"success"}`
	}
	return string(b)
}

func encodeFailure(kind ErrorKind, msg string) string {
	b, err := json.Marshal(map[string]any{
		"status":  "error",
		"kind":    kind.String(),
		"message": msg,
	})
	if err != nil {
		return `{"status":"error"}`
	}
	return string(b)
}
