// Package engine defines the provider session abstraction the call
// coordinator drives. A Session streams caller audio in and emits an ordered
// event stream of transcripts, agent audio and tool calls out, regardless of
// whether a single realtime provider or a composed STT/LLM/TTS pipeline sits
// behind it.
package engine

import (
	"context"

	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// EventType discriminates Session events.
type EventType string

const (
	// EventReady signals the provider session is connected and the
	// greeting may start.
	EventReady EventType = "ready"

	// EventResponseStarted marks the beginning of an agent response.
	EventResponseStarted EventType = "response_started"

	// EventAudio carries one chunk of agent PCM16 audio.
	EventAudio EventType = "audio"

	// EventAgentText carries agent response text for transcripts.
	EventAgentText EventType = "agent_text"

	// EventPartialTranscript carries an interim caller transcript.
	EventPartialTranscript EventType = "partial_transcript"

	// EventFinalTranscript carries a finalized caller transcript.
	EventFinalTranscript EventType = "final_transcript"

	// EventTurnEnd signals the provider decided the caller's turn is
	// over. Only monolithic providers with server VAD emit it.
	EventTurnEnd EventType = "turn_end"

	// EventResponseEnded marks the end of an agent response stream.
	EventResponseEnded EventType = "response_ended"

	// EventToolCall requests execution of a tool.
	EventToolCall EventType = "tool_call"

	// EventError carries a terminal provider error. The session is dead
	// after it.
	EventError EventType = "error"
)

// Event is one item on the session's ordered event stream.
type Event struct {
	Type       EventType
	Audio      []byte
	Text       string
	ResponseID string
	ToolCall   *llm.ToolCall
	Err        error
}

// SessionConfig carries the per-call parameters resolved from config.
type SessionConfig struct {
	SystemPrompt string
	Greeting     string
	Tools        []llm.ToolDefinition
	Voice        string

	// InputSampleRate is the rate of caller audio pushed into the
	// session; OutputSampleRate is the rate of agent audio emitted.
	InputSampleRate  int
	OutputSampleRate int

	// ServerVAD delegates turn-taking to the provider where supported.
	ServerVAD bool

	Temperature  float64
	MaxTokens    int
	HistoryDepth int
}

// Session is one call's conversation with a provider. Events are delivered
// in arrival order on a single channel; the channel closes when the session
// ends.
type Session interface {
	// PushAudio forwards one caller PCM16 frame at the input sample rate.
	PushAudio(pcm []byte) error

	// EndUtterance tells the session the caller's turn is over. Under
	// provider-owned VAD this is a no-op.
	EndUtterance() error

	// Say makes the agent speak the given text verbatim, e.g. greetings
	// and farewells.
	Say(ctx context.Context, text string) error

	// CancelResponse aborts the in-flight agent response after a
	// barge-in.
	CancelResponse() error

	// SubmitToolResult returns a tool outcome so the model can verbalize
	// it.
	SubmitToolResult(ctx context.Context, callID, name, result string) error

	// Events returns the ordered event stream.
	Events() <-chan Event

	// Close tears the session down. Safe to call multiple times.
	Close() error
}

// Engine opens provider sessions. The monolithic and pipeline
// implementations satisfy it.
type Engine interface {
	Start(ctx context.Context, cfg SessionConfig) (Session, error)
}
