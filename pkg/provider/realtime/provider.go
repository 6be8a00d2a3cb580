// Package realtime defines the Provider interface for monolithic
// speech-to-speech backends.
//
// A realtime provider wraps a duplex voice AI service that accepts raw caller
// audio and returns synthesised agent audio in a single, stateful session,
// bypassing the separate STT, LLM, and TTS stages entirely. Examples include
// the OpenAI Realtime API and similar low-latency voice models.
//
// The central abstraction is SessionHandle: a bidirectional session carrying
// audio, transcripts, and tool calls concurrently. Sessions are long-lived
// (the duration of a phone call) and support mid-session reconfiguration.
//
// All implementations must be safe for concurrent use.
package realtime

import (
	"context"
	"errors"

	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// ErrSessionClosed is returned by session methods after Close.
var ErrSessionClosed = errors.New("realtime: session closed")

// EventType discriminates the events a session emits.
type EventType string

const (
	// EventResponseStarted marks the beginning of an agent response. Audio
	// chunks that follow belong to this response until EventResponseEnded.
	EventResponseStarted EventType = "response_started"

	// EventResponseEnded marks the end of an agent response, whether it
	// completed naturally or was cancelled.
	EventResponseEnded EventType = "response_ended"

	// EventAgentAudio carries a chunk of synthesised agent audio.
	EventAgentAudio EventType = "agent_audio"

	// EventAgentText carries an incremental fragment of the agent's reply as
	// text, for transcripts and logging.
	EventAgentText EventType = "agent_text"

	// EventPartialTranscript carries an interim recognition of caller speech.
	EventPartialTranscript EventType = "partial_transcript"

	// EventFinalTranscript carries a committed recognition of caller speech.
	EventFinalTranscript EventType = "final_transcript"

	// EventSpeechStarted reports that the provider's own voice activity
	// detection heard the caller start speaking. Only emitted when the
	// provider owns turn detection.
	EventSpeechStarted EventType = "speech_started"

	// EventSpeechStopped reports that the provider's voice activity
	// detection heard the caller stop speaking.
	EventSpeechStopped EventType = "speech_stopped"

	// EventToolCall reports that the model requests a tool invocation. The
	// caller runs the tool and answers with SubmitToolResult.
	EventToolCall EventType = "tool_call"

	// EventError reports a provider-side failure. The session may still be
	// usable; fatal failures additionally close the event channel.
	EventError EventType = "error"
)

// Event is one message from the provider session. Which fields are set
// depends on Type.
type Event struct {
	Type EventType

	// Audio is the PCM agent audio for EventAgentAudio.
	Audio []byte

	// Text is the transcript or text fragment for the transcript and
	// agent-text events.
	Text string

	// ResponseID identifies the response this event belongs to, for the
	// response lifecycle and audio events. Provider-assigned.
	ResponseID string

	// ToolCall is set for EventToolCall.
	ToolCall llm.ToolCall

	// Err is set for EventError.
	Err error
}

// SessionConfig is the initial configuration for a new realtime session.
type SessionConfig struct {
	// Instructions is the system-level prompt defining the agent's persona
	// and behavioural constraints.
	Instructions string

	// Voice selects the provider voice for synthesised speech.
	Voice string

	// InputSampleRate and OutputSampleRate are the PCM16 rates for caller
	// audio pushed in and agent audio received. Zero means the provider
	// native rate.
	InputSampleRate  int
	OutputSampleRate int

	// Tools is the set of tool definitions offered to the model.
	Tools []llm.ToolDefinition

	// ServerVAD enables the provider's own turn detection. When false the
	// engine endpoints locally and calls EndUtterance explicitly.
	ServerVAD bool

	// Temperature controls output randomness. Zero requests the provider
	// default.
	Temperature float64
}

// SessionHandle represents an open realtime session. It is an interface so
// that test code can supply mock implementations without a live provider
// connection.
//
// The session is the hot path of the voice pipeline; every method must
// return quickly. All methods must be safe for concurrent use. Callers must
// call Close when the session is no longer needed.
type SessionHandle interface {
	// PushCallerAudio delivers a raw PCM16 chunk of caller audio to the
	// provider. The chunk must match InputSampleRate. Returns
	// ErrSessionClosed after Close.
	PushCallerAudio(chunk []byte) error

	// EndUtterance tells the provider the caller's turn is over and a
	// response should be generated. Only needed when ServerVAD is false;
	// with server VAD the provider commits on its own.
	EndUtterance() error

	// CancelResponse aborts the in-flight response and discards any audio
	// the provider has not yet sent. Used on barge-in. Cancelling when no
	// response is active is a no-op.
	CancelResponse() error

	// SubmitToolResult answers a tool call surfaced via EventToolCall and
	// asks the model to continue the response with the result in context.
	SubmitToolResult(callID string, result string) error

	// UpdateInstructions replaces the system-level instructions mid-session.
	// Effective for the next model turn.
	UpdateInstructions(instructions string) error

	// InjectSystemMessage inserts a system-role text item into the session's
	// rolling context without triggering a response, used to surface call
	// state such as a completed transfer.
	InjectSystemMessage(text string) error

	// Events returns the read-only stream of session events. The channel is
	// closed when the session ends or a fatal error occurs; check Err after
	// it closes. Consumers must drain this channel promptly to prevent
	// backpressure from stalling the provider's receive loop.
	Events() <-chan Event

	// Err returns the error that closed the Events channel, or nil if the
	// session ended cleanly.
	Err() error

	// Close terminates the session, releases all resources, and closes the
	// Events channel. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime speech-to-speech backend.
//
// Implementations must be safe for concurrent use; the engine opens one
// session per active call.
type Provider interface {
	// Connect establishes a new realtime session with the given
	// configuration. The returned SessionHandle is ready to accept audio
	// immediately.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, invalid voice, or ctx already cancelled). The caller owns the
	// SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
