// Package monolithic provides an [engine.Engine] backed by a single duplex
// realtime provider. The provider owns synthesis and, when server VAD is
// enabled, turn-taking; the engine translates the provider's event stream
// into the session events the call coordinator consumes.
package monolithic

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxgate/voxgate/internal/engine"
	"github.com/voxgate/voxgate/pkg/provider/realtime"
)

// Compile-time assertion that Engine satisfies engine.Engine.
var _ engine.Engine = (*Engine)(nil)

const defaultEventBuf = 64

// Engine opens one realtime provider session per call.
type Engine struct {
	provider realtime.Provider
}

// New creates an Engine wrapping provider.
func New(provider realtime.Provider) *Engine {
	return &Engine{provider: provider}
}

// Start connects a realtime session and begins forwarding its events.
func (e *Engine) Start(ctx context.Context, cfg engine.SessionConfig) (engine.Session, error) {
	handle, err := e.provider.Connect(ctx, realtime.SessionConfig{
		Instructions:     cfg.SystemPrompt,
		Voice:            cfg.Voice,
		InputSampleRate:  cfg.InputSampleRate,
		OutputSampleRate: cfg.OutputSampleRate,
		Tools:            cfg.Tools,
		ServerVAD:        cfg.ServerVAD,
		Temperature:      cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("monolithic: connect: %w", err)
	}

	s := &Session{
		handle:    handle,
		serverVAD: cfg.ServerVAD,
		events:    make(chan engine.Event, defaultEventBuf),
		done:      make(chan struct{}),
	}
	go s.forward()
	return s, nil
}

// Compile-time assertion that Session satisfies engine.Session.
var _ engine.Session = (*Session)(nil)

// Session adapts a realtime.SessionHandle to the engine.Session contract.
type Session struct {
	handle    realtime.SessionHandle
	serverVAD bool

	events chan engine.Event
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// forward translates provider events until the provider's channel closes,
// then surfaces the terminal error, if any, and closes the engine stream.
func (s *Session) forward() {
	defer close(s.events)

	s.emit(engine.Event{Type: engine.EventReady})

	for evt := range s.handle.Events() {
		switch evt.Type {
		case realtime.EventResponseStarted:
			s.emit(engine.Event{Type: engine.EventResponseStarted, ResponseID: evt.ResponseID})
		case realtime.EventResponseEnded:
			s.emit(engine.Event{Type: engine.EventResponseEnded, ResponseID: evt.ResponseID})
		case realtime.EventAgentAudio:
			s.emit(engine.Event{Type: engine.EventAudio, Audio: evt.Audio, ResponseID: evt.ResponseID})
		case realtime.EventAgentText:
			s.emit(engine.Event{Type: engine.EventAgentText, Text: evt.Text, ResponseID: evt.ResponseID})
		case realtime.EventPartialTranscript:
			s.emit(engine.Event{Type: engine.EventPartialTranscript, Text: evt.Text})
		case realtime.EventFinalTranscript:
			s.emit(engine.Event{Type: engine.EventFinalTranscript, Text: evt.Text})
		case realtime.EventSpeechStopped:
			s.emit(engine.Event{Type: engine.EventTurnEnd})
		case realtime.EventSpeechStarted:
			// The coordinator endpoints on its own VAD; the provider's
			// start hint carries no additional information.
		case realtime.EventToolCall:
			tc := evt.ToolCall
			s.emit(engine.Event{Type: engine.EventToolCall, ToolCall: &tc})
		case realtime.EventError:
			s.emit(engine.Event{Type: engine.EventError, Err: evt.Err})
		}
	}

	if err := s.handle.Err(); err != nil {
		s.emit(engine.Event{Type: engine.EventError, Err: fmt.Errorf("monolithic: session: %w", err)})
	}
}

func (s *Session) emit(evt engine.Event) {
	select {
	case s.events <- evt:
	case <-s.done:
	}
}

// PushAudio forwards one caller frame to the provider.
func (s *Session) PushAudio(pcm []byte) error {
	return s.handle.PushCallerAudio(pcm)
}

// EndUtterance commits the caller's turn. With server VAD the provider
// detects turn ends itself and the call is a no-op.
func (s *Session) EndUtterance() error {
	if s.serverVAD {
		return nil
	}
	return s.handle.EndUtterance()
}

// Say injects a speaking instruction and requests a response, so greetings
// and farewells come out in the provider's own voice.
func (s *Session) Say(_ context.Context, text string) error {
	if err := s.handle.InjectSystemMessage("Say this to the caller now, verbatim: " + text); err != nil {
		return fmt.Errorf("monolithic: say: %w", err)
	}
	return s.handle.EndUtterance()
}

// CancelResponse aborts the in-flight provider response.
func (s *Session) CancelResponse() error {
	return s.handle.CancelResponse()
}

// SubmitToolResult answers a tool call. The provider resumes the response
// with the result in context.
func (s *Session) SubmitToolResult(_ context.Context, callID, _ string, result string) error {
	return s.handle.SubmitToolResult(callID, result)
}

// Events returns the translated event stream.
func (s *Session) Events() <-chan engine.Event { return s.events }

// Close tears down the provider session.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.handle.Close()
	})
	return s.closeErr
}
