// Package mock provides test doubles for the engine package interfaces.
//
// Use Engine to hand out a scripted Session. Tests drive the session by
// sending on EventsCh and asserting on the recorded method calls.
package mock

import (
	"context"
	"sync"

	"github.com/voxgate/voxgate/internal/engine"
)

// StartCall records a single invocation of Engine.Start.
type StartCall struct {
	// Ctx is the context passed to Start.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Start.
	Cfg engine.SessionConfig
}

// Engine is a mock implementation of engine.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the Session returned by Start. If nil, Start returns a new
	// default Session with a buffered events channel.
	Session engine.Session

	// StartErr, if non-nil, is returned as the error from Start.
	StartErr error

	// StartCalls records every call to Start.
	StartCalls []StartCall
}

// Start records the call and returns Session, StartErr.
func (e *Engine) Start(ctx context.Context, cfg engine.SessionConfig) (engine.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StartCalls = append(e.StartCalls, StartCall{Ctx: ctx, Cfg: cfg})
	if e.StartErr != nil {
		return nil, e.StartErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return NewSession(), nil
}

// Ensure Engine implements engine.Engine at compile time.
var _ engine.Engine = (*Engine)(nil)

// ToolResultCall records a single SubmitToolResult invocation.
type ToolResultCall struct {
	CallID string
	Name   string
	Result string
}

// Session is a mock implementation of engine.Session. Tests own EventsCh:
// send the events the consumer should observe, then close it to end the
// session.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events().
	EventsCh chan engine.Event

	// PushErr, if non-nil, is returned by every PushAudio call.
	PushErr error

	// PushedAudio records every frame passed to PushAudio.
	PushedAudio [][]byte

	// EndUtteranceCount counts calls to EndUtterance.
	EndUtteranceCount int

	// SaidTexts records every Say call in order.
	SaidTexts []string

	// SayErr, if non-nil, is returned by every Say call.
	SayErr error

	// CancelCount counts calls to CancelResponse.
	CancelCount int

	// ToolResults records every SubmitToolResult call in order.
	ToolResults []ToolResultCall

	// CloseCount counts calls to Close.
	CloseCount int
}

// NewSession returns a Session with a buffered events channel, ready for use.
func NewSession() *Session {
	return &Session{EventsCh: make(chan engine.Event, 64)}
}

// PushAudio records the frame and returns PushErr.
func (s *Session) PushAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := make([]byte, len(pcm))
	copy(c, pcm)
	s.PushedAudio = append(s.PushedAudio, c)
	return s.PushErr
}

// EndUtterance records the call.
func (s *Session) EndUtterance() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EndUtteranceCount++
	return nil
}

// Say records the text and returns SayErr.
func (s *Session) Say(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaidTexts = append(s.SaidTexts, text)
	return s.SayErr
}

// CancelResponse records the call.
func (s *Session) CancelResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CancelCount++
	return nil
}

// SubmitToolResult records the call.
func (s *Session) SubmitToolResult(_ context.Context, callID, name, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ToolResults = append(s.ToolResults, ToolResultCall{CallID: callID, Name: name, Result: result})
	return nil
}

// Events returns EventsCh.
func (s *Session) Events() <-chan engine.Event { return s.EventsCh }

// Close records the call. The first Close closes EventsCh.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	if s.CloseCount == 1 {
		close(s.EventsCh)
	}
	return nil
}

// Said returns a copy of the recorded Say texts. Safe to call while the
// session is in use.
func (s *Session) Said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.SaidTexts))
	copy(out, s.SaidTexts)
	return out
}

// PushedFrames returns the number of PushAudio calls so far.
func (s *Session) PushedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.PushedAudio)
}

// Cancels returns the number of CancelResponse calls so far.
func (s *Session) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CancelCount
}

// EndUtterances returns the number of EndUtterance calls so far.
func (s *Session) EndUtterances() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EndUtteranceCount
}

// SubmittedResults returns a copy of the recorded tool results.
func (s *Session) SubmittedResults() []ToolResultCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolResultCall, len(s.ToolResults))
	copy(out, s.ToolResults)
	return out
}

// Closes returns the number of Close calls so far.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount
}

// Ensure Session implements engine.Session at compile time.
var _ engine.Session = (*Session)(nil)
