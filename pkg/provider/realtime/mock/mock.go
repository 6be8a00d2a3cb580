// Package mock provides test doubles for the realtime package interfaces.
//
// Use Provider to hand out a scripted Session. Tests drive the session by
// sending on EventsCh and asserting on the recorded method calls.
package mock

import (
	"context"
	"sync"

	"github.com/voxgate/voxgate/pkg/provider/realtime"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg realtime.SessionConfig
}

// Provider is a mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a new default Session with a buffered events channel.
	Session realtime.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Ensure Provider implements realtime.Provider at compile time.
var _ realtime.Provider = (*Provider)(nil)

// Session is a mock implementation of realtime.SessionHandle.
// Tests own EventsCh: send the events the consumer should observe, then
// close it to end the session.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events().
	EventsCh chan realtime.Event

	// SessionErr is returned by Err.
	SessionErr error

	// PushErr, if non-nil, is returned by every PushCallerAudio call.
	PushErr error

	// PushedAudio records every chunk passed to PushCallerAudio.
	PushedAudio [][]byte

	// EndUtteranceCount counts calls to EndUtterance.
	EndUtteranceCount int

	// CancelCount counts calls to CancelResponse.
	CancelCount int

	// ToolResults records every SubmitToolResult call as callID -> result.
	ToolResults map[string]string

	// Instructions records every UpdateInstructions call in order.
	Instructions []string

	// SystemMessages records every InjectSystemMessage call in order.
	SystemMessages []string

	// CloseCount counts calls to Close.
	CloseCount int
}

// NewSession returns a Session with a buffered events channel, ready for use.
func NewSession() *Session {
	return &Session{
		EventsCh:    make(chan realtime.Event, 64),
		ToolResults: map[string]string{},
	}
}

// PushCallerAudio records the chunk and returns PushErr.
func (s *Session) PushCallerAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := make([]byte, len(chunk))
	copy(c, chunk)
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

// CancelResponse records the call.
func (s *Session) CancelResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CancelCount++
	return nil
}

// SubmitToolResult records the call.
func (s *Session) SubmitToolResult(callID, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ToolResults == nil {
		s.ToolResults = map[string]string{}
	}
	s.ToolResults[callID] = result
	return nil
}

// UpdateInstructions records the call.
func (s *Session) UpdateInstructions(instructions string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Instructions = append(s.Instructions, instructions)
	return nil
}

// InjectSystemMessage records the call.
func (s *Session) InjectSystemMessage(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SystemMessages = append(s.SystemMessages, text)
	return nil
}

// Events returns EventsCh.
func (s *Session) Events() <-chan realtime.Event { return s.EventsCh }

// Err returns SessionErr.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SessionErr
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	return nil
}

// Ensure Session implements realtime.SessionHandle at compile time.
var _ realtime.SessionHandle = (*Session)(nil)
