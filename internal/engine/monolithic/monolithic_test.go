package monolithic

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voxgate/voxgate/internal/engine"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/realtime"
	rtmock "github.com/voxgate/voxgate/pkg/provider/realtime/mock"
)

func startSession(t *testing.T, handle *rtmock.Session, cfg engine.SessionConfig) engine.Session {
	t.Helper()
	provider := &rtmock.Provider{Session: handle}
	sess, err := New(provider).Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

// collect drains events until the channel closes or the timeout expires.
func collect(t *testing.T, events <-chan engine.Event) []engine.Event {
	t.Helper()
	var got []engine.Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, evt)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %d so far", len(got))
		}
	}
}

func TestStartMapsSessionConfig(t *testing.T) {
	t.Parallel()

	provider := &rtmock.Provider{Session: rtmock.NewSession()}
	cfg := engine.SessionConfig{
		SystemPrompt:     "You are the reception agent.",
		Voice:            "alloy",
		InputSampleRate:  8000,
		OutputSampleRate: 24000,
		Tools:            []llm.ToolDefinition{{Name: "hangup_call"}},
		ServerVAD:        true,
		Temperature:      0.7,
	}
	sess, err := New(provider).Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Close()

	if len(provider.ConnectCalls) != 1 {
		t.Fatalf("connect calls = %d, want 1", len(provider.ConnectCalls))
	}
	got := provider.ConnectCalls[0].Cfg
	if got.Instructions != cfg.SystemPrompt {
		t.Errorf("instructions = %q, want system prompt", got.Instructions)
	}
	if got.Voice != "alloy" || got.InputSampleRate != 8000 || got.OutputSampleRate != 24000 {
		t.Errorf("audio config not forwarded: %+v", got)
	}
	if !got.ServerVAD || got.Temperature != 0.7 || len(got.Tools) != 1 {
		t.Errorf("session options not forwarded: %+v", got)
	}
}

func TestStartConnectError(t *testing.T) {
	t.Parallel()

	provider := &rtmock.Provider{ConnectErr: errors.New("bad key")}
	if _, err := New(provider).Start(context.Background(), engine.SessionConfig{}); err == nil {
		t.Fatal("Start succeeded despite connect failure")
	}
}

func TestForwardTranslatesEvents(t *testing.T) {
	t.Parallel()

	handle := rtmock.NewSession()
	sess := startSession(t, handle, engine.SessionConfig{})

	handle.EventsCh <- realtime.Event{Type: realtime.EventResponseStarted, ResponseID: "resp-1"}
	handle.EventsCh <- realtime.Event{Type: realtime.EventAgentAudio, Audio: []byte{1, 2}, ResponseID: "resp-1"}
	handle.EventsCh <- realtime.Event{Type: realtime.EventAgentText, Text: "Hello", ResponseID: "resp-1"}
	handle.EventsCh <- realtime.Event{Type: realtime.EventPartialTranscript, Text: "hi th"}
	handle.EventsCh <- realtime.Event{Type: realtime.EventFinalTranscript, Text: "hi there"}
	handle.EventsCh <- realtime.Event{Type: realtime.EventSpeechStarted}
	handle.EventsCh <- realtime.Event{Type: realtime.EventSpeechStopped}
	handle.EventsCh <- realtime.Event{Type: realtime.EventToolCall, ToolCall: llm.ToolCall{ID: "call-1", Name: "hangup_call"}}
	handle.EventsCh <- realtime.Event{Type: realtime.EventResponseEnded, ResponseID: "resp-1"}
	close(handle.EventsCh)

	got := collect(t, sess.Events())
	want := []engine.EventType{
		engine.EventReady,
		engine.EventResponseStarted,
		engine.EventAudio,
		engine.EventAgentText,
		engine.EventPartialTranscript,
		engine.EventFinalTranscript,
		engine.EventTurnEnd,
		engine.EventToolCall,
		engine.EventResponseEnded,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(want), got)
	}
	for i, evt := range got {
		if evt.Type != want[i] {
			t.Errorf("event %d = %v, want %v", i, evt.Type, want[i])
		}
	}
	if got[2].Audio == nil || got[2].ResponseID != "resp-1" {
		t.Errorf("audio event not forwarded: %+v", got[2])
	}
	if got[7].ToolCall == nil || got[7].ToolCall.ID != "call-1" {
		t.Errorf("tool call not forwarded: %+v", got[7])
	}
}

func TestForwardSurfacesTerminalError(t *testing.T) {
	t.Parallel()

	handle := rtmock.NewSession()
	handle.SessionErr = errors.New("websocket closed")
	sess := startSession(t, handle, engine.SessionConfig{})

	close(handle.EventsCh)
	got := collect(t, sess.Events())
	last := got[len(got)-1]
	if last.Type != engine.EventError || last.Err == nil {
		t.Fatalf("last event = %+v, want terminal error", last)
	}
}

func TestEndUtteranceRespectsServerVAD(t *testing.T) {
	t.Parallel()

	handle := rtmock.NewSession()
	sess := startSession(t, handle, engine.SessionConfig{ServerVAD: true})
	if err := sess.EndUtterance(); err != nil {
		t.Fatalf("EndUtterance: %v", err)
	}
	if handle.EndUtteranceCount != 0 {
		t.Error("EndUtterance forwarded despite server VAD")
	}

	handle2 := rtmock.NewSession()
	sess2 := startSession(t, handle2, engine.SessionConfig{ServerVAD: false})
	if err := sess2.EndUtterance(); err != nil {
		t.Fatalf("EndUtterance: %v", err)
	}
	if handle2.EndUtteranceCount != 1 {
		t.Errorf("EndUtterance count = %d, want 1", handle2.EndUtteranceCount)
	}
}

func TestSayInjectsAndTriggers(t *testing.T) {
	t.Parallel()

	handle := rtmock.NewSession()
	sess := startSession(t, handle, engine.SessionConfig{})

	if err := sess.Say(context.Background(), "Thanks for calling, goodbye."); err != nil {
		t.Fatalf("Say: %v", err)
	}
	if len(handle.SystemMessages) != 1 {
		t.Fatalf("system messages = %d, want 1", len(handle.SystemMessages))
	}
	if want := "Thanks for calling, goodbye."; !strings.Contains(handle.SystemMessages[0], want) {
		t.Errorf("system message %q does not carry the farewell text", handle.SystemMessages[0])
	}
	if handle.EndUtteranceCount != 1 {
		t.Errorf("response not triggered, EndUtterance count = %d", handle.EndUtteranceCount)
	}
}

func TestSessionPassthroughAndClose(t *testing.T) {
	t.Parallel()

	handle := rtmock.NewSession()
	sess := startSession(t, handle, engine.SessionConfig{})

	if err := sess.PushAudio([]byte{9, 9}); err != nil {
		t.Fatalf("PushAudio: %v", err)
	}
	if len(handle.PushedAudio) != 1 {
		t.Errorf("pushed frames = %d, want 1", len(handle.PushedAudio))
	}
	if err := sess.CancelResponse(); err != nil {
		t.Fatalf("CancelResponse: %v", err)
	}
	if handle.CancelCount != 1 {
		t.Errorf("cancel count = %d, want 1", handle.CancelCount)
	}
	if err := sess.SubmitToolResult(context.Background(), "call-7", "transfer_call", `{"ok":true}`); err != nil {
		t.Fatalf("SubmitToolResult: %v", err)
	}
	if handle.ToolResults["call-7"] != `{"ok":true}` {
		t.Errorf("tool result not forwarded: %v", handle.ToolResults)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if handle.CloseCount != 1 {
		t.Errorf("provider close count = %d, want 1", handle.CloseCount)
	}
}
