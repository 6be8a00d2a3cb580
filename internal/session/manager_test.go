package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voxgate/voxgate/internal/ari"
	arimock "github.com/voxgate/voxgate/internal/ari/mock"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/engine"
	enginemock "github.com/voxgate/voxgate/internal/engine/mock"
)

type fakeNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *fakeNotifier) NotifyPlaybackFinished(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, id)
}

type managerFixture struct {
	client   *arimock.Client
	media    *fakeMedia
	notifier *fakeNotifier
	mgr      *Manager
	ctx      context.Context
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{
		client:   arimock.New(),
		media:    newFakeMedia(),
		notifier: &fakeNotifier{},
	}
	deps := Deps{
		Client: f.client,
		Engines: func(*config.Config, *config.Resolved) (engine.Engine, error) {
			return &enginemock.Engine{}, nil
		},
		Media: f.media,
		Log:   slog.New(slog.DiscardHandler),
	}
	f.mgr = NewManager(config.NewStore(testConfig()), deps, f.notifier)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.ctx = ctx
	return f
}

func stasisStart(id string, args ...string) ari.Event {
	return ari.Event{
		Type:      "StasisStart",
		ChannelID: id,
		Payload:   &ari.StasisStart{Channel: ari.Channel{ID: id}, Args: args},
	}
}

func TestManagerSpawnsCoordinator(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	f.mgr.HandleEvent(f.ctx, stasisStart("chan-1"))
	if got := f.mgr.ActiveCalls(); got != 1 {
		t.Fatalf("ActiveCalls = %d, want 1", got)
	}

	calls := f.mgr.Calls()
	if len(calls) != 1 || calls[0].ChannelID != "chan-1" {
		t.Fatalf("Calls() = %+v", calls)
	}

	f.mgr.HandleEvent(f.ctx, ari.Event{
		Type:    "StasisEnd",
		Payload: &ari.StasisEnd{Channel: ari.Channel{ID: "chan-1"}},
	})
	waitFor(t, "call removal", func() bool { return f.mgr.ActiveCalls() == 0 })

	if err := f.mgr.Wait(f.ctx); err != nil {
		t.Errorf("Wait returned %v", err)
	}
}

func TestManagerIgnoresMediaLegs(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	f.mgr.HandleEvent(f.ctx, stasisStart("leg-1", mediaLegTag))
	f.mgr.HandleEvent(f.ctx, ari.Event{
		Type: "StasisStart",
		Payload: &ari.StasisStart{
			Channel: ari.Channel{ID: "leg-2", Name: "AudioSocket/10.0.0.5:9092/abc"},
		},
	})
	f.mgr.HandleEvent(f.ctx, ari.Event{
		Type: "StasisStart",
		Payload: &ari.StasisStart{
			Channel: ari.Channel{ID: "leg-3", Name: "UnicastRTP/10.0.0.5:4000"},
		},
	})
	if got := f.mgr.ActiveCalls(); got != 0 {
		t.Errorf("ActiveCalls = %d, want 0", got)
	}
}

func TestIsMediaLeg(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    *ari.StasisStart
		want bool
	}{
		{"caller", &ari.StasisStart{Channel: ari.Channel{ID: "c", Name: "PJSIP/alice-0001"}}, false},
		{"tagged", &ari.StasisStart{Channel: ari.Channel{ID: "c"}, Args: []string{mediaLegTag}}, true},
		{"audiosocket name", &ari.StasisStart{Channel: ari.Channel{Name: "AudioSocket/host:9092/id"}}, true},
		{"rtp name", &ari.StasisStart{Channel: ari.Channel{Name: "UnicastRTP/host:4000"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isMediaLeg(tt.p); got != tt.want {
				t.Errorf("isMediaLeg = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestManagerAttendedLegRouting(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	f.mgr.HandleEvent(f.ctx, stasisStart("chan-1"))
	waitFor(t, "call running", func() bool {
		calls := f.mgr.Calls()
		return len(calls) == 1 && calls[0].Phase == PhaseGreeting.String()
	})

	f.mgr.HandleEvent(f.ctx, stasisStart("dest-1", "attended", "chan-1"))
	if got := f.mgr.ActiveCalls(); got != 1 {
		t.Errorf("ActiveCalls = %d, want 1 after leg routing", got)
	}
	if got := f.client.CallsTo("hangup"); len(got) != 0 {
		t.Errorf("hangup calls = %d, want none for a routed leg", len(got))
	}

	// Digits on the destination leg reach the owning call without panic.
	f.mgr.HandleEvent(f.ctx, ari.Event{
		Type: "ChannelDtmfReceived",
		Payload: &ari.ChannelDtmfReceived{
			Channel: ari.Channel{ID: "dest-1"},
			Digit:   "1",
		},
	})

	// The leg's departure clears its routing entry but not the call.
	f.mgr.HandleEvent(f.ctx, ari.Event{
		Type:    "StasisEnd",
		Payload: &ari.StasisEnd{Channel: ari.Channel{ID: "dest-1"}},
	})
	if got := f.mgr.ActiveCalls(); got != 1 {
		t.Errorf("ActiveCalls = %d, want 1 after leg departure", got)
	}
}

func TestManagerAttendedLegUnknownOwner(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	f.mgr.HandleEvent(f.ctx, stasisStart("dest-9", "attended", "ghost"))

	if got := f.mgr.ActiveCalls(); got != 0 {
		t.Errorf("ActiveCalls = %d, want 0", got)
	}
	hangups := f.client.CallsTo("hangup")
	if len(hangups) != 1 || hangups[0].ChannelID != "dest-9" {
		t.Errorf("hangup calls = %+v, want one for the stray leg", hangups)
	}
}

func TestManagerHangupCall(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	f.mgr.HandleEvent(f.ctx, stasisStart("chan-1"))

	if err := f.mgr.HangupCall("chan-1"); err != nil {
		t.Fatalf("HangupCall returned %v", err)
	}
	waitFor(t, "call removal", func() bool { return f.mgr.ActiveCalls() == 0 })

	if err := f.mgr.HangupCall("chan-1"); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("HangupCall after removal = %v, want ErrCallNotFound", err)
	}
}

func TestManagerDuplicateStasisStart(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	f.mgr.HandleEvent(f.ctx, stasisStart("chan-1"))
	f.mgr.HandleEvent(f.ctx, stasisStart("chan-1"))
	if got := f.mgr.ActiveCalls(); got != 1 {
		t.Errorf("ActiveCalls = %d, want 1", got)
	}
}

func TestManagerPlaybackFinished(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	f.mgr.HandleEvent(f.ctx, ari.Event{
		Type:    "PlaybackFinished",
		Payload: &ari.PlaybackFinished{Playback: ari.Playback{ID: "pb-9"}},
	})

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.ids) != 1 || f.notifier.ids[0] != "pb-9" {
		t.Errorf("notified ids = %v, want [pb-9]", f.notifier.ids)
	}
}

func TestManagerRunStopsOnClosedStream(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	events := make(chan ari.Event)
	done := make(chan error, 1)
	go func() { done <- f.mgr.Run(f.ctx, events) }()

	events <- stasisStart("chan-1")
	waitFor(t, "call spawn", func() bool { return f.mgr.ActiveCalls() == 1 })

	close(events)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned after stream close")
	}
}
