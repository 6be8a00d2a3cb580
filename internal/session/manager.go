package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/voxgate/voxgate/internal/ari"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/tools"
)

// ErrCallNotFound is returned when an operation names a channel with no
// active coordinator.
var ErrCallNotFound = errors.New("session: call not found")

// PlaybackNotifier receives PlaybackFinished events for file playbacks.
// playback.FileFallback implements it.
type PlaybackNotifier interface {
	NotifyPlaybackFinished(playbackID string)
}

// Manager routes ARI events to per-call coordinators. StasisStart spawns a
// coordinator; media and attended-transfer legs are recognized by their
// Stasis args and routed instead of spawned.
type Manager struct {
	cfgs     *config.Store
	deps     Deps
	notifier PlaybackNotifier
	log      *slog.Logger

	mu    sync.Mutex
	calls map[string]*Call  // caller channel id -> coordinator
	legs  map[string]string // attended destination leg -> caller channel id
	wg    sync.WaitGroup
}

// NewManager creates a manager. notifier may be nil when file playback is
// unused.
func NewManager(cfgs *config.Store, deps Deps, notifier PlaybackNotifier) *Manager {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfgs:     cfgs,
		deps:     deps,
		notifier: notifier,
		log:      log,
		calls:    make(map[string]*Call),
		legs:     make(map[string]string),
	}
}

// Run consumes the subscriber's event stream until ctx is cancelled or the
// stream closes. Coordinators spawned here run under ctx, so cancelling it
// tears every active call down.
func (m *Manager) Run(ctx context.Context, events <-chan ari.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			m.HandleEvent(ctx, evt)
		}
	}
}

// HandleEvent dispatches one decoded ARI event.
func (m *Manager) HandleEvent(ctx context.Context, evt ari.Event) {
	switch p := evt.Payload.(type) {
	case *ari.StasisStart:
		m.handleStasisStart(ctx, p)
	case *ari.StasisEnd:
		m.handleChannelGone(p.Channel.ID)
	case *ari.ChannelHangupRequest:
		m.handleChannelGone(p.Channel.ID)
	case *ari.ChannelDestroyed:
		m.handleChannelGone(p.Channel.ID)
	case *ari.ChannelDtmfReceived:
		m.handleDTMF(p)
	case *ari.PlaybackFinished:
		if m.notifier != nil {
			m.notifier.NotifyPlaybackFinished(p.Playback.ID)
		}
	}
}

// handleStasisStart spawns a coordinator for caller channels and routes
// engine-originated legs back to their owners.
func (m *Manager) handleStasisStart(ctx context.Context, p *ari.StasisStart) {
	if owner, ok := tools.AttendedLegOwner(p.Args); ok {
		m.mu.Lock()
		c := m.calls[owner]
		if c != nil {
			m.legs[p.Channel.ID] = owner
		}
		m.mu.Unlock()
		if c == nil {
			m.log.Warn("attended leg for unknown call", "leg", p.Channel.ID, "owner", owner)
			_ = m.deps.Client.Hangup(ctx, p.Channel.ID)
			return
		}
		c.DestinationAnswered(p.Channel.ID)
		return
	}
	if isMediaLeg(p) {
		return
	}

	cfg := m.cfgs.Snapshot()
	c := NewCall(p.Channel, cfg, m.deps)

	m.mu.Lock()
	if _, exists := m.calls[p.Channel.ID]; exists {
		m.mu.Unlock()
		m.log.Warn("duplicate StasisStart", "channel", p.Channel.ID)
		return
	}
	m.calls[p.Channel.ID] = c
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		if err := c.Run(ctx); err != nil {
			m.log.Warn("call failed", "channel", c.ID(), "err", err)
		}
		m.remove(c.ID())
	}()
}

// isMediaLeg recognizes the engine's own originated media channels so they
// are not treated as new callers.
func isMediaLeg(p *ari.StasisStart) bool {
	if len(p.Args) > 0 && p.Args[0] == mediaLegTag {
		return true
	}
	return strings.HasPrefix(p.Channel.Name, "AudioSocket/") ||
		strings.HasPrefix(p.Channel.Name, "UnicastRTP/")
}

// handleChannelGone treats any channel-departure event as a hangup for the
// owning call. Destination legs only clear their routing entry; the
// transfer manager observes their fate through its own timers.
func (m *Manager) handleChannelGone(channelID string) {
	m.mu.Lock()
	if _, isLeg := m.legs[channelID]; isLeg {
		delete(m.legs, channelID)
		m.mu.Unlock()
		return
	}
	c := m.calls[channelID]
	m.mu.Unlock()
	if c != nil {
		c.Hangup(EndReasonHangup)
	}
}

// handleDTMF routes destination-leg digits to the owning call's transfer.
// Digits on the caller channel are left to the provider's audio path.
func (m *Manager) handleDTMF(p *ari.ChannelDtmfReceived) {
	if p.Digit == "" {
		return
	}
	m.mu.Lock()
	owner, ok := m.legs[p.Channel.ID]
	var c *Call
	if ok {
		c = m.calls[owner]
	}
	m.mu.Unlock()
	if c != nil {
		c.DTMF(rune(p.Digit[0]))
	}
}

func (m *Manager) remove(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.calls, channelID)
	for leg, owner := range m.legs {
		if owner == channelID {
			delete(m.legs, leg)
		}
	}
}

// ActiveCalls reports the number of live coordinators.
func (m *Manager) ActiveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns a snapshot of active calls, oldest first.
func (m *Manager) Calls() []Summary {
	m.mu.Lock()
	list := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		list = append(list, c)
	}
	m.mu.Unlock()

	out := make([]Summary, 0, len(list))
	for _, c := range list {
		out = append(out, c.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// HangupCall forces teardown of one call, e.g. from the admin API.
func (m *Manager) HangupCall(channelID string) error {
	m.mu.Lock()
	c := m.calls[channelID]
	m.mu.Unlock()
	if c == nil {
		return ErrCallNotFound
	}
	c.Hangup(EndReasonAdmin)
	return nil
}

// Wait blocks until every coordinator has finished or ctx expires.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
