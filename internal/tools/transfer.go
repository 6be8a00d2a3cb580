package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxgate/voxgate/internal/ari"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/observe"
)

// Synthesizer renders prompt text to PCM16 for transfer announcements.
type Synthesizer interface {
	Render(ctx context.Context, text string) (pcm []byte, sampleRate int, err error)
}

// Announcer plays rendered audio on an arbitrary channel and waits for the
// playback to finish. Implemented by playback.FileFallback.
type Announcer interface {
	Play(ctx context.Context, channelID string, pcm []byte, sampleRate int) (string, error)
	Wait(ctx context.Context, playbackID string) error
}

// TransferState is the attended-transfer lifecycle position.
type TransferState int

const (
	// StateIdle means no transfer is in progress.
	StateIdle TransferState = iota

	// StateBriefing means the caller is on hold and the destination is
	// being dialed.
	StateBriefing

	// StateDestAnswered means the destination answered and is hearing the
	// announcement.
	StateDestAnswered

	// StateAwaitingDTMF means the destination is choosing accept/decline.
	StateAwaitingDTMF

	// StateBridged means caller and destination share a bridge; the
	// engine persists only as supervisor until hangup.
	StateBridged
)

// attendedEventKind discriminates events fed into a running transfer.
type attendedEventKind int

const (
	evtAnswered attendedEventKind = iota
	evtDTMF
	evtCancel
)

type attendedEvent struct {
	kind      attendedEventKind
	channelID string
	digit     rune
}

// dialGrace pads the ARI-side dial timeout so Asterisk reports the failure
// before the local timer fires.
const dialGrace = 2 * time.Second

// attendedAppArgPrefix tags originated destination legs so StasisStart
// events can be routed back to the owning transfer.
const attendedAppArgPrefix = "attended"

// AttendedLegOwner extracts the caller channel id from the Stasis args of an
// attended-transfer destination leg. ok is false for ordinary calls.
func AttendedLegOwner(args []string) (channelID string, ok bool) {
	if len(args) == 2 && args[0] == attendedAppArgPrefix {
		return args[1], true
	}
	return "", false
}

// TransferSettings carries the routing contexts and timers for transfers.
type TransferSettings struct {
	ExtensionContext string
	RingGroupContext string
	QueueContext     string

	AppName string

	DialTimeout   time.Duration
	AcceptTimeout time.Duration
	TTSTimeout    time.Duration
	MOHClass      string
}

// SettingsFromConfig converts the YAML tool config into runtime settings.
func SettingsFromConfig(cfg config.ToolsConfig, appName string) TransferSettings {
	return TransferSettings{
		ExtensionContext: cfg.Transfer.ExtensionContext,
		RingGroupContext: cfg.Transfer.RingGroupContext,
		QueueContext:     cfg.Transfer.QueueContext,
		AppName:          appName,
		DialTimeout:      time.Duration(cfg.Attended.DialTimeoutSeconds) * time.Second,
		AcceptTimeout:    time.Duration(cfg.Attended.AcceptTimeoutSeconds) * time.Second,
		TTSTimeout:       time.Duration(cfg.Attended.TTSTimeoutSeconds) * time.Second,
		MOHClass:         cfg.Attended.MOHClass,
	}
}

// TransferManager routes the caller to destinations. Blind transfers hand
// the channel to the dialplan; attended transfers hold the caller on MOH,
// brief the destination, and bridge on DTMF accept. One manager serves one
// call; at most one attended transfer runs at a time.
type TransferManager struct {
	client   ari.API
	resolver *Resolver
	synth    Synthesizer
	announce Announcer
	speak    func(ctx context.Context, text string) error
	call     CallInfo
	settings TransferSettings
	log      *slog.Logger
	met      *observe.Metrics

	mu            sync.Mutex
	state         TransferState
	destChannelID string
	events        chan attendedEvent
	active        bool
}

// NewTransferManager creates a manager for one call. speak voices prompts to
// the caller through the engine; it may be nil.
func NewTransferManager(client ari.API, resolver *Resolver, synth Synthesizer, announce Announcer,
	speak func(ctx context.Context, text string) error, call CallInfo, settings TransferSettings, log *slog.Logger) *TransferManager {
	if log == nil {
		log = slog.Default()
	}
	m := &TransferManager{
		client:   client,
		resolver: resolver,
		synth:    synth,
		announce: announce,
		speak:    speak,
		call:     call,
		settings: settings,
		log:      log,
		met:      observe.DefaultMetrics(),
		events:   make(chan attendedEvent, 8),
	}
	return m
}

// record counts one transfer outcome on the shared metrics instance.
func (m *TransferManager) record(kind, outcome string) {
	m.met.RecordTransfer(context.Background(), kind, outcome)
}

// State returns the current attended-transfer state.
func (m *TransferManager) State() TransferState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// DestinationAnswered routes the StasisStart of an originated destination
// leg into the running transfer. Ignored when no transfer is active.
func (m *TransferManager) DestinationAnswered(channelID string) {
	m.deliver(attendedEvent{kind: evtAnswered, channelID: channelID})
}

// DTMF routes a digit pressed by the destination into the running transfer.
func (m *TransferManager) DTMF(digit rune) {
	m.deliver(attendedEvent{kind: evtDTMF, digit: digit})
}

// Cancel aborts an in-progress attended transfer while it is still ringing
// or briefing. Returns an error when nothing is cancellable.
func (m *TransferManager) Cancel() error {
	m.mu.Lock()
	active := m.active && m.state != StateBridged
	m.mu.Unlock()
	if !active {
		return newError(KindInvalidArgs, "cancel_transfer", "no transfer in progress")
	}
	m.deliver(attendedEvent{kind: evtCancel})
	return nil
}

func (m *TransferManager) deliver(evt attendedEvent) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if !active {
		return
	}
	select {
	case m.events <- evt:
	default:
		m.log.Warn("transfer event dropped", "kind", evt.kind)
	}
}

// Blind routes the caller directly. Extensions are redirected; queues and
// ring groups continue into their dialplan contexts.
func (m *TransferManager) Blind(ctx context.Context, spoken string) (any, error) {
	key, dest, ok := m.resolver.Resolve(spoken)
	if !ok {
		m.record("blind", "not_found")
		return nil, newError(KindDestinationNotFound, "transfer",
			fmt.Sprintf("no destination matches %q; known destinations: %s", spoken, strings.Join(m.resolver.Names(), ", ")))
	}

	var err error
	switch dest.Kind {
	case config.DestinationExtension:
		err = m.client.Redirect(ctx, m.call.ChannelID, m.settings.ExtensionContext, dest.Target)
	case config.DestinationQueue:
		err = m.client.ContinueInDialplan(ctx, m.call.ChannelID, m.settings.QueueContext, dest.Target, 1)
	case config.DestinationRingGroup:
		err = m.client.ContinueInDialplan(ctx, m.call.ChannelID, m.settings.RingGroupContext, dest.Target, 1)
	default:
		return nil, newError(KindInvalidArgs, "transfer", fmt.Sprintf("destination %q has unknown kind %q", key, dest.Kind))
	}
	if err != nil {
		m.record("blind", "failed")
		return nil, wrapError(KindDestinationUnreachable, "transfer",
			fmt.Sprintf("routing to %q failed", key), err)
	}
	m.record("blind", "ok")
	return map[string]any{"destination": key, "kind": string(dest.Kind), "target": dest.Target}, nil
}

// Attended performs a warm transfer: hold the caller, dial the destination,
// announce the call, and bridge on accept. Declines and timeouts resume the
// conversation.
func (m *TransferManager) Attended(ctx context.Context, spoken string) (any, error) {
	key, dest, ok := m.resolver.Resolve(spoken)
	if !ok {
		m.record("attended", "not_found")
		return nil, newError(KindDestinationNotFound, "attended_transfer",
			fmt.Sprintf("no destination matches %q; known destinations: %s", spoken, strings.Join(m.resolver.Names(), ", ")))
	}
	if !dest.AttendedAllowed {
		return nil, newError(KindInvalidArgs, "attended_transfer",
			fmt.Sprintf("destination %q does not accept attended transfers", key))
	}

	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return nil, newError(KindInvalidArgs, "attended_transfer", "a transfer is already in progress")
	}
	m.active = true
	m.state = StateBriefing
	m.destChannelID = ""
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.active = false
		if m.state != StateBridged {
			m.state = StateIdle
		}
		m.mu.Unlock()
	}()

	if err := m.client.StartMOH(ctx, m.call.ChannelID, m.settings.MOHClass); err != nil {
		m.log.Warn("start MOH failed", "err", err)
	}

	originated, err := m.client.OriginateChannel(ctx, ari.OriginateParams{
		Endpoint: "Local/" + dest.Target + "@" + m.settings.ExtensionContext,
		App:      m.settings.AppName,
		AppArgs:  attendedAppArgPrefix + "," + m.call.ChannelID,
		CallerID: fmt.Sprintf("%q <%s>", "AI", m.call.CallerNumber),
		Timeout:  m.settings.DialTimeout,
	})
	if err != nil {
		m.stopMOH(ctx)
		m.record("attended", "unreachable")
		return nil, wrapError(KindDestinationUnreachable, "attended_transfer",
			fmt.Sprintf("could not dial %q", key), err)
	}
	m.mu.Lock()
	m.destChannelID = originated.ID
	m.mu.Unlock()

	// BRIEFING: wait for the destination leg to enter Stasis.
	dialTimer := time.NewTimer(m.settings.DialTimeout + dialGrace)
	defer dialTimer.Stop()
	var destChannel string
waitAnswer:
	for {
		select {
		case <-ctx.Done():
			m.abort(key)
			m.record("attended", "aborted")
			return nil, wrapError(KindTimeout, "attended_transfer", "transfer aborted", ctx.Err())
		case <-dialTimer.C:
			m.abort(key)
			m.record("attended", "no_answer")
			return nil, newError(KindDestinationUnreachable, "attended_transfer",
				fmt.Sprintf("%q did not answer", key))
		case evt := <-m.events:
			switch evt.kind {
			case evtAnswered:
				destChannel = evt.channelID
				break waitAnswer
			case evtCancel:
				m.abort(key)
				m.record("attended", "cancelled")
				return map[string]any{"outcome": "cancelled", "destination": key}, nil
			}
		}
	}
	m.mu.Lock()
	m.destChannelID = destChannel
	m.state = StateDestAnswered
	m.mu.Unlock()

	if err := m.client.Answer(ctx, destChannel); err != nil {
		m.log.Warn("answer destination failed", "channel", destChannel, "err", err)
	}
	m.announceToDestination(ctx, destChannel)

	m.mu.Lock()
	m.state = StateAwaitingDTMF
	m.mu.Unlock()

	// AWAITING_DTMF: 1 accepts, 2 declines, timeout declines, anything
	// else is ignored.
	acceptTimer := time.NewTimer(m.settings.AcceptTimeout)
	defer acceptTimer.Stop()
	for {
		select {
		case <-ctx.Done():
			m.abort(key)
			m.record("attended", "aborted")
			return nil, wrapError(KindTimeout, "attended_transfer", "transfer aborted", ctx.Err())
		case <-acceptTimer.C:
			return nil, m.decline(ctx, key, "accept timeout")
		case evt := <-m.events:
			switch evt.kind {
			case evtCancel:
				m.abort(key)
				m.record("attended", "cancelled")
				return map[string]any{"outcome": "cancelled", "destination": key}, nil
			case evtDTMF:
				switch evt.digit {
				case '1':
					return m.bridge(ctx, key, destChannel)
				case '2':
					return nil, m.decline(ctx, key, "destination declined")
				default:
					m.log.Debug("ignoring unexpected DTMF during accept", "digit", string(evt.digit))
				}
			}
		}
	}
}

// announceToDestination renders and plays the briefing prompt on the
// destination leg. Failures are logged; the transfer proceeds to the DTMF
// wait regardless so a TTS outage cannot strand both parties.
func (m *TransferManager) announceToDestination(ctx context.Context, destChannel string) {
	text := fmt.Sprintf("Incoming call from %s. Press 1 to accept, or 2 to decline.", m.callerLabel())
	ttsCtx, cancel := context.WithTimeout(ctx, m.settings.TTSTimeout)
	defer cancel()

	pcm, rate, err := m.synth.Render(ttsCtx, text)
	if err != nil {
		m.log.Warn("announcement synthesis failed", "err", err)
		return
	}
	playbackID, err := m.announce.Play(ttsCtx, destChannel, pcm, rate)
	if err != nil {
		m.log.Warn("announcement playback failed", "err", err)
		return
	}
	if err := m.announce.Wait(ttsCtx, playbackID); err != nil {
		m.log.Warn("announcement wait ended early", "err", err)
	}
}

// bridge joins caller and destination and leaves the engine as a passive
// supervisor.
func (m *TransferManager) bridge(ctx context.Context, key, destChannel string) (any, error) {
	b, err := m.client.CreateBridge(ctx, "mixing")
	if err != nil {
		m.abort(key)
		m.record("attended", "failed")
		return nil, wrapError(KindDestinationUnreachable, "attended_transfer", "bridge creation failed", err)
	}
	if err := m.client.AddToBridge(ctx, b.ID, m.call.ChannelID); err != nil {
		m.abort(key)
		m.record("attended", "failed")
		return nil, wrapError(KindDestinationUnreachable, "attended_transfer", "adding caller to bridge failed", err)
	}
	if err := m.client.AddToBridge(ctx, b.ID, destChannel); err != nil {
		m.abort(key)
		m.record("attended", "failed")
		return nil, wrapError(KindDestinationUnreachable, "attended_transfer", "adding destination to bridge failed", err)
	}
	m.stopMOH(ctx)

	m.mu.Lock()
	m.state = StateBridged
	m.mu.Unlock()
	m.record("attended", "bridged")
	return map[string]any{"outcome": "bridged", "destination": key, "bridge_id": b.ID}, nil
}

// decline hangs up the destination, takes the caller off hold, voices the
// declined prompt, and reports the decline to the model.
func (m *TransferManager) decline(ctx context.Context, key, reason string) error {
	m.hangupDestination(ctx)
	m.stopMOH(ctx)
	m.record("attended", "declined")
	if m.speak != nil {
		prompt := fmt.Sprintf("I'm sorry, %s is unavailable right now.", strings.ReplaceAll(key, "_", " "))
		if err := m.speak(ctx, prompt); err != nil {
			m.log.Warn("declined prompt failed", "err", err)
		}
	}
	return newError(KindDeclined, "attended_transfer",
		fmt.Sprintf("transfer to %q declined: %s", key, reason))
}

// abort tears down a transfer that will not complete: destination leg
// hung up, caller taken off hold.
func (m *TransferManager) abort(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.hangupDestination(ctx)
	m.stopMOH(ctx)
	m.log.Info("attended transfer aborted", "destination", key)
}

func (m *TransferManager) hangupDestination(ctx context.Context) {
	m.mu.Lock()
	dest := m.destChannelID
	m.destChannelID = ""
	m.mu.Unlock()
	if dest == "" {
		return
	}
	if err := m.client.Hangup(ctx, dest); err != nil && !ari.IsNotFound(err) {
		m.log.Warn("destination hangup failed", "channel", dest, "err", err)
	}
}

func (m *TransferManager) stopMOH(ctx context.Context) {
	if err := m.client.StopMOH(ctx, m.call.ChannelID); err != nil && !ari.IsNotFound(err) {
		m.log.Warn("stop MOH failed", "err", err)
	}
}

func (m *TransferManager) callerLabel() string {
	switch {
	case m.call.CallerName != "" && m.call.CallerNumber != "":
		return m.call.CallerName + ", " + m.call.CallerNumber
	case m.call.CallerName != "":
		return m.call.CallerName
	case m.call.CallerNumber != "":
		return m.call.CallerNumber
	default:
		return "an unknown caller"
	}
}
