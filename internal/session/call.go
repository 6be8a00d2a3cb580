// Package session owns the life of a call. One coordinator goroutine per
// call consumes a merged event queue and drives the transports, the
// playback scheduler, the endpointing gates, the provider session and the
// tool dispatcher; all per-call state is mutated only on that goroutine.
// The manager routes ARI events to the right coordinator.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/voxgate/voxgate/internal/ari"
	"github.com/voxgate/voxgate/internal/calllog"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/endpoint"
	"github.com/voxgate/voxgate/internal/engine"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/playback"
	"github.com/voxgate/voxgate/internal/tools"
	"github.com/voxgate/voxgate/pkg/audio"
	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// Phase is the coordinator's lifecycle position.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseResolving
	PhaseMediaAttaching
	PhaseGreeting
	PhaseListening
	PhaseEndpointed
	PhaseThinking
	PhaseResponding
	PhaseBargedIn
	PhaseToolRunning
	PhaseTearingDown
	PhaseDone
)

// String returns the phase name used in logs.
func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseResolving:
		return "resolving"
	case PhaseMediaAttaching:
		return "media_attaching"
	case PhaseGreeting:
		return "greeting"
	case PhaseListening:
		return "listening"
	case PhaseEndpointed:
		return "endpointed"
	case PhaseThinking:
		return "thinking"
	case PhaseResponding:
		return "responding"
	case PhaseBargedIn:
		return "barged_in"
	case PhaseToolRunning:
		return "tool_running"
	case PhaseTearingDown:
		return "tearing_down"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// End reasons recorded in the call log.
const (
	EndReasonHangup      = "hangup"
	EndReasonAgentHangup = "agent_hangup"
	EndReasonTransfer    = "transfer"
	EndReasonAdmin       = "admin"
	EndReasonShutdown    = "shutdown"
	EndReasonConfig      = "config_error"
	EndReasonTransport   = "transport_error"
	EndReasonProvider    = "provider_error"
)

// teardownDeadline bounds resource unwinding. Overrun forces the close and
// logs a warning instead of leaking the coordinator.
const teardownDeadline = 5 * time.Second

// fallbackSoundGrace is how long the terminal-error phrase may play before
// the hangup proceeds.
const fallbackSoundGrace = 2500 * time.Millisecond

// drainPoll paces the buffered-audio poll before a scheduled agent hangup.
const drainPoll = 50 * time.Millisecond

var errProviderClosed = errors.New("session: provider event stream closed")

// eventFilePlaybackDone is an internal queue marker: a file-mode response
// finished playing on the caller channel.
const eventFilePlaybackDone engine.EventType = "file_playback_done"

// EngineFactory opens the provider engine for one resolved call.
type EngineFactory func(cfg *config.Config, res *config.Resolved) (engine.Engine, error)

// Announcer plays rendered PCM on a channel via the shared media directory.
// playback.FileFallback implements it.
type Announcer interface {
	Play(ctx context.Context, channelID string, pcm []byte, sampleRate int) (string, error)
	Wait(ctx context.Context, playbackID string) error
	Stop(ctx context.Context, playbackID string) error
}

// Deps are the process-wide facilities a call runs against.
type Deps struct {
	Client    ari.API
	Engines   EngineFactory
	Media     Media
	Announcer Announcer        // nil disables file playback and announcements
	Synth     tools.Synthesizer // nil disables transfer announcements
	Mailer    *tools.Mailer
	Store     *calllog.Store
	Metrics   *observe.Metrics
	Log       *slog.Logger
}

// Call coordinates one channel end to end. Run returns only when the call
// is fully torn down.
type Call struct {
	channel ari.Channel
	cfg     *config.Config
	vars    config.CallVars
	deps    Deps
	log     *slog.Logger
	metrics *observe.Metrics

	queue      *eventQueue
	transcript *Transcript

	mu        sync.Mutex
	phase     Phase
	transfers *tools.TransferManager
	sess      engine.Session
	filePlay  string

	// Coordinator-goroutine state.
	res        *config.Resolved
	sched      *playback.Scheduler
	media      MediaConn
	dispatcher *tools.Dispatcher
	endp       *endpoint.Endpointer
	gate       *endpoint.BargeInGate
	watchdog   *endpoint.Watchdog
	serverVAD  bool
	fileMode   bool
	fileBuf    []byte
	gen        uint64
	greeting   bool // greeting response not yet finished
	saidHello  bool
	turnEnd    time.Time
	toolCancel context.CancelFunc

	inScratch  []int16
	inBytes    []byte
	outScratch []int16
	outBytes   []byte
	inRes      *audio.Resampler
	outRes     *audio.Resampler

	transferred atomic.Bool
	startedAt   time.Time
	endReason   string

	teardownOnce sync.Once
	done         chan struct{}
}

// NewCall creates a coordinator for one StasisStart. cfg is the config
// snapshot the call is pinned to for its whole life.
func NewCall(channel ari.Channel, cfg *config.Config, deps Deps) *Call {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	met := deps.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &Call{
		channel:    channel,
		cfg:        cfg,
		vars:       varsFromChannel(channel),
		deps:       deps,
		log:        log.With("channel", channel.ID),
		metrics:    met,
		queue:      newEventQueue(),
		transcript: NewTranscript(),
		phase:      PhaseInit,
		greeting:   true,
		done:       make(chan struct{}),
	}
}

// varsFromChannel reads the dialplan-set channel variables.
func varsFromChannel(ch ari.Channel) config.CallVars {
	return config.CallVars{
		Provider: ch.Vars["AI_PROVIDER"],
		Context:  ch.Vars["AI_CONTEXT"],
		Profile:  ch.Vars["AI_AUDIO_PROFILE"],
		Greeting: ch.Vars["AI_GREETING"],
		Persona:  ch.Vars["AI_PERSONA"],
	}
}

// ID returns the caller channel id.
func (c *Call) ID() string { return c.channel.ID }

// Phase returns the current lifecycle phase.
func (c *Call) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Call) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Done is closed when the call is fully torn down.
func (c *Call) Done() <-chan struct{} { return c.done }

// Hangup requests teardown with the given end reason. Safe from any
// goroutine; duplicate requests after teardown are dropped.
func (c *Call) Hangup(reason string) {
	c.queue.push(item{src: srcHangup, reason: reason})
}

// DestinationAnswered routes an attended-transfer leg's StasisStart into
// the running transfer, if any.
func (c *Call) DestinationAnswered(channelID string) {
	if t := c.transferManager(); t != nil {
		t.DestinationAnswered(channelID)
	}
}

// DTMF routes a digit from the attended-transfer destination leg.
func (c *Call) DTMF(digit rune) {
	if t := c.transferManager(); t != nil {
		t.DTMF(digit)
	}
}

func (c *Call) transferManager() *tools.TransferManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transfers
}

func (c *Call) session() engine.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Summary describes the call for the admin surface.
type Summary struct {
	ChannelID    string
	CallerName   string
	CallerNumber string
	Context      string
	Provider     string
	Phase        string
	StartedAt    time.Time
}

// Summary returns a point-in-time description of the call.
func (c *Call) Summary() Summary {
	c.mu.Lock()
	res := c.res
	phase := c.phase
	c.mu.Unlock()

	s := Summary{
		ChannelID:    c.channel.ID,
		CallerName:   c.channel.Caller.Name,
		CallerNumber: c.channel.Caller.Number,
		Phase:        phase.String(),
		StartedAt:    c.startedAt,
	}
	if res != nil {
		s.Context = res.ContextName
		s.Provider = res.ProviderName
		if s.Provider == "" {
			s.Provider = res.PipelineName
		}
	}
	return s
}

// Run drives the call until teardown. The returned error describes why the
// call failed; a clean hangup returns nil.
func (c *Call) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.startedAt = time.Now()
	c.metrics.CallStarted(ctx)

	if err := c.setup(ctx); err != nil {
		c.teardown(ctx)
		return err
	}

	var runErr error
loop:
	for {
		it, ok := c.queue.pop(ctx)
		if !ok {
			c.endReason = EndReasonShutdown
			break
		}
		switch it.src {
		case srcHangup:
			c.endReason = it.reason
			if c.transferred.Load() && it.reason == EndReasonHangup {
				c.endReason = EndReasonTransfer
			}
			break loop
		case srcTransportError:
			c.endReason = EndReasonTransport
			runErr = it.err
			c.log.Warn("transport failed mid-call", "err", it.err)
			break loop
		case srcProviderError:
			c.endReason = EndReasonProvider
			runErr = it.err
			c.log.Warn("provider failed mid-call", "err", it.err)
			c.playFallbackSound(ctx)
			break loop
		case srcToolResult:
			c.handleToolResult(ctx, it.tool)
		case srcProviderEvent:
			c.handleProviderEvent(ctx, it.provider)
		case srcAudio:
			c.handleAudio(it.pcm)
		}
	}

	c.teardown(ctx)
	return runErr
}

// setup resolves the call, attaches media and opens the provider session.
// Any failure here leaves the caller unanswered or produces an immediate
// hangup; no partial call survives setup.
func (c *Call) setup(ctx context.Context) error {
	c.setPhase(PhaseResolving)
	res, err := config.Resolve(c.cfg, c.vars)
	if err != nil {
		c.endReason = EndReasonConfig
		return err
	}
	c.mu.Lock()
	c.res = res
	c.mu.Unlock()
	c.log = c.log.With("context", res.ContextName)

	eng, err := c.deps.Engines(c.cfg, res)
	if err != nil {
		c.endReason = EndReasonProvider
		return err
	}

	if c.inRes, err = audio.NewResampler(res.Profile.CallerRate, res.Profile.ProviderInRate); err != nil {
		c.endReason = EndReasonConfig
		return err
	}
	if c.outRes, err = audio.NewResampler(res.Profile.ProviderOutRate, res.Profile.WireOutRate); err != nil {
		c.endReason = EndReasonConfig
		return err
	}

	if err := c.deps.Client.Answer(ctx, c.channel.ID); err != nil {
		c.endReason = EndReasonTransport
		return err
	}

	c.setPhase(PhaseMediaAttaching)
	conn, err := c.deps.Media.Attach(ctx, c.channel.ID, res.Profile, MediaHandlers{
		OnAudio:  c.onMediaAudio,
		OnClosed: c.onMediaClosed,
	})
	if err != nil {
		c.endReason = EndReasonTransport
		return err
	}
	c.media = conn
	c.metrics.TransportBound(ctx)

	c.fileMode = c.cfg.DownstreamMode == config.DownstreamFile
	sc := c.cfg.Streaming
	var agc *playback.AGC
	if sc.AGC.Enabled {
		agc = playback.NewAGC(sc.AGC.TargetRMS, sc.AGC.MaxGainDB)
	}
	c.sched = playback.NewScheduler(playback.Config{
		SampleRate:           res.Profile.WireOutRate,
		Sink:                 conn,
		JitterBufferMs:       sc.JitterBufferMs,
		MinStartMs:           sc.MinStartMs,
		GreetingMinStartMs:   sc.GreetingMinStartMs,
		LowWatermarkMs:       sc.LowWatermarkMs,
		EmptyBackoffTicksMax: sc.EmptyBackoffTicksMax,
		ConnectionTimeoutMs:  sc.ConnectionTimeoutMs,
		FallbackTimeoutMs:    sc.FallbackTimeoutMs,
		AGC:                  agc,
		OnStreamEnd:          c.onStreamEnd,
	})
	go func() { _ = c.sched.Run(ctx) }()

	v := c.cfg.VAD
	c.endp = endpoint.NewEndpointer(endpoint.Config{
		Energy: endpoint.EnergyConfig{
			Threshold:      v.EnergyThreshold,
			Adaptive:       v.AdaptiveThresholdEnabled,
			AdaptationRate: v.NoiseAdaptationRate,
		},
		Aggressiveness:   v.Aggressiveness,
		StartFrames:      v.WebRTCStartFrames,
		EndSilenceFrames: v.WebRTCEndSilenceFrames,
		MinMs:            v.MinMs,
	})
	b := c.cfg.BargeIn
	c.gate = endpoint.NewBargeInGate(endpoint.BargeInConfig{
		InitialProtectionMs:  b.InitialProtectionMs,
		GreetingProtectionMs: b.GreetingProtectionMs,
		PostTTSProtectionMs:  b.PostTTSEndProtectionMs,
		CooldownMs:           b.CooldownMs,
		SuppressMs:           b.ProviderOutputSuppressMs,
		SuppressExtendMs:     b.ProviderOutputSuppressExtendMs,
		ChunkExtendMs:        b.ChunkExtendMs,
	})
	c.serverVAD = res.Monolithic() && v.UseProviderVAD
	if c.serverVAD && v.FallbackEnabled {
		c.watchdog = endpoint.NewWatchdog(v.FallbackIntervalMs)
	}

	info := tools.CallInfo{
		ChannelID:    c.channel.ID,
		CallerName:   c.channel.Caller.Name,
		CallerNumber: c.channel.Caller.Number,
	}
	speak := func(ctx context.Context, text string) error {
		s := c.session()
		if s == nil {
			return errors.New("session: no provider session")
		}
		return s.Say(ctx, text)
	}
	transfers := tools.NewTransferManager(c.deps.Client,
		tools.NewResolver(c.cfg.Tools.Transfer.Destinations),
		c.deps.Synth, c.deps.Announcer, speak, info,
		tools.SettingsFromConfig(c.cfg.Tools, c.cfg.Asterisk.AppName), c.log)
	c.dispatcher = tools.BuildDispatcher(c.cfg.Tools, res.Context.Tools, tools.Deps{
		ARI:              c.deps.Client,
		Call:             info,
		Transfers:        transfers,
		Mailer:           c.deps.Mailer,
		Speak:            speak,
		HangupAfter:      c.hangupAfter,
		OnTransferActive: c.markTransferred,
		Transcript:       c.transcript.Render,
		Log:              c.log,
	})

	sess, err := eng.Start(ctx, engine.SessionConfig{
		SystemPrompt:     res.Persona,
		Greeting:         res.Greeting,
		Tools:            c.dispatcher.Definitions(),
		Voice:            res.Provider.Voice,
		InputSampleRate:  res.Profile.ProviderInRate,
		OutputSampleRate: res.Profile.ProviderOutRate,
		ServerVAD:        c.serverVAD,
		Temperature:      c.cfg.LLM.Temperature,
		MaxTokens:        c.cfg.LLM.MaxTokens,
		HistoryDepth:     c.cfg.LLM.HistoryDepth,
	})
	if err != nil {
		c.endReason = EndReasonProvider
		c.playFallbackSound(ctx)
		return err
	}

	c.mu.Lock()
	c.sess = sess
	c.transfers = transfers
	c.mu.Unlock()

	go c.pumpProvider(sess)
	c.setPhase(PhaseGreeting)
	c.log.Info("call started",
		"caller", c.channel.Caller.Number,
		"provider", c.providerLabel(),
		"profile", res.Profile.Name)
	return nil
}

func (c *Call) providerLabel() string {
	if c.res == nil {
		return ""
	}
	if c.res.ProviderName != "" {
		return c.res.ProviderName
	}
	return c.res.PipelineName
}

// pumpProvider forwards the session's event stream onto the queue. A closed
// stream outside teardown is a provider disconnect.
func (c *Call) pumpProvider(sess engine.Session) {
	for evt := range sess.Events() {
		if evt.Type == engine.EventError {
			c.queue.push(item{src: srcProviderError, err: evt.Err})
			continue
		}
		c.queue.push(item{src: srcProviderEvent, provider: evt})
	}
	c.queue.push(item{src: srcProviderError, err: errProviderClosed})
}

// onMediaAudio runs on the transport read goroutine. The frame is copied
// because the transport reuses its buffer.
func (c *Call) onMediaAudio(pcm []byte) {
	frame := make([]byte, len(pcm))
	copy(frame, pcm)
	c.queue.push(item{src: srcAudio, pcm: frame})
}

func (c *Call) onMediaClosed(err error) {
	if err == nil {
		c.queue.push(item{src: srcHangup, reason: EndReasonHangup})
		return
	}
	c.queue.push(item{src: srcTransportError, err: err})
}

// onStreamEnd runs on the scheduler's pacing goroutine.
func (c *Call) onStreamEnd(_ uint64, reason playback.EndReason) {
	c.metrics.RecordStreamEnd(context.Background(), string(reason))
}

// handleAudio processes one inbound caller frame: endpointing, barge-in,
// then forwarding to the provider.
func (c *Call) handleAudio(pcm []byte) {
	if c.transferred.Load() {
		return
	}
	now := time.Now()
	evt := c.endp.Feed(pcm)
	ph := c.Phase()
	agentSpeaking := ph == PhaseGreeting || ph == PhaseResponding || c.filePlayback() != ""

	if evt == endpoint.EventSpeechStart && agentSpeaking && c.gate.Allowed(now) {
		c.bargeIn(now, ph)
	}
	if c.endp.Speaking() && agentSpeaking {
		c.gate.ExtendForSpeech(now)
	}

	if s := c.session(); s != nil {
		if err := s.PushAudio(c.resampleIn(pcm)); err != nil {
			c.log.Debug("push audio failed", "err", err)
		}
	}

	if evt == endpoint.EventSpeechEnd && !c.serverVAD {
		c.turnEnd = now
		c.setPhase(PhaseEndpointed)
		if s := c.session(); s != nil {
			_ = s.EndUtterance()
		}
		c.setPhase(PhaseThinking)
	}
	if c.watchdog != nil && c.watchdog.ShouldRelease(now) {
		if s := c.session(); s != nil {
			_ = s.EndUtterance()
		}
	}
}

// bargeIn cancels the in-flight response: provider generation, buffered
// playback, and any file playback in flight.
func (c *Call) bargeIn(now time.Time, ph Phase) {
	c.setPhase(PhaseBargedIn)
	c.gate.RecordBargeIn(now)
	c.metrics.RecordBargeIn(context.Background(), ph.String())

	c.sched.CancelResponse()
	if s := c.session(); s != nil {
		_ = s.CancelResponse()
	}
	if id := c.filePlayback(); id != "" && c.deps.Announcer != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = c.deps.Announcer.Stop(ctx, id)
		}()
	}
	c.transcript.FlushAgent()
	c.greeting = false
	c.setPhase(PhaseListening)
}

func (c *Call) handleProviderEvent(ctx context.Context, evt engine.Event) {
	now := time.Now()
	if c.watchdog != nil {
		c.watchdog.ProviderSignaled(now)
	}

	switch evt.Type {
	case engine.EventReady:
		if !c.saidHello {
			c.saidHello = true
			if c.res.Greeting != "" {
				if s := c.session(); s != nil {
					_ = s.Say(ctx, c.res.Greeting)
				}
			}
		}

	case engine.EventResponseStarted:
		c.gen = c.sched.BeginResponse(c.greeting)
		c.gate.ResponseStarted(now, c.greeting)
		if c.greeting {
			c.setPhase(PhaseGreeting)
		} else {
			c.setPhase(PhaseResponding)
		}

	case engine.EventAudio:
		if c.transferred.Load() || c.gate.Suppressed(now) {
			return
		}
		if !c.turnEnd.IsZero() {
			c.metrics.TurnLatency.Record(ctx, now.Sub(c.turnEnd).Seconds(),
				metric.WithAttributes(observe.Attr("provider", c.providerLabel())))
			c.turnEnd = time.Time{}
		}
		pcm := c.resampleOut(evt.Audio)
		if c.fileMode {
			c.fileBuf = append(c.fileBuf, pcm...)
		} else {
			c.sched.Enqueue(c.gen, pcm)
		}
		c.gate.ExtendForChunk(now)

	case engine.EventAgentText:
		c.transcript.AddAgentChunk(evt.Text)

	case engine.EventPartialTranscript:
		// Watchdog already fed above; partials are not logged.

	case engine.EventFinalTranscript:
		c.transcript.AddCaller(evt.Text)
		if c.serverVAD && c.turnEnd.IsZero() {
			c.turnEnd = now
		}

	case engine.EventTurnEnd:
		c.setPhase(PhaseThinking)

	case engine.EventResponseEnded:
		c.transcript.FlushAgent()
		wasGreeting := c.greeting
		c.greeting = false
		if c.fileMode && len(c.fileBuf) > 0 && c.deps.Announcer != nil {
			buf := c.fileBuf
			c.fileBuf = nil
			go c.playFile(ctx, buf)
			return
		}
		c.sched.FinishResponse(c.gen)
		c.gate.ResponseEnded(now)
		if ph := c.Phase(); ph == PhaseGreeting || ph == PhaseResponding || wasGreeting {
			c.setPhase(PhaseListening)
		}

	case engine.EventToolCall:
		c.startTool(ctx, evt.ToolCall)

	case eventFilePlaybackDone:
		c.gate.ResponseEnded(now)
		c.setPhase(PhaseListening)
	}
}

// playFile voices one buffered response through the shared media directory.
// Runs on a helper goroutine; completion is posted back to the queue.
func (c *Call) playFile(ctx context.Context, pcm []byte) {
	id, err := c.deps.Announcer.Play(ctx, c.channel.ID, pcm, c.res.Profile.WireOutRate)
	if err != nil {
		c.log.Warn("file playback failed", "err", err)
	} else {
		c.setFilePlayback(id)
		_ = c.deps.Announcer.Wait(ctx, id)
		c.setFilePlayback("")
	}
	c.queue.push(item{src: srcProviderEvent, provider: engine.Event{Type: eventFilePlaybackDone}})
}

func (c *Call) filePlayback() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filePlay
}

func (c *Call) setFilePlayback(id string) {
	c.mu.Lock()
	c.filePlay = id
	c.mu.Unlock()
}

// startTool runs one tool call on a helper goroutine. The dispatcher
// serializes non-concurrent tools itself.
func (c *Call) startTool(ctx context.Context, tc *llm.ToolCall) {
	if tc == nil {
		return
	}
	c.setPhase(PhaseToolRunning)
	toolCtx, cancel := context.WithCancel(ctx)
	c.toolCancel = cancel
	call := *tc
	go func() {
		defer cancel()
		res := c.dispatcher.Dispatch(toolCtx, call)
		c.queue.push(item{src: srcToolResult, tool: res})
	}()
}

// handleToolResult submits the outcome so the model can verbalize it.
func (c *Call) handleToolResult(ctx context.Context, r tools.Result) {
	status := "ok"
	if r.Err != nil {
		status = "error"
	}
	c.metrics.RecordToolCall(ctx, r.Name, status)
	if r.Elapsed > 0 {
		c.metrics.ToolExecutionDuration.Record(ctx, r.Elapsed.Seconds(),
			metric.WithAttributes(observe.Attr("tool", r.Name)))
	}

	if s := c.session(); s != nil {
		_ = s.SubmitToolResult(ctx, r.CallID, r.Name, r.Payload)
	}
	if c.Phase() == PhaseToolRunning {
		c.setPhase(PhaseResponding)
	}
}

// markTransferred stops all agent audio; the engine stays only as a passive
// supervisor until the caller hangs up.
func (c *Call) markTransferred() {
	c.transferred.Store(true)
	if c.sched != nil {
		c.sched.CancelResponse()
	}
}

// hangupAfter schedules teardown once buffered playback drains plus delay.
// Used by the hangup tool so the farewell is heard before the line drops.
func (c *Call) hangupAfter(delay time.Duration) {
	go func() {
		deadline := time.Now().Add(10 * time.Second)
		for c.sched != nil && c.sched.BufferedMs() > 0 && time.Now().Before(deadline) {
			time.Sleep(drainPoll)
		}
		time.Sleep(delay)
		c.queue.push(item{src: srcHangup, reason: EndReasonAgentHangup})
	}()
}

// playFallbackSound voices the configured terminal-error phrase so the
// caller is not left in silence before the hangup.
func (c *Call) playFallbackSound(ctx context.Context) {
	uri := c.cfg.Streaming.FallbackSound
	if uri == "" || c.transferred.Load() {
		return
	}
	if _, err := c.deps.Client.PlayMedia(ctx, c.channel.ID, uri); err != nil {
		c.log.Warn("fallback phrase failed", "err", err)
		return
	}
	select {
	case <-time.After(fallbackSoundGrace):
	case <-ctx.Done():
	}
}

// teardown releases everything the call owns: provider session, playback
// scheduler, media transport and bridge, pending transfer, tool task. It is
// idempotent and bounded by the teardown deadline.
func (c *Call) teardown(parent context.Context) {
	c.teardownOnce.Do(func() {
		c.setPhase(PhaseTearingDown)
		c.queue.close()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), teardownDeadline)
		defer cancel()

		unwound := make(chan struct{})
		go func() {
			defer close(unwound)
			if s := c.session(); s != nil {
				_ = s.Close()
			}
			if c.sched != nil {
				c.sched.Abort(playback.EndHangup)
				c.sched.Stop()
			}
			if c.media != nil {
				_ = c.media.Close(ctx)
				c.metrics.TransportClosed(ctx)
			}
			if t := c.transferManager(); t != nil {
				if st := t.State(); st != tools.StateIdle && st != tools.StateBridged {
					_ = t.Cancel()
				}
			}
			if c.toolCancel != nil {
				c.toolCancel()
			}
		}()
		select {
		case <-unwound:
		case <-ctx.Done():
			c.log.Warn("teardown deadline exceeded")
		}

		if !c.transferred.Load() {
			_ = c.deps.Client.Hangup(ctx, c.channel.ID)
		}
		c.finalize(ctx)
		c.setPhase(PhaseDone)
		close(c.done)
	})
}

// finalize records metrics and the call-log row.
func (c *Call) finalize(ctx context.Context) {
	duration := time.Since(c.startedAt)
	c.metrics.CallEnded(ctx, duration)
	for range c.queue.droppedAudio() {
		c.metrics.RecordFrameDropped(ctx, "ingress")
	}

	rec := calllog.Record{
		CallID:       c.channel.ID,
		CallerName:   c.channel.Caller.Name,
		CallerNumber: c.channel.Caller.Number,
		Provider:     c.providerLabel(),
		EndReason:    c.endReason,
		Duration:     duration,
		Transcript:   c.transcript.Render(),
		StartedAt:    c.startedAt,
	}
	if c.res != nil {
		rec.Context = c.res.ContextName
	}
	if err := c.deps.Store.Save(ctx, rec); err != nil {
		c.log.Warn("call log save failed", "err", err)
	}

	c.log.Info("call ended",
		"reason", c.endReason,
		"duration_ms", duration.Milliseconds(),
		"dropped_frames", c.queue.droppedAudio())
}

// resampleIn converts caller-rate PCM to the provider input rate.
func (c *Call) resampleIn(pcm []byte) []byte {
	if c.inRes == nil || c.inRes.Passthrough() {
		return pcm
	}
	c.inScratch = audio.BytesToPCM16(c.inScratch[:0], pcm)
	out := c.inRes.Process(c.inScratch)
	c.inBytes = audio.PCM16ToBytes(c.inBytes[:0], out)
	return c.inBytes
}

// resampleOut converts provider output PCM to the wire-out rate.
func (c *Call) resampleOut(pcm []byte) []byte {
	if c.outRes == nil || c.outRes.Passthrough() {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out
	}
	c.outScratch = audio.BytesToPCM16(c.outScratch[:0], pcm)
	out := c.outRes.Process(c.outScratch)
	c.outBytes = audio.PCM16ToBytes(c.outBytes[:0], out)
	frame := make([]byte, len(c.outBytes))
	copy(frame, c.outBytes)
	return frame
}
