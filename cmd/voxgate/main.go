// Command voxgate is the Asterisk ARI voice AI call engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/voxgate/voxgate/internal/admin"
	"github.com/voxgate/voxgate/internal/ari"
	"github.com/voxgate/voxgate/internal/calllog"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/engine"
	"github.com/voxgate/voxgate/internal/engine/monolithic"
	"github.com/voxgate/voxgate/internal/engine/pipeline"
	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/playback"
	"github.com/voxgate/voxgate/internal/resilience"
	"github.com/voxgate/voxgate/internal/session"
	"github.com/voxgate/voxgate/internal/tools"
	"github.com/voxgate/voxgate/internal/transport/audiosocket"
	"github.com/voxgate/voxgate/internal/transport/rtpmedia"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/llm/anyllm"
	"github.com/voxgate/voxgate/pkg/provider/realtime/openai"
	"github.com/voxgate/voxgate/pkg/provider/stt"
	"github.com/voxgate/voxgate/pkg/provider/stt/deepgram"
	"github.com/voxgate/voxgate/pkg/provider/tts"
	"github.com/voxgate/voxgate/pkg/provider/tts/elevenlabs"
)

// Exit codes, stable for process supervisors.
const (
	exitOK      = 0
	exitConfig  = 64
	exitBind    = 65
	exitARIAuth = 66
	exitFatal   = 1
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "voxgate.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		return exitConfig
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("voxgate starting",
		"version", version,
		"config", *configPath,
		"app", cfg.Asterisk.AppName,
		"transport", string(cfg.AudioTransport),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxgate",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return exitFatal
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(sctx)
	}()

	store := config.NewStore(cfg)
	client := ari.NewClient(cfg.Asterisk.BaseURL, cfg.Asterisk.Username, cfg.Asterisk.Password)

	// Fail fast on bad credentials; retry transient connect failures so a
	// PBX that is still booting does not kill the engine.
	if err := pingARI(ctx, client); err != nil {
		if ari.IsUnauthorized(err) {
			slog.Error("ari credentials rejected", "err", err)
			return exitARIAuth
		}
		slog.Error("asterisk unreachable", "err", err)
		return exitFatal
	}

	callStore, err := calllog.Open(ctx, cfg.CallLog.PostgresDSN)
	if err != nil {
		slog.Error("call log unavailable", "err", err)
		return exitConfig
	}
	defer callStore.Close()

	sub := ari.NewSubscriber(ari.SubscriberConfig{
		BaseURL:  cfg.Asterisk.BaseURL,
		AppName:  cfg.Asterisk.AppName,
		Username: cfg.Asterisk.Username,
		Password: cfg.Asterisk.Password,
	})

	fileFallback := playback.NewFileFallback(client, cfg.Streaming.MediaDir)
	defer fileFallback.Cleanup()

	// Media attach path per configured transport.
	var (
		media    session.Media
		asServer *audiosocket.Server
	)
	switch cfg.AudioTransport {
	case config.TransportAudioSocket:
		asMedia := session.NewAudioSocketMedia(client, cfg.Asterisk.AppName,
			advertiseAddr(cfg.AudioSocket), logger)
		asServer = audiosocket.NewServer(asMedia.Bind)
		if err := asServer.Listen(cfg.AudioSocket.ListenAddr); err != nil {
			slog.Error("audiosocket bind failed", "addr", cfg.AudioSocket.ListenAddr, "err", err)
			return exitBind
		}
		slog.Info("audiosocket listening", "addr", asServer.Addr().String())
		media = asMedia
	case config.TransportExternalMedia:
		ports, err := rtpmedia.NewPortAllocator(cfg.ExternalMedia.PortMin, cfg.ExternalMedia.PortMax)
		if err != nil {
			slog.Error("rtp port pool invalid", "err", err)
			return exitConfig
		}
		media = session.NewRTPMedia(client, cfg.Asterisk.AppName, cfg.ExternalMedia.RTPHost, ports, logger)
		slog.Info("externalmedia port pool ready",
			"host", cfg.ExternalMedia.RTPHost,
			"port_min", cfg.ExternalMedia.PortMin,
			"port_max", cfg.ExternalMedia.PortMax)
	default:
		slog.Error("unknown audio transport", "transport", string(cfg.AudioTransport))
		return exitConfig
	}

	deps := session.Deps{
		Client:    client,
		Engines:   buildEngine,
		Media:     media,
		Announcer: fileFallback,
		Synth:     buildSynthesizer(cfg),
		Mailer:    tools.NewMailer(cfg.Tools.Email, nil),
		Store:     callStore,
		Log:       logger,
	}
	manager := session.NewManager(store, deps, fileFallback)

	printStartupSummary(cfg)

	// Hot reload: file edits and the admin endpoint share the store.
	watcher, err := config.NewWatcher(*configPath, func(next *config.Config) {
		diff, err := store.Apply(next)
		if err != nil {
			slog.Warn("config reload rejected", "err", err)
			return
		}
		logLevel.Set(slogLevel(store.Snapshot().LogLevel))
		slog.Info("config reloaded",
			"hot", len(diff.Hot),
			"restart_required", len(diff.RestartRequired))
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	providerBreaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{Name: "provider"})
	healthHandler := health.New(
		func() health.Status { return healthStatus(store.Snapshot(), sub, manager) },
		health.Checker{Name: "ari", Check: func(context.Context) error {
			if !sub.Ready() {
				return errors.New("event socket disconnected")
			}
			return nil
		}},
		health.Checker{Name: "transport", Check: func(context.Context) error {
			if asServer != nil && asServer.Addr() == nil {
				return errors.New("audiosocket listener not bound")
			}
			return nil
		}},
		health.Checker{Name: "provider", Check: func(context.Context) error {
			return providerBreaker.Execute(func() error {
				_, err := config.Resolve(store.Snapshot(), config.CallVars{})
				return err
			})
		}},
	)
	adminServer := admin.NewServer(admin.Config{
		ListenAddr: cfg.Admin.ListenAddr,
		ConfigPath: *configPath,
	}, store, manager, healthHandler, nil, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sub.Run(gctx) })
	g.Go(func() error { return manager.Run(gctx, sub.Events()) })
	g.Go(func() error { return adminServer.Run(gctx) })
	if asServer != nil {
		g.Go(func() error { return asServer.Serve(gctx) })
	}

	slog.Info("voxgate ready")
	err = g.Wait()
	stop()

	// Let in-flight calls tear down before the process exits.
	drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if werr := manager.Wait(drainCtx); werr != nil {
		slog.Warn("calls still draining at exit", "active", manager.ActiveCalls())
	}

	switch {
	case err == nil || errors.Is(err, context.Canceled):
		slog.Info("voxgate stopped")
		return exitOK
	case ari.IsUnauthorized(err):
		slog.Error("ari authentication failed", "err", err)
		return exitARIAuth
	case isBindError(err):
		slog.Error("listener bind failed", "err", err)
		return exitBind
	default:
		slog.Error("fatal error", "err", err)
		return exitFatal
	}
}

// pingARI verifies ARI connectivity with backoff on transient failures.
// Unauthorized responses return immediately; retrying wrong credentials is
// pointless.
func pingARI(ctx context.Context, client *ari.Client) error {
	bo := resilience.NewBackoff(time.Second, 10*time.Second, 0.2)
	var err error
	for range 5 {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = client.Ping(pctx)
		cancel()
		if err == nil || ari.IsUnauthorized(err) {
			return err
		}
		slog.Warn("asterisk not reachable yet, retrying", "err", err)
		if werr := bo.Wait(ctx); werr != nil {
			return werr
		}
	}
	return err
}

// advertiseAddr is the address the PBX dials for AudioSocket legs.
func advertiseAddr(cfg config.AudioSocketConfig) string {
	if cfg.AdvertiseHost == "" {
		return cfg.ListenAddr
	}
	if strings.Contains(cfg.AdvertiseHost, ":") {
		return cfg.AdvertiseHost
	}
	// Host override only: keep the listener's port.
	_, port, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return cfg.AdvertiseHost
	}
	return net.JoinHostPort(cfg.AdvertiseHost, port)
}

func healthStatus(cfg *config.Config, sub *ari.Subscriber, manager *session.Manager) health.Status {
	providers := make(map[string]health.ProviderStatus, len(cfg.Providers))
	for name, p := range cfg.Providers {
		st := health.ProviderStatus{Ready: !p.Disabled}
		if p.Disabled {
			st.LastError = "disabled in config"
		}
		providers[name] = st
	}
	return health.Status{
		ARIConnected: sub.Ready(),
		Transport:    string(cfg.AudioTransport),
		ActiveCalls:  manager.ActiveCalls(),
		Providers:    providers,
	}
}

// ── Engine wiring ─────────────────────────────────────────────────────────────

// buildEngine constructs the provider engine for one resolved call. Adapters
// are cheap to build; network work happens at session start.
func buildEngine(cfg *config.Config, res *config.Resolved) (engine.Engine, error) {
	if res.Monolithic() {
		return buildMonolithic(res.ProviderName, res.Provider)
	}
	return buildPipeline(cfg, res)
}

func buildMonolithic(name string, p config.ProviderConfig) (engine.Engine, error) {
	switch p.Kind {
	case "openai_realtime":
		var opts []openai.Option
		if p.Model != "" {
			opts = append(opts, openai.WithModel(p.Model))
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return monolithic.New(openai.New(p.APIKey, opts...)), nil
	default:
		return nil, fmt.Errorf("provider %q: unknown monolithic kind %q", name, p.Kind)
	}
}

func buildPipeline(cfg *config.Config, res *config.Resolved) (engine.Engine, error) {
	pl := res.Pipeline

	sttCfg, ok := cfg.Providers[pl.STT]
	if !ok {
		return nil, fmt.Errorf("pipeline %q: stt provider %q is not defined", res.PipelineName, pl.STT)
	}
	sttP, err := buildSTT(pl.STT, sttCfg)
	if err != nil {
		return nil, err
	}

	llmCfg, ok := cfg.Providers[pl.LLM]
	if !ok {
		return nil, fmt.Errorf("pipeline %q: llm provider %q is not defined", res.PipelineName, pl.LLM)
	}
	llmP, err := buildLLM(pl.LLM, llmCfg)
	if err != nil {
		return nil, err
	}

	ttsCfg, ok := cfg.Providers[pl.TTS]
	if !ok {
		return nil, fmt.Errorf("pipeline %q: tts provider %q is not defined", res.PipelineName, pl.TTS)
	}
	ttsP, err := buildTTS(pl.TTS, ttsCfg)
	if err != nil {
		return nil, err
	}

	var opts []pipeline.Option
	if sttCfg.Model != "" {
		opts = append(opts, pipeline.WithSTTModel(sttCfg.Model))
	}
	if sttCfg.Language != "" {
		opts = append(opts, pipeline.WithLanguage(sttCfg.Language))
	}
	if ttsCfg.Voice != "" {
		opts = append(opts, pipeline.WithVoice(tts.Voice{ID: ttsCfg.Voice}))
	}
	opts = append(opts, pipeline.WithMetrics(observe.DefaultMetrics(), pl.STT, pl.LLM, pl.TTS))
	return pipeline.New(sttP, llmP, ttsP, opts...), nil
}

func buildSTT(name string, p config.ProviderConfig) (stt.Provider, error) {
	switch p.Kind {
	case "deepgram":
		var opts []deepgram.Option
		if p.Model != "" {
			opts = append(opts, deepgram.WithModel(p.Model))
		}
		if p.Language != "" {
			opts = append(opts, deepgram.WithLanguage(p.Language))
		}
		if p.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(p.BaseURL))
		}
		return deepgram.New(p.APIKey, opts...)
	default:
		return nil, fmt.Errorf("provider %q: unknown stt kind %q", name, p.Kind)
	}
}

func buildLLM(name string, p config.ProviderConfig) (llm.Provider, error) {
	var opts []anyllmlib.Option
	if p.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(p.APIKey))
	}
	if p.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(p.BaseURL))
	}
	prov, err := anyllm.New(p.Kind, p.Model, opts...)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", name, err)
	}
	return prov, nil
}

func buildTTS(name string, p config.ProviderConfig) (tts.Provider, error) {
	switch p.Kind {
	case "elevenlabs":
		var opts []elevenlabs.Option
		if p.Model != "" {
			opts = append(opts, elevenlabs.WithModel(p.Model))
		}
		return elevenlabs.New(p.APIKey, opts...)
	default:
		return nil, fmt.Errorf("provider %q: unknown tts kind %q", name, p.Kind)
	}
}

// ── Transfer announcements ────────────────────────────────────────────────────

// ttsSynthesizer renders short announcement phrases through a TTS provider
// for the attended-transfer briefing path.
type ttsSynthesizer struct {
	provider tts.Provider
	voice    tts.Voice
	rate     int
}

func (s *ttsSynthesizer) Render(ctx context.Context, text string) ([]byte, int, error) {
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := s.provider.SynthesizeStream(ctx, textCh, tts.StreamConfig{
		Voice:      s.voice,
		SampleRate: s.rate,
	})
	if err != nil {
		return nil, 0, err
	}
	var pcm []byte
	for chunk := range audioCh {
		pcm = append(pcm, chunk...)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if len(pcm) == 0 {
		return nil, 0, errors.New("synthesis produced no audio")
	}
	return pcm, s.rate, nil
}

// buildSynthesizer picks a TTS provider for transfer announcements: the
// active pipeline's TTS when one is configured, otherwise any TTS provider
// in the config. Returns nil when none exists; transfers then skip the
// spoken briefing.
func buildSynthesizer(cfg *config.Config) tools.Synthesizer {
	name := ""
	if cfg.ActivePipeline != "" {
		if pl, ok := cfg.Pipelines[cfg.ActivePipeline]; ok {
			name = pl.TTS
		}
	}
	if name == "" {
		for n, p := range cfg.Providers {
			if p.Type == config.ProviderTTS && !p.Disabled {
				name = n
				break
			}
		}
	}
	if name == "" {
		return nil
	}
	p, ok := cfg.Providers[name]
	if !ok || p.Disabled {
		return nil
	}
	prov, err := buildTTS(name, p)
	if err != nil {
		slog.Warn("transfer announcements disabled", "provider", name, "err", err)
		return nil
	}

	rate := 8000
	if profile, err := config.ResolveProfile(cfg, cfg.DefaultProfile); err == nil {
		rate = profile.WireOutRate
	}
	return &ttsSynthesizer{provider: prov, voice: tts.Voice{ID: p.Voice}, rate: rate}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func isBindError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "listen"
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║           voxgate startup summary        ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	summaryLine("Stasis app", cfg.Asterisk.AppName)
	summaryLine("Transport", string(cfg.AudioTransport))
	summaryLine("Downstream", string(cfg.DownstreamMode))
	if cfg.DefaultProvider != "" {
		p := cfg.Providers[cfg.DefaultProvider]
		summaryLine("Provider", cfg.DefaultProvider+" / "+p.Kind)
	} else if cfg.ActivePipeline != "" {
		summaryLine("Pipeline", cfg.ActivePipeline)
	}
	summaryLine("Profile", cfg.DefaultProfile)
	summaryLine("Contexts", fmt.Sprintf("%d", len(cfg.Contexts)))
	summaryLine("Admin API", cfg.Admin.ListenAddr)
	if cfg.CallLog.PostgresDSN != "" {
		summaryLine("Call log", "postgres")
	} else {
		summaryLine("Call log", "(disabled)")
	}
	fmt.Println("╚══════════════════════════════════════════╝")
}

func summaryLine(key, value string) {
	if len(value) > 23 {
		value = value[:20] + "…"
	}
	fmt.Printf("║  %-12s : %-23s ║\n", key, value)
}
