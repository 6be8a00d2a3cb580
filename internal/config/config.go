// Package config provides the configuration schema, loader, resolver, and
// hot-reload machinery for the voxgate engine.
package config

// LogLevel controls log verbosity for the engine.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// TransportKind selects the media path between the PBX and the engine.
type TransportKind string

const (
	// TransportAudioSocket uses the framed TCP AudioSocket protocol.
	TransportAudioSocket TransportKind = "audiosocket"

	// TransportExternalMedia uses RTP over UDP.
	TransportExternalMedia TransportKind = "externalmedia"
)

// IsValid reports whether t is a recognised transport kind.
func (t TransportKind) IsValid() bool {
	return t == TransportAudioSocket || t == TransportExternalMedia
}

// DownstreamMode selects how agent audio reaches the caller.
type DownstreamMode string

const (
	// DownstreamStreaming paces PCM frames directly onto the transport.
	DownstreamStreaming DownstreamMode = "streaming"

	// DownstreamFile writes rendered audio to the shared media directory and
	// plays it via the ARI play verb.
	DownstreamFile DownstreamMode = "file"
)

// IsValid reports whether d is a recognised downstream mode.
func (d DownstreamMode) IsValid() bool {
	return d == DownstreamStreaming || d == DownstreamFile
}

// ProviderType discriminates the role a configured provider plays.
type ProviderType string

const (
	// ProviderMonolithic is a duplex speech-to-speech peer covering STT, LLM,
	// and TTS in one session.
	ProviderMonolithic ProviderType = "monolithic"

	// ProviderSTT, ProviderLLM, and ProviderTTS are modular pipeline stages.
	ProviderSTT ProviderType = "stt"
	ProviderLLM ProviderType = "llm"
	ProviderTTS ProviderType = "tts"
)

// IsValid reports whether p is a recognised provider type.
func (p ProviderType) IsValid() bool {
	switch p {
	case ProviderMonolithic, ProviderSTT, ProviderLLM, ProviderTTS:
		return true
	}
	return false
}

// DestinationKind classifies a transfer target.
type DestinationKind string

const (
	DestinationExtension DestinationKind = "extension"
	DestinationQueue     DestinationKind = "queue"
	DestinationRingGroup DestinationKind = "ring_group"
)

// IsValid reports whether k is a recognised destination kind.
func (k DestinationKind) IsValid() bool {
	switch k {
	case DestinationExtension, DestinationQueue, DestinationRingGroup:
		return true
	}
	return false
}

// Config is the root configuration structure for voxgate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	LogLevel       LogLevel            `yaml:"log_level"`
	Asterisk       AsteriskConfig      `yaml:"asterisk"`
	AudioSocket    AudioSocketConfig   `yaml:"audiosocket"`
	ExternalMedia  ExternalMediaConfig `yaml:"external_media"`
	AudioTransport TransportKind       `yaml:"audio_transport"`
	DownstreamMode DownstreamMode      `yaml:"downstream_mode"`

	DefaultProvider string `yaml:"default_provider"`
	ActivePipeline  string `yaml:"active_pipeline"`
	DefaultProfile  string `yaml:"default_profile"`
	DefaultContext  string `yaml:"default_context"`

	Providers map[string]ProviderConfig `yaml:"providers"`
	Pipelines map[string]PipelineConfig `yaml:"pipelines"`
	Contexts  map[string]ContextConfig  `yaml:"contexts"`
	Profiles  map[string]ProfileConfig  `yaml:"profiles"`

	VAD       VADConfig       `yaml:"vad"`
	BargeIn   BargeInConfig   `yaml:"barge_in"`
	Streaming StreamingConfig `yaml:"streaming"`
	Tools     ToolsConfig     `yaml:"tools"`
	LLM       LLMConfig       `yaml:"llm"`

	CallLog CallLogConfig `yaml:"call_log"`
	Admin   AdminConfig   `yaml:"admin"`
}

// AsteriskConfig holds the ARI connection settings.
type AsteriskConfig struct {
	// BaseURL is the ARI HTTP base, e.g. "http://127.0.0.1:8088/ari".
	BaseURL string `yaml:"base_url"`

	// AppName is the Stasis application name channels are routed to.
	AppName string `yaml:"app_name"`

	// Username and Password authenticate against ARI.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// AudioSocketConfig holds the framed TCP media listener settings.
type AudioSocketConfig struct {
	// ListenAddr is the TCP address the AudioSocket server binds, e.g.
	// "0.0.0.0:8090". The PBX dials this address per call.
	ListenAddr string `yaml:"listen_addr"`

	// AdvertiseHost overrides the host the PBX is told to dial, when the
	// engine sits behind NAT or a container network. Empty means derive it
	// from ListenAddr.
	AdvertiseHost string `yaml:"advertise_host"`
}

// ExternalMediaConfig holds the RTP media settings.
type ExternalMediaConfig struct {
	// RTPHost is the local address RTP sockets bind to.
	RTPHost string `yaml:"rtp_host"`

	// PortMin and PortMax bound the UDP port pool, one port per call.
	PortMin int `yaml:"port_min"`
	PortMax int `yaml:"port_max"`
}

// ProviderConfig describes one named AI provider.
type ProviderConfig struct {
	// Type is the provider's role: monolithic, stt, llm, or tts.
	Type ProviderType `yaml:"type"`

	// Kind selects the adapter implementation, e.g. "openai_realtime",
	// "deepgram", "elevenlabs", or an any-llm backend name like "openai" or
	// "anthropic" for LLM providers.
	Kind string `yaml:"kind"`

	// APIKey authenticates against the provider. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider.
	Model string `yaml:"model"`

	// Voice selects the synthesis voice for monolithic and TTS providers.
	Voice string `yaml:"voice"`

	// Language is the recognition language hint for STT providers.
	Language string `yaml:"language"`

	// Disabled removes the provider from resolution without deleting its
	// configuration.
	Disabled bool `yaml:"disabled"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// PipelineConfig composes three component providers into a modular pipeline.
type PipelineConfig struct {
	// STT, LLM, and TTS name entries in the providers map with the matching
	// type.
	STT string `yaml:"stt"`
	LLM string `yaml:"llm"`
	TTS string `yaml:"tts"`
}

// ContextConfig is a named per-call bundle of greeting, prompt, tools, and
// format selection.
type ContextConfig struct {
	// Greeting is spoken when the call is answered. Empty means the provider
	// opens the conversation on its own.
	Greeting string `yaml:"greeting"`

	// Prompt is the system prompt defining the agent's persona.
	Prompt string `yaml:"prompt"`

	// Tools is the allowlist of tool names offered to the model.
	Tools []string `yaml:"tools"`

	// Profile names an audio profile; empty falls back to default_profile.
	Profile string `yaml:"profile"`

	// Provider optionally overrides the global default provider.
	Provider string `yaml:"provider"`

	// Pipeline optionally selects a modular pipeline instead of a
	// monolithic provider.
	Pipeline string `yaml:"pipeline"`
}

// ProfileConfig describes a named audio profile. Zero fields inherit from
// the builtin profile with the same name, so a config can tweak one rate
// without restating the rest.
type ProfileConfig struct {
	InternalRate        int    `yaml:"internal_rate"`
	CallerEncoding      string `yaml:"caller_encoding"`
	CallerRate          int    `yaml:"caller_rate"`
	ProviderInRate      int    `yaml:"provider_in_rate"`
	ProviderOutEncoding string `yaml:"provider_out_encoding"`
	ProviderOutRate     int    `yaml:"provider_out_rate"`
	WireOutEncoding     string `yaml:"wire_out_encoding"`
	WireOutRate         int    `yaml:"wire_out_rate"`
}

// VADConfig tunes the engine's voice activity detection.
type VADConfig struct {
	// EnergyThreshold is the RMS level above which a frame counts as voiced.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// AdaptiveThresholdEnabled makes the threshold track a low-passed noise
	// floor instead of staying fixed.
	AdaptiveThresholdEnabled bool `yaml:"adaptive_threshold_enabled"`

	// NoiseAdaptationRate is the per-second adaptation rate of the noise
	// floor when adaptive thresholding is on.
	NoiseAdaptationRate float64 `yaml:"noise_adaptation_rate"`

	// Aggressiveness tunes the frame classifier, 0 (permissive) to 3
	// (strict).
	Aggressiveness int `yaml:"aggressiveness"`

	// WebRTCStartFrames is the number of consecutive voiced frames required
	// to confirm speech start.
	WebRTCStartFrames int `yaml:"webrtc_start_frames"`

	// WebRTCEndSilenceFrames is the number of consecutive unvoiced frames
	// required to finalise an utterance.
	WebRTCEndSilenceFrames int `yaml:"webrtc_end_silence_frames"`

	// MinMs is the minimum audio above threshold before speech is confirmed.
	MinMs int `yaml:"min_ms"`

	// UseProviderVAD hands endpointing to the monolithic provider's own turn
	// detection; engine VAD becomes a watchdog.
	UseProviderVAD bool `yaml:"use_provider_vad"`

	// FallbackEnabled keeps the watchdog active in provider-owned mode.
	FallbackEnabled bool `yaml:"fallback_enabled"`

	// FallbackIntervalMs is how often the watchdog releases audio during
	// very long provider silence.
	FallbackIntervalMs int `yaml:"fallback_interval_ms"`
}

// BargeInConfig tunes when caller speech may interrupt agent playback.
type BargeInConfig struct {
	// InitialProtectionMs suppresses barge-in at the start of each response.
	InitialProtectionMs int `yaml:"initial_protection_ms"`

	// GreetingProtectionMs suppresses barge-in during the greeting.
	GreetingProtectionMs int `yaml:"greeting_protection_ms"`

	// PostTTSEndProtectionMs suppresses barge-in after a response finishes,
	// to avoid self-echo triggers.
	PostTTSEndProtectionMs int `yaml:"post_tts_end_protection_ms"`

	// CooldownMs is the minimum gap between consecutive barge-ins.
	CooldownMs int `yaml:"cooldown_ms"`

	// ProviderOutputSuppressMs discards provider chunks after a barge-in.
	ProviderOutputSuppressMs int `yaml:"provider_output_suppress_ms"`

	// ProviderOutputSuppressExtendMs extends suppression while the caller
	// keeps speaking.
	ProviderOutputSuppressExtendMs int `yaml:"provider_output_suppress_extend_ms"`

	// ChunkExtendMs extends suppression while stale chunks keep arriving.
	ChunkExtendMs int `yaml:"chunk_extend_ms"`
}

// StreamingConfig tunes the downstream playback scheduler.
type StreamingConfig struct {
	// JitterBufferMs is the playback buffer capacity.
	JitterBufferMs int `yaml:"jitter_buffer_ms"`

	// MinStartMs is the buffered audio required before playback starts.
	MinStartMs int `yaml:"min_start_ms"`

	// GreetingMinStartMs is the lower start gate used for greetings.
	GreetingMinStartMs int `yaml:"greeting_min_start_ms"`

	// LowWatermarkMs pauses playback when the buffer drains below it.
	LowWatermarkMs int `yaml:"low_watermark_ms"`

	// EmptyBackoffTicksMax bounds the silence frames emitted while waiting
	// for a refill.
	EmptyBackoffTicksMax int `yaml:"empty_backoff_ticks_max"`

	// KeepaliveIntervalMs is the idle keepalive cadence on the stream.
	KeepaliveIntervalMs int `yaml:"keepalive_interval_ms"`

	// ConnectionTimeoutMs bounds how long stream setup may take.
	ConnectionTimeoutMs int `yaml:"connection_timeout_ms"`

	// FallbackTimeoutMs switches a stalled stream to file playback.
	FallbackTimeoutMs int `yaml:"fallback_timeout_ms"`

	// ProviderGraceMs is how long after provider close to keep draining
	// buffered audio.
	ProviderGraceMs int `yaml:"provider_grace_ms"`

	// MediaDir is the shared directory for file-playback fallback.
	MediaDir string `yaml:"media_dir"`

	// FallbackSound is the ARI media URI played to the caller before
	// hangup when the call dies on a provider error, e.g.
	// "sound:agent-unavailable". Empty skips the phrase.
	FallbackSound string `yaml:"fallback_sound"`

	// AGC configures optional loudness normalisation.
	AGC AGCConfig `yaml:"agc"`
}

// AGCConfig tunes the single-pole automatic gain control.
type AGCConfig struct {
	Enabled   bool    `yaml:"enabled"`
	TargetRMS float64 `yaml:"target_rms"`
	MaxGainDB float64 `yaml:"max_gain_db"`
}

// ToolsConfig configures the tool dispatcher.
type ToolsConfig struct {
	Transfer  TransferConfig  `yaml:"transfer"`
	Attended  AttendedConfig  `yaml:"attended_transfer"`
	Hangup    HangupConfig    `yaml:"hangup"`
	Voicemail VoicemailConfig `yaml:"voicemail"`
	Email     EmailConfig     `yaml:"email"`
}

// TransferConfig configures blind transfers and the destination map.
type TransferConfig struct {
	// Destinations maps spoken destination names to routing targets.
	Destinations map[string]Destination `yaml:"destinations"`

	// RingGroupContext and QueueContext are the dialplan contexts that
	// continue_in_dialplan uses for those destination kinds.
	RingGroupContext string `yaml:"ring_group_context"`
	QueueContext     string `yaml:"queue_context"`

	// ExtensionContext is the dialplan context used to redirect to plain
	// extensions and to dial attended-transfer legs.
	ExtensionContext string `yaml:"extension_context"`
}

// Destination is one entry in the transfer destination map.
type Destination struct {
	Kind            DestinationKind `yaml:"kind"`
	Target          string          `yaml:"target"`
	AttendedAllowed bool            `yaml:"attended_allowed"`
	Description     string          `yaml:"description"`
}

// AttendedConfig tunes the attended-transfer state machine.
type AttendedConfig struct {
	// DialTimeoutSeconds bounds how long the destination may ring.
	DialTimeoutSeconds int `yaml:"dial_timeout_seconds"`

	// AcceptTimeoutSeconds bounds the DTMF accept/decline wait.
	AcceptTimeoutSeconds int `yaml:"accept_timeout_seconds"`

	// TTSTimeoutSeconds bounds announcement and prompt playback.
	TTSTimeoutSeconds int `yaml:"tts_timeout_seconds"`

	// MOHClass is the music-on-hold class played to the caller.
	MOHClass string `yaml:"moh_class"`
}

// HangupConfig tunes the hangup_call tool.
type HangupConfig struct {
	// FarewellHangupDelaySec is the pause between the farewell finishing and
	// the actual hangup.
	FarewellHangupDelaySec float64 `yaml:"farewell_hangup_delay_sec"`
}

// VoicemailConfig configures the leave_voicemail tool.
type VoicemailConfig struct {
	Extension string `yaml:"extension"`
	Context   string `yaml:"context"`
}

// EmailConfig configures the email tools.
type EmailConfig struct {
	// Endpoint is the outbound email service URL.
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates against the email service.
	APIKey string `yaml:"api_key"`

	// DefaultRecipient receives send_email_summary output.
	DefaultRecipient string `yaml:"default_recipient"`

	// ValidateMX enables DNS MX validation for request_transcript addresses.
	ValidateMX bool `yaml:"validate_mx"`
}

// LLMConfig tunes the modular pipeline's reasoning stage.
type LLMConfig struct {
	// HistoryDepth is how many prior turns are sent with each request.
	HistoryDepth int `yaml:"history_depth"`

	// Temperature and MaxTokens pass through to the model.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// CallLogConfig enables the optional Postgres call log.
type CallLogConfig struct {
	// PostgresDSN is the connection string; empty disables the call log.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// AdminConfig configures the local admin HTTP API.
type AdminConfig struct {
	// ListenAddr is the admin listener address, e.g. "127.0.0.1:9070".
	ListenAddr string `yaml:"listen_addr"`
}
