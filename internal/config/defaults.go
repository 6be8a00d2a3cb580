package config

// Default values applied by [applyDefaults] before validation. They mirror a
// working single-box Asterisk deployment.
const (
	defaultAppName      = "voxgate"
	defaultListenAddr   = "0.0.0.0:8090"
	defaultAdminAddr    = "127.0.0.1:9070"
	defaultRTPHost      = "0.0.0.0"
	defaultRTPPortMin   = 12000
	defaultRTPPortMax   = 12999
	defaultMediaDir     = "/var/lib/voxgate/media"
	defaultProfileName  = "telephony_ulaw_8k"
	defaultContextName  = "default"
	defaultRingGroupCtx = "ext-group"
	defaultQueueCtx     = "ext-queues"
	defaultExtensionCtx = "from-internal"
	defaultVoicemailCtx = "ext-local"
	defaultMOHClass     = "default"
	defaultHistoryDepth = 12
)

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.Asterisk.AppName == "" {
		cfg.Asterisk.AppName = defaultAppName
	}
	if cfg.AudioSocket.ListenAddr == "" {
		cfg.AudioSocket.ListenAddr = defaultListenAddr
	}
	if cfg.ExternalMedia.RTPHost == "" {
		cfg.ExternalMedia.RTPHost = defaultRTPHost
	}
	if cfg.ExternalMedia.PortMin == 0 {
		cfg.ExternalMedia.PortMin = defaultRTPPortMin
	}
	if cfg.ExternalMedia.PortMax == 0 {
		cfg.ExternalMedia.PortMax = defaultRTPPortMax
	}
	if cfg.AudioTransport == "" {
		cfg.AudioTransport = TransportAudioSocket
	}
	if cfg.DownstreamMode == "" {
		cfg.DownstreamMode = DownstreamStreaming
	}
	if cfg.DefaultProfile == "" {
		cfg.DefaultProfile = defaultProfileName
	}
	if cfg.DefaultContext == "" {
		cfg.DefaultContext = defaultContextName
	}
	if cfg.Admin.ListenAddr == "" {
		cfg.Admin.ListenAddr = defaultAdminAddr
	}

	// VAD
	v := &cfg.VAD
	if v.EnergyThreshold == 0 {
		v.EnergyThreshold = 1200
	}
	if v.NoiseAdaptationRate == 0 {
		v.NoiseAdaptationRate = 0.2
	}
	if v.WebRTCStartFrames == 0 {
		v.WebRTCStartFrames = 3
	}
	if v.WebRTCEndSilenceFrames == 0 {
		v.WebRTCEndSilenceFrames = 25
	}
	if v.MinMs == 0 {
		v.MinMs = 120
	}
	if v.FallbackIntervalMs == 0 {
		v.FallbackIntervalMs = 2000
	}

	// Barge-in
	b := &cfg.BargeIn
	if b.InitialProtectionMs == 0 {
		b.InitialProtectionMs = 400
	}
	if b.GreetingProtectionMs == 0 {
		b.GreetingProtectionMs = 800
	}
	if b.PostTTSEndProtectionMs == 0 {
		b.PostTTSEndProtectionMs = 500
	}
	if b.CooldownMs == 0 {
		b.CooldownMs = 1000
	}
	if b.ProviderOutputSuppressMs == 0 {
		b.ProviderOutputSuppressMs = 600
	}
	if b.ProviderOutputSuppressExtendMs == 0 {
		b.ProviderOutputSuppressExtendMs = 300
	}
	if b.ChunkExtendMs == 0 {
		b.ChunkExtendMs = 200
	}

	// Streaming
	s := &cfg.Streaming
	if s.JitterBufferMs == 0 {
		s.JitterBufferMs = 50
	}
	if s.MinStartMs == 0 {
		s.MinStartMs = 120
	}
	if s.GreetingMinStartMs == 0 {
		s.GreetingMinStartMs = 60
	}
	if s.LowWatermarkMs == 0 {
		s.LowWatermarkMs = 80
	}
	if s.EmptyBackoffTicksMax == 0 {
		s.EmptyBackoffTicksMax = 5
	}
	if s.KeepaliveIntervalMs == 0 {
		s.KeepaliveIntervalMs = 5000
	}
	if s.ConnectionTimeoutMs == 0 {
		s.ConnectionTimeoutMs = 10000
	}
	if s.FallbackTimeoutMs == 0 {
		s.FallbackTimeoutMs = 4000
	}
	if s.ProviderGraceMs == 0 {
		s.ProviderGraceMs = 500
	}
	if s.MediaDir == "" {
		s.MediaDir = defaultMediaDir
	}
	if s.AGC.TargetRMS == 0 {
		s.AGC.TargetRMS = 4000
	}
	if s.AGC.MaxGainDB == 0 {
		s.AGC.MaxGainDB = 12
	}

	// Tools
	t := &cfg.Tools
	if t.Transfer.RingGroupContext == "" {
		t.Transfer.RingGroupContext = defaultRingGroupCtx
	}
	if t.Transfer.QueueContext == "" {
		t.Transfer.QueueContext = defaultQueueCtx
	}
	if t.Transfer.ExtensionContext == "" {
		t.Transfer.ExtensionContext = defaultExtensionCtx
	}
	if t.Attended.DialTimeoutSeconds == 0 {
		t.Attended.DialTimeoutSeconds = 30
	}
	if t.Attended.AcceptTimeoutSeconds == 0 {
		t.Attended.AcceptTimeoutSeconds = 15
	}
	if t.Attended.TTSTimeoutSeconds == 0 {
		t.Attended.TTSTimeoutSeconds = 10
	}
	if t.Attended.MOHClass == "" {
		t.Attended.MOHClass = defaultMOHClass
	}
	if t.Hangup.FarewellHangupDelaySec == 0 {
		t.Hangup.FarewellHangupDelaySec = 1.5
	}
	if t.Voicemail.Context == "" {
		t.Voicemail.Context = defaultVoicemailCtx
	}

	// LLM
	if cfg.LLM.HistoryDepth == 0 {
		cfg.LLM.HistoryDepth = defaultHistoryDepth
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
}
