package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/voxgate/voxgate/pkg/audio"
	"gopkg.in/yaml.v3"
)

// ValidKinds lists known adapter kinds per provider type. Used by [Validate]
// to warn about unrecognised kinds.
var ValidKinds = map[ProviderType][]string{
	ProviderMonolithic: {"openai_realtime"},
	ProviderSTT:        {"deepgram"},
	ProviderTTS:        {"elevenlabs"},
	ProviderLLM:        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp"},
}

// Load reads the YAML configuration file at path, expands ${VAR} references
// from the environment, and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references,
// applies defaults, and validates the result. Useful in tests where configs
// are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := expandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		// Unknown keys are warnings, not errors: retry leniently and log
		// what the strict pass rejected.
		if !isUnknownFieldError(err) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
		slog.Warn("config contains unrecognised keys", "detail", err.Error())
		cfg = &Config{}
		lenient := yaml.NewDecoder(strings.NewReader(expanded))
		if err := lenient.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv substitutes ${VAR} references from the environment. A reference
// to an unset variable expands to the empty string with a warning, so a
// missing secret surfaces in validation rather than as literal "${KEY}".
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		v, ok := os.LookupEnv(name)
		if !ok {
			slog.Warn("config references unset environment variable", "var", name)
		}
		return v
	})
}

// isUnknownFieldError reports whether err is yaml.v3's strict-mode complaint
// about fields not found in the target struct.
func isUnknownFieldError(err error) bool {
	var typeErr *yaml.TypeError
	if !errors.As(err, &typeErr) {
		return false
	}
	for _, msg := range typeErr.Errors {
		if !strings.Contains(msg, "not found in type") {
			return false
		}
	}
	return len(typeErr.Errors) > 0
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if !cfg.AudioTransport.IsValid() {
		errs = append(errs, fmt.Errorf("audio_transport %q is invalid; valid values: audiosocket, externalmedia", cfg.AudioTransport))
	}
	if !cfg.DownstreamMode.IsValid() {
		errs = append(errs, fmt.Errorf("downstream_mode %q is invalid; valid values: streaming, file", cfg.DownstreamMode))
	}

	// Asterisk
	if cfg.Asterisk.BaseURL == "" {
		errs = append(errs, errors.New("asterisk.base_url is required"))
	}
	if cfg.Asterisk.Username == "" || cfg.Asterisk.Password == "" {
		errs = append(errs, errors.New("asterisk.username and asterisk.password are required"))
	}

	// External media port range
	em := cfg.ExternalMedia
	if em.PortMin > em.PortMax {
		errs = append(errs, fmt.Errorf("external_media port range [%d, %d] is inverted", em.PortMin, em.PortMax))
	}

	// Providers
	for name, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers.%s", name)
		if !p.Type.IsValid() {
			errs = append(errs, fmt.Errorf("%s.type %q is invalid; valid values: monolithic, stt, llm, tts", prefix, p.Type))
			continue
		}
		if p.Kind == "" {
			errs = append(errs, fmt.Errorf("%s.kind is required", prefix))
		} else if known := ValidKinds[p.Type]; !slices.Contains(known, p.Kind) {
			slog.Warn("unknown provider kind, may be a typo",
				"provider", name,
				"type", string(p.Type),
				"kind", p.Kind,
				"known", known,
			)
		}
	}

	// Pipelines must reference providers of the matching type.
	for name, pl := range cfg.Pipelines {
		prefix := fmt.Sprintf("pipelines.%s", name)
		checkPipelineRef(cfg, &errs, prefix+".stt", pl.STT, ProviderSTT)
		checkPipelineRef(cfg, &errs, prefix+".llm", pl.LLM, ProviderLLM)
		checkPipelineRef(cfg, &errs, prefix+".tts", pl.TTS, ProviderTTS)
	}

	// Default provider / pipeline
	if cfg.DefaultProvider != "" {
		if _, ok := cfg.Providers[cfg.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider %q is not defined in providers", cfg.DefaultProvider))
		}
	}
	if cfg.ActivePipeline != "" {
		if _, ok := cfg.Pipelines[cfg.ActivePipeline]; !ok {
			errs = append(errs, fmt.Errorf("active_pipeline %q is not defined in pipelines", cfg.ActivePipeline))
		}
	}
	if cfg.DefaultProvider == "" && cfg.ActivePipeline == "" {
		errs = append(errs, errors.New("one of default_provider or active_pipeline must be set"))
	}

	// Contexts
	for name, c := range cfg.Contexts {
		prefix := fmt.Sprintf("contexts.%s", name)
		if c.Provider != "" {
			if _, ok := cfg.Providers[c.Provider]; !ok {
				errs = append(errs, fmt.Errorf("%s.provider %q is not defined in providers", prefix, c.Provider))
			}
		}
		if c.Pipeline != "" {
			if _, ok := cfg.Pipelines[c.Pipeline]; !ok {
				errs = append(errs, fmt.Errorf("%s.pipeline %q is not defined in pipelines", prefix, c.Pipeline))
			}
		}
		if c.Profile != "" {
			if _, err := ResolveProfile(cfg, c.Profile); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
			}
		}
	}

	// Profiles: every named profile, merged over its builtin base, must be
	// internally consistent.
	for name := range cfg.Profiles {
		if _, err := ResolveProfile(cfg, name); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := ResolveProfile(cfg, cfg.DefaultProfile); err != nil {
		errs = append(errs, fmt.Errorf("default_profile: %w", err))
	}

	// VAD
	if cfg.VAD.Aggressiveness < 0 || cfg.VAD.Aggressiveness > 3 {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d is out of range [0, 3]", cfg.VAD.Aggressiveness))
	}

	// Destinations
	for name, d := range cfg.Tools.Transfer.Destinations {
		prefix := fmt.Sprintf("tools.transfer.destinations.%s", name)
		if !d.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: extension, queue, ring_group", prefix, d.Kind))
		}
		if d.Target == "" {
			errs = append(errs, fmt.Errorf("%s.target is required", prefix))
		}
	}

	// Streaming clamps are warnings: the scheduler clamps at run time.
	s := cfg.Streaming
	if s.MinStartMs > s.JitterBufferMs*4 {
		slog.Warn("streaming.min_start_ms exceeds jitter buffer capacity and will be clamped",
			"min_start_ms", s.MinStartMs,
			"jitter_buffer_ms", s.JitterBufferMs,
		)
	}

	return errors.Join(errs...)
}

func checkPipelineRef(cfg *Config, errs *[]error, field, ref string, want ProviderType) {
	if ref == "" {
		*errs = append(*errs, fmt.Errorf("%s is required", field))
		return
	}
	p, ok := cfg.Providers[ref]
	if !ok {
		*errs = append(*errs, fmt.Errorf("%s references undefined provider %q", field, ref))
		return
	}
	if p.Type != want {
		*errs = append(*errs, fmt.Errorf("%s references provider %q of type %q, want %q", field, ref, p.Type, want))
	}
}

// ResolveProfile returns the audio profile registered under name, merging a
// config-defined profile over the builtin of the same name when both exist.
func ResolveProfile(cfg *Config, name string) (audio.Profile, error) {
	base, builtin := audio.LookupProfile(name)
	override, configured := cfg.Profiles[name]
	if !builtin && !configured {
		return audio.Profile{}, fmt.Errorf("profile %q is not defined", name)
	}
	if !builtin {
		base = audio.Profile{Name: name}
	}
	if configured {
		mergeProfile(&base, override)
	}
	if err := base.Validate(); err != nil {
		return audio.Profile{}, err
	}
	return base, nil
}

func mergeProfile(dst *audio.Profile, src ProfileConfig) {
	if src.InternalRate != 0 {
		dst.InternalRate = src.InternalRate
	}
	if src.CallerEncoding != "" {
		dst.CallerEncoding = audio.Encoding(src.CallerEncoding)
	}
	if src.CallerRate != 0 {
		dst.CallerRate = src.CallerRate
	}
	if src.ProviderInRate != 0 {
		dst.ProviderInRate = src.ProviderInRate
	}
	if src.ProviderOutEncoding != "" {
		dst.ProviderOutEncoding = audio.Encoding(src.ProviderOutEncoding)
	}
	if src.ProviderOutRate != 0 {
		dst.ProviderOutRate = src.ProviderOutRate
	}
	if src.WireOutEncoding != "" {
		dst.WireOutEncoding = audio.Encoding(src.WireOutEncoding)
	}
	if src.WireOutRate != 0 {
		dst.WireOutRate = src.WireOutRate
	}
}
