package config

import (
	"fmt"

	"github.com/voxgate/voxgate/pkg/audio"
)

// CallVars carries the per-call channel variables set by the PBX dialplan.
// Empty fields fall back to configured defaults during resolution.
type CallVars struct {
	Provider string // AI_PROVIDER
	Context  string // AI_CONTEXT
	Profile  string // AI_AUDIO_PROFILE
	Greeting string // AI_GREETING
	Persona  string // AI_PERSONA
}

// Resolved is the outcome of per-call resolution: the context, the provider
// or pipeline that will run the call, and the negotiated audio profile.
type Resolved struct {
	// ContextName and Context are the selected context bundle.
	ContextName string
	Context     ContextConfig

	// ProviderName is set when the call runs on a monolithic provider.
	ProviderName string
	Provider     ProviderConfig

	// PipelineName and Pipeline are set when the call runs on a modular
	// pipeline; ProviderName is then empty.
	PipelineName string
	Pipeline     PipelineConfig

	// Profile is the fully merged audio profile.
	Profile audio.Profile

	// Greeting and Persona are the effective values after the channel-var
	// override is applied.
	Greeting string
	Persona  string
}

// Monolithic reports whether the call runs on a single duplex provider.
func (r *Resolved) Monolithic() bool { return r.ProviderName != "" }

// Resolve selects the context, provider (or pipeline), and audio profile for
// one call. Resolution order, first match wins: per-call channel variable,
// the context's declared override, then the global default. A disabled or
// missing resolved provider fails resolution before any audio is committed.
func Resolve(cfg *Config, vars CallVars) (*Resolved, error) {
	r := &Resolved{}

	// Context
	r.ContextName = firstNonEmpty(vars.Context, cfg.DefaultContext)
	if ctx, ok := cfg.Contexts[r.ContextName]; ok {
		r.Context = ctx
	} else if vars.Context != "" {
		return nil, fmt.Errorf("config: context %q is not defined", vars.Context)
	}

	// Provider or pipeline. An explicit pipeline in the context wins over
	// the provider chain; a channel-var provider wins over both.
	providerName := firstNonEmpty(vars.Provider, r.Context.Provider, cfg.DefaultProvider)
	switch {
	case vars.Provider == "" && r.Context.Pipeline != "":
		r.PipelineName = r.Context.Pipeline
	case providerName == "" && cfg.ActivePipeline != "":
		r.PipelineName = cfg.ActivePipeline
	default:
		p, ok := cfg.Providers[providerName]
		if !ok {
			return nil, fmt.Errorf("config: provider %q is not defined", providerName)
		}
		if p.Disabled {
			return nil, fmt.Errorf("config: provider %q is disabled", providerName)
		}
		if p.Type == ProviderMonolithic {
			r.ProviderName = providerName
			r.Provider = p
		} else {
			// A component provider name selects the active pipeline that
			// uses it, which in practice means the global one.
			if cfg.ActivePipeline == "" {
				return nil, fmt.Errorf("config: provider %q is a pipeline component but no active_pipeline is set", providerName)
			}
			r.PipelineName = cfg.ActivePipeline
		}
	}
	if r.PipelineName != "" {
		pl, ok := cfg.Pipelines[r.PipelineName]
		if !ok {
			return nil, fmt.Errorf("config: pipeline %q is not defined", r.PipelineName)
		}
		r.Pipeline = pl
	}

	// Audio profile
	profileName := firstNonEmpty(vars.Profile, r.Context.Profile, cfg.DefaultProfile)
	profile, err := ResolveProfile(cfg, profileName)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	r.Profile = profile

	r.Greeting = firstNonEmpty(vars.Greeting, r.Context.Greeting)
	r.Persona = firstNonEmpty(vars.Persona, r.Context.Prompt)

	return r, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
