package config

import "reflect"

// Diff describes what changed between two configs, classified by whether the
// change can be applied to a running process. Hot changes take effect for
// new calls on the next snapshot swap; restart-required changes are reported
// to the operator and left unapplied.
type Diff struct {
	// Hot lists config keys whose new values can be applied live: contexts,
	// prompts, tool settings, destinations, non-audio VAD and barge-in
	// parameters, LLM tuning, and the log level.
	Hot []string

	// RestartRequired lists keys whose new values need a process restart:
	// transports, ports, profiles, provider credentials, and the admin and
	// call-log wiring.
	RestartRequired []string
}

// Changed reports whether the two configs differ at all.
func (d Diff) Changed() bool {
	return len(d.Hot) > 0 || len(d.RestartRequired) > 0
}

// HotOnly reports whether every change can be applied without restart.
func (d Diff) HotOnly() bool {
	return len(d.Hot) > 0 && len(d.RestartRequired) == 0
}

// Compare diffs old against next and classifies every changed key.
func Compare(old, next *Config) Diff {
	var d Diff

	hot := func(key string, changed bool) {
		if changed {
			d.Hot = append(d.Hot, key)
		}
	}
	restart := func(key string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}

	hot("log_level", old.LogLevel != next.LogLevel)
	hot("default_context", old.DefaultContext != next.DefaultContext)
	hot("contexts", !reflect.DeepEqual(old.Contexts, next.Contexts))
	hot("tools", !reflect.DeepEqual(old.Tools, next.Tools))
	hot("llm", old.LLM != next.LLM)
	hot("vad", old.VAD != next.VAD)
	hot("barge_in", old.BargeIn != next.BargeIn)

	restart("asterisk", old.Asterisk != next.Asterisk)
	restart("audiosocket", old.AudioSocket != next.AudioSocket)
	restart("external_media", old.ExternalMedia != next.ExternalMedia)
	restart("audio_transport", old.AudioTransport != next.AudioTransport)
	restart("downstream_mode", old.DownstreamMode != next.DownstreamMode)
	restart("default_provider", old.DefaultProvider != next.DefaultProvider)
	restart("active_pipeline", old.ActivePipeline != next.ActivePipeline)
	restart("default_profile", old.DefaultProfile != next.DefaultProfile)
	restart("providers", !reflect.DeepEqual(old.Providers, next.Providers))
	restart("pipelines", !reflect.DeepEqual(old.Pipelines, next.Pipelines))
	restart("profiles", !reflect.DeepEqual(old.Profiles, next.Profiles))
	restart("streaming", !reflect.DeepEqual(old.Streaming, next.Streaming))
	restart("call_log", old.CallLog != next.CallLog)
	restart("admin", old.Admin != next.Admin)

	return d
}
