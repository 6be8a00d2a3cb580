package config

import (
	"strings"
	"testing"
)

const resolverYAML = `
asterisk:
  base_url: http://127.0.0.1:8088/ari
  username: u
  password: p
default_provider: openai
active_pipeline: local_hybrid
providers:
  openai:
    type: monolithic
    kind: openai_realtime
  off:
    type: monolithic
    kind: openai_realtime
    disabled: true
  dg:
    type: stt
    kind: deepgram
  gpt:
    type: llm
    kind: openai
  el:
    type: tts
    kind: elevenlabs
pipelines:
  local_hybrid:
    stt: dg
    llm: gpt
    tts: el
contexts:
  default:
    greeting: "Hello, how can I help?"
    prompt: "You are a helpful receptionist."
  sales_queue:
    prompt: "You are a sales assistant."
    pipeline: local_hybrid
    profile: telephony_responsive
`

func loadResolverConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadFromReader(strings.NewReader(resolverYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestResolveDefaults(t *testing.T) {
	cfg := loadResolverConfig(t)
	r, err := Resolve(cfg, CallVars{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !r.Monolithic() || r.ProviderName != "openai" {
		t.Errorf("provider = %q (monolithic %v), want openai", r.ProviderName, r.Monolithic())
	}
	if r.ContextName != "default" {
		t.Errorf("context = %q, want default", r.ContextName)
	}
	if r.Profile.Name != "telephony_ulaw_8k" {
		t.Errorf("profile = %q, want telephony_ulaw_8k", r.Profile.Name)
	}
	if r.Greeting != "Hello, how can I help?" {
		t.Errorf("greeting = %q", r.Greeting)
	}
}

func TestResolveContextPipeline(t *testing.T) {
	cfg := loadResolverConfig(t)
	r, err := Resolve(cfg, CallVars{Context: "sales_queue"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Monolithic() {
		t.Error("expected a pipeline resolution")
	}
	if r.PipelineName != "local_hybrid" {
		t.Errorf("pipeline = %q, want local_hybrid", r.PipelineName)
	}
	if r.Profile.Name != "telephony_responsive" {
		t.Errorf("profile = %q, want telephony_responsive", r.Profile.Name)
	}
}

func TestResolveChannelVarWins(t *testing.T) {
	cfg := loadResolverConfig(t)
	r, err := Resolve(cfg, CallVars{
		Context:  "sales_queue",
		Provider: "openai",
		Greeting: "Custom greeting.",
		Persona:  "Custom persona.",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.ProviderName != "openai" {
		t.Errorf("provider = %q, channel var should win over context pipeline", r.ProviderName)
	}
	if r.Greeting != "Custom greeting." || r.Persona != "Custom persona." {
		t.Errorf("greeting/persona = %q/%q, want channel var overrides", r.Greeting, r.Persona)
	}
}

func TestResolveDisabledProvider(t *testing.T) {
	cfg := loadResolverConfig(t)
	if _, err := Resolve(cfg, CallVars{Provider: "off"}); err == nil {
		t.Fatal("expected error for disabled provider")
	}
}

func TestResolveUnknownContext(t *testing.T) {
	cfg := loadResolverConfig(t)
	if _, err := Resolve(cfg, CallVars{Context: "no_such_context"}); err == nil {
		t.Fatal("expected error for unknown context")
	}
}
