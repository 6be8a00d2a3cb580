package config

import (
	"slices"
	"strings"
	"testing"
)

func loadDiffBase(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadFromReader(strings.NewReader(resolverYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestCompareNoChanges(t *testing.T) {
	old := loadDiffBase(t)
	next := loadDiffBase(t)
	d := Compare(old, next)
	if d.Changed() {
		t.Errorf("identical configs reported changes: %+v", d)
	}
}

func TestCompareHotChanges(t *testing.T) {
	old := loadDiffBase(t)
	next := loadDiffBase(t)

	ctx := next.Contexts["default"]
	ctx.Prompt = "You are an even more helpful receptionist."
	next.Contexts["default"] = ctx
	next.LogLevel = LogDebug
	next.BargeIn.CooldownMs = 1500

	d := Compare(old, next)
	if !d.HotOnly() {
		t.Fatalf("expected hot-only diff, got %+v", d)
	}
	for _, key := range []string{"contexts", "log_level", "barge_in"} {
		if !slices.Contains(d.Hot, key) {
			t.Errorf("hot diff missing %q: %v", key, d.Hot)
		}
	}
}

func TestCompareRestartChanges(t *testing.T) {
	old := loadDiffBase(t)
	next := loadDiffBase(t)

	next.Asterisk.BaseURL = "http://10.0.0.5:8088/ari"
	next.AudioSocket.ListenAddr = "0.0.0.0:9090"

	d := Compare(old, next)
	if d.HotOnly() {
		t.Fatal("transport changes must be restart-required")
	}
	for _, key := range []string{"asterisk", "audiosocket"} {
		if !slices.Contains(d.RestartRequired, key) {
			t.Errorf("restart diff missing %q: %v", key, d.RestartRequired)
		}
	}
}

func TestStoreApplyHotChange(t *testing.T) {
	old := loadDiffBase(t)
	store := NewStore(old)

	next := loadDiffBase(t)
	dest := map[string]Destination{
		"support_agent": {Kind: DestinationExtension, Target: "6001"},
	}
	next.Tools.Transfer.Destinations = dest

	d, err := store.Apply(next)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !d.HotOnly() {
		t.Fatalf("expected hot-only diff, got %+v", d)
	}
	got := store.Snapshot().Tools.Transfer.Destinations["support_agent"]
	if got.Target != "6001" {
		t.Errorf("destination target = %q, want 6001 after swap", got.Target)
	}
}

func TestStoreApplyKeepsRestartKeys(t *testing.T) {
	old := loadDiffBase(t)
	store := NewStore(old)

	next := loadDiffBase(t)
	next.AudioSocket.ListenAddr = "0.0.0.0:9999"
	next.LogLevel = LogDebug

	d, err := store.Apply(next)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !slices.Contains(d.RestartRequired, "audiosocket") {
		t.Fatalf("diff = %+v, want audiosocket restart-required", d)
	}
	snap := store.Snapshot()
	if snap.AudioSocket.ListenAddr != old.AudioSocket.ListenAddr {
		t.Error("restart-required key must not be applied live")
	}
	if snap.LogLevel != LogDebug {
		t.Error("hot key should still be applied")
	}
}

func TestStoreApplyRejectsInvalid(t *testing.T) {
	store := NewStore(loadDiffBase(t))
	next := loadDiffBase(t)
	next.Asterisk.BaseURL = ""
	if _, err := store.Apply(next); err == nil {
		t.Fatal("expected validation error on reload")
	}
}
