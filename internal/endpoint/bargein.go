package endpoint

import "time"

// BargeInConfig holds the protection windows, in milliseconds.
type BargeInConfig struct {
	InitialProtectionMs  int
	GreetingProtectionMs int
	PostTTSProtectionMs  int
	CooldownMs           int

	// Suppression of late provider chunks after a barge-in.
	SuppressMs       int
	SuppressExtendMs int
	ChunkExtendMs    int
}

// BargeInGate decides whether a confirmed speech start during agent
// playback may interrupt it, and tracks the post-barge-in suppression
// window for late provider output. Callers pass the current time so the
// gate stays deterministic under test.
type BargeInGate struct {
	cfg BargeInConfig

	responseStart time.Time
	responseEnd   time.Time
	lastBargeIn   time.Time
	greeting      bool
	responding    bool

	suppressUntil time.Time
}

// NewBargeInGate creates a gate.
func NewBargeInGate(cfg BargeInConfig) *BargeInGate {
	return &BargeInGate{cfg: cfg}
}

// ResponseStarted records that agent playback began. greeting selects the
// longer greeting protection window.
func (g *BargeInGate) ResponseStarted(now time.Time, greeting bool) {
	g.responseStart = now
	g.greeting = greeting
	g.responding = true
}

// ResponseEnded records that the last frame of a response left the wire,
// opening the post-TTS protection window.
func (g *BargeInGate) ResponseEnded(now time.Time) {
	g.responseEnd = now
	g.responding = false
}

// Allowed reports whether a confirmed speech start at now may trigger a
// barge-in. All three windows and the cooldown must have elapsed.
func (g *BargeInGate) Allowed(now time.Time) bool {
	if !g.responding {
		return false
	}

	protection := time.Duration(g.cfg.InitialProtectionMs) * time.Millisecond
	if g.greeting {
		if gp := time.Duration(g.cfg.GreetingProtectionMs) * time.Millisecond; gp > protection {
			protection = gp
		}
	}
	if now.Sub(g.responseStart) < protection {
		return false
	}

	if !g.responseEnd.IsZero() {
		postTTS := time.Duration(g.cfg.PostTTSProtectionMs) * time.Millisecond
		if now.Sub(g.responseEnd) < postTTS {
			return false
		}
	}

	if !g.lastBargeIn.IsZero() {
		cooldown := time.Duration(g.cfg.CooldownMs) * time.Millisecond
		if now.Sub(g.lastBargeIn) < cooldown {
			return false
		}
	}
	return true
}

// RecordBargeIn marks a barge-in at now and opens the provider-output
// suppression window.
func (g *BargeInGate) RecordBargeIn(now time.Time) {
	g.lastBargeIn = now
	g.responding = false
	g.suppressUntil = now.Add(time.Duration(g.cfg.SuppressMs) * time.Millisecond)
}

// Suppressed reports whether provider-originated chunks arriving at now
// should still be dropped.
func (g *BargeInGate) Suppressed(now time.Time) bool {
	return now.Before(g.suppressUntil)
}

// ExtendForSpeech pushes the suppression window while the caller keeps
// speaking.
func (g *BargeInGate) ExtendForSpeech(now time.Time) {
	g.extend(now, g.cfg.SuppressExtendMs)
}

// ExtendForChunk pushes the suppression window while stale chunks keep
// arriving.
func (g *BargeInGate) ExtendForChunk(now time.Time) {
	g.extend(now, g.cfg.ChunkExtendMs)
}

func (g *BargeInGate) extend(now time.Time, ms int) {
	if g.suppressUntil.IsZero() || !now.Before(g.suppressUntil) {
		return
	}
	until := now.Add(time.Duration(ms) * time.Millisecond)
	if until.After(g.suppressUntil) {
		g.suppressUntil = until
	}
}
