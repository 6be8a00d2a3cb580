package endpoint

import "time"

// Watchdog backs up provider-owned VAD. When the monolithic provider is
// authoritative for turn-taking, the engine VAD stays out of the way; the
// watchdog only forces an audio release after a long provider silence so a
// stuck turn detector cannot deadlock the call.
type Watchdog struct {
	interval    time.Duration
	lastSignal  time.Time
	lastRelease time.Time
}

// NewWatchdog creates a watchdog firing after interval of provider silence.
func NewWatchdog(intervalMs int) *Watchdog {
	return &Watchdog{interval: time.Duration(intervalMs) * time.Millisecond}
}

// ProviderSignaled records provider activity (transcript, turn end, audio)
// at now, resetting the silence clock.
func (w *Watchdog) ProviderSignaled(now time.Time) {
	w.lastSignal = now
}

// ShouldRelease reports whether the watchdog fires at now. It re-arms
// itself so a continuing silence fires once per interval.
func (w *Watchdog) ShouldRelease(now time.Time) bool {
	anchor := w.lastSignal
	if w.lastRelease.After(anchor) {
		anchor = w.lastRelease
	}
	if anchor.IsZero() {
		w.lastRelease = now
		return false
	}
	if now.Sub(anchor) >= w.interval {
		w.lastRelease = now
		return true
	}
	return false
}
