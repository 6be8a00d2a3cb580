// Package endpoint decides when the caller is speaking. An energy detector
// and a frame classifier cooperate to confirm speech starts and ends; the
// barge-in gate applies the protection windows that keep agent playback from
// triggering on itself.
package endpoint

import (
	"github.com/voxgate/voxgate/pkg/audio"
)

// EnergyConfig tunes the RMS detector.
type EnergyConfig struct {
	// Threshold is the RMS level above which a frame counts as voiced.
	Threshold float64

	// Adaptive enables noise-floor tracking: the effective threshold rides
	// above a low-passed estimate of the background level.
	Adaptive bool

	// AdaptationRate is the per-second low-pass coefficient for the noise
	// floor, 0 < rate <= 1.
	AdaptationRate float64
}

// EnergyDetector computes windowed RMS over PCM16 frames and reports
// voiced/unvoiced against a fixed or adaptive threshold.
type EnergyDetector struct {
	cfg        EnergyConfig
	noiseFloor float64
	perFrame   float64 // adaptation coefficient per 20 ms frame
	scratch    []int16
}

// NewEnergyDetector creates a detector.
func NewEnergyDetector(cfg EnergyConfig) *EnergyDetector {
	rate := cfg.AdaptationRate
	if rate <= 0 || rate > 1 {
		rate = 0.2
	}
	return &EnergyDetector{
		cfg:      cfg,
		perFrame: rate / 50, // 50 frames per second
	}
}

// Feed processes one PCM16 frame and reports whether it is voiced. Unvoiced
// frames feed the noise-floor estimate when adaptation is on.
func (d *EnergyDetector) Feed(pcm []byte) bool {
	d.scratch = audio.BytesToPCM16(d.scratch[:0], pcm)
	rms := audio.RMS(d.scratch)

	threshold := d.cfg.Threshold
	if d.cfg.Adaptive {
		if adaptive := d.noiseFloor * 2.5; adaptive > threshold {
			threshold = adaptive
		}
	}

	voiced := rms >= threshold
	if d.cfg.Adaptive && !voiced {
		d.noiseFloor += d.perFrame * (rms - d.noiseFloor)
	}
	return voiced
}

// NoiseFloor returns the current background-level estimate.
func (d *EnergyDetector) NoiseFloor() float64 { return d.noiseFloor }
