package playback

import (
	"math"

	"github.com/voxgate/voxgate/pkg/audio"
)

// silenceRMSFloor is the RMS level below which a frame is treated as
// silence and does not move the gain.
const silenceRMSFloor = 100

// AGC is a single-pole automatic gain control. It nudges short-term RMS
// toward a target level, with the applied gain clipped to a configured
// ceiling. Process operates on PCM16 bytes in place, one 20 ms frame at a
// time.
type AGC struct {
	targetRMS float64
	maxGain   float64 // linear
	alpha     float64 // smoothing factor per frame
	gain      float64 // smoothed linear gain

	scratch []int16
}

// NewAGC creates a gain control targeting targetRMS with gain clipped to
// maxGainDB decibels.
func NewAGC(targetRMS float64, maxGainDB float64) *AGC {
	return &AGC{
		targetRMS: targetRMS,
		maxGain:   math.Pow(10, maxGainDB/20),
		alpha:     0.2,
		gain:      1,
	}
}

// Process applies the current gain to one PCM16 frame in place and updates
// the smoothed gain from the frame's RMS. Near-silent frames leave the gain
// untouched so noise is not pumped up between words.
func (a *AGC) Process(pcm []byte) {
	if len(pcm) < 2 {
		return
	}
	a.scratch = audio.BytesToPCM16(a.scratch[:0], pcm)

	rms := audio.RMS(a.scratch)
	if rms >= silenceRMSFloor {
		desired := a.targetRMS / rms
		if desired > a.maxGain {
			desired = a.maxGain
		}
		if desired < 1/a.maxGain {
			desired = 1 / a.maxGain
		}
		a.gain += a.alpha * (desired - a.gain)
	}

	for i, s := range a.scratch {
		v := float64(s) * a.gain
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		a.scratch[i] = int16(v)
	}
	audio.PCM16ToBytes(pcm[:0], a.scratch)
}

// Gain returns the current smoothed linear gain.
func (a *AGC) Gain() float64 { return a.gain }
