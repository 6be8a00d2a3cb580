package endpoint

import (
	"github.com/voxgate/voxgate/pkg/audio"
)

// Classifier is a WebRTC-style voiced/unvoiced frame classifier. It scores
// each 20 ms frame on energy and zero-crossing rate; aggressiveness 0..3
// shifts the decision boundary toward unvoiced, trading missed speech for
// fewer false triggers.
type Classifier struct {
	aggressiveness int
	energyGate     float64
	zcrCeiling     float64
	scratch        []int16
}

// classifier decision boundaries per aggressiveness level. Voiced speech at
// telephony rates sits above the energy gate and below the zero-crossing
// ceiling; fricative-heavy noise fails the ZCR test.
var classifierLevels = [4]struct {
	energyGate float64
	zcrCeiling float64
}{
	{energyGate: 250, zcrCeiling: 0.50},
	{energyGate: 400, zcrCeiling: 0.42},
	{energyGate: 650, zcrCeiling: 0.35},
	{energyGate: 1000, zcrCeiling: 0.28},
}

// NewClassifier creates a classifier with aggressiveness 0 (least
// aggressive) through 3 (most aggressive). Out-of-range values are clamped.
func NewClassifier(aggressiveness int) *Classifier {
	if aggressiveness < 0 {
		aggressiveness = 0
	}
	if aggressiveness > 3 {
		aggressiveness = 3
	}
	level := classifierLevels[aggressiveness]
	return &Classifier{
		aggressiveness: aggressiveness,
		energyGate:     level.energyGate,
		zcrCeiling:     level.zcrCeiling,
	}
}

// Voiced classifies one PCM16 frame.
func (c *Classifier) Voiced(pcm []byte) bool {
	c.scratch = audio.BytesToPCM16(c.scratch[:0], pcm)
	if len(c.scratch) == 0 {
		return false
	}

	rms := audio.RMS(c.scratch)
	if rms < c.energyGate {
		return false
	}

	crossings := 0
	for i := 1; i < len(c.scratch); i++ {
		if (c.scratch[i-1] >= 0) != (c.scratch[i] >= 0) {
			crossings++
		}
	}
	zcr := float64(crossings) / float64(len(c.scratch))

	// High-energy, high-ZCR frames look like broadband noise; require
	// proportionally more energy as ZCR approaches the ceiling.
	if zcr > c.zcrCeiling {
		return rms >= c.energyGate*(1+4*(zcr-c.zcrCeiling))
	}
	return true
}

// Aggressiveness returns the clamped configured level.
func (c *Classifier) Aggressiveness() int { return c.aggressiveness }
