package audio

import "fmt"

// Resampler converts mono PCM16 between two fixed sample rates using linear
// interpolation. It keeps the fractional phase and the last input sample
// across calls so that consecutive 20 ms frames resample without boundary
// clicks, and it reuses its output buffer so steady-state operation does not
// allocate.
//
// Linear interpolation is adequate for telephony speech. The upstream codecs
// already bandlimit to 3.4 kHz, so a polyphase filter would buy nothing here.
type Resampler struct {
	inRate  int
	outRate int

	// phase is the position of the next output sample expressed in input
	// samples, scaled by outRate to stay integral.
	phase  int64
	last   int16
	primed bool

	out []int16
}

// NewResampler returns a resampler converting from inRate to outRate Hz.
func NewResampler(inRate, outRate int) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", inRate, outRate)
	}
	return &Resampler{inRate: inRate, outRate: outRate}, nil
}

// Passthrough reports whether the resampler is an identity conversion.
func (r *Resampler) Passthrough() bool { return r.inRate == r.outRate }

// Process resamples in and returns the converted samples. The returned slice
// is owned by the resampler and valid until the next call. For the identity
// conversion the input slice is returned unchanged.
func (r *Resampler) Process(in []int16) []int16 {
	if r.inRate == r.outRate {
		return in
	}
	if len(in) == 0 {
		return r.out[:0]
	}
	if !r.primed {
		r.last = in[0]
		r.primed = true
	}

	// Worst-case output count for this input, plus one for phase carry.
	maxOut := len(in)*r.outRate/r.inRate + 2
	if cap(r.out) < maxOut {
		r.out = make([]int16, 0, maxOut)
	}
	out := r.out[:0]

	// Input sample index k covers the span [k-1, k] relative to r.last at
	// k == 0. phase counts in units of 1/outRate input samples.
	step := int64(r.inRate)
	limit := int64(len(in)) * int64(r.outRate)
	for r.phase < limit {
		idx := r.phase / int64(r.outRate)
		frac := r.phase % int64(r.outRate)

		var s0, s1 int16
		if idx == 0 {
			s0 = r.last
		} else {
			s0 = in[idx-1]
		}
		s1 = in[idx]

		v := int64(s0)*(int64(r.outRate)-frac) + int64(s1)*frac
		out = append(out, int16(v/int64(r.outRate)))
		r.phase += step
	}
	r.phase -= limit
	r.last = in[len(in)-1]
	r.out = out
	return out
}

// Reset clears the carried phase and history, as when a new stream begins.
func (r *Resampler) Reset() {
	r.phase = 0
	r.last = 0
	r.primed = false
}
