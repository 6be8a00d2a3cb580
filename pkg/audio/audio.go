// Package audio provides the PCM frame types, telephony codecs, and sample-rate
// conversion used on the media hot path.
//
// All audio inside the engine is little-endian signed 16-bit mono PCM. The
// package converts between that internal representation and the wire encodings
// spoken by the PBX (µ-law, A-law, linear PCM at 8/16/24 kHz). Conversions are
// designed for a 20 ms frame cadence: the µ-law and A-law codecs are table
// driven and the resampler reuses its output buffer, so the per-frame path does
// not allocate.
package audio

import "time"

// FrameDuration is the wire cadence of the media path. Every transport emits
// and consumes one frame per tick.
const FrameDuration = 20 * time.Millisecond

// Encoding identifies an audio payload encoding as negotiated with the PBX.
type Encoding string

const (
	// EncodingULaw is G.711 µ-law at 8 kHz, one byte per sample.
	EncodingULaw Encoding = "ulaw"

	// EncodingALaw is G.711 A-law at 8 kHz, one byte per sample.
	EncodingALaw Encoding = "alaw"

	// EncodingSLin is signed linear PCM16 at 8 kHz.
	EncodingSLin Encoding = "slin"

	// EncodingSLin16 is signed linear PCM16 at 16 kHz.
	EncodingSLin16 Encoding = "slin16"

	// EncodingSLin24 is signed linear PCM16 at 24 kHz.
	EncodingSLin24 Encoding = "slin24"
)

// IsValid reports whether e is a recognised encoding.
func (e Encoding) IsValid() bool {
	switch e {
	case EncodingULaw, EncodingALaw, EncodingSLin, EncodingSLin16, EncodingSLin24:
		return true
	}
	return false
}

// SampleRate returns the sample rate implied by the encoding in Hz.
func (e Encoding) SampleRate() int {
	switch e {
	case EncodingSLin16:
		return 16000
	case EncodingSLin24:
		return 24000
	default:
		return 8000
	}
}

// BytesPerSample returns the wire width of one sample for the encoding.
func (e Encoding) BytesPerSample() int {
	switch e {
	case EncodingULaw, EncodingALaw:
		return 1
	default:
		return 2
	}
}

// FrameBytes returns the wire size of one 20 ms frame for the encoding.
func (e Encoding) FrameBytes() int {
	samples := e.SampleRate() / 50
	return samples * e.BytesPerSample()
}

// SamplesPerFrame returns the number of samples in one 20 ms frame at rate Hz.
func SamplesPerFrame(rate int) int {
	return rate / 50
}

// FrameBytesPCM16 returns the byte size of one 20 ms PCM16 mono frame at rate Hz.
func FrameBytesPCM16(rate int) int {
	return SamplesPerFrame(rate) * 2
}
