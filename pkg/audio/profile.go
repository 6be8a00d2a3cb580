package audio

import "fmt"

// Profile is the set of negotiated formats for one call. It pins what the
// PBX sends, what the provider expects to receive and emits, and what gets
// written back on the wire. Every rate pair in a profile is an integer-ratio
// resampling.
type Profile struct {
	// Name is the key the profile was registered under.
	Name string

	// InternalRate is the PCM16 sample rate the engine processes at.
	InternalRate int

	// CallerEncoding and CallerRate describe frames arriving from the PBX.
	CallerEncoding Encoding
	CallerRate     int

	// ProviderInRate is the PCM16 rate forwarded to the provider.
	ProviderInRate int

	// ProviderOutEncoding and ProviderOutRate describe agent audio received
	// from the provider.
	ProviderOutEncoding Encoding
	ProviderOutRate     int

	// WireOutEncoding and WireOutRate describe frames written back to the
	// PBX for playout.
	WireOutEncoding Encoding
	WireOutRate     int
}

// Builtin profiles. Custom profiles may be layered on top via configuration;
// these cover the common Asterisk deployments.
var builtinProfiles = map[string]Profile{
	"telephony_ulaw_8k": {
		Name:                "telephony_ulaw_8k",
		InternalRate:        8000,
		CallerEncoding:      EncodingULaw,
		CallerRate:          8000,
		ProviderInRate:      8000,
		ProviderOutEncoding: EncodingSLin,
		ProviderOutRate:     8000,
		WireOutEncoding:     EncodingULaw,
		WireOutRate:         8000,
	},
	// telephony_responsive keeps the 8 kHz wire but forwards 16 kHz PCM to
	// the provider, which most realtime STT models transcribe noticeably
	// better than narrowband.
	"telephony_responsive": {
		Name:                "telephony_responsive",
		InternalRate:        16000,
		CallerEncoding:      EncodingULaw,
		CallerRate:          8000,
		ProviderInRate:      16000,
		ProviderOutEncoding: EncodingSLin16,
		ProviderOutRate:     16000,
		WireOutEncoding:     EncodingULaw,
		WireOutRate:         8000,
	},
	"wideband_pcm_16k": {
		Name:                "wideband_pcm_16k",
		InternalRate:        16000,
		CallerEncoding:      EncodingSLin16,
		CallerRate:          16000,
		ProviderInRate:      16000,
		ProviderOutEncoding: EncodingSLin16,
		ProviderOutRate:     16000,
		WireOutEncoding:     EncodingSLin16,
		WireOutRate:         16000,
	},
	// openai_realtime_24k matches the native 24 kHz PCM of the OpenAI
	// Realtime API so no resampling happens on the provider leg.
	"openai_realtime_24k": {
		Name:                "openai_realtime_24k",
		InternalRate:        24000,
		CallerEncoding:      EncodingULaw,
		CallerRate:          8000,
		ProviderInRate:      24000,
		ProviderOutEncoding: EncodingSLin24,
		ProviderOutRate:     24000,
		WireOutEncoding:     EncodingULaw,
		WireOutRate:         8000,
	},
}

// LookupProfile returns the builtin profile registered under name.
func LookupProfile(name string) (Profile, bool) {
	p, ok := builtinProfiles[name]
	return p, ok
}

// BuiltinProfileNames lists the names of all builtin profiles. The order is
// unspecified.
func BuiltinProfileNames() []string {
	names := make([]string, 0, len(builtinProfiles))
	for name := range builtinProfiles {
		names = append(names, name)
	}
	return names
}

// Validate checks that the profile's fields are internally consistent and
// that every rate pair divides evenly.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("audio: profile has no name")
	}
	for _, enc := range []Encoding{p.CallerEncoding, p.ProviderOutEncoding, p.WireOutEncoding} {
		if !enc.IsValid() {
			return fmt.Errorf("audio: profile %q: unknown encoding %q", p.Name, enc)
		}
	}
	rates := []int{p.InternalRate, p.CallerRate, p.ProviderInRate, p.ProviderOutRate, p.WireOutRate}
	for _, rate := range rates {
		if rate <= 0 {
			return fmt.Errorf("audio: profile %q: non-positive sample rate %d", p.Name, rate)
		}
		if rate%50 != 0 {
			return fmt.Errorf("audio: profile %q: rate %d does not divide into 20 ms frames", p.Name, rate)
		}
	}
	for _, pair := range [][2]int{
		{p.CallerRate, p.InternalRate},
		{p.InternalRate, p.ProviderInRate},
		{p.ProviderOutRate, p.InternalRate},
		{p.InternalRate, p.WireOutRate},
	} {
		lo, hi := pair[0], pair[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		if hi%lo != 0 {
			return fmt.Errorf("audio: profile %q: %d and %d are not an integer ratio", p.Name, pair[0], pair[1])
		}
	}
	return nil
}
