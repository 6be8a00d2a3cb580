package audio

// G.711 µ-law and A-law codecs. Decode is a 256-entry table lookup; encode
// walks the segment boundaries directly. Both directions are branch-light and
// allocation free so they can sit on the 20 ms frame path.

const (
	ulawBias = 0x84
	ulawClip = 32635

	alawAmiMask = 0x55
	alawClip    = 32635
)

var ulawDecodeTable [256]int16

var alawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		ulawDecodeTable[i] = decodeULawSample(byte(i))
		alawDecodeTable[i] = decodeALawSample(byte(i))
	}
}

func decodeULawSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0f
	sample := (int16(mantissa)<<3 + ulawBias) << exponent
	sample -= ulawBias
	if sign != 0 {
		return -sample
	}
	return sample
}

func decodeALawSample(a byte) int16 {
	a ^= alawAmiMask
	sign := a & 0x80
	exponent := (a >> 4) & 0x07
	mantissa := a & 0x0f
	var sample int16
	if exponent == 0 {
		sample = int16(mantissa)<<4 + 8
	} else {
		sample = (int16(mantissa)<<4 + 0x108) << (exponent - 1)
	}
	if sign != 0 {
		return sample
	}
	return -sample
}

// EncodeULawSample converts one PCM16 sample to its µ-law byte.
func EncodeULawSample(pcm int16) byte {
	sign := byte(0)
	sample := int32(pcm)
	if sample < 0 {
		sample = -sample
		sign = 0x80
	}
	if sample > ulawClip {
		sample = ulawClip
	}
	sample += ulawBias

	exponent := byte(7)
	for mask := int32(0x4000); mask != 0 && sample&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(sample>>(exponent+3)) & 0x0f
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeULawSample converts one µ-law byte to its PCM16 sample.
func DecodeULawSample(u byte) int16 {
	return ulawDecodeTable[u]
}

// EncodeALawSample converts one PCM16 sample to its A-law byte.
func EncodeALawSample(pcm int16) byte {
	sign := byte(0x80)
	sample := int32(pcm)
	if sample < 0 {
		sample = -sample - 1
		sign = 0
	}
	if sample > alawClip {
		sample = alawClip
	}

	var compressed byte
	if sample >= 256 {
		exponent := byte(7)
		for mask := int32(0x4000); mask != 0 && sample&mask == 0; mask >>= 1 {
			exponent--
		}
		mantissa := byte(sample>>(exponent+3)) & 0x0f
		compressed = exponent<<4 | mantissa
	} else {
		compressed = byte(sample >> 4)
	}
	return (sign | compressed) ^ alawAmiMask
}

// DecodeALawSample converts one A-law byte to its PCM16 sample.
func DecodeALawSample(a byte) int16 {
	return alawDecodeTable[a]
}

// EncodeULaw encodes pcm into dst and returns the slice written to. dst is
// grown when too small, so a nil scratch slice is fine.
func EncodeULaw(dst []byte, pcm []int16) []byte {
	dst = growBytes(dst, len(pcm))
	for i, s := range pcm {
		dst[i] = EncodeULawSample(s)
	}
	return dst
}

// DecodeULaw decodes data into dst and returns the slice written to. dst is
// grown when too small.
func DecodeULaw(dst []int16, data []byte) []int16 {
	dst = growPCM(dst, len(data))
	for i, b := range data {
		dst[i] = ulawDecodeTable[b]
	}
	return dst
}

// EncodeALaw encodes pcm into dst and returns the slice written to. dst is
// grown when too small.
func EncodeALaw(dst []byte, pcm []int16) []byte {
	dst = growBytes(dst, len(pcm))
	for i, s := range pcm {
		dst[i] = EncodeALawSample(s)
	}
	return dst
}

// DecodeALaw decodes data into dst and returns the slice written to. dst is
// grown when too small.
func DecodeALaw(dst []int16, data []byte) []int16 {
	dst = growPCM(dst, len(data))
	for i, b := range data {
		dst[i] = alawDecodeTable[b]
	}
	return dst
}
