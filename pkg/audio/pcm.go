package audio

import (
	"encoding/binary"
	"math"
)

// BytesToPCM16 decodes little-endian PCM16 bytes into dst and returns the
// slice written to. dst is grown when too small, so a nil scratch slice is
// fine; reusing the returned slice keeps the frame path allocation free.
// Trailing odd bytes are dropped.
func BytesToPCM16(dst []int16, data []byte) []int16 {
	n := len(data) / 2
	dst = growPCM(dst, n)
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return dst
}

// PCM16ToBytes encodes samples as little-endian PCM16 into dst and returns
// the slice written to. dst is grown when too small.
func PCM16ToBytes(dst []byte, pcm []int16) []byte {
	dst = growBytes(dst, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
	return dst
}

func growPCM(dst []int16, n int) []int16 {
	if cap(dst) < n {
		return make([]int16, n)
	}
	return dst[:n]
}

func growBytes(dst []byte, n int) []byte {
	if cap(dst) < n {
		return make([]byte, n)
	}
	return dst[:n]
}

// RMS returns the root-mean-square amplitude of the frame, in the PCM16
// sample domain. An empty frame has RMS zero.
func RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(pcm)))
}
