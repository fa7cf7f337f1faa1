package audioengine

import (
	"encoding/binary"
	"math"
)

// encodeFloat32LE writes each sample in src as a little-endian IEEE-754
// float32 into dst, matching malgo.FormatF32's wire layout. dst must be at
// least 4*len(src) bytes.
func encodeFloat32LE(src []float32, dst []byte) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

// decodeFloat32LE is encodeFloat32LE's inverse, used by the WAV decoder
// for PCM float32 source data.
func decodeFloat32LE(src []byte, dst []float32) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
}
