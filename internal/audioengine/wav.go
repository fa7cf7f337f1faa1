package audioengine

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	wavFormatPCM       = 1
	wavFormatIEEEFloat = 3
)

// DecodeAudioData synchronously decodes a WAV file into a Buffer (spec.md
// §4.7 "decodeAudioData(bytes) synchronously returns a buffer; supports
// WAV (PCM float32, PCM int16, PCM uint8) at minimum"). Channel data is
// de-interleaved into one []float32 per channel, normalized to [-1, 1]
// for integer sample formats.
func (c *Context) DecodeAudioData(data []byte) (*Buffer, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("audioengine: not a RIFF/WAVE file")
	}

	var (
		format        uint16
		channels      uint16
		sampleRate    uint32
		bitsPerSample uint16
		dataChunk     []byte
		haveFmt       bool
	)

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8
		if body+int(chunkSize) > len(data) {
			break
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, fmt.Errorf("audioengine: fmt chunk too small")
			}
			fmtBody := data[body : body+int(chunkSize)]
			format = binary.LittleEndian.Uint16(fmtBody[0:2])
			channels = binary.LittleEndian.Uint16(fmtBody[2:4])
			sampleRate = binary.LittleEndian.Uint32(fmtBody[4:8])
			bitsPerSample = binary.LittleEndian.Uint16(fmtBody[14:16])
			haveFmt = true
		case "data":
			dataChunk = data[body : body+int(chunkSize)]
		}

		offset = body + int(chunkSize)
		if chunkSize%2 == 1 {
			offset++ // chunks are word-aligned
		}
	}

	if !haveFmt || dataChunk == nil {
		return nil, fmt.Errorf("audioengine: missing fmt or data chunk")
	}
	if channels == 0 {
		return nil, fmt.Errorf("audioengine: zero channels")
	}

	bytesPerSample := int(bitsPerSample) / 8
	if bytesPerSample == 0 {
		return nil, fmt.Errorf("audioengine: unsupported bits-per-sample %d", bitsPerSample)
	}
	frameSize := bytesPerSample * int(channels)
	frameCount := len(dataChunk) / frameSize

	buf := c.CreateBuffer(int(channels), frameCount, int(sampleRate))

	for frame := 0; frame < frameCount; frame++ {
		frameOff := frame * frameSize
		for ch := 0; ch < int(channels); ch++ {
			sampleOff := frameOff + ch*bytesPerSample
			raw := dataChunk[sampleOff : sampleOff+bytesPerSample]

			var sample float32
			switch {
			case format == wavFormatIEEEFloat && bitsPerSample == 32:
				sample = math.Float32frombits(binary.LittleEndian.Uint32(raw))
			case format == wavFormatPCM && bitsPerSample == 16:
				sample = float32(int16(binary.LittleEndian.Uint16(raw))) / 32768.0
			case format == wavFormatPCM && bitsPerSample == 8:
				// WAV 8-bit PCM is unsigned, centered at 128.
				sample = (float32(raw[0]) - 128.0) / 128.0
			default:
				return nil, fmt.Errorf("audioengine: unsupported WAV format %d/%d-bit", format, bitsPerSample)
			}
			buf.channels[ch][frame] = sample
		}
	}

	return buf, nil
}
