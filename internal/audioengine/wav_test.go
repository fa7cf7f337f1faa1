package audioengine

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func buildWAV(t *testing.T, format, bitsPerSample, channels uint16, sampleRate uint32, dataBytes []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	byteRate := sampleRate * uint32(channels) * uint32(bitsPerSample/8)
	blockAlign := channels * (bitsPerSample / 8)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(dataBytes)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, format)
	binary.Write(&buf, binary.LittleEndian, channels)
	binary.Write(&buf, binary.LittleEndian, sampleRate)
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, bitsPerSample)

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(dataBytes)))
	buf.Write(dataBytes)

	return buf.Bytes()
}

func newTestContext() *Context {
	return &Context{sampleRate: 44100, sources: make(map[uint64]*Source), destinationGain: 1}
}

func TestDecodeAudioDataPCM16(t *testing.T) {
	var data bytes.Buffer
	binary.Write(&data, binary.LittleEndian, int16(16384)) // ~0.5
	binary.Write(&data, binary.LittleEndian, int16(-16384))
	wav := buildWAV(t, wavFormatPCM, 16, 1, 44100, data.Bytes())

	c := newTestContext()
	buf, err := c.DecodeAudioData(wav)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Channels() != 1 || buf.Frames() != 2 {
		t.Fatalf("unexpected shape: channels=%d frames=%d", buf.Channels(), buf.Frames())
	}
	if got := buf.ChannelData(0)[0]; math.Abs(float64(got)-0.5) > 0.01 {
		t.Fatalf("expected ~0.5, got %v", got)
	}
}

func TestDecodeAudioDataFloat32(t *testing.T) {
	var data bytes.Buffer
	binary.Write(&data, binary.LittleEndian, math.Float32bits(0.25))
	binary.Write(&data, binary.LittleEndian, math.Float32bits(-0.75))
	wav := buildWAV(t, wavFormatIEEEFloat, 32, 1, 48000, data.Bytes())

	c := newTestContext()
	buf, err := c.DecodeAudioData(wav)
	if err != nil {
		t.Fatal(err)
	}
	if buf.ChannelData(0)[0] != 0.25 || buf.ChannelData(0)[1] != -0.75 {
		t.Fatalf("unexpected samples: %v", buf.ChannelData(0))
	}
}

func TestDecodeAudioDataUint8(t *testing.T) {
	data := []byte{128, 255, 0} // silence, full positive, full negative
	wav := buildWAV(t, wavFormatPCM, 8, 1, 22050, data)

	c := newTestContext()
	buf, err := c.DecodeAudioData(wav)
	if err != nil {
		t.Fatal(err)
	}
	got := buf.ChannelData(0)
	if math.Abs(float64(got[0])) > 0.01 {
		t.Fatalf("expected ~0 silence, got %v", got[0])
	}
	if got[1] <= 0.9 {
		t.Fatalf("expected near +1, got %v", got[1])
	}
	if got[2] >= -0.9 {
		t.Fatalf("expected near -1, got %v", got[2])
	}
}

func TestDecodeAudioDataRejectsNonWAV(t *testing.T) {
	c := newTestContext()
	if _, err := c.DecodeAudioData([]byte("not a wav file at all")); err == nil {
		t.Fatal("expected an error for a non-RIFF input")
	}
}

func TestSourceMixesBufferAtUnityGain(t *testing.T) {
	c := newTestContext()
	buf := c.CreateBuffer(1, 4, 44100)
	for i := range buf.channels[0] {
		buf.channels[0][i] = 1.0
	}

	s := c.CreateSource(buf)
	s.Start(0, 0, 0)

	out := make([]float32, 4*outputChannels)
	s.mixInto(out, 4, outputChannels, 0, 1.0/44100)

	for i, v := range out {
		if v != 1.0 {
			t.Fatalf("sample %d: expected 1.0, got %v", i, v)
		}
	}
}

func TestSourceEndsWhenBufferExhaustedWithoutLoop(t *testing.T) {
	c := newTestContext()
	buf := c.CreateBuffer(1, 2, 44100)
	s := c.CreateSource(buf)
	s.Start(0, 0, 0)

	out := make([]float32, 10*outputChannels)
	s.mixInto(out, 10, outputChannels, 0, 1.0/44100)

	if !s.hasEnded() {
		t.Fatal("expected source to end after exhausting a 2-frame buffer")
	}
}

func TestSourceLoopsBackToLoopStart(t *testing.T) {
	c := newTestContext()
	buf := c.CreateBuffer(1, 2, 44100)
	buf.channels[0][0] = 1.0
	buf.channels[0][1] = 2.0

	s := c.CreateSource(buf)
	s.SetLoop(true, 0, 0)
	s.Start(0, 0, 0)

	out := make([]float32, 6*outputChannels)
	s.mixInto(out, 6, outputChannels, 0, 1.0/44100)

	if s.hasEnded() {
		t.Fatal("a looping source should never end on its own")
	}
	// Pattern should repeat: 1,2,1,2,1,2 across the mono-to-stereo mix.
	if out[0] != 1.0 || out[2] != 2.0 || out[4] != 1.0 {
		t.Fatalf("unexpected loop pattern: %v", out)
	}
}

func TestGainAppliedLinearly(t *testing.T) {
	c := newTestContext()
	buf := c.CreateBuffer(1, 1, 44100)
	buf.channels[0][0] = 1.0

	s := c.CreateSource(buf)
	s.Gain().Value = 0.5
	s.Start(0, 0, 0)

	out := make([]float32, outputChannels)
	s.mixInto(out, 1, outputChannels, 0, 1.0/44100)

	if out[0] != 0.5 {
		t.Fatalf("expected gain-scaled sample 0.5, got %v", out[0])
	}
}
