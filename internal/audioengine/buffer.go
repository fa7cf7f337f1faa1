package audioengine

import "sync/atomic"

// Buffer holds per-channel float sample storage (spec.md §4.7
// createBuffer/decodeAudioData). Buffers are reference-counted (spec.md
// §5 "Audio buffers are reference-counted; source nodes hold strong
// references") so a buffer decoded once can back many concurrently
// playing sources and is only freed once the last source releases it.
type Buffer struct {
	channels [][]float32
	rate     int
	refCount int32 // atomic, so the real-time callback can Release without a lock
}

func (b *Buffer) acquire() {
	atomic.AddInt32(&b.refCount, 1)
}

// Release drops a reference. Returns true if this was the last reference
// (the caller may then discard the buffer's storage).
func (b *Buffer) Release() bool {
	return atomic.AddInt32(&b.refCount, -1) <= 0
}

func (b *Buffer) Channels() int    { return len(b.channels) }
func (b *Buffer) Rate() int        { return b.rate }
func (b *Buffer) Frames() int {
	if len(b.channels) == 0 {
		return 0
	}
	return len(b.channels[0])
}

// ChannelData returns the mutable sample slice for one channel, for
// script-side writes via copyToChannel-style access.
func (b *Buffer) ChannelData(channel int) []float32 {
	if channel < 0 || channel >= len(b.channels) {
		return nil
	}
	return b.channels[channel]
}

// ChannelBytes little-endian-encodes one channel's samples into a fresh
// byte slice, for handing a channel's data to script as a Float32Array
// (engine.Backend.NewExternalTypedArray). It is a snapshot, not a live
// view onto the channel's storage: script writes to the returned array do
// not propagate back into the buffer.
func (b *Buffer) ChannelBytes(channel int) []byte {
	data := b.ChannelData(channel)
	if data == nil {
		return nil
	}
	raw := make([]byte, len(data)*4)
	encodeFloat32LE(data, raw)
	return raw
}
