package host

import (
	"fmt"

	"github.com/mystral-run/mystral/internal/audioengine"
	"github.com/mystral-run/mystral/internal/engine"
)

// installAudio exposes spec.md §4.7's minimal Web Audio graph
// ({context, destination, buffer-source, gain}) as a single AudioContext()
// constructor, following the same inject-a-closure-per-global idiom as the
// rest of globals.go. A nil h.audio (no device opened, e.g. the device
// failed to open, or a headless test host) still installs the constructor; every operation on
// the returned context then errors or no-ops rather than panicking.
func (h *Host) installAudio() {
	b := h.backend
	h.setGlobal("AudioContext", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		return h.newAudioContextObject(), nil
	}))
}

// drainAudioCompletions dispatches every source that finished playing since
// the last frame, invoking its onended callback (if one was registered) on
// the main thread (spec.md §4.7 "Ended sources' completion callbacks are
// dispatched on the main thread ... never from the audio thread"). Called
// unconditionally from frameStep's I/O-drain phase, independent of whether
// an audio device is attached at all.
func (h *Host) drainAudioCompletions() {
	if h.audio == nil {
		return
	}
	for _, c := range h.audio.DrainEnded() {
		cb, ok := c.Source.UserData.(engine.Value)
		c.Source.UserData = nil
		if !ok || cb == nil {
			continue
		}
		_, err := h.backend.Call(cb, h.backend.Undefined(), nil)
		h.backend.Unprotect(cb)
		if err != nil {
			h.reportScriptError(err)
		}
	}
}

func (h *Host) newAudioContextObject() engine.Value {
	b := h.backend
	obj := b.NewObject()

	state := "suspended"
	sampleRate := 0
	if h.audio != nil {
		state = h.audio.State().String()
		sampleRate = h.audio.SampleRate()
	}
	_ = b.SetProperty(obj, "state", b.NewString(state))
	_ = b.SetProperty(obj, "sampleRate", b.NewNumber(float64(sampleRate)))

	_ = b.SetProperty(obj, "currentTime", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if h.audio == nil {
			return b.NewNumber(0), nil
		}
		return b.NewNumber(h.audio.CurrentTime()), nil
	}))

	_ = b.SetProperty(obj, "createBuffer", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if h.audio == nil {
			return nil, fmt.Errorf("audio: createBuffer: no audio device")
		}
		if len(args) < 3 {
			return nil, fmt.Errorf("audio: createBuffer(channels, frames, rate) requires 3 arguments")
		}
		channels := int(audioNumArg(b, args, 0))
		frames := int(audioNumArg(b, args, 1))
		rate := int(audioNumArg(b, args, 2))
		return h.newBufferObject(h.audio.CreateBuffer(channels, frames, rate)), nil
	}))

	// decodeAudioData returns the decoded buffer directly rather than a
	// Promise, per spec.md §4.7 "decodeAudioData(bytes) synchronously
	// returns a buffer" (a deliberate departure from the real, asynchronous
	// Web Audio API).
	_ = b.SetProperty(obj, "decodeAudioData", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if h.audio == nil {
			return nil, fmt.Errorf("audio: decodeAudioData: no audio device")
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("audio: decodeAudioData requires a Uint8Array argument")
		}
		raw, err := readTypedArrayBytes(b, args[0])
		if err != nil {
			return nil, err
		}
		buf, err := h.audio.DecodeAudioData(raw)
		if err != nil {
			return nil, err
		}
		return h.newBufferObject(buf), nil
	}))

	_ = b.SetProperty(obj, "createBufferSource", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		srcObj, bindBuffer := h.newSourceObject()
		if len(args) > 0 {
			if err := bindBuffer(args[0]); err != nil {
				return nil, err
			}
		}
		return srcObj, nil
	}))

	_ = b.SetProperty(obj, "createGain", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		return h.newGainObject(&audioengine.Gain{Value: 1}), nil
	}))

	destination := b.NewObject()
	_ = b.SetProperty(destination, "gain", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if h.audio == nil {
			return b.NewNumber(1), nil
		}
		if len(args) > 0 {
			h.audio.SetDestinationGain(audioNumArg(b, args, 0))
			return b.Undefined(), nil
		}
		return b.NewNumber(h.audio.DestinationGain()), nil
	}))
	_ = b.SetProperty(obj, "destination", destination)

	return obj
}

// newBufferObject wraps a decoded/allocated *audioengine.Buffer as a
// script-visible AudioBuffer. The native pointer travels back out via
// GetPrivate when the buffer is later passed into
// createBufferSource(buffer)/source.setBuffer(buffer).
func (h *Host) newBufferObject(buf *audioengine.Buffer) engine.Value {
	b := h.backend
	obj := b.NewObject()
	b.SetPrivate(obj, buf)
	_ = b.SetProperty(obj, "numberOfChannels", b.NewNumber(float64(buf.Channels())))
	_ = b.SetProperty(obj, "length", b.NewNumber(float64(buf.Frames())))
	_ = b.SetProperty(obj, "sampleRate", b.NewNumber(float64(buf.Rate())))
	_ = b.SetProperty(obj, "getChannelData", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		raw := buf.ChannelBytes(int(audioNumArg(b, args, 0)))
		if raw == nil {
			return b.Null(), nil
		}
		return b.NewExternalTypedArray(engine.Float32Array, raw)
	}))
	return obj
}

// newSourceObject builds a script-visible buffer-source node. The native
// *audioengine.Source is created lazily (CreateSource needs a buffer), so
// the returned bindBuffer closure lets createBufferSource(buffer) bind one
// immediately without round-tripping through the script call convention.
func (h *Host) newSourceObject() (engine.Value, func(engine.Value) error) {
	b := h.backend
	obj := b.NewObject()
	var native *audioengine.Source

	bindBuffer := func(bufVal engine.Value) error {
		ptr, ok := b.GetPrivate(bufVal)
		if !ok {
			return fmt.Errorf("audio: argument is not an AudioBuffer")
		}
		buf, ok := ptr.(*audioengine.Buffer)
		if !ok {
			return fmt.Errorf("audio: argument is not an AudioBuffer")
		}
		if h.audio == nil {
			return fmt.Errorf("audio: no audio device")
		}
		native = h.audio.CreateSource(buf)
		return nil
	}

	_ = b.SetProperty(obj, "setBuffer", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("audio: setBuffer(buffer) requires an AudioBuffer argument")
		}
		if err := bindBuffer(args[0]); err != nil {
			return nil, err
		}
		return b.Undefined(), nil
	}))

	_ = b.SetProperty(obj, "start", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if native == nil {
			return nil, fmt.Errorf("audio: start() called with no buffer bound")
		}
		native.Start(audioNumArg(b, args, 0), audioNumArg(b, args, 1), audioNumArg(b, args, 2))
		return b.Undefined(), nil
	}))

	_ = b.SetProperty(obj, "stop", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if native != nil {
			native.Stop(audioNumArg(b, args, 0))
		}
		return b.Undefined(), nil
	}))

	_ = b.SetProperty(obj, "setLoop", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if native == nil {
			return b.Undefined(), nil
		}
		loop := len(args) > 0 && b.ToBool(args[0])
		native.SetLoop(loop, audioNumArg(b, args, 1), audioNumArg(b, args, 2))
		return b.Undefined(), nil
	}))

	_ = b.SetProperty(obj, "setPlaybackRate", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if native != nil {
			native.SetPlaybackRate(audioNumArg(b, args, 0))
		}
		return b.Undefined(), nil
	}))

	_ = b.SetProperty(obj, "gain", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if native == nil {
			return b.Null(), nil
		}
		return h.newGainObject(native.Gain()), nil
	}))

	// onended registers the one-shot completion callback spec.md §4.7
	// dispatches through drainAudioCompletions on the main thread.
	_ = b.SetProperty(obj, "onended", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if native == nil || len(args) == 0 {
			return b.Undefined(), nil
		}
		if old, ok := native.UserData.(engine.Value); ok && old != nil {
			b.Unprotect(old)
		}
		native.UserData = b.Protect(args[0])
		return b.Undefined(), nil
	}))

	return obj, bindBuffer
}

// newGainObject exposes a gain node's AudioParam as a single get/set
// function rather than the real Web Audio API's nested `node.gain.value`
// field (see DESIGN.md's pinned simplification: this engine's script
// surface has no way to intercept a plain property write).
func (h *Host) newGainObject(g *audioengine.Gain) engine.Value {
	b := h.backend
	obj := b.NewObject()
	_ = b.SetProperty(obj, "value", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if len(args) > 0 {
			g.Value = audioNumArg(b, args, 0)
			return b.Undefined(), nil
		}
		return b.NewNumber(g.Value), nil
	}))
	return obj
}

func audioNumArg(b engine.Backend, args []engine.Value, i int) float64 {
	if i >= len(args) {
		return 0
	}
	n, err := b.ToNumber(args[i])
	if err != nil {
		return 0
	}
	return n
}
