// Package audioengine implements the minimal Web Audio graph from spec.md
// §4.7: a context, a destination, buffer-source nodes, and gain nodes,
// driven by a real-time OS audio callback at the context's sample rate.
//
// The device callback binds github.com/gen2brain/malgo, present in the
// teacher's go.mod as an indirect dependency (pulled in by pion/mediadevices
// for Linux microphone capture in internal/call/media_linux.go) and
// promoted here to a direct import: it is exactly the real-time
// miniaudio device-callback binding spec.md §4.7 needs, and nothing else
// in the corpus serves that concern. Active-source bookkeeping (a
// mutex-guarded map of playing streams with start/stop/cursor tracking)
// is grounded on internal/listen/manager.go's pipesMu-guarded
// map[string]*listenerPipe of concurrently streaming relays, generalized
// from byte-relay pipes to decoded-PCM sample cursors.
package audioengine

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

const (
	outputChannels = 2 // stereo float, per spec.md §4.7
)

// State mirrors the Web Audio AudioContextState enum as far as spec.md
// §4.7's lifecycle needs it: suspended -> running -> closed.
type State int

const (
	StateSuspended State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("audioengine: context closed")

// EndedCompletion is queued for the main thread when a source finishes
// playing (buffer exhausted with no loop, or its scheduled stop time is
// reached). Never invoked from the audio thread itself (spec.md §4.7
// Lifecycle).
type EndedCompletion struct {
	SourceID uint64
	Source   *Source
}

// Context is the audio graph root: one real OS audio device, a set of
// active buffer-source nodes, and the sample clock they're mixed against.
type Context struct {
	sampleRate int
	state      int32 // atomic State

	device *malgo.Device
	ctx    *malgo.AllocatedContext

	sampleCount uint64 // atomic; advances once per callback, frames * 1

	mu      sync.Mutex
	sources map[uint64]*Source
	nextID  uint64

	ended []EndedCompletion // guarded by mu; spec.md §3 "never takes locks other than the sources mutex"

	destinationGain float64

	mixBuf       []float32 // reused across callbacks; grown (never shrunk) to avoid steady-state allocation
	endedScratch []*Source // reused across callbacks to collect this callback's newly-ended sources
}

// NewContext opens the default playback device at sampleRate (commonly
// 44100 or 48000) in the suspended state (spec.md §4.7 lifecycle).
func NewContext(sampleRate int) (*Context, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, err
	}

	c := &Context{
		sampleRate:      sampleRate,
		sources:         make(map[uint64]*Source),
		destinationGain: 1.0,
	}
	atomic.StoreInt32(&c.state, int32(StateSuspended))

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = outputChannels
	deviceConfig.SampleRate = uint32(sampleRate)

	deviceCallbacks := malgo.DeviceCallbacks{
		Data: c.onSendFrames,
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		malgoCtx.Uninit()
		return nil, err
	}

	c.ctx = malgoCtx
	c.device = device
	return c, nil
}

// Resume transitions suspended -> running, starting the real-time device
// callback.
func (c *Context) Resume() error {
	if State(atomic.LoadInt32(&c.state)) == StateClosed {
		return ErrClosed
	}
	if err := c.device.Start(); err != nil {
		return err
	}
	atomic.StoreInt32(&c.state, int32(StateRunning))
	return nil
}

// Suspend transitions running -> suspended, stopping the device callback
// without releasing resources.
func (c *Context) Suspend() error {
	if State(atomic.LoadInt32(&c.state)) == StateClosed {
		return ErrClosed
	}
	if err := c.device.Stop(); err != nil {
		return err
	}
	atomic.StoreInt32(&c.state, int32(StateSuspended))
	return nil
}

// Close sets the shutdown flag the real-time callback checks at entry
// (spec.md §4.7 "Close sets a shutdown flag that the real-time callback
// checks at entry; on shutdown the callback writes silence only"), then
// tears down the device.
func (c *Context) Close() error {
	atomic.StoreInt32(&c.state, int32(StateClosed))
	if c.device != nil {
		c.device.Uninit()
	}
	if c.ctx != nil {
		c.ctx.Uninit()
		_ = c.ctx.Free()
	}
	return nil
}

func (c *Context) State() State { return State(atomic.LoadInt32(&c.state)) }

// CurrentTime advances as sample-count / sample-rate (spec.md §4.7).
func (c *Context) CurrentTime() float64 {
	return float64(atomic.LoadUint64(&c.sampleCount)) / float64(c.sampleRate)
}

func (c *Context) SampleRate() int { return c.sampleRate }

// DestinationGain and SetDestinationGain expose the destination node's
// master gain, applied to the summed mix once per callback after every
// source's own gain has already been applied.
func (c *Context) DestinationGain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destinationGain
}

func (c *Context) SetDestinationGain(v float64) {
	c.mu.Lock()
	c.destinationGain = v
	c.mu.Unlock()
}

// CreateBuffer allocates per-channel float storage (spec.md §4.7
// createBuffer(channels, frames, rate)).
func (c *Context) CreateBuffer(channels, frames, rate int) *Buffer {
	data := make([][]float32, channels)
	for i := range data {
		data[i] = make([]float32, frames)
	}
	return &Buffer{channels: data, rate: rate, refCount: 1}
}

// CreateSource registers a new buffer-source node bound to buffer, not yet
// started.
func (c *Context) CreateSource(buffer *Buffer) *Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	buffer.acquire()
	s := &Source{
		id:      id,
		ctx:     c,
		buffer:  buffer,
		gain:    &Gain{Value: 1.0},
		started: false,
	}
	return s
}

// register adds s to the active-sources map under the sources mutex
// (spec.md §5 "Audio active-sources list: mutex-held on (register,
// unregister, callback iteration)").
func (c *Context) register(s *Source) {
	c.mu.Lock()
	c.sources[s.id] = s
	c.mu.Unlock()
}

func (c *Context) unregister(id uint64) {
	c.mu.Lock()
	delete(c.sources, id)
	c.mu.Unlock()
}

// DrainEnded returns and clears all ended-source completions accumulated
// since the last drain. Called from the main thread only (spec.md §4.7
// "Ended sources' completion callbacks are dispatched on the main thread").
func (c *Context) DrainEnded() []EndedCompletion {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ended) == 0 {
		return nil
	}
	out := c.ended
	c.ended = nil
	return out
}

// onSendFrames is the real-time audio-thread callback (spec.md §4.7):
// zero the output, mix active sources under the sources mutex, clamp,
// advance the sample counter. Never touches the script engine.
func (c *Context) onSendFrames(pOutputSample, pInputSample []byte, frameCount uint32) {
	zeroBytes(pOutputSample)
	if State(atomic.LoadInt32(&c.state)) == StateClosed {
		return // silence only, per the shutdown-flag contract
	}

	// spec.md §3 "the audio callback never allocates": mixBuf is grown once
	// to the device's steady-state frameCount and reused on every
	// subsequent callback rather than allocated fresh each time.
	needed := int(frameCount) * outputChannels
	if cap(c.mixBuf) < needed {
		c.mixBuf = make([]float32, needed)
	}
	out := c.mixBuf[:needed]
	for i := range out {
		out[i] = 0
	}

	now := c.CurrentTime()
	frameDuration := 1.0 / float64(c.sampleRate)

	c.mu.Lock()
	ended := c.endedScratch[:0]
	for _, s := range c.sources {
		if !s.started {
			continue
		}
		s.mixInto(out, int(frameCount), outputChannels, now, frameDuration)
		if s.hasEnded() {
			ended = append(ended, s)
		}
	}
	c.endedScratch = ended
	for _, s := range ended {
		delete(c.sources, s.id)
		c.ended = append(c.ended, EndedCompletion{SourceID: s.id, Source: s})
	}
	destGain := float32(c.destinationGain)
	c.mu.Unlock()

	for _, s := range ended {
		s.buffer.Release() // drop the source's strong reference (spec.md §5)
	}

	for i := range out {
		out[i] *= destGain
		if out[i] > 1 {
			out[i] = 1
		} else if out[i] < -1 {
			out[i] = -1
		}
	}

	encodeFloat32LE(out, pOutputSample)
	atomic.AddUint64(&c.sampleCount, uint64(frameCount))
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
