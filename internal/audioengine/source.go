package audioengine

// Source is a buffer-source node: a read cursor over a Buffer, scheduled
// to play within a window of context time (spec.md §4.7).
type Source struct {
	id  uint64
	ctx *Context

	buffer *Buffer
	gain   *Gain

	// UserData lets the host (internal/host) attach its own bookkeeping
	// (e.g. the protected script callback to invoke on end) without
	// audioengine depending on the script engine package — mirrors
	// engine.Backend's SetPrivate/GetPrivate pairing of native resources
	// with JS wrappers.
	UserData any

	started bool
	ended   bool

	startTime float64 // context time the source becomes audible
	hasStop   bool
	stopTime  float64

	loop       bool
	loopStart  int // sample index
	loopEnd    int // sample index, 0 means "end of buffer"
	cursor     float64 // fractional sample position within the buffer
	playbackRate float64
}

// Start registers the source with the context; when and offset/duration
// are seconds in context time (spec.md §4.7 "source.start(when, offset,
// duration)"). A zero-or-past when plays starting next callback.
func (s *Source) Start(when, offset, duration float64) {
	s.startTime = when
	s.cursor = offset * float64(s.buffer.Rate())
	if duration > 0 {
		s.hasStop = true
		s.stopTime = when + duration
	}
	if s.playbackRate == 0 {
		s.playbackRate = 1
	}
	s.started = true
	s.ctx.register(s)
}

// Stop schedules a stop at context time `when` (spec.md §4.7 "stop(when)
// schedules stop").
func (s *Source) Stop(when float64) {
	s.hasStop = true
	s.stopTime = when
}

// SetLoop configures whether playback wraps back to loopStart (in
// seconds) once it reaches loopEnd (0 meaning end of buffer).
func (s *Source) SetLoop(loop bool, loopStartSeconds, loopEndSeconds float64) {
	s.loop = loop
	s.loopStart = int(loopStartSeconds * float64(s.buffer.Rate()))
	if loopEndSeconds > 0 {
		s.loopEnd = int(loopEndSeconds * float64(s.buffer.Rate()))
	}
}

func (s *Source) SetPlaybackRate(rate float64) {
	if rate <= 0 {
		rate = 1
	}
	s.playbackRate = rate
}

// Gain returns the node's gain parameter container (spec.md §4.7
// "gain.gain.value").
func (s *Source) Gain() *Gain { return s.gain }

func (s *Source) hasEnded() bool { return s.ended }

// mixInto adds this source's contribution for one callback's worth of
// frames into out (interleaved, channelCount channels), starting at
// context time `now` and advancing frameDuration seconds per frame.
// Called from the real-time callback with ctx.mu already held (spec.md
// §5 "Audio active-sources list: mutex-held on ... callback iteration").
func (s *Source) mixInto(out []float32, frameCount, channelCount int, now, frameDuration float64) {
	if s.ended {
		return
	}

	srcChannels := s.buffer.Channels()
	if srcChannels == 0 {
		s.ended = true
		return
	}
	frames := s.buffer.Frames()
	loopEnd := s.loopEnd
	if loopEnd == 0 || loopEnd > frames {
		loopEnd = frames
	}

	gain := s.gain.Value
	t := now

	for frame := 0; frame < frameCount; frame++ {
		if t < s.startTime {
			t += frameDuration
			continue
		}
		if s.hasStop && t >= s.stopTime {
			s.ended = true
			break
		}

		idx := int(s.cursor)
		if idx >= loopEnd {
			if s.loop {
				idx = s.loopStart
				s.cursor = float64(s.loopStart)
			} else {
				s.ended = true
				break
			}
		}

		for ch := 0; ch < channelCount; ch++ {
			srcCh := ch
			if srcCh >= srcChannels {
				srcCh = srcChannels - 1
			}
			sample := s.buffer.ChannelData(srcCh)[idx]
			out[frame*channelCount+ch] += float32(float64(sample) * gain)
		}

		s.cursor += s.playbackRate
		t += frameDuration
	}
}
