package audioengine

// Gain is a single-parameter node applied linearly post-mix (spec.md
// §4.7 "gain.gain.value ∈ ℝ, applied linearly post-mix"). Value is read
// directly by the real-time callback under the sources mutex; there is no
// separate lock since a single float64 read/write is already safe for the
// coarse-grained use here (scripts set it from the main thread only,
// between the mixer's lock-held iterations).
type Gain struct {
	Value float64
}
