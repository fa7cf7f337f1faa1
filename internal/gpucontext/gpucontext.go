// Package gpucontext abstracts the two WebGPU backend shapes (spec.md
// §4.6) behind one small interface so the bindings layer that exposes
// navigator.gpu to script never names a concrete backend.
//
// Nothing in the example corpus binds a GPU API directly — spec.md places
// the WebGPU IDL binding itself out of scope, treating it as an external
// collaborator. The lifecycle shape modeled here (connect/configure →
// active frame loop → one-shot fatal event on loss) follows the teacher's
// own state-machine idiom in internal/call/session.go (PeerConnection:
// connect → active → closed, with a one-shot fatal-error callback),
// generalized from a signaling session to a render surface.
package gpucontext

import "errors"

// Status reports the per-frame acquire outcome (spec.md §4.6 "on
// suboptimal/outdated status, reconfigure; on lost, attempt one reinit or
// surface quit").
type Status int

const (
	StatusOK Status = iota
	StatusSuboptimal
	StatusOutdated
	StatusLost
)

// ErrDeviceLost is recorded on the context and observed by the host, which
// emits a fatal event (spec.md §4.6 "Failure: device-loss callback sets an
// error flag observable by the host").
var ErrDeviceLost = errors.New("gpucontext: device lost")

// Texture is an opaque render target handle. The only operation a script
// binding performs on it directly is reading back pixels for a screenshot;
// all drawing happens through the (out-of-scope) WebGPU binding layer,
// which receives the Texture's native handle via Native().
type Texture interface {
	Width() int
	Height() int
	// Native returns the backend-specific handle (an *image.RGBA for the
	// offscreen backend) that the out-of-scope bindings layer draws into.
	Native() any
}

// PlatformSurface is the windowed-mode init seam (spec.md §4.6 "Windowed:
// create instance → surface from {Metal layer | HWND | Wayland surface |
// Xlib window | ANativeWindow}"). The concrete platform layer that
// produces a native window handle is an external collaborator per
// spec.md §1's scope carve-out; gpucontext only needs to know the
// drawable size and a way to fetch the native handle for an adapter
// request.
type PlatformSurface interface {
	// NativeHandle returns the platform-specific surface handle (HWND,
	// Wayland surface, etc.) opaque to gpucontext itself.
	NativeHandle() any
	DrawableSize() (width, height int)
}

// Context is the capability set the runtime host drives each frame (spec.md
// §4.6). Exactly one backend is selected at init time depending on
// windowed vs. headless mode; there is no hot-swap, mirroring
// engine.Backend's single-backend-per-process rule.
type Context interface {
	// ConfigureWindowed initializes against a platform surface at its
	// current drawable size.
	ConfigureWindowed(surface PlatformSurface) error
	// ConfigureHeadless initializes with no surface, creating an offscreen
	// color texture of the given dimensions as the render target.
	ConfigureHeadless(width, height int) error

	// AcquireFrame returns the current frame's render target and its
	// acquire status. The host reconfigures on Suboptimal/Outdated and
	// attempts one reinit (or quits) on Lost.
	AcquireFrame() (Texture, Status, error)
	// Present submits the current frame's encoder and advances the
	// swapchain (a no-op swap step for the offscreen backend).
	Present() error
	// Resize reconfigures the surface/offscreen texture to new dimensions;
	// any Texture handed out before this call is invalidated.
	Resize(width, height int) error

	// Screenshot reads back the current (or last-presented) texture,
	// unpads row alignment, and encodes a PNG.
	Screenshot() ([]byte, error)

	// Clear fills the current render target with a solid color. The real
	// WebGPU render-pass recording API is out of this spec's scope (§1);
	// Clear is the one bridging operation the runtime host needs to drive
	// canvas.getContext("webgpu")'s minimal clear-color surface without
	// reproducing the WebGPU IDL itself.
	Clear(r, g, b, a float64) error

	// DeviceLossError returns the recorded device-loss error, if any, so
	// the host can surface a fatal event (spec.md §4.6 Failure).
	DeviceLossError() error

	// SupportsIndirectFirstInstance reports whether the device exposed the
	// "indirect-first-instance" feature, recorded at device-request time
	// for scripts to query (spec.md §4.6 Windowed init).
	SupportsIndirectFirstInstance() bool

	Close() error
}
