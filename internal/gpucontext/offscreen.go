package gpucontext

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
)

func colorToRGBA(r, g, b, a float64) color.RGBA {
	clamp := func(v float64) uint8 {
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		return uint8(v*255 + 0.5)
	}
	return color.RGBA{R: clamp(r), G: clamp(g), B: clamp(b), A: clamp(a)}
}

// bytesPerPixel matches WebGPU's rgba8unorm, the format used throughout
// the offscreen path.
const bytesPerPixel = 4

// copyRowAlignment mirrors wgpu's COPY_BYTES_PER_ROW_ALIGNMENT (256): a
// buffer-copy destination's bytes-per-row must be a multiple of this value.
// The offscreen backend has no real GPU buffer, but Screenshot still pads
// and unpads by this rule so the algorithm matches spec.md §4.6 exactly
// and a future real-backend swap doesn't change observable behavior.
const copyRowAlignment = 256

type offscreenTexture struct {
	img *image.RGBA
}

func (t *offscreenTexture) Width() int    { return t.img.Rect.Dx() }
func (t *offscreenTexture) Height() int   { return t.img.Rect.Dy() }
func (t *offscreenTexture) Native() any   { return t.img }

// Offscreen is the headless gpucontext.Context backend (spec.md §4.6
// Headless: "create instance → no surface; request adapter; request
// device; on demand create an offscreen color texture of given dimensions
// as the render target"). It renders into a CPU-side image.RGBA
// framebuffer rather than a real GPU swapchain, since the WebGPU binding
// itself is out of spec's scope.
type Offscreen struct {
	mu                sync.Mutex
	width, height     int
	current           *offscreenTexture
	indirectFirstInst bool
	lossErr           error
	closed            bool
}

// NewOffscreen constructs an unconfigured offscreen context. Call
// ConfigureHeadless before AcquireFrame.
func NewOffscreen() *Offscreen {
	return &Offscreen{indirectFirstInst: true}
}

func (o *Offscreen) ConfigureWindowed(surface PlatformSurface) error {
	w, h := surface.DrawableSize()
	return o.ConfigureHeadless(w, h)
}

func (o *Offscreen) ConfigureHeadless(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("gpucontext: invalid dimensions %dx%d", width, height)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.width, o.height = width, height
	o.current = &offscreenTexture{img: image.NewRGBA(image.Rect(0, 0, width, height))}
	return nil
}

func (o *Offscreen) AcquireFrame() (Texture, Status, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, StatusLost, ErrDeviceLost
	}
	if o.lossErr != nil {
		return nil, StatusLost, o.lossErr
	}
	if o.current == nil {
		return nil, StatusOutdated, fmt.Errorf("gpucontext: not configured")
	}
	return o.current, StatusOK, nil
}

// Present is a no-op for the offscreen backend: there is no swapchain to
// advance, the same framebuffer is reused (and overwritten) every frame
// until Resize or Close.
func (o *Offscreen) Present() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrDeviceLost
	}
	return nil
}

// Clear fills every pixel of the current texture with the given color
// (each channel 0..1, converted to 8-bit per channel, straight alpha).
func (o *Offscreen) Clear(r, g, b, a float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return fmt.Errorf("gpucontext: not configured")
	}
	c := colorToRGBA(r, g, b, a)
	img := o.current.img
	for y := 0; y < img.Rect.Dy(); y++ {
		for x := 0; x < img.Rect.Dx(); x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return nil
}

func (o *Offscreen) Resize(width, height int) error {
	return o.ConfigureHeadless(width, height)
}

func (o *Offscreen) DeviceLossError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lossErr
}

// SimulateDeviceLoss is test/debug-only: real windowed backends detect
// loss from the platform surface; the offscreen path never loses a device
// on its own, so this exists purely to exercise the host's fatal-event
// wiring without a real GPU.
func (o *Offscreen) SimulateDeviceLoss(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lossErr = err
}

func (o *Offscreen) SupportsIndirectFirstInstance() bool { return o.indirectFirstInst }

func (o *Offscreen) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

// Screenshot reads back the current texture, padding each row to
// copyRowAlignment bytes and unpadding it back out before PNG encoding —
// matching spec.md §4.6's "copy ... to a buffer padded to row-alignment
// rules; map async; unpad; write PNG" even though the offscreen backend
// has no real GPU buffer to copy from.
func (o *Offscreen) Screenshot() ([]byte, error) {
	o.mu.Lock()
	tex := o.current
	o.mu.Unlock()
	if tex == nil {
		return nil, fmt.Errorf("gpucontext: no frame to screenshot")
	}

	width, height := tex.Width(), tex.Height()
	unpaddedRowBytes := width * bytesPerPixel
	paddedRowBytes := padRowBytes(unpaddedRowBytes)

	padded := make([]byte, paddedRowBytes*height)
	for y := 0; y < height; y++ {
		srcOff := y * tex.img.Stride
		dstOff := y * paddedRowBytes
		copy(padded[dstOff:dstOff+unpaddedRowBytes], tex.img.Pix[srcOff:srcOff+unpaddedRowBytes])
	}

	unpadded := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		srcOff := y * paddedRowBytes
		dstOff := y * unpadded.Stride
		copy(unpadded.Pix[dstOff:dstOff+unpaddedRowBytes], padded[srcOff:srcOff+unpaddedRowBytes])
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, unpadded); err != nil {
		return nil, fmt.Errorf("gpucontext: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func padRowBytes(n int) int {
	if rem := n % copyRowAlignment; rem != 0 {
		return n + (copyRowAlignment - rem)
	}
	return n
}
