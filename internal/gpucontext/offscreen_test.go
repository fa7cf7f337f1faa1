package gpucontext

import (
	"bytes"
	"image/png"
	"testing"
)

func TestOffscreenConfigureAndAcquire(t *testing.T) {
	o := NewOffscreen()
	if err := o.ConfigureHeadless(64, 48); err != nil {
		t.Fatal(err)
	}

	tex, status, err := o.AcquireFrame()
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusOK {
		t.Fatalf("expected StatusOK, got %v", status)
	}
	if tex.Width() != 64 || tex.Height() != 48 {
		t.Fatalf("unexpected dimensions %dx%d", tex.Width(), tex.Height())
	}
	if err := o.Present(); err != nil {
		t.Fatal(err)
	}
}

func TestOffscreenResizeInvalidatesDimensions(t *testing.T) {
	o := NewOffscreen()
	if err := o.ConfigureHeadless(32, 32); err != nil {
		t.Fatal(err)
	}
	if err := o.Resize(100, 50); err != nil {
		t.Fatal(err)
	}
	tex, _, err := o.AcquireFrame()
	if err != nil {
		t.Fatal(err)
	}
	if tex.Width() != 100 || tex.Height() != 50 {
		t.Fatalf("resize did not take effect: %dx%d", tex.Width(), tex.Height())
	}
}

func TestOffscreenScreenshotEncodesValidPNG(t *testing.T) {
	o := NewOffscreen()
	// Odd width forces an unaligned row so padding/unpadding is exercised.
	if err := o.ConfigureHeadless(17, 9); err != nil {
		t.Fatal(err)
	}

	data, err := o.Screenshot()
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("screenshot did not decode as PNG: %v", err)
	}
	if img.Bounds().Dx() != 17 || img.Bounds().Dy() != 9 {
		t.Fatalf("unexpected decoded dimensions: %v", img.Bounds())
	}
}

func TestOffscreenDeviceLossSurfacesOnAcquire(t *testing.T) {
	o := NewOffscreen()
	if err := o.ConfigureHeadless(10, 10); err != nil {
		t.Fatal(err)
	}
	o.SimulateDeviceLoss(ErrDeviceLost)

	if _, status, err := o.AcquireFrame(); status != StatusLost || err == nil {
		t.Fatalf("expected StatusLost and an error, got status=%v err=%v", status, err)
	}
	if o.DeviceLossError() == nil {
		t.Fatal("expected DeviceLossError to report the loss")
	}
}

func TestOffscreenCloseRejectsFurtherAcquire(t *testing.T) {
	o := NewOffscreen()
	if err := o.ConfigureHeadless(8, 8); err != nil {
		t.Fatal(err)
	}
	if err := o.Close(); err != nil {
		t.Fatal(err)
	}
	if _, status, err := o.AcquireFrame(); status != StatusLost || err == nil {
		t.Fatalf("expected closed context to report lost, got status=%v err=%v", status, err)
	}
}
