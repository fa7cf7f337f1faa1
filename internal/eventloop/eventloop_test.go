package eventloop

import "testing"

type stubSource struct {
	steps    int
	pending  bool
	closeErr error
	closed   bool
}

func (s *stubSource) Step()         { s.steps++ }
func (s *stubSource) Pending() bool { return s.pending }
func (s *stubSource) Close() error  { s.closed = true; return s.closeErr }

func TestStepDrivesEverySource(t *testing.T) {
	l := New()
	a := &stubSource{pending: true}
	b := &stubSource{pending: false}
	l.Register(a)
	l.Register(b)

	if err := l.Init(); err != nil {
		t.Fatal(err)
	}

	hasPending := l.Step()
	if !hasPending {
		t.Fatal("expected pending work since source a is still pending")
	}
	if a.steps != 1 || b.steps != 1 {
		t.Fatalf("expected both sources stepped once, got a=%d b=%d", a.steps, b.steps)
	}
}

func TestStepReturnsFalseWhenNothingPending(t *testing.T) {
	l := New()
	l.Register(&stubSource{pending: false})
	l.Register(&stubSource{pending: false})

	if l.Step() {
		t.Fatal("expected no pending work")
	}
}

func TestInitIsIdempotent(t *testing.T) {
	l := New()
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
}

func TestCloseIsIdempotentAndClosesAllSources(t *testing.T) {
	l := New()
	a := &stubSource{}
	b := &stubSource{}
	l.Register(a)
	l.Register(b)

	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if !a.closed || !b.closed {
		t.Fatal("expected both sources closed")
	}

	if err := l.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestStepAfterCloseIsNoop(t *testing.T) {
	l := New()
	a := &stubSource{pending: true}
	l.Register(a)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if l.Step() {
		t.Fatal("expected Step after Close to report no pending work")
	}
	if a.steps != 0 {
		t.Fatal("expected Step after Close not to touch sources")
	}
}
