package iodispatch

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mystral-run/mystral/internal/engine"
	"github.com/mystral-run/mystral/internal/engine/luabackend"
)

func newTestBackend(t *testing.T) *luabackend.Context {
	t.Helper()
	return luabackend.New(luabackend.Options{})
}

func waitForPending(t *testing.T, pend func() bool, step func()) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		step()
		if !pend() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for completion")
}

func TestHTTPClientFetchFile404(t *testing.T) {
	backend := newTestBackend(t)
	defer backend.Close()

	client := NewHTTPClient(backend, nil)
	var status float64
	var ok bool
	done := false

	cb := backend.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		resp := args[0]
		s, _ := backend.GetProperty(resp, "status")
		status, _ = backend.ToNumber(s)
		o, _ := backend.GetProperty(resp, "ok")
		ok = backend.ToBool(o)
		done = true
		return nil, nil
	})

	client.StartRequest(RequestOptions{URL: "file:///definitely/not/there"}, cb)

	waitForPending(t, func() bool { return !done }, client.Step)

	if status != 404 || ok {
		t.Fatalf("expected 404/false, got status=%v ok=%v", status, ok)
	}
}

func TestHTTPClientFetchLocalFileSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	backend := newTestBackend(t)
	defer backend.Close()
	client := NewHTTPClient(backend, nil)

	var status float64
	done := false
	cb := backend.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		s, _ := backend.GetProperty(args[0], "status")
		status, _ = backend.ToNumber(s)
		done = true
		return nil, nil
	})

	client.StartRequest(RequestOptions{URL: "file://" + path}, cb)
	waitForPending(t, func() bool { return !done }, client.Step)

	if status != 200 {
		t.Fatalf("expected 200, got %v", status)
	}
}

func TestHTTPClientHTTPRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	backend := newTestBackend(t)
	defer backend.Close()
	client := NewHTTPClient(backend, nil)

	var ok bool
	done := false
	cb := backend.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		o, _ := backend.GetProperty(args[0], "ok")
		ok = backend.ToBool(o)
		done = true
		return nil, nil
	})

	client.StartRequest(RequestOptions{URL: srv.URL}, cb)
	waitForPending(t, func() bool { return !done }, client.Step)

	if !ok {
		t.Fatal("expected ok=true for 200 response")
	}
}

func TestFileReaderReadsBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	backend := newTestBackend(t)
	defer backend.Close()
	reader := NewFileReader(backend, nil)
	defer reader.Close()

	done := false
	var hasBytes bool
	cb := backend.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		bytesVal, _ := backend.GetProperty(args[0], "bytes")
		hasBytes = backend.TypeOf(bytesVal) == engine.KindObject
		done = true
		return nil, nil
	})

	reader.Read(path, cb)
	waitForPending(t, func() bool { return !done }, reader.Step)

	if !hasBytes {
		t.Fatal("expected bytes property on successful read")
	}
}

func TestWatcherWatchUnwatch(t *testing.T) {
	dir := t.TempDir()

	backend := newTestBackend(t)
	defer backend.Close()

	w, err := NewWatcher(backend)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	var gotPath string
	fired := false
	cb := backend.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		p, _ := backend.GetProperty(args[0], "path")
		gotPath, _ = backend.ToString(p)
		fired = true
		return nil, nil
	})

	id, err := w.Watch(dir, cb)
	if err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(dir, "new.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitForPending(t, func() bool { return !fired }, w.Step)
	if gotPath == "" {
		t.Fatal("expected a watch event to fire")
	}

	w.Unwatch(id)
}
