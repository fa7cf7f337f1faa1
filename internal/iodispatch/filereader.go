package iodispatch

import (
	"os"
	"sync/atomic"

	"github.com/mystral-run/mystral/internal/engine"
)

type readCompletion struct {
	cb    engine.Value
	bytes []byte
	err   string
}

// FileReader implements spec.md §4.3's "workers perform the blocking read
// on a thread pool, enqueue bytes-or-error, and the main thread fires the
// callback", with a synchronous fallback when the pool is saturated/
// unavailable. The pool is a bounded job channel, matching the teacher's
// convention of bounding concurrent work with a buffered channel
// (internal/call/session.go's goroutine-plus-timeout-channel idiom).
type FileReader struct {
	backend engine.Backend
	assets  AssetSource

	jobs chan readJob
	done chan struct{}

	queue    completionQueue[readCompletion]
	inflight int32 // atomic
}

type readJob struct {
	path string
	cb   engine.Value
}

const fileReaderPoolSize = 4

func NewFileReader(backend engine.Backend, assets AssetSource) *FileReader {
	r := &FileReader{
		backend: backend,
		assets:  assets,
		jobs:    make(chan readJob, 64),
		done:    make(chan struct{}),
	}
	for i := 0; i < fileReaderPoolSize; i++ {
		go r.worker()
	}
	return r
}

func (r *FileReader) worker() {
	for {
		select {
		case <-r.done:
			return
		case job, ok := <-r.jobs:
			if !ok {
				return
			}
			r.complete(job)
		}
	}
}

func (r *FileReader) complete(job readJob) {
	defer atomic.AddInt32(&r.inflight, -1)
	data, err := r.read(job.path)
	c := readCompletion{cb: job.cb}
	if err != nil {
		c.err = err.Error()
	} else {
		c.bytes = data
	}
	r.queue.push(c)
}

func (r *FileReader) read(path string) ([]byte, error) {
	if r.assets != nil && r.assets.Has(path) {
		return r.assets.Read(path)
	}
	return os.ReadFile(path)
}

// Read enqueues an asynchronous read, falling back to a synchronous read
// (still invoked through the same completion queue, so callback ordering
// is unaffected) if the worker pool's job channel is full or the reader has
// been closed.
func (r *FileReader) Read(path string, cb engine.Value) {
	protected := r.backend.Protect(cb)
	atomic.AddInt32(&r.inflight, 1)

	select {
	case <-r.done:
		r.complete(readJob{path: path, cb: protected})
		return
	default:
	}

	select {
	case r.jobs <- readJob{path: path, cb: protected}:
	default:
		r.complete(readJob{path: path, cb: protected})
	}
}

func (r *FileReader) Step() {
	for _, item := range r.queue.drain() {
		val := r.toValue(item)
		invokeCallback(r.backend, item.cb, val)
	}
}

func (r *FileReader) Pending() bool {
	return atomic.LoadInt32(&r.inflight) > 0 || r.queue.len() > 0
}

func (r *FileReader) Close() error {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
	return nil
}

func (r *FileReader) toValue(c readCompletion) engine.Value {
	b := r.backend
	obj := b.NewObject()
	if c.err != "" {
		_ = b.SetProperty(obj, "error", b.NewString(c.err))
		return obj
	}
	arr, err := b.NewExternalTypedArray(engine.Uint8Array, c.bytes)
	if err != nil {
		_ = b.SetProperty(obj, "error", b.NewString(err.Error()))
		return obj
	}
	_ = b.SetProperty(obj, "bytes", arr)
	return obj
}
