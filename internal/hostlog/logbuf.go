// Package hostlog provides the runtime host's log sink: a ring buffer of
// recent log lines that also fans each line out to subscribers such as the
// debug channel's "console" event stream. It does not print; the host
// writes each line to stdout itself.
package hostlog

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/mystral-run/mystral/internal/util"
)

// Entry is one recorded log line.
type Entry struct {
	TS  time.Time `json:"ts"`
	Msg string    `json:"msg"`
}

// Buffer is an io.Writer that splits incoming writes on newlines, keeps the
// last N lines in a ring buffer, and fans each completed line out to any
// subscribers (the debug channel's "console" event).
type Buffer struct {
	mu      sync.Mutex
	entries *util.RingBuffer[Entry]
	subs    map[chan Entry]struct{}
	partial bytes.Buffer
}

// New creates a log buffer retaining at most max lines (500 when max <= 0).
func New(max int) *Buffer {
	if max <= 0 {
		max = 500
	}
	return &Buffer{
		entries: util.NewRingBuffer[Entry](max),
		subs:    make(map[chan Entry]struct{}),
	}
}

// Write implements io.Writer for log.SetOutput / io.MultiWriter.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)

	for {
		data := b.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i == -1 {
			break
		}

		line := string(data[:i])
		b.partial.Next(i + 1)

		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		e := Entry{TS: time.Now(), Msg: line}
		b.entries.Push(e)
		b.broadcastLocked(e)
	}

	return len(p), nil
}

func (b *Buffer) broadcastLocked(e Entry) {
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// drop on slow subscriber
		}
	}
}

// Snapshot returns a copy of the buffered lines, oldest first.
func (b *Buffer) Snapshot() []Entry {
	return b.entries.Snapshot()
}

// Subscribe registers a channel that receives every subsequent line. Call
// cancel to unsubscribe and close the channel.
func (b *Buffer) Subscribe() (ch chan Entry, cancel func()) {
	ch = make(chan Entry, 64)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// MarshalEntry renders an entry as the debug channel's console event payload.
func MarshalEntry(e Entry) ([]byte, error) {
	return json.Marshal(e)
}
