// Package output composes a response body out of in-memory header bytes
// and streamed segments (file bodies, proxied upstream bodies) and writes
// the whole thing out to a target Stream in order, without requiring the
// caller to buffer streamed segments into memory first.
package output

import (
	"os"
	"sync"

	"github.com/kestrelio/aio"
	"github.com/kestrelio/aio/copy"
	"github.com/kestrelio/aio/streams"
)

// Element is one piece of an output body: either a literal byte slice
// (headers, a templated fragment) or a streamed segment of known length
// copied from another Stream (a file body, a proxied response).
type Element struct {
	data   []byte
	body   *aio.Stream
	length int64
	owned  bool // true if Output opened body and must close it when done
}

// NewBytesElement wraps literal bytes.
func NewBytesElement(data []byte) Element {
	return Element{data: data}
}

// NewStreamElement wraps length bytes to be copied from body when this
// element's turn comes up in the queue.
func NewStreamElement(body *aio.Stream, length int64) Element {
	return Element{body: body, length: length}
}

func (e Element) size() int64 {
	if e.body != nil {
		return e.length
	}
	return int64(len(e.data))
}

// Buffer is a FIFO queue of Elements with a running total length, the
// piece of AsyncOutput that just tracks "what to write next" without
// knowing how to write it.
type Buffer struct {
	mu       sync.Mutex
	elements []Element
	length   int64
}

// Write appends literal bytes as the next element.
func (b *Buffer) Write(data []byte) {
	if len(data) == 0 {
		return
	}
	cp := append([]byte(nil), data...)
	b.mu.Lock()
	b.elements = append(b.elements, NewBytesElement(cp))
	b.length += int64(len(cp))
	b.mu.Unlock()
}

// CopyFrom appends length bytes to be streamed from body once this
// element is reached.
func (b *Buffer) CopyFrom(body *aio.Stream, length int64) {
	b.appendStream(body, length, false)
}

func (b *Buffer) appendStream(body *aio.Stream, length int64, owned bool) {
	b.mu.Lock()
	el := NewStreamElement(body, length)
	el.owned = owned
	b.elements = append(b.elements, el)
	b.length += length
	b.mu.Unlock()
}

// Length returns the total size of all queued elements.
func (b *Buffer) Length() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

func (b *Buffer) pop() (Element, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.elements) == 0 {
		return Element{}, false
	}
	e := b.elements[0]
	b.elements = b.elements[1:]
	b.length -= e.size()
	return e, true
}

// Output drains a Buffer to a target Stream in order: literal elements
// are written directly, streamed elements are drained with an AsyncCopy
// so a large file or proxied body never needs to be fully buffered in
// memory before being written out.
type Output struct {
	target    *aio.Stream
	buf       Buffer
	bufSize   int
	bufCount  int

	mu      sync.Mutex
	writing bool
	closed  bool
	onError func(error)
}

// New constructs an Output that writes to target. bufSize/bufCount
// parameterize the AsyncCopy used to drain streamed elements; zero values
// fall back to copy.New's own defaults.
func New(target *aio.Stream, bufSize, bufCount int) *Output {
	return &Output{target: target, bufSize: bufSize, bufCount: bufCount}
}

// OnError sets the callback invoked if a write fails. Must be set before
// the first call that could trigger a write.
func (o *Output) OnError(cb func(error)) {
	o.mu.Lock()
	o.onError = cb
	o.mu.Unlock()
}

// Write queues literal bytes and, if nothing else is being written,
// starts draining the queue.
func (o *Output) Write(data []byte) {
	o.buf.Write(data)
	o.pump()
}

// CopyFrom queues length bytes to be streamed from body and, if nothing
// else is being written, starts draining the queue.
func (o *Output) CopyFrom(body *aio.Stream, length int64) {
	o.buf.CopyFrom(body, length)
	o.pump()
}

// Length returns the total size of all bytes not yet written out.
func (o *Output) Length() int64 { return o.buf.Length() }

// CopyFromFile opens path on the target's loop, measures its size, and
// queues it as a streamed element the same way CopyFrom would.
func (o *Output) CopyFromFile(path string) error {
	body, err := streams.OpenFile(o.target.Loop(), path, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	size, err := body.Size()
	if err != nil {
		body.Close()
		return err
	}
	o.buf.appendStream(body, size, true)
	o.pump()
	return nil
}

// IsWriting reports whether an element is currently being written.
func (o *Output) IsWriting() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writing
}

// Close marks the output closed; any element still queued when the
// current write finishes is discarded rather than written.
func (o *Output) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}

func (o *Output) pump() {
	o.mu.Lock()
	if o.writing || o.closed {
		o.mu.Unlock()
		return
	}
	el, ok := o.buf.pop()
	if !ok {
		o.mu.Unlock()
		return
	}
	o.writing = true
	o.mu.Unlock()

	if el.body == nil {
		o.writeBytes(el.data)
		return
	}
	o.copyStream(el)
}

func (o *Output) writeBytes(data []byte) {
	err := o.target.WriteFully(data, aio.WriteOptions{}, func(r aio.Result) {
		o.afterElement(r.Code != aio.Success, nil)
	})
	if err != nil {
		o.afterElement(true, err)
	}
}

func (o *Output) copyStream(el Element) {
	copy.New(copy.Config{
		Source:      el.body,
		Target:      o.target,
		Size:        el.length,
		BufferSize:  o.bufSize,
		BufferCount: o.bufCount,
		AutoStart:   true,
		Hooks: copy.Hooks{
			OnEnd: func(_ *copy.AsyncCopy, failed bool) {
				if el.owned {
					el.body.Close()
				}
				o.afterElement(failed, nil)
			},
		},
	})
}

func (o *Output) afterElement(failed bool, err error) {
	o.mu.Lock()
	o.writing = false
	cb := o.onError
	o.mu.Unlock()

	if failed && cb != nil {
		if err == nil {
			err = aio.NewError("Write", aio.ErrCodeIOError, "write failed")
		}
		cb(err)
		return
	}
	o.pump()
}
