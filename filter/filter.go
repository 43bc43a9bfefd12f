// Package filter layers framing (HTTP headers, chunked transfer-encoding,
// fixed-length bodies, decompression) over a raw *aio.Stream, the way a
// protocol implementation peels a byte stream into structured reads
// without knowing how the bytes actually arrived.
package filter

import (
	"sync"

	"github.com/kestrelio/aio"
)

const defaultReadSize = 16 * 1024

// StreamFilter buffers bytes read from an underlying stream one chunk at a
// time so a higher-level reader (HTTP headers, chunk framing, …) can
// consume them byte-by-byte without re-issuing a read to the network for
// every parse step. Bytes pulled from Source past what a filter consumed
// are held in an internal queue and served before the next underlying
// read is issued.
type StreamFilter struct {
	source *aio.Stream

	mu          sync.Mutex
	pending     []byte // bytes read from source but not yet consumed
	readingEnd  bool
	readingErr  error
	readBufSize int
}

// NewStreamFilter wraps source.
func NewStreamFilter(source *aio.Stream) *StreamFilter {
	return &StreamFilter{source: source, readBufSize: defaultReadSize}
}

// PushBack returns unconsumed bytes to the front of the queue, so the next
// Next call serves them before touching the underlying stream again. Used
// when a higher-level reader over-reads past a frame boundary (e.g. the
// body reader started after the header parser consumed into the body).
func (f *StreamFilter) PushBack(data []byte) {
	if len(data) == 0 {
		return
	}
	f.mu.Lock()
	f.pending = append(append([]byte(nil), data...), f.pending...)
	f.mu.Unlock()
}

// IsReadingEnded reports whether the underlying stream has reported Ended.
func (f *StreamFilter) IsReadingEnded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readingEnd
}

// ReadingError returns the error the underlying stream failed with, if
// any.
func (f *StreamFilter) ReadingError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readingErr
}

// Next delivers the next chunk of data to cb: either bytes already
// buffered from a prior over-read, or a fresh read from the underlying
// stream. cb is called with (nil, true, nil) once the stream ends and no
// buffered bytes remain, or (nil, false, err) on a read error.
func (f *StreamFilter) Next(cb func(data []byte, ended bool, err error)) {
	f.mu.Lock()
	if len(f.pending) > 0 {
		data := f.pending
		f.pending = nil
		f.mu.Unlock()
		cb(data, false, nil)
		return
	}
	if f.readingEnd {
		err := f.readingErr
		f.mu.Unlock()
		cb(nil, true, err)
		return
	}
	f.mu.Unlock()

	buf := make([]byte, f.readBufSize)
	err := f.source.Read(buf, aio.ReadOptions{}, func(r aio.Result) {
		switch r.Code {
		case aio.Success:
			cb(r.Data, false, nil)
		case aio.Ended:
			f.mu.Lock()
			f.readingEnd = true
			f.mu.Unlock()
			cb(nil, true, nil)
		default:
			readErr := aio.NewError("Read", aio.ErrCodeIOError, r.Code.String())
			f.mu.Lock()
			f.readingEnd = true
			f.readingErr = readErr
			f.mu.Unlock()
			cb(nil, false, readErr)
		}
	})
	if err != nil {
		f.mu.Lock()
		f.readingEnd = true
		f.readingErr = err
		f.mu.Unlock()
		cb(nil, false, err)
	}
}

// Source returns the wrapped stream, for a reader that needs to issue its
// own writes (e.g. to pipeline a response while still reading the
// request).
func (f *StreamFilter) Source() *aio.Stream { return f.source }
