package aio

import (
	"errors"
	"sync"
	"time"

	"github.com/kestrelio/aio/internal/interfaces"
)

// ErrEmptyContent is returned synchronously by Read/Write when called
// with a zero-length buffer and no in-flight request can be issued.
var ErrEmptyContent = errors.New("aio: empty content")

// ErrStreamClosed is returned when an operation is attempted on a stream
// that has already been closed.
var ErrStreamClosed = errors.New("aio: stream closed")

// RawStream is the driver-side contract a concrete transport (file,
// TCP/Unix socket, UDP endpoint) implements. Stream wraps a RawStream and
// provides the public read/write/fully/timeout surface; RawStream itself
// only knows how to issue one read and one write against the underlying
// descriptor and report the outcome through a callback.
type RawStream interface {
	// IssueRead asks the driver to read into buf, calling cb exactly once
	// with the outcome. At most one read may be outstanding at a time.
	IssueRead(buf []byte, cb func(n int, code ResultCode, err error))
	// IssueWrite asks the driver to write buf, calling cb exactly once
	// with the outcome. At most one write may be outstanding at a time.
	IssueWrite(buf []byte, cb func(n int, code ResultCode, err error))
	// CancelRead drops any pending IssueRead without invoking its
	// callback, so a stale completion can never touch the caller's
	// buffer after the request has already been resolved some other way
	// (e.g. a timeout). A no-op if no read is outstanding.
	CancelRead()
	// CancelWrite is CancelRead's write-side counterpart.
	CancelWrite()
	// Close releases the underlying descriptor. Idempotent.
	Close() error
	// Closed reports whether Close has been called.
	Closed() bool
	// IsSeekable reports whether Seek/Position/Size are meaningful.
	IsSeekable() bool
	Seek(offset int64, whence int) (int64, error)
	Position() (int64, error)
	Size() (int64, error)
	// Loop returns the owning Loop.
	Loop() *Loop
}

// Stream is the public asynchronous read/write contract. All
// public methods may be called from any goroutine; the request itself is
// always issued on the owning Loop's thread.
type Stream struct {
	raw      RawStream
	observer interfaces.Observer

	mu        sync.Mutex
	readReq   *Request
	writeReq  *Request
	closed    bool
	closeOnce sync.Once
}

// NewStream wraps raw in a Stream.
func NewStream(raw RawStream) *Stream {
	return &Stream{raw: raw, observer: NoOpObserver{}}
}

// SetObserver installs the Observer metrics are reported to for every
// read, write, close, and timeout this Stream completes. A nil observer
// is treated as NoOpObserver.
func (s *Stream) SetObserver(o interfaces.Observer) {
	if o == nil {
		o = NoOpObserver{}
	}
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
}

func (s *Stream) getObserver() interfaces.Observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observer
}

// IsSeekable reports whether the underlying transport supports Seek.
func (s *Stream) IsSeekable() bool { return s.raw.IsSeekable() }

// Seek repositions a seekable stream (e.g. a file).
func (s *Stream) Seek(offset int64, whence int) (int64, error) { return s.raw.Seek(offset, whence) }

// Position returns the current offset of a seekable stream.
func (s *Stream) Position() (int64, error) { return s.raw.Position() }

// Size returns the total size of a seekable stream.
func (s *Stream) Size() (int64, error) { return s.raw.Size() }

// Loop returns the Loop this stream's requests are issued on.
func (s *Stream) Loop() *Loop { return s.raw.Loop() }

// Close closes the underlying stream. Any outstanding request is
// completed with ResultCode Closed. Idempotent.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		rr, wr := s.readReq, s.writeReq
		s.readReq, s.writeReq = nil, nil
		s.mu.Unlock()

		if rr != nil {
			rr.runCallback(Result{Stream: s, Code: Closed})
		}
		if wr != nil {
			wr.runCallback(Result{Stream: s, Code: Closed})
		}
		err = s.raw.Close()
		s.getObserver().ObserveClose(err == nil)
	})
	return err
}

// AddTask schedules fn on the owning loop's thread.
func (s *Stream) AddTask(fn func()) {
	s.Loop().AddTask(fn)
}

// ReadOptions configures a single Read call.
type ReadOptions struct {
	// Fully, when true, re-issues reads against the buffer tail until it
	// is completely full, the peer ends the stream, or an error occurs.
	// Read defaults to false (a single short read is a success).
	Fully bool
	// Timeout, when non-zero, bounds how long the request may remain
	// outstanding before completing with ResultCode Timeout.
	Timeout time.Duration
	// UserObject is carried through to the Result unchanged.
	UserObject any
}

// WriteOptions configures a single Write call.
type WriteOptions struct {
	// Fully, when true (the default), re-issues writes against the
	// buffer tail until all bytes are written or an error occurs. Set
	// false to allow a short write to succeed.
	Fully bool
	// FullyOverride distinguishes "caller explicitly set Fully=false"
	// from "caller left Fully at its zero value"; Write treats the zero
	// value of WriteOptions as Fully=true per spec default semantics.
	FullyOverride bool
	Timeout       time.Duration
	UserObject    any
}

// Read issues a single asynchronous read into buf, invoking cb with the
// result. Returns ErrEmptyContent synchronously if buf has zero length.
func (s *Stream) Read(buf []byte, opts ReadOptions, cb Callback) error {
	if len(buf) == 0 {
		return ErrEmptyContent
	}
	req := NewRequest(DirRead, buf, len(buf), opts.UserObject, cb)
	req.fully = opts.Fully
	return s.issueRead(req, opts.Timeout)
}

// ReadFully is shorthand for Read with Fully forced true.
func (s *Stream) ReadFully(buf []byte, opts ReadOptions, cb Callback) error {
	opts.Fully = true
	return s.Read(buf, opts, cb)
}

// Write issues a single asynchronous write of buf, invoking cb with the
// result. Fully defaults to true: a short write is re-issued against the
// remaining tail until the whole buffer is sent or an error occurs.
func (s *Stream) Write(buf []byte, opts WriteOptions, cb Callback) error {
	if len(buf) == 0 {
		return ErrEmptyContent
	}
	fully := true
	if opts.FullyOverride {
		fully = opts.Fully
	}
	req := NewRequest(DirWrite, buf, len(buf), opts.UserObject, cb)
	req.fully = fully
	return s.issueWrite(req, opts.Timeout)
}

// WriteFully is shorthand for Write with Fully forced true.
func (s *Stream) WriteFully(buf []byte, opts WriteOptions, cb Callback) error {
	opts.Fully = true
	opts.FullyOverride = true
	return s.Write(buf, opts, cb)
}

// CreateMemoryAndWrite copies data into a freshly allocated buffer before
// issuing a WriteFully against it, so the caller's own buffer may be
// reused or mutated immediately without waiting for the write to
// complete.
func (s *Stream) CreateMemoryAndWrite(data []byte, opts WriteOptions, cb Callback) error {
	owned := append([]byte(nil), data...)
	return s.WriteFully(owned, opts, cb)
}

func (s *Stream) issueRead(req *Request, timeout time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.readReq = req
	s.mu.Unlock()

	s.armTimeout(req, timeout, func() {
		s.mu.Lock()
		stillCurrent := s.readReq == req
		if stillCurrent {
			s.readReq = nil
		}
		s.mu.Unlock()
		if stillCurrent {
			s.raw.CancelRead()
		}
	})

	s.AddTask(func() {
		s.raw.IssueRead(req.Data[req.sizePassed:req.Size], func(n int, code ResultCode, err error) {
			s.handleReadCompletion(req, n, code, err)
		})
	})
	return nil
}

func (s *Stream) issueWrite(req *Request, timeout time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.writeReq = req
	s.mu.Unlock()

	s.armTimeout(req, timeout, func() {
		s.mu.Lock()
		stillCurrent := s.writeReq == req
		if stillCurrent {
			s.writeReq = nil
		}
		s.mu.Unlock()
		if stillCurrent {
			s.raw.CancelWrite()
		}
	})

	s.AddTask(func() {
		s.raw.IssueWrite(req.Data[req.sizePassed:req.Size], func(n int, code ResultCode, err error) {
			s.handleWriteCompletion(req, n, code, err)
		})
	})
	return nil
}

func (s *Stream) armTimeout(req *Request, timeout time.Duration, onFire func()) {
	if timeout <= 0 {
		return
	}
	cancel := s.Loop().Dispatch(func() {
		onFire()
		s.getObserver().ObserveTimeout()
		req.runCallback(Result{Stream: s, Code: Timeout})
	}, timeout)
	req.cancelTimer = cancel
}

func (s *Stream) handleReadCompletion(req *Request, n int, code ResultCode, err error) {
	req.sizePassed += n

	if code == Success && req.fully && req.sizePassed < req.Size {
		s.mu.Lock()
		stillCurrent := s.readReq == req && !s.closed
		s.mu.Unlock()
		if stillCurrent {
			s.raw.IssueRead(req.Data[req.sizePassed:req.Size], func(n2 int, code2 ResultCode, err2 error) {
				s.handleReadCompletion(req, n2, code2, err2)
			})
			return
		}
	}

	s.mu.Lock()
	if s.readReq == req {
		s.readReq = nil
	}
	s.mu.Unlock()

	s.getObserver().ObserveRead(uint64(req.sizePassed), uint64(time.Since(req.issuedAt)), code == Success || code == Ended)

	req.runCallback(Result{
		Stream: s,
		Data:   req.Data[:req.sizePassed],
		Size:   req.sizePassed,
		Code:   code,
		Err:    err,
	})
}

func (s *Stream) handleWriteCompletion(req *Request, n int, code ResultCode, err error) {
	req.sizePassed += n

	if code == Success && req.fully && req.sizePassed < req.Size {
		s.mu.Lock()
		stillCurrent := s.writeReq == req && !s.closed
		s.mu.Unlock()
		if stillCurrent {
			s.raw.IssueWrite(req.Data[req.sizePassed:req.Size], func(n2 int, code2 ResultCode, err2 error) {
				s.handleWriteCompletion(req, n2, code2, err2)
			})
			return
		}
	}

	s.mu.Lock()
	if s.writeReq == req {
		s.writeReq = nil
	}
	s.mu.Unlock()

	s.getObserver().ObserveWrite(uint64(req.sizePassed), uint64(time.Since(req.issuedAt)), code == Success)

	req.runCallback(Result{
		Stream: s,
		Data:   req.Data[:req.sizePassed],
		Size:   req.sizePassed,
		Code:   code,
		Err:    err,
	})
}
