// Package streams provides concrete aio.Instance/aio.RawStream
// implementations: regular files, TCP/Unix sockets, and UDP endpoints.
package streams

import (
	"io"
	"os"
	"sync"

	"github.com/kestrelio/aio"
	"github.com/kestrelio/aio/internal/interfaces"
	"github.com/kestrelio/aio/internal/logging"
)

// osFile adapts *os.File to interfaces.File, which has no direct Size
// method.
type osFile struct{ *os.File }

func (f osFile) Size() (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// fileWorkers bounds how many regular-file reads/writes may be in flight
// across the whole process at once, since a regular file's fd is always
// "ready" under epoll/kqueue and must instead be driven by offloading
// pread/pwrite onto a bounded worker pool that reports back onto the
// owning Loop.
const fileWorkers = 32

var fileSem = make(chan struct{}, fileWorkers)

// File is a RawStream backed by a regular *os.File. Since regular files
// are always readable/writable from the OS's point of view, File never
// registers with the Loop's driver; instead each IssueRead/IssueWrite
// dispatches a pread/pwrite onto a bounded worker goroutine and delivers
// the result back onto the Loop thread via AddTask (mirrors the stub
// simulation mode a completion-based backend falls back to when no real
// device is present).
type File struct {
	f      interfaces.File
	loop   *aio.Loop
	log    *logging.Logger
	offset int64

	mu     sync.Mutex
	closed bool
}

// OpenFile opens path for asynchronous read/write on loop.
func OpenFile(loop *aio.Loop, path string, flag int, perm os.FileMode) (*aio.Stream, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, aio.WrapError("OpenFile", err)
	}
	return NewFileStream(loop, osFile{f}), nil
}

// NewFileStream wraps a pre-opened interfaces.File collaborator (a plain
// *os.File via OpenFile, or any caller-supplied blocking file handle) for
// asynchronous read/write on loop. The stream never opens or closes
// anything on the caller's behalf beyond this handle.
func NewFileStream(loop *aio.Loop, f interfaces.File) *aio.Stream {
	raw := &File{f: f, loop: loop, log: logging.Default()}
	s := aio.NewStream(raw)
	s.SetObserver(loop.Observer())
	return s
}

func (fr *File) IssueRead(buf []byte, cb func(n int, code aio.ResultCode, err error)) {
	fr.mu.Lock()
	off := fr.offset
	fr.mu.Unlock()

	fileSem <- struct{}{}
	go func() {
		defer func() { <-fileSem }()
		n, err := fr.f.ReadAt(buf, off)
		fr.loop.AddTask(func() {
			fr.mu.Lock()
			fr.offset += int64(n)
			fr.mu.Unlock()
			cb(n, classifyReadResult(n, err), nonEOF(err))
		})
	}()
}

func (fr *File) IssueWrite(buf []byte, cb func(n int, code aio.ResultCode, err error)) {
	fr.mu.Lock()
	off := fr.offset
	fr.mu.Unlock()

	fileSem <- struct{}{}
	go func() {
		defer func() { <-fileSem }()
		n, err := fr.f.WriteAt(buf, off)
		fr.loop.AddTask(func() {
			fr.mu.Lock()
			fr.offset += int64(n)
			fr.mu.Unlock()
			cb(n, classifyWriteResult(n, err), err)
		})
	}()
}

// CancelRead is a no-op. File I/O runs a blocking ReadAt on its own
// goroutine; once issued, there is no way to stop it short of closing the
// file, so a timed-out caller may still see its buffer written after the
// fact. Real drivers avoid this by cancelling the actual syscall.
func (fr *File) CancelRead() {}

// CancelWrite is CancelRead's write-side counterpart.
func (fr *File) CancelWrite() {}

// classifyReadResult maps an ReadAt outcome to a ResultCode. io.EOF with
// no bytes transferred means the peer (file tail) has ended; a partial
// read before EOF still counts as Success.
func classifyReadResult(n int, err error) aio.ResultCode {
	switch {
	case err == nil:
		return aio.Success
	case err == io.EOF && n == 0:
		return aio.Ended
	case n > 0:
		return aio.Success
	default:
		return aio.Unknown
	}
}

func classifyWriteResult(n int, err error) aio.ResultCode {
	if err == nil {
		return aio.Success
	}
	return aio.Unknown
}

// nonEOF suppresses io.EOF from the error return; it is reported through
// the ResultCode instead.
func nonEOF(err error) error {
	if err == io.EOF {
		return nil
	}
	return err
}

func (fr *File) Close() error {
	fr.mu.Lock()
	if fr.closed {
		fr.mu.Unlock()
		return nil
	}
	fr.closed = true
	fr.mu.Unlock()
	return fr.f.Close()
}

func (fr *File) Closed() bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.closed
}

func (fr *File) IsSeekable() bool { return true }

func (fr *File) Seek(offset int64, whence int) (int64, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	n, err := fr.f.Seek(offset, whence)
	if err == nil {
		fr.offset = n
	}
	return n, err
}

func (fr *File) Position() (int64, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.offset, nil
}

func (fr *File) Size() (int64, error) {
	return fr.f.Size()
}

func (fr *File) Loop() *aio.Loop { return fr.loop }

var _ aio.RawStream = (*File)(nil)
