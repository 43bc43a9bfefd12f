package streams

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kestrelio/aio"
	"github.com/kestrelio/aio/internal/driver"
)

// socket is a RawStream backed by a non-blocking POSIX socket (TCP or
// Unix domain), driven by the Loop's readiness-based Driver. At most one
// pending read and one pending write are tracked at a time.
type socket struct {
	fd   int
	loop *aio.Loop
	key  uintptr

	mu        sync.Mutex
	mode      driver.Mode
	attached  bool
	closed    bool
	readBuf   []byte
	readCb    func(n int, code aio.ResultCode, err error)
	writeBuf  []byte
	writeCb   func(n int, code aio.ResultCode, err error)
}

func newSocket(loop *aio.Loop, fd int) (*socket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	s := &socket{fd: fd, loop: loop}
	key, err := loop.Attach(s)
	if err != nil {
		return nil, err
	}
	s.key = key
	s.attached = true
	return s, nil
}

func (s *socket) Handle() uintptr { return uintptr(s.fd) }

func (s *socket) Mode() driver.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *socket) updateMode(add driver.Mode, remove driver.Mode) {
	s.mu.Lock()
	s.mode = (s.mode | add) &^ remove
	mode := s.mode
	attached := s.attached
	s.mu.Unlock()
	if attached {
		s.loop.Modify(s, mode)
	}
}

func (s *socket) OnEvent(ev driver.Event) {
	if ev.In {
		s.serviceRead()
	}
	if ev.Out {
		s.serviceWrite()
	}
	if ev.Hup || ev.Err {
		s.serviceRead()
		s.serviceWrite()
	}
}

// OnOrder is invoked on the loop thread during the order phase following
// an IssueRead/IssueWrite, and is where the actual read(2)/write(2) is
// attempted. Keeping the syscall here (rather than at issue time, on
// whatever goroutine the caller happens to be) guarantees it never races
// against OnEvent, which runs on the same thread.
func (s *socket) OnOrder() {
	s.serviceRead()
	s.serviceWrite()
}

func (s *socket) OnClose() {
	s.mu.Lock()
	readCb, writeCb := s.readCb, s.writeCb
	s.readCb, s.writeCb = nil, nil
	s.mu.Unlock()
	if readCb != nil {
		readCb(0, aio.Closed, nil)
	}
	if writeCb != nil {
		writeCb(0, aio.Closed, nil)
	}
}

func (s *socket) IssueRead(buf []byte, cb func(n int, code aio.ResultCode, err error)) {
	s.mu.Lock()
	s.readBuf = buf
	s.readCb = cb
	s.mu.Unlock()
	s.updateMode(driver.ModeIn, 0)
	s.loop.RequestOrder(s)
}

func (s *socket) IssueWrite(buf []byte, cb func(n int, code aio.ResultCode, err error)) {
	s.mu.Lock()
	s.writeBuf = buf
	s.writeCb = cb
	s.mu.Unlock()
	s.updateMode(driver.ModeOut, 0)
	s.loop.RequestOrder(s)
}

// CancelRead drops the pending read slot without invoking its callback, so
// a caller that has already given up on the request (e.g. a timeout) never
// has its buffer touched by a later serviceRead.
func (s *socket) CancelRead() {
	s.mu.Lock()
	s.readBuf = nil
	s.readCb = nil
	s.mu.Unlock()
	s.updateMode(0, driver.ModeIn)
}

// CancelWrite drops the pending write slot without invoking its callback.
func (s *socket) CancelWrite() {
	s.mu.Lock()
	s.writeBuf = nil
	s.writeCb = nil
	s.mu.Unlock()
	s.updateMode(0, driver.ModeOut)
}

func (s *socket) serviceRead() {
	s.mu.Lock()
	buf, cb := s.readBuf, s.readCb
	s.mu.Unlock()
	if cb == nil {
		return
	}

	n, err := unix.Read(s.fd, buf)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		return
	case err != nil:
		s.finishRead(0, aio.Unknown, err)
	case n == 0:
		s.finishRead(0, aio.Ended, nil)
	default:
		s.finishRead(n, aio.Success, nil)
	}
}

func (s *socket) finishRead(n int, code aio.ResultCode, err error) {
	s.mu.Lock()
	cb := s.readCb
	s.readCb = nil
	s.readBuf = nil
	s.mu.Unlock()
	s.updateMode(0, driver.ModeIn)
	if cb != nil {
		cb(n, code, err)
	}
}

func (s *socket) serviceWrite() {
	s.mu.Lock()
	buf, cb := s.writeBuf, s.writeCb
	s.mu.Unlock()
	if cb == nil {
		return
	}

	n, err := unix.Write(s.fd, buf)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		return
	case err != nil:
		s.finishWrite(0, aio.Unknown, err)
	default:
		s.finishWrite(n, aio.Success, nil)
	}
}

func (s *socket) finishWrite(n int, code aio.ResultCode, err error) {
	s.mu.Lock()
	cb := s.writeCb
	s.writeCb = nil
	s.writeBuf = nil
	s.mu.Unlock()
	s.updateMode(0, driver.ModeOut)
	if cb != nil {
		cb(n, code, err)
	}
}

func (s *socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	attached := s.attached
	s.mu.Unlock()
	if attached {
		s.loop.Detach(s)
	}
	return unix.Close(s.fd)
}

func (s *socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *socket) IsSeekable() bool                        { return false }
func (s *socket) Seek(int64, int) (int64, error)          { return 0, aio.ErrStreamClosed }
func (s *socket) Position() (int64, error)                { return 0, aio.ErrStreamClosed }
func (s *socket) Size() (int64, error)                    { return 0, aio.ErrStreamClosed }
func (s *socket) Loop() *aio.Loop                         { return s.loop }

var _ aio.RawStream = (*socket)(nil)
var _ aio.Instance = (*socket)(nil)
