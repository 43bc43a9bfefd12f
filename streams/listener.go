package streams

import (
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kestrelio/aio"
	"github.com/kestrelio/aio/internal/driver"
)

// listenerFile extracts the *os.File backing a net.Listener, supporting
// the concrete types Listen actually produces (*net.TCPListener,
// *net.UnixListener).
func listenerFile(ln net.Listener) (*os.File, error) {
	type fileListener interface {
		File() (*os.File, error)
	}
	fl, ok := ln.(fileListener)
	if !ok {
		return nil, aio.NewError("Listen", aio.ErrCodeUnsupported, "listener type does not support File()")
	}
	return fl.File()
}

// AcceptCallback is invoked once per accepted connection, with a non-nil
// err when an accept or the setup of an accepted connection fails, and
// with aio.ErrStreamClosed once the listener is closed.
type AcceptCallback func(stream *aio.Stream, err error)

// Listener accepts incoming TCP/Unix connections asynchronously,
// registering its listening fd for read-readiness (a listening socket
// becomes "readable" when a connection is pending in its accept queue).
type Listener struct {
	fd   int
	loop *aio.Loop
	key  uintptr
	addr string

	mu       sync.Mutex
	cb       AcceptCallback
	closed   bool
	attached bool
}

// Addr returns the address the listener is bound to, which for a
// wildcard port ("127.0.0.1:0") reports the kernel-assigned port.
func (l *Listener) Addr() string { return l.addr }

// ListenTCP listens on addr ("host:port") and invokes cb for every
// accepted connection until the listener is closed.
func ListenTCP(loop *aio.Loop, addr string, cb AcceptCallback) (*Listener, error) {
	return listenNet(loop, "tcp", addr, cb)
}

// ListenUnix listens on a Unix domain socket at path.
func ListenUnix(loop *aio.Loop, path string, cb AcceptCallback) (*Listener, error) {
	return listenNet(loop, "unix", path, cb)
}

func listenNet(loop *aio.Loop, network, addr string, cb AcceptCallback) (*Listener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, aio.WrapError("Listen", err)
	}
	f, err := listenerFile(ln)
	if err != nil {
		ln.Close()
		return nil, aio.WrapError("Listen", err)
	}
	fd, err := unix.Dup(int(f.Fd()))
	f.Close()
	if err != nil {
		ln.Close()
		return nil, aio.WrapError("Listen", err)
	}
	boundAddr := ln.Addr().String()
	ln.Close() // the dup'd fd keeps the socket alive

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, aio.WrapError("Listen", err)
	}

	l := &Listener{fd: fd, loop: loop, cb: cb, addr: boundAddr}
	key, err := loop.Attach(l)
	if err != nil {
		unix.Close(fd)
		return nil, aio.WrapError("Listen", err)
	}
	l.key = key
	l.attached = true
	return l, nil
}

func (l *Listener) Handle() uintptr   { return uintptr(l.fd) }
func (l *Listener) Mode() driver.Mode { return driver.ModeIn }

// OnOrder is a no-op: a listener has no read/write slot of its own, it
// only reacts to accept-readiness via OnEvent.
func (l *Listener) OnOrder() {}

func (l *Listener) OnEvent(ev driver.Event) {
	if !ev.In {
		return
	}
	for {
		connFd, _, err := unix.Accept(l.fd)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err != nil {
			l.mu.Lock()
			cb := l.cb
			l.mu.Unlock()
			if cb != nil {
				cb(nil, aio.WrapError("Accept", err))
			}
			return
		}

		raw, err := newSocket(l.loop, connFd)
		l.mu.Lock()
		cb := l.cb
		l.mu.Unlock()
		if err != nil {
			unix.Close(connFd)
			if cb != nil {
				cb(nil, aio.WrapError("Accept", err))
			}
			continue
		}
		if cb != nil {
			accepted := aio.NewStream(raw)
			accepted.SetObserver(l.loop.Observer())
			cb(accepted, nil)
		}
	}
}

func (l *Listener) OnClose() {
	l.mu.Lock()
	cb := l.cb
	l.cb = nil
	l.mu.Unlock()
	if cb != nil {
		cb(nil, aio.ErrStreamClosed)
	}
}

// Close stops accepting new connections. Idempotent.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	attached := l.attached
	l.mu.Unlock()
	if attached {
		l.loop.Detach(l)
	}
	return unix.Close(l.fd)
}

var _ aio.Instance = (*Listener)(nil)
