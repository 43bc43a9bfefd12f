package streams

import (
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kestrelio/aio"
	"github.com/kestrelio/aio/internal/driver"
)

// DialCallback is invoked once the connect attempt resolves, with either
// the connected Stream or a non-nil error.
type DialCallback func(stream *aio.Stream, err error)

// DialTCP starts an asynchronous connect to addr ("host:port"), invoking
// cb once the handshake resolves. DNS resolution runs synchronously
// before the connect(2) call; the handshake itself never blocks the
// caller or the loop thread.
func DialTCP(loop *aio.Loop, addr string, cb DialCallback) error {
	return dialTCP(loop, addr, cb)
}

// DialUnix starts an asynchronous connect to a Unix domain socket at path.
func DialUnix(loop *aio.Loop, path string, cb DialCallback) error {
	return dialUnix(loop, path, cb)
}

func dialTCP(loop *aio.Loop, addr string, cb DialCallback) error {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return aio.WrapError("Dial", err)
	}

	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		var sa4 unix.SockaddrInet4
		sa4.Port = tcpAddr.Port
		copy(sa4.Addr[:], ip4)
		sa = &sa4
	} else {
		domain = unix.AF_INET6
		var sa6 unix.SockaddrInet6
		sa6.Port = tcpAddr.Port
		copy(sa6.Addr[:], tcpAddr.IP.To16())
		sa = &sa6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return aio.WrapError("Dial", err)
	}
	return startConnect(loop, fd, sa, cb)
}

func dialUnix(loop *aio.Loop, path string, cb DialCallback) error {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return aio.WrapError("Dial", err)
	}
	return startConnect(loop, fd, &unix.SockaddrUnix{Name: path}, cb)
}

// startConnect performs the non-blocking connect(2) algorithm: the fd is
// set non-blocking and connect is attempted once. A connect that doesn't
// resolve immediately (EINPROGRESS, the common case for TCP) registers a
// connector instance for write-readiness; the actual outcome is decided
// later, on the loop thread, by probing SO_ERROR once the fd reports
// writable.
func startConnect(loop *aio.Loop, fd int, sa unix.Sockaddr, cb DialCallback) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return aio.WrapError("Dial", err)
	}

	err := unix.Connect(fd, sa)
	if err == nil {
		raw, rerr := newSocket(loop, fd)
		if rerr != nil {
			unix.Close(fd)
			return aio.WrapError("Dial", rerr)
		}
		s := aio.NewStream(raw)
		s.SetObserver(loop.Observer())
		loop.AddTask(func() { cb(s, nil) })
		return nil
	}
	if err != unix.EINPROGRESS {
		unix.Close(fd)
		return aio.WrapError("Dial", err)
	}

	c := &connector{fd: fd, loop: loop, cb: cb}
	if _, aerr := loop.Attach(c); aerr != nil {
		unix.Close(fd)
		return aio.WrapError("Dial", aerr)
	}
	return nil
}

// connector is a transient aio.Instance tracking one in-flight
// non-blocking connect(2). It is attached to the loop only until the fd
// reports writable (or erroring/hanging up), at which point SO_ERROR
// decides the outcome and the instance is detached.
type connector struct {
	fd   int
	loop *aio.Loop
	cb   DialCallback

	mu   sync.Mutex
	done bool
}

func (c *connector) Handle() uintptr   { return uintptr(c.fd) }
func (c *connector) Mode() driver.Mode { return driver.ModeOut }
func (c *connector) OnOrder()          {}

func (c *connector) OnEvent(ev driver.Event) {
	if !ev.Out && !ev.Err && !ev.Hup {
		return
	}
	c.finish()
}

func (c *connector) OnClose() {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	cb := c.cb
	c.mu.Unlock()
	if cb != nil {
		unix.Close(c.fd)
		cb(nil, aio.ErrStreamClosed)
	}
}

// finish decides the connect outcome via SO_ERROR/getsockopt, per the
// POSIX non-blocking connect protocol: a writable fd after EINPROGRESS
// means the handshake finished, successfully or not.
func (c *connector) finish() {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	cb := c.cb
	c.mu.Unlock()

	c.loop.Detach(c)

	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		unix.Close(c.fd)
		cb(nil, aio.WrapError("Dial", err))
		return
	}
	if errno != 0 {
		unix.Close(c.fd)
		cb(nil, aio.WrapError("Dial", unix.Errno(errno)))
		return
	}

	raw, rerr := newSocket(c.loop, c.fd)
	if rerr != nil {
		unix.Close(c.fd)
		cb(nil, aio.WrapError("Dial", rerr))
		return
	}
	s := aio.NewStream(raw)
	s.SetObserver(c.loop.Observer())
	cb(s, nil)
}

var _ aio.Instance = (*connector)(nil)
