//go:build linux

package driver

import (
	"sync"

	"golang.org/x/sys/unix"
)

// epollDriver implements Driver on Linux using epoll in level-triggered
// mode. fds are tracked in a map keyed by fd rather than the direct-index
// array used for in-process eventloop pollers, since stream fds are not
// dense and may be arbitrarily large (e.g. inherited listener sockets).
type epollDriver struct {
	epfd     int
	wakeR    int
	wakeW    int
	mu       sync.Mutex
	keys     map[uintptr]uintptr
	eventBuf []unix.EpollEvent
}

// New constructs the platform Driver. On Linux this is epoll-backed.
func New() Driver {
	return &epollDriver{
		keys:     make(map[uintptr]uintptr),
		eventBuf: make([]unix.EpollEvent, 256),
	}
}

func (d *epollDriver) Init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	d.epfd = epfd

	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(epfd)
		return err
	}
	d.wakeR, d.wakeW = fds[0], fds[1]

	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(d.wakeR)}
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, d.wakeR, ev); err != nil {
		unix.Close(d.wakeR)
		unix.Close(d.wakeW)
		unix.Close(epfd)
		return err
	}
	return nil
}

func (d *epollDriver) Close() error {
	unix.Close(d.wakeR)
	unix.Close(d.wakeW)
	return unix.Close(d.epfd)
}

func (d *epollDriver) Wake() error {
	var b [1]byte
	_, err := unix.Write(d.wakeW, b[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func modeToEpoll(m Mode) uint32 {
	var e uint32
	if m&ModeIn != 0 {
		e |= unix.EPOLLIN
	}
	if m&ModeOut != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func (d *epollDriver) Attach(fd uintptr, key uintptr, mode Mode) error {
	d.mu.Lock()
	d.keys[fd] = key
	d.mu.Unlock()

	ev := &unix.EpollEvent{Events: modeToEpoll(mode), Fd: int32(fd)}
	return unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, int(fd), ev)
}

func (d *epollDriver) Modify(fd uintptr, key uintptr, mode Mode) error {
	d.mu.Lock()
	d.keys[fd] = key
	d.mu.Unlock()

	ev := &unix.EpollEvent{Events: modeToEpoll(mode), Fd: int32(fd)}
	return unix.EpollCtl(d.epfd, unix.EPOLL_CTL_MOD, int(fd), ev)
}

func (d *epollDriver) Detach(fd uintptr, key uintptr) error {
	d.mu.Lock()
	_, ok := d.keys[fd]
	delete(d.keys, fd)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (d *epollDriver) WaitOnce(timeoutMs int) ([]Event, error) {
	n, err := unix.EpollWait(d.epfd, d.eventBuf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		raw := d.eventBuf[i]
		if int(raw.Fd) == d.wakeR {
			var b [64]byte
			for {
				if _, rerr := unix.Read(d.wakeR, b[:]); rerr != nil {
					break
				}
			}
			continue
		}
		d.mu.Lock()
		key := d.keys[uintptr(raw.Fd)]
		d.mu.Unlock()
		out = append(out, Event{
			Key: key,
			FD:  uintptr(raw.Fd),
			In:  raw.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0,
			Out: raw.Events&unix.EPOLLOUT != 0,
			Err: raw.Events&unix.EPOLLERR != 0,
			Hup: raw.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		})
	}
	return out, nil
}
