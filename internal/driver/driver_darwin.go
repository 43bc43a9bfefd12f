//go:build darwin

package driver

import (
	"sync"

	"golang.org/x/sys/unix"
)

// kqueueDriver implements Driver on Darwin/BSD using kqueue. Read and
// write interest are tracked as independent filters (EVFILT_READ,
// EVFILT_WRITE) since kqueue has no combined readiness filter the way
// epoll does.
type kqueueDriver struct {
	kq    int
	wakeR int
	wakeW int
	mu    sync.Mutex
	keys  map[uintptr]uintptr
}

// New constructs the platform Driver. On Darwin this is kqueue-backed.
func New() Driver {
	return &kqueueDriver{keys: make(map[uintptr]uintptr)}
}

func (d *kqueueDriver) Init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	d.kq = kq

	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		unix.Close(kq)
		return err
	}
	d.wakeR, d.wakeW = fds[0], fds[1]
	unix.SetNonblock(d.wakeR, true)
	unix.SetNonblock(d.wakeW, true)

	ev := unix.Kevent_t{
		Ident:  uint64(d.wakeR),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	if _, err := unix.Kevent(d.kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		unix.Close(d.wakeR)
		unix.Close(d.wakeW)
		unix.Close(kq)
		return err
	}
	return nil
}

func (d *kqueueDriver) Close() error {
	unix.Close(d.wakeR)
	unix.Close(d.wakeW)
	return unix.Close(d.kq)
}

func (d *kqueueDriver) Wake() error {
	var b [1]byte
	_, err := unix.Write(d.wakeW, b[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (d *kqueueDriver) changeList(fd uintptr, mode Mode, flags uint16) []unix.Kevent_t {
	var changes []unix.Kevent_t
	if mode&ModeIn != 0 || flags&unix.EV_DELETE != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags,
		})
	}
	if mode&ModeOut != 0 || flags&unix.EV_DELETE != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags,
		})
	}
	return changes
}

func (d *kqueueDriver) Attach(fd uintptr, key uintptr, mode Mode) error {
	d.mu.Lock()
	d.keys[fd] = key
	d.mu.Unlock()
	changes := d.changeList(fd, mode, unix.EV_ADD|unix.EV_CLEAR)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(d.kq, changes, nil, nil)
	return err
}

func (d *kqueueDriver) Modify(fd uintptr, key uintptr, mode Mode) error {
	d.mu.Lock()
	d.keys[fd] = key
	d.mu.Unlock()
	var changes []unix.Kevent_t
	if mode&ModeIn != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_CLEAR})
	} else {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if mode&ModeOut != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_CLEAR})
	} else {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}
	_, err := unix.Kevent(d.kq, changes, nil, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (d *kqueueDriver) Detach(fd uintptr, key uintptr) error {
	d.mu.Lock()
	delete(d.keys, fd)
	d.mu.Unlock()
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	unix.Kevent(d.kq, changes, nil, nil)
	return nil
}

func (d *kqueueDriver) WaitOnce(timeoutMs int) ([]Event, error) {
	buf := make([]unix.Kevent_t, 256)
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}

	n, err := unix.Kevent(d.kq, nil, buf, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	merged := make(map[uintptr]*Event)
	for i := 0; i < n; i++ {
		raw := buf[i]
		fd := uintptr(raw.Ident)
		if int(fd) == d.wakeR {
			var b [64]byte
			for {
				if _, rerr := unix.Read(d.wakeR, b[:]); rerr != nil {
					break
				}
			}
			continue
		}

		ev, ok := merged[fd]
		if !ok {
			d.mu.Lock()
			key := d.keys[fd]
			d.mu.Unlock()
			ev = &Event{Key: key, FD: fd}
			merged[fd] = ev
		}
		switch raw.Filter {
		case unix.EVFILT_READ:
			ev.In = true
			if raw.Flags&unix.EV_EOF != 0 {
				ev.Hup = true
			}
		case unix.EVFILT_WRITE:
			ev.Out = true
			if raw.Flags&unix.EV_EOF != 0 {
				ev.Hup = true
			}
		}
		if raw.Flags&unix.EV_ERROR != 0 {
			ev.Err = true
		}
	}

	out := make([]Event, 0, len(merged))
	for _, ev := range merged {
		out = append(out, *ev)
	}
	return out, nil
}
