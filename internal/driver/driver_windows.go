//go:build windows

package driver

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// iocpDriver implements Driver on Windows using an I/O Completion Port.
// Unlike epoll/kqueue, IOCP is completion-based rather than readiness-
// based: Attach associates a handle with the port once, and the actual
// ReadFile/WSARecv/WriteFile/WSASend calls (issued by the stream instance
// with its own OVERLAPPED) are what produce the completions WaitOnce
// reports. Modify is therefore a no-op; a handle stays associated for its
// whole lifetime.
type iocpDriver struct {
	port windows.Handle
	mu   sync.Mutex
	keys map[uintptr]uintptr
}

// New constructs the platform Driver. On Windows this is IOCP-backed.
func New() Driver {
	return &iocpDriver{keys: make(map[uintptr]uintptr)}
}

func (d *iocpDriver) Init() error {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return err
	}
	d.port = port
	return nil
}

func (d *iocpDriver) Close() error {
	return windows.CloseHandle(d.port)
}

// Wake posts a zero-key completion packet to unblock a pending WaitOnce.
func (d *iocpDriver) Wake() error {
	return windows.PostQueuedCompletionStatus(d.port, 0, 0, nil)
}

func (d *iocpDriver) Attach(fd uintptr, key uintptr, mode Mode) error {
	d.mu.Lock()
	d.keys[fd] = key
	d.mu.Unlock()
	_, err := windows.CreateIoCompletionPort(windows.Handle(fd), d.port, key, 0)
	return err
}

// Modify is a no-op: IOCP association does not track read/write interest
// separately, since completions are driven by the OVERLAPPED operations
// the caller issues, not by a registered interest mask.
func (d *iocpDriver) Modify(fd uintptr, key uintptr, mode Mode) error {
	return nil
}

func (d *iocpDriver) Detach(fd uintptr, key uintptr) error {
	d.mu.Lock()
	delete(d.keys, fd)
	d.mu.Unlock()
	return nil
}

func (d *iocpDriver) WaitOnce(timeoutMs int) ([]Event, error) {
	var bytes uint32
	var key uintptr
	var overlapped *windows.Overlapped

	ms := uint32(windows.INFINITE)
	if timeoutMs >= 0 {
		ms = uint32(timeoutMs)
	}

	err := windows.GetQueuedCompletionStatus(d.port, &bytes, &key, &overlapped, ms)
	if err != nil {
		if err == windows.WAIT_TIMEOUT {
			return nil, nil
		}
		// A non-nil overlapped with an error means the operation itself
		// failed; still surface it as an Err event so the stream layer
		// can resolve the pending request.
		if overlapped == nil {
			return nil, err
		}
	}

	if overlapped == nil && key == 0 && bytes == 0 {
		// Wake() packet.
		return nil, nil
	}

	ev := Event{
		Key:        key,
		Bytes:      bytes,
		Overlapped: unsafe.Pointer(overlapped),
		Err:        err != nil,
	}
	return []Event{ev}, nil
}
