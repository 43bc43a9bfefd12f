package streams

import (
	"golang.org/x/sys/unix"

	"github.com/kestrelio/aio"
)

// NewPipe creates an anonymous pipe and returns its read and write ends
// as asynchronous Streams driven by loop. Pipe fds are readiness-based
// like sockets (unlike regular files they can't be pread/pwrite'd), so
// both ends reuse the socket RawStream's non-blocking read/write path.
func NewPipe(loop *aio.Loop) (r *aio.Stream, w *aio.Stream, err error) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_CLOEXEC); err != nil {
		return nil, nil, aio.WrapError("NewPipe", err)
	}

	readRaw, err := newSocket(loop, fds[0])
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, aio.WrapError("NewPipe", err)
	}
	writeRaw, err := newSocket(loop, fds[1])
	if err != nil {
		readRaw.Close()
		unix.Close(fds[1])
		return nil, nil, aio.WrapError("NewPipe", err)
	}

	rs, ws := aio.NewStream(readRaw), aio.NewStream(writeRaw)
	rs.SetObserver(loop.Observer())
	ws.SetObserver(loop.Observer())
	return rs, ws, nil
}
