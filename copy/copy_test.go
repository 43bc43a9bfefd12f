package copy

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrelio/aio"
	"github.com/kestrelio/aio/streams"
)

// memRawStream is a minimal in-memory RawStream good enough to drive
// AsyncCopy end to end: reads drain a fixed byte slice, writes accumulate
// into a buffer.
type memRawStream struct {
	loop    *aio.Loop
	data    []byte
	pos     int
	written []byte
}

func (m *memRawStream) IssueRead(buf []byte, cb func(n int, code aio.ResultCode, err error)) {
	n := copy(buf, m.data[m.pos:])
	m.pos += n
	m.loop.AddTask(func() {
		if n == 0 {
			cb(0, aio.Ended, nil)
			return
		}
		cb(n, aio.Success, nil)
	})
}

func (m *memRawStream) IssueWrite(buf []byte, cb func(n int, code aio.ResultCode, err error)) {
	m.written = append(m.written, buf...)
	n := len(buf)
	m.loop.AddTask(func() { cb(n, aio.Success, nil) })
}

func (m *memRawStream) CancelRead()                   {}
func (m *memRawStream) CancelWrite()                  {}
func (m *memRawStream) Close() error                  { return nil }
func (m *memRawStream) Closed() bool                  { return false }
func (m *memRawStream) IsSeekable() bool              { return false }
func (m *memRawStream) Seek(int64, int) (int64, error) { return 0, aio.ErrStreamClosed }
func (m *memRawStream) Position() (int64, error)       { return 0, aio.ErrStreamClosed }
func (m *memRawStream) Size() (int64, error)           { return 0, aio.ErrStreamClosed }
func (m *memRawStream) Loop() *aio.Loop                { return m.loop }

func TestAsyncCopyWholeStream(t *testing.T) {
	loop, err := aio.NewLoop(true)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Release()

	want := make([]byte, 300*1024)
	for i := range want {
		want[i] = byte(i)
	}

	src := &memRawStream{loop: loop, data: want}
	dst := &memRawStream{loop: loop}

	done := make(chan bool, 1)
	c := New(Config{
		Source:      aio.NewStream(src),
		Target:      aio.NewStream(dst),
		BufferSize:  16 * 1024,
		BufferCount: 4,
		AutoStart:   true,
		Hooks: Hooks{
			OnEnd: func(_ *AsyncCopy, failed bool) { done <- failed },
		},
	})

	select {
	case failed := <-done:
		require.False(t, failed, "copy reported failure")
	case <-time.After(2 * time.Second):
		t.Fatal("copy never finished")
	}

	require.Equal(t, want, dst.written)
	require.EqualValues(t, len(want), c.ReadSize())
	require.True(t, c.IsCompleted())
}

func TestAsyncCopyBoundedSize(t *testing.T) {
	loop, err := aio.NewLoop(true)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Release()

	data := make([]byte, 10*1024)
	src := &memRawStream{loop: loop, data: data}
	dst := &memRawStream{loop: loop}

	done := make(chan bool, 1)
	New(Config{
		Source:      aio.NewStream(src),
		Target:      aio.NewStream(dst),
		Size:        1024,
		BufferSize:  512,
		BufferCount: 2,
		AutoStart:   true,
		Hooks: Hooks{
			OnEnd: func(_ *AsyncCopy, failed bool) { done <- failed },
		},
	})

	select {
	case failed := <-done:
		require.False(t, failed, "copy reported failure")
	case <-time.After(2 * time.Second):
		t.Fatal("copy never finished")
	}

	require.Len(t, dst.written, 1024)
}

// TestAsyncCopyOverPipeSourceWithWideBuffer runs AsyncCopy with
// BufferCount > 1 against a real streams.socket-backed source (a pipe's
// read end). socket.IssueRead unconditionally overwrites its single
// readBuf/readCb fields, so if AsyncCopy ever issued more than one read
// at a time against it, this would reliably corrupt or drop data instead
// of reproducing want byte-for-byte.
func TestAsyncCopyOverPipeSourceWithWideBuffer(t *testing.T) {
	loop, err := aio.NewLoop(true)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Release()

	srcR, srcW, err := streams.NewPipe(loop)
	if err != nil {
		t.Fatalf("NewPipe: %v", err)
	}

	want := make([]byte, 512*1024)
	for i := range want {
		want[i] = byte(i)
	}

	writeDone := make(chan error, 1)
	if err := srcW.WriteFully(want, aio.WriteOptions{}, func(r aio.Result) {
		if !r.IsSuccess() {
			writeDone <- fmt.Errorf("producer write failed: %+v", r)
			return
		}
		writeDone <- nil
		srcW.Close()
	}); err != nil {
		t.Fatalf("WriteFully: %v", err)
	}

	dst := &memRawStream{loop: loop}
	done := make(chan bool, 1)
	c := New(Config{
		Source:      srcR,
		Target:      aio.NewStream(dst),
		BufferSize:  16 * 1024,
		BufferCount: 8,
		AutoStart:   true,
		Hooks: Hooks{
			OnEnd: func(_ *AsyncCopy, failed bool) { done <- failed },
		},
	})

	select {
	case err := <-writeDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("producer write never completed")
	}

	select {
	case failed := <-done:
		require.False(t, failed, "copy reported failure")
	case <-time.After(5 * time.Second):
		t.Fatal("copy never finished")
	}

	require.Equal(t, want, dst.written)
	require.EqualValues(t, len(want), c.ReadSize())
}
