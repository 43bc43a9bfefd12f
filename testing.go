package aio

import "sync"

// MockRawStream provides an in-memory RawStream for unit tests that need
// a real Stream wired to a Loop without touching a file or socket. It
// completes reads/writes against an in-memory buffer (which grows when a
// write runs past its end) asynchronously, by dispatching onto the owning
// Loop via AddTask the way a real driver-backed instance would, and
// tracks call counts for verification.
type MockRawStream struct {
	loop   *Loop
	data   []byte
	offset int64
	closed bool

	mu         sync.Mutex
	readCalls  int
	writeCalls int
	closeCalls int

	// FailNext, when set, is returned as the error on the next
	// IssueRead/IssueWrite and then cleared.
	FailNext error
}

// NewMockRawStream creates a mock stream backed by an in-memory buffer of
// the given size, issuing its callbacks on loop.
func NewMockRawStream(loop *Loop, size int) *MockRawStream {
	return &MockRawStream{loop: loop, data: make([]byte, size)}
}

// NewMockStream wraps a MockRawStream in a Stream, ready to Read/Write.
func NewMockStream(loop *Loop, size int) (*Stream, *MockRawStream) {
	raw := NewMockRawStream(loop, size)
	return NewStream(raw), raw
}

func (m *MockRawStream) IssueRead(buf []byte, cb func(n int, code ResultCode, err error)) {
	m.mu.Lock()
	m.readCalls++
	off := m.offset
	fail := m.FailNext
	m.FailNext = nil
	m.mu.Unlock()

	m.loop.AddTask(func() {
		if fail != nil {
			cb(0, Unknown, fail)
			return
		}
		if off >= int64(len(m.data)) {
			cb(0, Ended, nil)
			return
		}
		n := copy(buf, m.data[off:])
		m.mu.Lock()
		m.offset += int64(n)
		m.mu.Unlock()
		cb(n, Success, nil)
	})
}

func (m *MockRawStream) IssueWrite(buf []byte, cb func(n int, code ResultCode, err error)) {
	m.mu.Lock()
	m.writeCalls++
	off := m.offset
	fail := m.FailNext
	m.FailNext = nil
	m.mu.Unlock()

	m.loop.AddTask(func() {
		if fail != nil {
			cb(0, Unknown, fail)
			return
		}
		if off+int64(len(buf)) > int64(len(m.data)) {
			grown := make([]byte, off+int64(len(buf)))
			m.mu.Lock()
			copy(grown, m.data)
			m.data = grown
			m.mu.Unlock()
		}
		n := copy(m.data[off:], buf)
		m.mu.Lock()
		m.offset += int64(n)
		m.mu.Unlock()
		cb(n, Success, nil)
	})
}

// CancelRead is a no-op: MockRawStream resolves every IssueRead on the next
// loop tick, so there's never a genuinely outstanding one to cancel.
func (m *MockRawStream) CancelRead() {}

// CancelWrite is CancelRead's write-side counterpart.
func (m *MockRawStream) CancelWrite() {}

func (m *MockRawStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	m.closed = true
	return nil
}

func (m *MockRawStream) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockRawStream) IsSeekable() bool { return true }

func (m *MockRawStream) Seek(offset int64, whence int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch whence {
	case 0:
		m.offset = offset
	case 1:
		m.offset += offset
	case 2:
		m.offset = int64(len(m.data)) + offset
	}
	return m.offset, nil
}

func (m *MockRawStream) Position() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset, nil
}

func (m *MockRawStream) Size() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data)), nil
}

func (m *MockRawStream) Loop() *Loop { return m.loop }

// Bytes returns a copy of the buffer's current contents, for assertions.
func (m *MockRawStream) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// CallCounts returns how many times each operation has been issued.
func (m *MockRawStream) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"read":  m.readCalls,
		"write": m.writeCalls,
		"close": m.closeCalls,
	}
}

var _ RawStream = (*MockRawStream)(nil)
