// Package copy streams data from one Stream to another using a fixed pool
// of pooled buffers. At most one read against Source is ever outstanding
// at a time; completed chunks queue for the writer so a slow Target never
// stalls the next read from landing once its slot frees up, up to
// BufferCount buffers held at once.
package copy

import (
	"sync"
	"sync/atomic"

	"github.com/kestrelio/aio"
	"github.com/kestrelio/aio/internal/logging"
	"github.com/kestrelio/aio/internal/pool"
)

// Unbounded is used as Config.Size to copy until the source ends.
const Unbounded int64 = -1

const (
	defaultBufferSize  = 64 * 1024
	defaultBufferCount = 8
)

// Hooks are invoked on the owning Loop's goroutine as the copy progresses.
// Any of them may be nil.
type Hooks struct {
	// OnRead is called with each chunk read from Source before it is
	// queued for writing. Returning a different slice lets a caller
	// transform data in flight (e.g. hashing, rate limiting); the
	// returned slice is what gets written.
	OnRead func(c *AsyncCopy, chunk []byte) []byte
	// OnWrite is called after each chunk has been written to Target.
	OnWrite func(c *AsyncCopy, n int)
	// OnEnd is called exactly once, when copying stops for any reason.
	// failed is true if it stopped due to a read or write error.
	OnEnd func(c *AsyncCopy, failed bool)
}

// Config parameterizes an AsyncCopy.
type Config struct {
	Source *aio.Stream
	Target *aio.Stream

	// Size bounds how many bytes are copied; Unbounded copies until
	// Source reports Ended.
	Size int64
	// BufferSize is the size of each pooled read buffer. Defaults to
	// 64KiB.
	BufferSize int
	// BufferCount bounds how many buffers may be held at once: one being
	// read plus however many are queued for, or currently being, written.
	// Defaults to 8.
	BufferCount int
	// AutoStart starts the copy immediately instead of waiting for a
	// call to Start.
	AutoStart bool

	Hooks Hooks
}

// AsyncCopy pumps Source into Target through a fixed pool of pooled
// buffers. At most one read against Source is ever outstanding; the write
// side double-buffers so a source that can produce data faster than the
// target can drain it doesn't stall once a chunk lands, up to BufferCount
// total buffers held between the reader and the writer.
type AsyncCopy struct {
	source, target *aio.Stream
	hooks          Hooks
	bufSize        int
	bufCount       int
	sizeLimit      int64
	log            *logging.Logger

	mu        sync.Mutex
	started   bool
	closed    bool
	readEnded bool
	reading   bool
	writing   bool
	queue     [][]byte
	ended     bool
	failed    bool

	sizeRead    atomic.Int64
	sizeWritten atomic.Int64
}

// New constructs an AsyncCopy from cfg. Call Start unless cfg.AutoStart is
// set.
func New(cfg Config) *AsyncCopy {
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	bufCount := cfg.BufferCount
	if bufCount <= 0 {
		bufCount = defaultBufferCount
	}
	sizeLimit := cfg.Size
	if sizeLimit == 0 {
		sizeLimit = Unbounded
	}

	c := &AsyncCopy{
		source:    cfg.Source,
		target:    cfg.Target,
		hooks:     cfg.Hooks,
		bufSize:   bufSize,
		bufCount:  bufCount,
		sizeLimit: sizeLimit,
		log:       logging.Default(),
	}
	if cfg.AutoStart {
		c.Start()
	}
	return c
}

// Start begins issuing reads. Safe to call once; subsequent calls are a
// no-op.
func (c *AsyncCopy) Start() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.issueRead()
}

// issueRead issues the single next read against Source, if one isn't
// already outstanding, the source hasn't ended, and the buffer budget
// (one read slot plus whatever's queued or being written, bounded by
// BufferCount) allows it.
func (c *AsyncCopy) issueRead() {
	c.mu.Lock()
	if c.closed || c.readEnded || c.reading {
		c.mu.Unlock()
		return
	}
	held := len(c.queue)
	if c.writing {
		held++
	}
	if held >= c.bufCount {
		c.mu.Unlock()
		return
	}
	want := c.bufSize
	if c.sizeLimit >= 0 {
		remaining := c.sizeLimit - c.sizeRead.Load()
		if remaining <= 0 {
			c.mu.Unlock()
			return
		}
		if remaining < int64(want) {
			want = int(remaining)
		}
	}
	c.reading = true
	c.mu.Unlock()

	buf := pool.Get(want)
	err := c.source.Read(buf, aio.ReadOptions{}, func(r aio.Result) {
		c.onReadComplete(buf, r)
	})
	if err != nil {
		pool.Put(buf)
		c.mu.Lock()
		c.reading = false
		c.mu.Unlock()
		c.finish(true)
	}
}

func (c *AsyncCopy) onReadComplete(buf []byte, r aio.Result) {
	c.mu.Lock()
	c.reading = false
	c.mu.Unlock()

	switch r.Code {
	case aio.Success:
		chunk := buf[:r.Size]
		if c.hooks.OnRead != nil {
			chunk = c.hooks.OnRead(c, chunk)
		}
		c.sizeRead.Add(int64(r.Size))
		c.mu.Lock()
		c.queue = append(c.queue, chunk)
		c.mu.Unlock()
		c.dispatchWrite()
		c.issueRead()
		c.checkDone()
	case aio.Ended:
		pool.Put(buf)
		c.mu.Lock()
		c.readEnded = true
		c.mu.Unlock()
		c.checkDone()
	default:
		pool.Put(buf)
		c.finish(true)
	}
}

// dispatchWrite pops the next queued chunk and writes it, if nothing is
// already writing.
func (c *AsyncCopy) dispatchWrite() {
	c.mu.Lock()
	if c.writing || c.closed || len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	chunk := c.queue[0]
	c.queue = c.queue[1:]
	c.writing = true
	c.mu.Unlock()

	err := c.target.WriteFully(chunk, aio.WriteOptions{}, func(r aio.Result) {
		c.onWriteComplete(chunk, r)
	})
	if err != nil {
		c.onWriteComplete(chunk, aio.Result{Code: aio.Unknown})
	}
}

func (c *AsyncCopy) onWriteComplete(chunk []byte, r aio.Result) {
	pool.Put(chunk)

	if r.Code != aio.Success {
		c.mu.Lock()
		c.writing = false
		c.mu.Unlock()
		c.finish(true)
		return
	}

	c.sizeWritten.Add(int64(r.Size))
	if c.hooks.OnWrite != nil {
		c.hooks.OnWrite(c, r.Size)
	}

	c.mu.Lock()
	c.writing = false
	c.mu.Unlock()

	c.dispatchWrite()
	c.issueRead()
	c.checkDone()
}

// checkDone completes the copy once every chunk up to the size limit (or
// the source's own end) has been read, written, and nothing is still in
// flight.
func (c *AsyncCopy) checkDone() {
	c.mu.Lock()
	sourceExhausted := c.readEnded
	if !sourceExhausted && c.sizeLimit >= 0 && c.sizeRead.Load() >= c.sizeLimit {
		sourceExhausted = true
	}
	done := sourceExhausted && len(c.queue) == 0 && !c.writing && !c.reading
	c.mu.Unlock()

	if done {
		c.finish(false)
	}
}

func (c *AsyncCopy) finish(failed bool) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.failed = failed
	c.mu.Unlock()

	if failed {
		c.log.Debugf("copy ended with failure after %d bytes read, %d written", c.sizeRead.Load(), c.sizeWritten.Load())
	}

	if c.hooks.OnEnd != nil {
		c.hooks.OnEnd(c, failed)
	}
}

// Close stops the copy immediately; already-issued reads/writes may still
// complete but no further ones are issued. OnEnd fires with failed=true if
// the copy had not already ended.
func (c *AsyncCopy) Close() {
	c.mu.Lock()
	alreadyEnded := c.ended
	c.closed = true
	c.mu.Unlock()
	if !alreadyEnded {
		c.finish(true)
	}
}

// IsRunning reports whether the copy has started and not yet ended.
func (c *AsyncCopy) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && !c.ended
}

// IsCompleted reports whether the copy ended without a read/write error.
func (c *AsyncCopy) IsCompleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended && !c.failed
}

// ReadSize returns the total number of bytes read from Source so far.
func (c *AsyncCopy) ReadSize() int64 { return c.sizeRead.Load() }

// WrittenSize returns the total number of bytes written to Target so far.
func (c *AsyncCopy) WrittenSize() int64 { return c.sizeWritten.Load() }
