// Package interfaces provides internal interface definitions for the aio
// runtime, kept separate from the public package to avoid circular imports
// between the root package and the internal stream/driver packages.
package interfaces

// File is the blocking file-handle contract the core consumes. It is an
// external collaborator: the core never implements a blocking file itself,
// it only opens, reads, writes, seeks, and closes one on the caller's
// behalf through streams.File (see streams.NewFileStream).
type File interface {
	ReadAt(p []byte, off int64) (n int, err error)
	WriteAt(p []byte, off int64) (n int, err error)
	Seek(offset int64, whence int) (int64, error)
	Size() (int64, error)
	Sync() error
	Close() error
	Fd() uintptr
}

// Socket is the blocking/native-descriptor contract the core consumes when
// wrapping a pre-opened socket. Implementations hand back the raw
// descriptor so a Driver can register it for readiness or completion
// notification; the core never parses or validates addresses itself.
type Socket interface {
	Fd() uintptr
	Close() error
}

// Logger is the logging contract used throughout the runtime. It matches
// internal/logging.Logger's Printf-style surface so callers may plug in
// their own sink without taking a hard dependency on the logging package.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer is the metrics contract. Implementations must be safe for
// concurrent use: methods are invoked from the loop thread, and
// ObserveClose from whichever goroutine closes the stream.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveClose(success bool)
	ObserveTimeout()
	ObserveQueueDepth(depth uint32)
}
