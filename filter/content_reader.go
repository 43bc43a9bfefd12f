package filter

import (
	"bytes"
	"strconv"

	"github.com/kestrelio/aio"
)

// PersistentContentReader reads exactly ContentLength bytes, the framing
// used when a request or response carries an explicit Content-Length
// header. Any leftover bytes handed to NewPersistentContentReader (read
// past the header terminator while looking for it) are consumed first.
type PersistentContentReader struct {
	filter    *StreamFilter
	leftover  []byte
	remaining int64
}

// NewPersistentContentReader reads a body of exactly contentLength bytes
// from source, starting with any leftover bytes already read past the
// header.
func NewPersistentContentReader(source *aio.Stream, leftover []byte, contentLength int64) *PersistentContentReader {
	return &PersistentContentReader{
		filter:    NewStreamFilter(source),
		leftover:  leftover,
		remaining: contentLength,
	}
}

// ReadAll accumulates the whole body and invokes cb once.
func (r *PersistentContentReader) ReadAll(cb func(body []byte, err error)) {
	var acc bytes.Buffer
	r.readInto(&acc, cb)
}

func (r *PersistentContentReader) readInto(acc *bytes.Buffer, cb func(body []byte, err error)) {
	if r.remaining <= 0 {
		cb(acc.Bytes(), nil)
		return
	}

	if len(r.leftover) > 0 {
		take := r.leftover
		r.leftover = nil
		r.consume(acc, take, cb)
		return
	}

	r.filter.Next(func(data []byte, ended bool, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		if ended {
			cb(nil, aio.NewError("ReadBody", aio.ErrCodeIOError, "stream ended before content length satisfied"))
			return
		}
		r.consume(acc, data, cb)
	})
}

func (r *PersistentContentReader) consume(acc *bytes.Buffer, data []byte, cb func(body []byte, err error)) {
	if int64(len(data)) > r.remaining {
		acc.Write(data[:r.remaining])
		r.filter.PushBack(data[r.remaining:])
		r.remaining = 0
	} else {
		acc.Write(data)
		r.remaining -= int64(len(data))
	}
	r.readInto(acc, cb)
}

// TeardownContentReader reads until the peer closes the connection, the
// framing used when a response carries neither Content-Length nor
// chunked transfer-encoding (HTTP/1.0 style, relying on connection
// close to mark the end of the body).
type TeardownContentReader struct {
	filter   *StreamFilter
	leftover []byte
}

// NewTeardownContentReader reads a body until source ends, starting with
// any leftover bytes already read past the header.
func NewTeardownContentReader(source *aio.Stream, leftover []byte) *TeardownContentReader {
	return &TeardownContentReader{filter: NewStreamFilter(source), leftover: leftover}
}

// ReadAll accumulates the whole body and invokes cb once the peer closes.
func (r *TeardownContentReader) ReadAll(cb func(body []byte, err error)) {
	var acc bytes.Buffer
	if len(r.leftover) > 0 {
		acc.Write(r.leftover)
		r.leftover = nil
	}
	r.readInto(&acc, cb)
}

func (r *TeardownContentReader) readInto(acc *bytes.Buffer, cb func(body []byte, err error)) {
	r.filter.Next(func(data []byte, ended bool, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		if ended {
			cb(acc.Bytes(), nil)
			return
		}
		acc.Write(data)
		r.readInto(acc, cb)
	})
}

// ChunkedContentReader decodes HTTP/1.1 chunked transfer-encoding
// (RFC 7230 §4.1): a series of "<hex-size>\r\n<data>\r\n" chunks
// terminated by a zero-size chunk and a trailing CRLF. Chunk extensions
// and trailers are skipped, not surfaced.
type ChunkedContentReader struct {
	filter   *StreamFilter
	leftover []byte
}

// NewChunkedContentReader decodes a chunked body from source, starting
// with any leftover bytes already read past the header.
func NewChunkedContentReader(source *aio.Stream, leftover []byte) *ChunkedContentReader {
	r := &ChunkedContentReader{filter: NewStreamFilter(source)}
	if len(leftover) > 0 {
		r.filter.PushBack(leftover)
	}
	return r
}

// ReadAll decodes every chunk and invokes cb once with the concatenated
// body.
func (r *ChunkedContentReader) ReadAll(cb func(body []byte, err error)) {
	var acc bytes.Buffer
	var line bytes.Buffer
	r.readSizeLine(&acc, &line, cb)
}

func (r *ChunkedContentReader) readSizeLine(acc, line *bytes.Buffer, cb func(body []byte, err error)) {
	r.filter.Next(func(data []byte, ended bool, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		if ended {
			cb(nil, aio.NewError("ReadChunked", aio.ErrCodeIOError, "stream ended mid chunk"))
			return
		}

		line.Write(data)
		buf := line.Bytes()
		idx := bytes.Index(buf, []byte("\r\n"))
		if idx < 0 {
			r.readSizeLine(acc, line, cb)
			return
		}

		sizeLine := buf[:idx]
		rest := append([]byte(nil), buf[idx+2:]...)
		line.Reset()

		if semi := bytes.IndexByte(sizeLine, ';'); semi >= 0 {
			sizeLine = sizeLine[:semi]
		}
		size, perr := strconv.ParseInt(string(bytes.TrimSpace(sizeLine)), 16, 64)
		if perr != nil {
			cb(nil, aio.NewError("ReadChunked", aio.ErrCodeInvalidParameters, "invalid chunk size"))
			return
		}

		if size == 0 {
			cb(acc.Bytes(), nil)
			return
		}

		r.filter.PushBack(rest)
		r.readChunkBody(acc, line, size, cb)
	})
}

func (r *ChunkedContentReader) readChunkBody(acc, line *bytes.Buffer, remaining int64, cb func(body []byte, err error)) {
	r.filter.Next(func(data []byte, ended bool, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		if ended {
			cb(nil, aio.NewError("ReadChunked", aio.ErrCodeIOError, "stream ended mid chunk"))
			return
		}

		if int64(len(data)) >= remaining {
			acc.Write(data[:remaining])
			r.skipChunkCRLF(acc, line, data[remaining:], cb)
			return
		}

		acc.Write(data)
		r.readChunkBody(acc, line, remaining-int64(len(data)), cb)
	})
}

// skipChunkCRLF consumes the CRLF that terminates every chunk's data
// before the next chunk's size line, buffering across reads in case it
// arrived split across two.
func (r *ChunkedContentReader) skipChunkCRLF(acc, line *bytes.Buffer, data []byte, cb func(body []byte, err error)) {
	if len(data) >= 2 {
		r.filter.PushBack(data[2:])
		r.readSizeLine(acc, line, cb)
		return
	}
	if len(data) == 1 {
		r.filter.Next(func(more []byte, ended bool, err error) {
			if err != nil {
				cb(nil, err)
				return
			}
			if ended {
				cb(nil, aio.NewError("ReadChunked", aio.ErrCodeIOError, "stream ended mid chunk"))
				return
			}
			r.filter.PushBack(more[1:])
			r.readSizeLine(acc, line, cb)
		})
		return
	}
	if len(data) == 0 {
		r.filter.Next(func(more []byte, ended bool, err error) {
			if err != nil {
				cb(nil, err)
				return
			}
			if ended {
				cb(nil, aio.NewError("ReadChunked", aio.ErrCodeIOError, "stream ended mid chunk"))
				return
			}
			r.skipChunkCRLF(acc, line, more, cb)
		})
		return
	}
	r.readSizeLine(acc, line, cb)
}
