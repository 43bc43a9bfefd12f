package filter

import (
	"bytes"

	"github.com/kestrelio/aio"
)

const maxHeaderSize = 64 * 1024

var headerTerminator = []byte("\r\n\r\n")

// HTTPHeaderReader accumulates bytes from a StreamFilter until it finds
// the blank line that ends an HTTP header block, per RFC 7230 §3.
type HTTPHeaderReader struct {
	filter *StreamFilter
	acc    bytes.Buffer
}

// NewHTTPHeaderReader wraps source for header framing.
func NewHTTPHeaderReader(source *aio.Stream) *HTTPHeaderReader {
	return &HTTPHeaderReader{filter: NewStreamFilter(source)}
}

// ReadHeader reads until the header-terminating blank line is found,
// invoking cb with the header bytes (terminator excluded) and any bytes
// read past it that belong to the body. err is non-nil if the stream
// ended or failed before a complete header arrived, or if the
// accumulated header exceeds maxHeaderSize.
func (h *HTTPHeaderReader) ReadHeader(cb func(header, leftover []byte, err error)) {
	h.next(cb)
}

func (h *HTTPHeaderReader) next(cb func(header, leftover []byte, err error)) {
	h.filter.Next(func(data []byte, ended bool, err error) {
		if err != nil {
			cb(nil, nil, err)
			return
		}
		if ended {
			cb(nil, nil, aio.NewError("ReadHeader", aio.ErrCodeIOError, "stream ended before headers completed"))
			return
		}

		h.acc.Write(data)
		if h.acc.Len() > maxHeaderSize {
			cb(nil, nil, aio.NewError("ReadHeader", aio.ErrCodeInvalidParameters, "header block too large"))
			return
		}

		buf := h.acc.Bytes()
		if idx := bytes.Index(buf, headerTerminator); idx >= 0 {
			header := append([]byte(nil), buf[:idx]...)
			leftover := append([]byte(nil), buf[idx+len(headerTerminator):]...)
			cb(header, leftover, nil)
			return
		}

		h.next(cb)
	})
}
