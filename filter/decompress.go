package filter

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"errors"
	"io"

	"github.com/kestrelio/aio"
)

// Decompression is implemented on compress/flate and compress/gzip from
// the standard library rather than a third-party codec: no example in
// this codebase's dependency set ships a streaming gzip/deflate decoder,
// and compress/* is the idiomatic choice for these two formats across the
// wider Go ecosystem regardless.

// Encoding names a supported Content-Encoding value.
type Encoding int

const (
	EncodingGzip Encoding = iota
	EncodingDeflate
)

// DecompressReader decompresses a complete, already-buffered body (as
// produced by PersistentContentReader, ChunkedContentReader, or
// TeardownContentReader) according to enc. Decompression itself is not
// incremental: the standard library's gzip/flate readers expect a
// complete stream, so this operates on a body that has already been
// fully read off the wire.
type DecompressReader struct {
	enc Encoding
}

// NewDecompressReader builds a DecompressReader for enc.
func NewDecompressReader(enc Encoding) *DecompressReader {
	return &DecompressReader{enc: enc}
}

// Decompress returns the decompressed form of body.
func (d *DecompressReader) Decompress(body []byte) ([]byte, error) {
	var r io.Reader
	switch d.enc {
	case EncodingGzip:
		gr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, aio.WrapError("Decompress", err)
		}
		defer gr.Close()
		r = gr
	case EncodingDeflate:
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()
		r = fr
	default:
		return nil, aio.NewError("Decompress", aio.ErrCodeInvalidParameters, "unknown encoding")
	}

	out, err := io.ReadAll(r)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, aio.WrapError("Decompress", err)
	}
	return out, nil
}
