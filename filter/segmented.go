package filter

import (
	"github.com/kestrelio/aio"
)

// ReadSegmented reads exactly size bytes from source, one segmentSize
// chunk at a time, allocating one buffer per segment rather than one
// contiguous buffer. cb is called once, with every segment in order, after
// the last segment is read, or once with a nil slice and an error if a
// read fails or ends early. The content readers in this package do not
// call it.
func ReadSegmented(source *aio.Stream, size int64, segmentSize int, cb func(segments [][]byte, err error)) {
	if segmentSize <= 0 {
		segmentSize = defaultReadSize
	}
	var segments [][]byte
	readNext(source, size, segmentSize, segments, cb)
}

func readNext(source *aio.Stream, remaining int64, segmentSize int, segments [][]byte, cb func(segments [][]byte, err error)) {
	if remaining <= 0 {
		cb(segments, nil)
		return
	}

	want := int64(segmentSize)
	if want > remaining {
		want = remaining
	}
	buf := make([]byte, want)

	err := source.ReadFully(buf, aio.ReadOptions{}, func(r aio.Result) {
		if !r.IsSuccess() {
			cb(nil, aio.NewError("ReadSegmented", aio.ErrCodeIOError, r.Code.String()))
			return
		}
		readNext(source, remaining-int64(r.Size), segmentSize, append(segments, r.Data), cb)
	})
	if err != nil {
		cb(nil, err)
	}
}
