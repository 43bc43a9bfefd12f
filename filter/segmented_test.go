package filter

import (
	"bytes"
	"testing"
	"time"

	"github.com/kestrelio/aio"
	"github.com/kestrelio/aio/streams"
)

func TestReadSegmentedChainsFixedSizeReads(t *testing.T) {
	loop, err := aio.NewLoop(true)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Release()

	r, w, err := streams.NewPipe(loop)
	if err != nil {
		t.Fatalf("NewPipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	payload := bytes.Repeat([]byte("x"), 25)
	done := make(chan struct{})
	w.WriteFully(payload, aio.WriteOptions{}, func(aio.Result) { close(done) })
	<-done

	segCh := make(chan [][]byte, 1)
	errCh := make(chan error, 1)
	ReadSegmented(r, int64(len(payload)), 10, func(segments [][]byte, err error) {
		if err != nil {
			errCh <- err
			return
		}
		segCh <- segments
	})

	select {
	case segments := <-segCh:
		if len(segments) != 3 {
			t.Fatalf("got %d segments, want 3", len(segments))
		}
		var total int
		for _, s := range segments {
			total += len(s)
		}
		if total != len(payload) {
			t.Fatalf("total bytes = %d, want %d", total, len(payload))
		}
	case err := <-errCh:
		t.Fatalf("ReadSegmented: %v", err)
	case <-time.After(time.Second):
		t.Fatal("ReadSegmented never completed")
	}
}
