package streams

import (
	"testing"
	"time"

	"github.com/kestrelio/aio"
)

func TestPipeRoundTrip(t *testing.T) {
	loop, err := aio.NewLoop(true)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Release()

	r, w, err := NewPipe(loop)
	if err != nil {
		t.Fatalf("NewPipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	want := []byte("ping")
	writeDone := make(chan aio.Result, 1)
	if err := w.WriteFully(want, aio.WriteOptions{}, func(res aio.Result) { writeDone <- res }); err != nil {
		t.Fatalf("WriteFully: %v", err)
	}

	buf := make([]byte, len(want))
	readDone := make(chan aio.Result, 1)
	if err := r.ReadFully(buf, aio.ReadOptions{}, func(res aio.Result) { readDone <- res }); err != nil {
		t.Fatalf("ReadFully: %v", err)
	}

	select {
	case res := <-writeDone:
		if !res.IsSuccess() {
			t.Fatalf("write failed: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("write timed out")
	}
	select {
	case res := <-readDone:
		if !res.IsSuccess() || string(res.Data) != string(want) {
			t.Fatalf("unexpected read result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read timed out")
	}
}

func TestPipeCloseEndsPendingRead(t *testing.T) {
	loop, err := aio.NewLoop(true)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Release()

	r, w, err := NewPipe(loop)
	if err != nil {
		t.Fatalf("NewPipe: %v", err)
	}
	defer w.Close()

	buf := make([]byte, 8)
	done := make(chan aio.Result, 1)
	if err := r.Read(buf, aio.ReadOptions{}, func(res aio.Result) { done <- res }); err != nil {
		t.Fatalf("Read: %v", err)
	}

	r.Close()

	select {
	case res := <-done:
		if res.Code != aio.Closed {
			t.Fatalf("expected Closed, got %v", res.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read did not complete after close")
	}
}
