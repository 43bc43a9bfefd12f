package filter

import (
	"testing"
	"time"

	"github.com/kestrelio/aio"
	"github.com/kestrelio/aio/streams"
)

func TestHTTPHeaderReaderSplitsBodyLeftover(t *testing.T) {
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

	msg := "GET / HTTP/1.1\r\nHost: example.com\r\n\r\nbody-bytes"
	done := make(chan error, 1)
	w.WriteFully([]byte(msg), aio.WriteOptions{}, func(res aio.Result) { done <- nil })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write never completed")
	}

	hr := NewHTTPHeaderReader(r)
	result := make(chan struct {
		header, leftover []byte
		err              error
	}, 1)
	hr.ReadHeader(func(header, leftover []byte, err error) {
		result <- struct {
			header, leftover []byte
			err              error
		}{header, leftover, err}
	})

	select {
	case res := <-result:
		if res.err != nil {
			t.Fatalf("ReadHeader: %v", res.err)
		}
		wantHeader := "GET / HTTP/1.1\r\nHost: example.com"
		if string(res.header) != wantHeader {
			t.Fatalf("header = %q, want %q", res.header, wantHeader)
		}
		if string(res.leftover) != "body-bytes" {
			t.Fatalf("leftover = %q, want %q", res.leftover, "body-bytes")
		}
	case <-time.After(time.Second):
		t.Fatal("ReadHeader never completed")
	}
}

func TestPersistentContentReaderConsumesLeftoverFirst(t *testing.T) {
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

	rest := []byte("llo, world")
	done := make(chan struct{})
	w.WriteFully(rest, aio.WriteOptions{}, func(aio.Result) { close(done) })
	<-done

	pr := NewPersistentContentReader(r, []byte("he"), int64(2+len(rest)))
	bodyCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	pr.ReadAll(func(body []byte, err error) {
		if err != nil {
			errCh <- err
			return
		}
		bodyCh <- body
	})

	select {
	case body := <-bodyCh:
		if string(body) != "hello, world" {
			t.Fatalf("body = %q, want %q", body, "hello, world")
		}
	case err := <-errCh:
		t.Fatalf("ReadAll: %v", err)
	case <-time.After(time.Second):
		t.Fatal("ReadAll never completed")
	}
}

func TestChunkedContentReaderDecodes(t *testing.T) {
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

	encoded := "5\r\nhello\r\n6\r\n, worl\r\n1\r\nd\r\n0\r\n\r\n"
	done := make(chan struct{})
	w.WriteFully([]byte(encoded), aio.WriteOptions{}, func(aio.Result) { close(done) })
	<-done

	cr := NewChunkedContentReader(r, nil)
	bodyCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	cr.ReadAll(func(body []byte, err error) {
		if err != nil {
			errCh <- err
			return
		}
		bodyCh <- body
	})

	select {
	case body := <-bodyCh:
		if string(body) != "hello, world" {
			t.Fatalf("body = %q, want %q", body, "hello, world")
		}
	case err := <-errCh:
		t.Fatalf("ReadAll: %v", err)
	case <-time.After(time.Second):
		t.Fatal("ReadAll never completed")
	}
}

func TestTeardownContentReaderReadsUntilClose(t *testing.T) {
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

	done := make(chan struct{})
	w.WriteFully([]byte("all the bytes"), aio.WriteOptions{}, func(aio.Result) {
		w.Close()
		close(done)
	})
	<-done

	tr := NewTeardownContentReader(r, nil)
	bodyCh := make(chan []byte, 1)
	tr.ReadAll(func(body []byte, err error) {
		if err != nil {
			t.Errorf("ReadAll: %v", err)
			return
		}
		bodyCh <- body
	})

	select {
	case body := <-bodyCh:
		if string(body) != "all the bytes" {
			t.Fatalf("body = %q, want %q", body, "all the bytes")
		}
	case <-time.After(time.Second):
		t.Fatal("ReadAll never completed")
	}
}
