package streams

import (
	"net"
	"testing"
	"time"

	"github.com/kestrelio/aio"
)

// freeTCPPort grabs an ephemeral port and immediately releases it, giving
// a high probability (not a guarantee) that nothing is listening there.
func freeTCPPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestDialTCPConnectionRefused(t *testing.T) {
	loop, err := aio.NewLoop(true)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Release()

	addr := freeTCPPort(t)

	result := make(chan error, 1)
	if err := DialTCP(loop, addr, func(s *aio.Stream, err error) {
		result <- err
		if s != nil {
			s.Close()
		}
	}); err != nil {
		t.Fatalf("DialTCP: %v", err)
	}

	select {
	case err := <-result:
		if err == nil {
			t.Fatal("expected a connection-refused error, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dial never resolved")
	}
}

func TestDialUnixNoSuchFile(t *testing.T) {
	loop, err := aio.NewLoop(true)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Release()

	result := make(chan error, 1)
	if err := DialUnix(loop, "/tmp/aio-dial-test-does-not-exist.sock", func(s *aio.Stream, err error) {
		result <- err
		if s != nil {
			s.Close()
		}
	}); err != nil {
		t.Fatalf("DialUnix: %v", err)
	}

	select {
	case err := <-result:
		if err == nil {
			t.Fatal("expected an error dialing a nonexistent socket, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dial never resolved")
	}
}
