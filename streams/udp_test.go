package streams

import (
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kestrelio/aio"
)

func TestUDPSendReceive(t *testing.T) {
	loop, err := aio.NewLoop(true)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Release()

	received := make(chan Datagram, 1)
	server, err := NewUDP(loop, "127.0.0.1:0", func(dg Datagram, err error) {
		if err == nil {
			received <- dg
		}
	})
	if err != nil {
		t.Fatalf("NewUDP (server): %v", err)
	}
	defer server.Close()

	sa, err := server.LocalAddr()
	if err != nil {
		t.Fatalf("LocalAddr: %v", err)
	}
	serverAddr, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		t.Fatalf("expected IPv4 sockaddr, got %T", sa)
	}

	client, err := NewUDP(loop, "127.0.0.1:0", func(Datagram, error) {})
	if err != nil {
		t.Fatalf("NewUDP (client): %v", err)
	}
	defer client.Close()

	want := []byte("datagram payload")
	if err := client.SendTo(want, serverAddr.Port, serverAddr.Addr, [16]byte{}, false); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	select {
	case dg := <-received:
		if string(dg.Data) != string(want) {
			t.Fatalf("unexpected payload: %q", dg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("datagram never arrived")
	}
}

func TestUDPSendToFromAttachesPktInfo(t *testing.T) {
	loop, err := aio.NewLoop(true)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Release()

	received := make(chan Datagram, 1)
	server, err := NewUDP(loop, "127.0.0.1:0", func(dg Datagram, err error) {
		if err == nil {
			received <- dg
		}
	})
	if err != nil {
		t.Fatalf("NewUDP (server): %v", err)
	}
	defer server.Close()

	sa, err := server.LocalAddr()
	if err != nil {
		t.Fatalf("LocalAddr: %v", err)
	}
	serverAddr, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		t.Fatalf("expected IPv4 sockaddr, got %T", sa)
	}

	client, err := NewUDP(loop, "127.0.0.1:0", func(Datagram, error) {})
	if err != nil {
		t.Fatalf("NewUDP (client): %v", err)
	}
	defer client.Close()

	want := []byte("pktinfo-routed payload")
	srcIP := net.ParseIP("127.0.0.1")
	if err := client.SendToFrom(want, serverAddr.Port, serverAddr.Addr, [16]byte{}, false, 0, srcIP); err != nil {
		t.Fatalf("SendToFrom: %v", err)
	}

	select {
	case dg := <-received:
		if string(dg.Data) != string(want) {
			t.Fatalf("unexpected payload: %q", dg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("datagram never arrived")
	}
}
