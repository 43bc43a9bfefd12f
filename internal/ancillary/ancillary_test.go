package ancillary

import (
	"net"
	"testing"
)

func TestIPv4RoundTrip(t *testing.T) {
	want := PktInfo{IfIndex: 3, LocalIP: net.IPv4(192, 168, 1, 5)}
	data := MarshalIPv4(want)
	got, err := UnmarshalIPv4(data)
	if err != nil {
		t.Fatalf("UnmarshalIPv4: %v", err)
	}
	if got.IfIndex != want.IfIndex {
		t.Errorf("IfIndex = %d, want %d", got.IfIndex, want.IfIndex)
	}
	if !got.LocalIP.Equal(want.LocalIP) {
		t.Errorf("LocalIP = %v, want %v", got.LocalIP, want.LocalIP)
	}
}

func TestIPv6RoundTrip(t *testing.T) {
	want := PktInfo{IfIndex: 7, LocalIP: net.ParseIP("fe80::1")}
	data := MarshalIPv6(want)
	got, err := UnmarshalIPv6(data)
	if err != nil {
		t.Fatalf("UnmarshalIPv6: %v", err)
	}
	if got.IfIndex != want.IfIndex {
		t.Errorf("IfIndex = %d, want %d", got.IfIndex, want.IfIndex)
	}
	if !got.LocalIP.Equal(want.LocalIP) {
		t.Errorf("LocalIP = %v, want %v", got.LocalIP, want.LocalIP)
	}
}

func TestUnmarshalIPv4ShortBuffer(t *testing.T) {
	if _, err := UnmarshalIPv4([]byte{1, 2, 3}); err != ErrInsufficientData {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestUnmarshalIPv6ShortBuffer(t *testing.T) {
	if _, err := UnmarshalIPv6(make([]byte, 10)); err != ErrInsufficientData {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}
