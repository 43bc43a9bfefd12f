// Package ancillary encodes and decodes the IP_PKTINFO / IPV6_PKTINFO
// control messages used by UDP streams to report and override which
// local interface and destination address a datagram arrived on or
// should be sent from.
package ancillary

import (
	"encoding/binary"
	"errors"
	"net"
)

// ErrInsufficientData is returned when a cmsg payload is shorter than
// the struct it's expected to encode.
var ErrInsufficientData = errors.New("ancillary: insufficient data")

// PktInfo carries the decoded contents of an IP_PKTINFO (IPv4) or
// IPV6_PKTINFO (IPv6) control message: which interface a packet arrived
// on, and its local (destination) address.
type PktInfo struct {
	IfIndex int
	LocalIP net.IP
}

// in_pktinfo (Linux, 12 bytes): ipi_ifindex(4) ipi_spec_dst(4) ipi_addr(4)
func MarshalIPv4(p PktInfo) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.IfIndex))
	ip4 := p.LocalIP.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	copy(buf[4:8], ip4) // ipi_spec_dst
	copy(buf[8:12], ip4) // ipi_addr
	return buf
}

// UnmarshalIPv4 decodes an in_pktinfo control message payload.
func UnmarshalIPv4(data []byte) (PktInfo, error) {
	if len(data) < 12 {
		return PktInfo{}, ErrInsufficientData
	}
	ifIndex := binary.LittleEndian.Uint32(data[0:4])
	addr := make(net.IP, 4)
	copy(addr, data[8:12])
	return PktInfo{IfIndex: int(ifIndex), LocalIP: addr}, nil
}

// in6_pktinfo (Linux, 20 bytes): ipi6_addr(16) ipi6_ifindex(4)
func MarshalIPv6(p PktInfo) []byte {
	buf := make([]byte, 20)
	ip6 := p.LocalIP.To16()
	if ip6 == nil {
		ip6 = net.IPv6unspecified
	}
	copy(buf[0:16], ip6)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(p.IfIndex))
	return buf
}

// UnmarshalIPv6 decodes an in6_pktinfo control message payload.
func UnmarshalIPv6(data []byte) (PktInfo, error) {
	if len(data) < 20 {
		return PktInfo{}, ErrInsufficientData
	}
	addr := make(net.IP, 16)
	copy(addr, data[0:16])
	ifIndex := binary.LittleEndian.Uint32(data[16:20])
	return PktInfo{IfIndex: int(ifIndex), LocalIP: addr}, nil
}
