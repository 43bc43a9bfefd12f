package streams

import (
	"net"
	"strconv"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kestrelio/aio"
	"github.com/kestrelio/aio/internal/ancillary"
	"github.com/kestrelio/aio/internal/driver"
)

// resolveUDPAddr parses a "host:port" string into a bind sockaddr,
// reporting whether it resolved to IPv6.
func resolveUDPAddr(addr string) (unix.Sockaddr, bool, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, false, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, false, err
	}

	if host == "" {
		return &unix.SockaddrInet4{Port: port}, false, nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil, false, aio.NewAddrError("NewUDP", addr, aio.ErrCodeInvalidParameters, "cannot resolve host")
		}
		ip = ips[0]
	}

	if ip4 := ip.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = port
		copy(sa.Addr[:], ip4)
		return &sa, false, nil
	}

	ip16 := ip.To16()
	if ip16 == nil {
		return nil, false, aio.NewAddrError("NewUDP", addr, aio.ErrCodeInvalidParameters, "invalid IP address")
	}
	var sa unix.SockaddrInet6
	sa.Port = port
	copy(sa.Addr[:], ip16)
	return &sa, true, nil
}

// Datagram is a single received UDP packet plus the ancillary routing
// info IP_PKTINFO/IPV6_PKTINFO carried, so a multi-homed listener can
// reply from the same local address a request arrived on.
type Datagram struct {
	Data    []byte
	PeerIP  [4]byte
	PeerIPv6 [16]byte
	PeerV6  bool
	Port    int
	Info    ancillary.PktInfo
}

// UDPCallback is invoked once per received datagram, or with a non-nil
// err if the socket failed.
type UDPCallback func(Datagram, error)

// UDP is a connectionless datagram endpoint with PKTINFO ancillary data
// enabled, so handlers can see (and set) the local interface/address a
// packet used.
type UDP struct {
	fd    int
	loop  *aio.Loop
	v6    bool
	key   uintptr

	mu       sync.Mutex
	cb       UDPCallback
	closed   bool
	attached bool
}

// NewUDP opens a UDP socket bound to addr ("host:port") with IP_PKTINFO /
// IPV6_PKTINFO enabled, invoking cb for every received datagram.
func NewUDP(loop *aio.Loop, addr string, cb UDPCallback) (*UDP, error) {
	sa, v6, err := resolveUDPAddr(addr)
	if err != nil {
		return nil, aio.WrapError("NewUDP", err)
	}

	domain := unix.AF_INET
	if v6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, aio.WrapError("NewUDP", err)
	}

	if v6 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_RECVPKTINFO, 1); err != nil {
			unix.Close(fd)
			return nil, aio.WrapError("NewUDP", err)
		}
	} else {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_PKTINFO, 1); err != nil {
			unix.Close(fd)
			return nil, aio.WrapError("NewUDP", err)
		}
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, aio.WrapError("NewUDP", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, aio.WrapError("NewUDP", err)
	}

	u := &UDP{fd: fd, loop: loop, v6: v6, cb: cb}
	key, err := loop.Attach(u)
	if err != nil {
		unix.Close(fd)
		return nil, aio.WrapError("NewUDP", err)
	}
	u.key = key
	u.attached = true
	return u, nil
}

func (u *UDP) Handle() uintptr   { return uintptr(u.fd) }
func (u *UDP) Mode() driver.Mode { return driver.ModeIn }

// OnOrder is a no-op: sends are synchronous from the caller's goroutine
// via SendTo/SendToFrom, the instance does not queue them.
func (u *UDP) OnOrder() {}

// LocalAddr returns the socket's bound address, useful after binding to
// the wildcard port (":0") to discover the kernel-assigned port.
func (u *UDP) LocalAddr() (unix.Sockaddr, error) {
	return unix.Getsockname(u.fd)
}

func (u *UDP) OnEvent(ev driver.Event) {
	if !ev.In {
		return
	}
	buf := make([]byte, 64*1024)
	oob := make([]byte, 256)
	for {
		n, oobn, _, from, err := unix.Recvmsg(u.fd, buf, oob, 0)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		u.mu.Lock()
		cb := u.cb
		u.mu.Unlock()
		if err != nil {
			if cb != nil {
				cb(Datagram{}, aio.WrapError("Recv", err))
			}
			return
		}

		dg := Datagram{Data: append([]byte(nil), buf[:n]...)}
		switch sa := from.(type) {
		case *unix.SockaddrInet4:
			dg.PeerIP = sa.Addr
			dg.Port = sa.Port
		case *unix.SockaddrInet6:
			dg.PeerIPv6 = sa.Addr
			dg.PeerV6 = true
			dg.Port = sa.Port
		}
		dg.Info = decodePktInfo(oob[:oobn], u.v6)

		if cb != nil {
			cb(dg, nil)
		}
	}
}

func decodePktInfo(oob []byte, v6 bool) ancillary.PktInfo {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return ancillary.PktInfo{}
	}
	for _, m := range msgs {
		if v6 && m.Header.Level == unix.IPPROTO_IPV6 && m.Header.Type == unix.IPV6_PKTINFO {
			if info, err := ancillary.UnmarshalIPv6(m.Data); err == nil {
				return info
			}
		}
		if !v6 && m.Header.Level == unix.IPPROTO_IP && m.Header.Type == unix.IP_PKTINFO {
			if info, err := ancillary.UnmarshalIPv4(m.Data); err == nil {
				return info
			}
		}
	}
	return ancillary.PktInfo{}
}

func (u *UDP) OnClose() {
	u.mu.Lock()
	cb := u.cb
	u.cb = nil
	u.mu.Unlock()
	if cb != nil {
		cb(Datagram{}, aio.ErrStreamClosed)
	}
}

// SendTo sends a datagram to the given peer from the socket's default
// routing, with no PKTINFO control message attached.
func (u *UDP) SendTo(data []byte, port int, peer [4]byte, peerV6 [16]byte, v6 bool) error {
	var sa unix.Sockaddr
	if v6 {
		sa = &unix.SockaddrInet6{Port: port, Addr: peerV6}
	} else {
		sa = &unix.SockaddrInet4{Port: port, Addr: peer}
	}
	return unix.Sendto(u.fd, data, 0, sa)
}

// buildCmsg packs data into a single control message with the given
// level/type, following the same Cmsghdr layout unix.UnixRights uses for
// SCM_RIGHTS: SetLen resolves the Len field's width difference between
// platforms without a build-tagged encoder.
func buildCmsg(level, typ int, data []byte) []byte {
	b := make([]byte, unix.CmsgSpace(len(data)))
	h := (*unix.Cmsghdr)(unsafe.Pointer(&b[0]))
	h.Level = int32(level)
	h.Type = int32(typ)
	h.SetLen(unix.CmsgLen(len(data)))
	copy(b[unix.CmsgLen(0):], data)
	return b
}

// SendToFrom sends a datagram to the given peer, attaching an outbound
// IP_PKTINFO/IPV6_PKTINFO control message so the reply appears to
// originate from ifIndex/srcIP. This is the symmetric counterpart of
// decodePktInfo, letting a multi-homed listener reply from the same
// local address/interface a request arrived on.
func (u *UDP) SendToFrom(data []byte, port int, peer [4]byte, peerV6 [16]byte, v6 bool, ifIndex int, srcIP net.IP) error {
	var sa unix.Sockaddr
	var oob []byte
	if v6 {
		sa = &unix.SockaddrInet6{Port: port, Addr: peerV6}
		oob = buildCmsg(unix.IPPROTO_IPV6, unix.IPV6_PKTINFO, ancillary.MarshalIPv6(ancillary.PktInfo{IfIndex: ifIndex, LocalIP: srcIP}))
	} else {
		sa = &unix.SockaddrInet4{Port: port, Addr: peer}
		oob = buildCmsg(unix.IPPROTO_IP, unix.IP_PKTINFO, ancillary.MarshalIPv4(ancillary.PktInfo{IfIndex: ifIndex, LocalIP: srcIP}))
	}
	return unix.Sendmsg(u.fd, data, oob, sa, 0)
}

func (u *UDP) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	attached := u.attached
	u.mu.Unlock()
	if attached {
		u.loop.Detach(u)
	}
	return unix.Close(u.fd)
}

var _ aio.Instance = (*UDP)(nil)
