package net

import (
	"fmt"
	stdnet "net"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// toUnixSockaddr builds the unix.Sockaddr passed to the synchronous
// unix.Bind of ListenTCP and ListenUDP, returning the socket domain to pass
// to unix.Socket.
func toUnixSockaddr(ip stdnet.IP, port int) (unix.Sockaddr, int, error) {
	if ip4 := ip.To4(); ip4 != nil {
		var addr [4]byte
		copy(addr[:], ip4)
		return &unix.SockaddrInet4{Port: port, Addr: addr}, unix.AF_INET, nil
	}
	if ip16 := ip.To16(); ip16 != nil {
		var addr [16]byte
		copy(addr[:], ip16)
		return &unix.SockaddrInet6{Port: port, Addr: addr}, unix.AF_INET6, nil
	}
	if len(ip) == 0 {
		// Unspecified address (e.g. ":0"): bind to IPv4 INADDR_ANY.
		return &unix.SockaddrInet4{Port: port}, unix.AF_INET, nil
	}
	return nil, 0, fmt.Errorf("net: address %q is neither IPv4 nor IPv6", ip)
}

func tcpAddrFromUnixSockaddr(fd int) (*stdnet.TCPAddr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, err
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &stdnet.TCPAddr{IP: append([]byte(nil), sa.Addr[:]...), Port: sa.Port}, nil
	case *unix.SockaddrInet6:
		return &stdnet.TCPAddr{IP: append([]byte(nil), sa.Addr[:]...), Port: sa.Port}, nil
	default:
		return nil, fmt.Errorf("net: unsupported sockaddr type %T", sa)
	}
}

func tcpAddrFromPeername(fd int) (*stdnet.TCPAddr, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil, err
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &stdnet.TCPAddr{IP: append([]byte(nil), sa.Addr[:]...), Port: sa.Port}, nil
	case *unix.SockaddrInet6:
		return &stdnet.TCPAddr{IP: append([]byte(nil), sa.Addr[:]...), Port: sa.Port}, nil
	default:
		return nil, fmt.Errorf("net: unsupported sockaddr type %T", sa)
	}
}

func udpAddrFromUnixSockaddr(fd int) (*stdnet.UDPAddr, error) {
	tcp, err := tcpAddrFromUnixSockaddr(fd)
	if err != nil {
		return nil, err
	}
	return &stdnet.UDPAddr{IP: tcp.IP, Port: tcp.Port}, nil
}

// rawSockaddr is a pinned, OS-native sockaddr buffer, sized for the largest
// address family ringio speaks (Unix domain paths). io_uring's Connect
// opcode takes a raw pointer+length rather than a Go-managed net.Addr, so
// Connect (unlike Bind/Getsockname, which go through golang.org/x/sys/unix
// synchronously) needs the address pre-encoded into kernel wire format.
type rawSockaddr struct {
	buf [unixSockaddrUnixSize]byte
	len uint32
}

const unixSockaddrUnixSize = int(unsafe.Sizeof(syscall.RawSockaddrUnix{}))

func (r *rawSockaddr) ptr() unsafe.Pointer { return unsafe.Pointer(&r.buf[0]) }

func htons(port uint16) uint16 {
	return (port << 8) | (port >> 8)
}

// encodeTCPAddr fills raw with addr's OS-native sockaddr_in or
// sockaddr_in6, for use as a Connect SQE's address argument.
func encodeTCPAddr(addr *stdnet.TCPAddr) (raw rawSockaddr, domain int, err error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := (*syscall.RawSockaddrInet4)(raw.ptr())
		sa.Family = syscall.AF_INET
		sa.Port = htons(uint16(addr.Port))
		copy(sa.Addr[:], ip4)
		raw.len = uint32(unsafe.Sizeof(syscall.RawSockaddrInet4{}))
		return raw, syscall.AF_INET, nil
	}

	ip6 := addr.IP.To16()
	if ip6 == nil {
		return raw, 0, fmt.Errorf("net: address %q is neither IPv4 nor IPv6", addr)
	}
	sa := (*syscall.RawSockaddrInet6)(raw.ptr())
	sa.Family = syscall.AF_INET6
	sa.Port = htons(uint16(addr.Port))
	copy(sa.Addr[:], ip6)
	raw.len = uint32(unsafe.Sizeof(syscall.RawSockaddrInet6{}))
	return raw, syscall.AF_INET6, nil
}

// decodeUDPAddr reads the sockaddr the kernel wrote back into raw (e.g. via
// a recvmsg completion's msghdr.Name) into a *net.UDPAddr.
func decodeUDPAddr(raw *rawSockaddr) (*stdnet.UDPAddr, error) {
	family := *(*uint16)(raw.ptr())
	switch family {
	case syscall.AF_INET:
		sa := (*syscall.RawSockaddrInet4)(raw.ptr())
		return &stdnet.UDPAddr{IP: append([]byte(nil), sa.Addr[:]...), Port: int(htons(sa.Port))}, nil
	case syscall.AF_INET6:
		sa := (*syscall.RawSockaddrInet6)(raw.ptr())
		return &stdnet.UDPAddr{IP: append([]byte(nil), sa.Addr[:]...), Port: int(htons(sa.Port))}, nil
	default:
		return nil, fmt.Errorf("net: unsupported sockaddr family %d", family)
	}
}

// encodeUnixAddr fills raw with a sockaddr_un for the given path, for use
// as a Connect SQE's address argument.
func encodeUnixAddr(path string) (raw rawSockaddr, err error) {
	sa := (*syscall.RawSockaddrUnix)(raw.ptr())
	if len(path) >= len(sa.Path) {
		return raw, fmt.Errorf("net: unix socket path %q too long", path)
	}
	sa.Family = syscall.AF_UNIX
	for i := 0; i < len(path); i++ {
		sa.Path[i] = int8(path[i])
	}
	raw.len = uint32(unsafe.Sizeof(syscall.RawSockaddrUnix{}) - uintptr(len(sa.Path)) + uintptr(len(path)) + 1)
	return raw, nil
}
